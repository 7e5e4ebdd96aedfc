package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/auth"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/heatmap"
)

type densityEntry struct {
	TileID heatmap.TileID `json:"tileId"`
	Score  *float64       `json:"score"`
}

type densityResponse struct {
	Tiles *[]json.RawMessage `json:"tiles"`
}

// ChunkResult is the validated content of one density response.
type ChunkResult struct {
	Scores []heatmap.DensityScore

	// Malformed counts entries dropped for a missing or mistyped id or score.
	Malformed int
}

// FetchDensityChunk requests the daily dwell density of the given tiles.
// A payload that is not a JSON object with a tiles array fails the whole
// chunk; individual malformed entries are dropped and counted.
func (c *Client) FetchDensityChunk(ctx context.Context, cred *auth.Credential, date time.Time, ids []heatmap.TileID) (ChunkResult, error) {
	if len(ids) == 0 {
		return ChunkResult{}, nil
	}

	query := make(url.Values, 1)
	for _, id := range ids {
		query.Add("tiles", id.String())
	}
	u := fmt.Sprintf("%s/heatmaps/dwell-density/daily/%s?%s",
		c.config.BaseURL, date.Format(heatmap.DateLayout), query.Encode())

	body, err := c.get(ctx, cred, EndpointDwellDensity, u)
	if err != nil {
		return ChunkResult{}, err
	}

	var payload densityResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return ChunkResult{}, decodeError(EndpointDwellDensity, fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	if payload.Tiles == nil {
		return ChunkResult{}, decodeError(EndpointDwellDensity, fmt.Errorf("%w: tiles array missing", ErrMalformedPayload))
	}

	result := ChunkResult{Scores: make([]heatmap.DensityScore, 0, len(*payload.Tiles))}
	for _, raw := range *payload.Tiles {
		var entry densityEntry
		if err := json.Unmarshal(raw, &entry); err != nil || entry.TileID == "" || entry.Score == nil {
			result.Malformed++
			continue
		}
		result.Scores = append(result.Scores, heatmap.DensityScore{TileID: entry.TileID, Score: *entry.Score})
	}

	return result, nil
}
