package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/auth"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/heatmap"
)

// Region selects a grid, e.g. {Kind: "postal-code-areas", ID: "3097"} or
// {Kind: "municipalities", ID: "261"}.
type Region struct {
	Kind string
	ID   string
}

// String returns the grid path of the region.
func (r Region) String() string {
	return r.Kind + "/" + r.ID
}

type tileEntry struct {
	TileID    heatmap.TileID      `json:"tileId"`
	LowerLeft *heatmap.Coordinate `json:"ll"`
}

type tilesResponse struct {
	Tiles *[]json.RawMessage `json:"tiles"`
}

// FetchTiles returns every tile of the region in a single request.
// Entries without an id or lower-left coordinate, or with fields of the
// wrong type, are skipped.
func (c *Client) FetchTiles(ctx context.Context, cred *auth.Credential, region Region) ([]heatmap.Tile, error) {
	if region.Kind == "" || region.ID == "" {
		return nil, fmt.Errorf("region kind and id are required (got %q)", region.String())
	}

	u := fmt.Sprintf("%s/grids/%s/%s", c.config.BaseURL, url.PathEscape(region.Kind), url.PathEscape(region.ID))

	body, err := c.get(ctx, cred, EndpointGrids, u)
	if err != nil {
		return nil, err
	}

	var payload tilesResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, decodeError(EndpointGrids, fmt.Errorf("%w: %v", ErrMalformedPayload, err))
	}
	if payload.Tiles == nil {
		return nil, decodeError(EndpointGrids, fmt.Errorf("%w: tiles array missing", ErrMalformedPayload))
	}

	tiles := make([]heatmap.Tile, 0, len(*payload.Tiles))
	skipped := 0
	for _, raw := range *payload.Tiles {
		var entry tileEntry
		if err := json.Unmarshal(raw, &entry); err != nil || entry.TileID == "" || entry.LowerLeft == nil {
			skipped++
			continue
		}
		tiles = append(tiles, heatmap.Tile{ID: entry.TileID, LowerLeft: *entry.LowerLeft})
	}

	if skipped > 0 {
		c.logger.Warn().
			Str("region", region.String()).
			Int("skipped", skipped).
			Msg("Skipped malformed tile entries")
	}

	c.logger.Info().
		Str("region", region.String()).
		Int("tiles", len(tiles)).
		Msg("Tile catalog fetched")

	return tiles, nil
}
