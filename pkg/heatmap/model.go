// Package heatmap defines the tile, density and output record types shared by
// the fetchers, the joiner and the sinks.
package heatmap

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/twpayne/go-geom"
)

// SRID of the coordinates returned by the heatmaps API (WGS84).
const SRID = 4326

// TileID identifies a grid tile. The upstream API emits numeric ids, so the
// decoder accepts both JSON numbers and strings. Integral numbers are kept in
// plain decimal form so 1000, 1000.0 and 1e3 name the same tile.
type TileID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *TileID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode tile id: %w", err)
		}
		*id = TileID(strings.TrimSpace(s))
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode tile id: %w", err)
	}
	*id = TileID(canonicalNumber(n.String()))
	return nil
}

// maxExactInt is the largest integer a float64 holds without rounding.
const maxExactInt = 1 << 53

func canonicalNumber(s string) string {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(i, 10)
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > maxExactInt {
		return s
	}
	return strconv.FormatInt(int64(f), 10)
}

// String returns the id as a plain string.
func (id TileID) String() string {
	return string(id)
}

// Coordinate is the lower-left anchor of a tile.
type Coordinate struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Tile is a grid cell as listed by the catalog endpoint.
type Tile struct {
	ID        TileID     `json:"tileId"`
	LowerLeft Coordinate `json:"ll"`
}

// DensityScore is a single tile score from a density response.
type DensityScore struct {
	TileID TileID  `json:"tileId"`
	Score  float64 `json:"score"`
}

// GeoPoint is a GeoJSON point geometry.
type GeoPoint struct {
	Type        string     `json:"type"`
	Coordinates [2]float64 `json:"coordinates"`
}

// NewPoint returns a GeoJSON point for the given x/y pair.
func NewPoint(x, y float64) GeoPoint {
	return GeoPoint{
		Type:        "Point",
		Coordinates: [2]float64{x, y},
	}
}

// Geom converts the point into a go-geom point with SRID 4326.
func (p GeoPoint) Geom() *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{p.Coordinates[0], p.Coordinates[1]}).SetSRID(SRID)
}

// OutputRecord is one joined tile emitted by a pipeline run.
type OutputRecord struct {
	TileID   TileID   `json:"tileId"`
	Density  float64  `json:"density"`
	Location GeoPoint `json:"location"`
}

// Batch is the unit handed to a sink: all records of a single run.
type Batch struct {
	RunID      string         `json:"runId"`
	Region     string         `json:"region"`
	TargetDate time.Time      `json:"targetDate"`
	CreatedAt  time.Time      `json:"createdAt"`
	Records    []OutputRecord `json:"records"`
}

// DateLayout is the day format used in density requests and sink keys.
const DateLayout = "2006-01-02"

// Day returns the target date formatted with DateLayout.
func (b Batch) Day() string {
	return b.TargetDate.Format(DateLayout)
}
