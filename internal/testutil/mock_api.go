// Package testutil provides testing utilities for the heatmap loader.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/heatmap"
)

// Paths served by MockHeatmapAPI.
const (
	TokenPath        = "/oauth2/token"
	GridsPrefix      = "/grids/"
	DwellDensityPath = "/heatmaps/dwell-density/daily/"
)

// MockHeatmapAPI is a configurable fake of the token endpoint and the
// heatmaps API for testing.
type MockHeatmapAPI struct {
	server *httptest.Server
	mu     sync.RWMutex

	tokenStatus   int
	gridStatus    int
	tiles         []heatmap.Tile
	scores        map[heatmap.TileID]float64
	failingTiles  map[heatmap.TileID]int
	gridHandler   http.HandlerFunc
	densityHandle http.HandlerFunc

	// Tracking
	TokenRequests   int
	GridRequests    int
	DensityRequests int
	DensityDates    []string
	LastHeader      http.Header
}

// NewMockHeatmapAPI creates a mock that issues tokens and serves empty data.
func NewMockHeatmapAPI() *MockHeatmapAPI {
	mock := &MockHeatmapAPI{
		tokenStatus:  http.StatusOK,
		gridStatus:   http.StatusOK,
		scores:       make(map[heatmap.TileID]float64),
		failingTiles: make(map[heatmap.TileID]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(TokenPath, mock.handleToken)
	mux.HandleFunc(GridsPrefix, mock.handleGrid)
	mux.HandleFunc(DwellDensityPath, mock.handleDensity)
	mock.server = httptest.NewServer(mux)

	return mock
}

// URL returns the API base URL.
func (m *MockHeatmapAPI) URL() string {
	return m.server.URL
}

// TokenURL returns the token endpoint URL.
func (m *MockHeatmapAPI) TokenURL() string {
	return m.server.URL + TokenPath
}

// Close shuts down the mock server.
func (m *MockHeatmapAPI) Close() {
	m.server.Close()
}

// SetTokenStatus makes the token endpoint answer with status.
func (m *MockHeatmapAPI) SetTokenStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokenStatus = status
}

// SetGridStatus makes the grid endpoint answer with status.
func (m *MockHeatmapAPI) SetGridStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gridStatus = status
}

// SetTiles configures the tiles returned by the grid endpoint.
func (m *MockHeatmapAPI) SetTiles(tiles []heatmap.Tile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tiles = append([]heatmap.Tile(nil), tiles...)
}

// SetScores configures the density scores served per tile.
func (m *MockHeatmapAPI) SetScores(scores map[heatmap.TileID]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores = make(map[heatmap.TileID]float64, len(scores))
	for k, v := range scores {
		m.scores[k] = v
	}
}

// FailDensityFor makes every density request that includes id fail with status.
func (m *MockHeatmapAPI) FailDensityFor(id heatmap.TileID, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failingTiles[id] = status
}

// SetGridHandler overrides the grid endpoint.
func (m *MockHeatmapAPI) SetGridHandler(h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gridHandler = h
}

// SetDensityHandler overrides the density endpoint.
func (m *MockHeatmapAPI) SetDensityHandler(h http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.densityHandle = h
}

// Counts returns the number of token, grid and density requests.
func (m *MockHeatmapAPI) Counts() (token, grid, density int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.TokenRequests, m.GridRequests, m.DensityRequests
}

// Dates returns the date path segment of every density request.
func (m *MockHeatmapAPI) Dates() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.DensityDates...)
}

// Header returns the headers of the last API request.
func (m *MockHeatmapAPI) Header() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastHeader.Clone()
}

// Reset clears all tracking counters.
func (m *MockHeatmapAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TokenRequests = 0
	m.GridRequests = 0
	m.DensityRequests = 0
	m.DensityDates = nil
	m.LastHeader = nil
}

func (m *MockHeatmapAPI) handleToken(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.TokenRequests++
	status := m.tokenStatus
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
		w.Write([]byte(`{"error":"invalid_client"}`))
		return
	}

	if _, _, ok := r.BasicAuth(); !ok {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_client"}`))
		return
	}

	w.Write([]byte(`{"access_token":"mock-token","token_type":"bearer","expires_in":3600}`))
}

func (m *MockHeatmapAPI) handleGrid(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.GridRequests++
	m.LastHeader = r.Header.Clone()
	status := m.gridStatus
	custom := m.gridHandler
	tiles := append(make([]heatmap.Tile, 0, len(m.tiles)), m.tiles...)
	m.mu.Unlock()

	if !authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	if custom != nil {
		custom(w, r)
		return
	}
	if status != http.StatusOK {
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tiles": tiles})
}

func (m *MockHeatmapAPI) handleDensity(w http.ResponseWriter, r *http.Request) {
	date := strings.TrimPrefix(r.URL.Path, DwellDensityPath)
	requested := r.URL.Query()["tiles"]

	m.mu.Lock()
	m.DensityRequests++
	m.DensityDates = append(m.DensityDates, date)
	m.LastHeader = r.Header.Clone()
	custom := m.densityHandle
	failStatus := 0
	scores := make([]heatmap.DensityScore, 0, len(requested))
	for _, id := range requested {
		tileID := heatmap.TileID(id)
		if status, ok := m.failingTiles[tileID]; ok {
			failStatus = status
		}
		if score, ok := m.scores[tileID]; ok {
			scores = append(scores, heatmap.DensityScore{TileID: tileID, Score: score})
		}
	}
	m.mu.Unlock()

	if !authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	if custom != nil {
		custom(w, r)
		return
	}
	if failStatus != 0 {
		writeJSON(w, failStatus, map[string]string{"error": http.StatusText(failStatus)})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"tiles": scores})
}

func authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer mock-token"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Tiles builds n tiles with ids "1".."n" and distinct coordinates.
func Tiles(n int) []heatmap.Tile {
	tiles := make([]heatmap.Tile, n)
	for i := range tiles {
		tiles[i] = heatmap.Tile{
			ID:        heatmap.TileID(strconv.Itoa(i + 1)),
			LowerLeft: heatmap.Coordinate{X: 2600000 + float64(i)*100, Y: 1200000 + float64(i)*100},
		}
	}
	return tiles
}

// Scores assigns a score to every tile.
func Scores(tiles []heatmap.Tile) map[heatmap.TileID]float64 {
	scores := make(map[heatmap.TileID]float64, len(tiles))
	for i, t := range tiles {
		scores[t.ID] = float64(i%100) / 100
	}
	return scores
}
