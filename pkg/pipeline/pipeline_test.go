package pipeline

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/Sternrassler/swisscom-heatmap-loader/internal/testutil"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/auth"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/batch"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/client"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/heatmap"
)

type recordingSink struct {
	mu      sync.Mutex
	batches []heatmap.Batch
	err     error
}

func (s *recordingSink) WriteBatch(_ context.Context, b heatmap.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, b)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}

func zurich(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Zurich")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func setupPipeline(t *testing.T, mock *testutil.MockHeatmapAPI, sink Sink) *Pipeline {
	t.Helper()

	loc := zurich(t)
	tokens := auth.NewTokenProvider(auth.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		TokenURL:     mock.TokenURL(),
	})

	cfg := client.DefaultConfig()
	cfg.BaseURL = mock.URL()
	cfg.RequestsPerSecond = 0
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	densities := batch.NewDensityFetcher(c, batch.Config{
		ChunkSize:      100,
		MaxConcurrency: 4,
		Timeout:        5 * time.Second,
	})

	return New(tokens, c, densities, sink, Options{
		Region:   client.Region{Kind: "postal-code-areas", ID: "3097"},
		Location: loc,
		Clock: func() time.Time {
			return time.Date(2024, 5, 15, 10, 0, 0, 0, loc)
		},
	})
}

func TestRun_Success(t *testing.T) {
	mock := testutil.NewMockHeatmapAPI()
	defer mock.Close()

	tiles := testutil.Tiles(250)
	mock.SetTiles(tiles)
	mock.SetScores(testutil.Scores(tiles))

	sink := &recordingSink{}
	p := setupPipeline(t, mock, sink)

	result, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.TileCount != 250 {
		t.Errorf("TileCount = %d, want 250", result.TileCount)
	}
	if len(result.Records) != 250 {
		t.Errorf("Records = %d, want 250", len(result.Records))
	}
	if result.Degraded() {
		t.Error("expected non-degraded run")
	}
	if got := result.TargetDate.Format(heatmap.DateLayout); got != "2024-05-14" {
		t.Errorf("TargetDate = %s, want 2024-05-14", got)
	}

	token, grid, density := mock.Counts()
	if token != 1 || grid != 1 || density != 3 {
		t.Errorf("requests token=%d grid=%d density=%d, want 1/1/3", token, grid, density)
	}
	for _, d := range mock.Dates() {
		if d != "2024-05-14" {
			t.Errorf("density request date = %s, want 2024-05-14", d)
		}
	}

	if sink.count() != 1 {
		t.Fatalf("sink batches = %d, want 1", sink.count())
	}
	b := sink.batches[0]
	if b.RunID != result.RunID {
		t.Errorf("batch run id = %s, want %s", b.RunID, result.RunID)
	}
	if b.Region != "postal-code-areas/3097" {
		t.Errorf("batch region = %s", b.Region)
	}
	if len(b.Records) != 250 {
		t.Errorf("batch records = %d, want 250", len(b.Records))
	}
}

func TestRun_RecordsCarryTileLocation(t *testing.T) {
	mock := testutil.NewMockHeatmapAPI()
	defer mock.Close()

	mock.SetTiles([]heatmap.Tile{
		{ID: "A", LowerLeft: heatmap.Coordinate{X: 1, Y: 2}},
		{ID: "B", LowerLeft: heatmap.Coordinate{X: 3, Y: 4}},
	})
	mock.SetScores(map[heatmap.TileID]float64{"A": 0.7})

	result, err := setupPipeline(t, mock, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(result.Records) != 1 {
		t.Fatalf("Records = %d, want 1", len(result.Records))
	}
	rec := result.Records[0]
	if rec.TileID != "A" || rec.Density != 0.7 {
		t.Errorf("record = %+v", rec)
	}
	if rec.Location.Type != "Point" || rec.Location.Coordinates != [2]float64{1, 2} {
		t.Errorf("location = %+v, want Point [1 2]", rec.Location)
	}
}

func TestRun_ChunkFailureDegrades(t *testing.T) {
	mock := testutil.NewMockHeatmapAPI()
	defer mock.Close()

	tiles := testutil.Tiles(250)
	mock.SetTiles(tiles)
	mock.SetScores(testutil.Scores(tiles))
	// Tile 150 sits in the second chunk (101..200).
	mock.FailDensityFor("150", http.StatusInternalServerError)

	sink := &recordingSink{}
	result, err := setupPipeline(t, mock, sink).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !result.Degraded() {
		t.Error("expected degraded run")
	}
	if len(result.Records) != 150 {
		t.Errorf("Records = %d, want 150", len(result.Records))
	}
	if len(result.Report.Failed) != 1 || result.Report.Failed[0].Index != 1 {
		t.Errorf("failed chunks = %v, want chunk 1", result.Report.Failed)
	}
	if sink.count() != 1 {
		t.Errorf("sink batches = %d, want 1", sink.count())
	}
}

func TestRun_TokenFailureStopsRun(t *testing.T) {
	mock := testutil.NewMockHeatmapAPI()
	defer mock.Close()

	mock.SetTiles(testutil.Tiles(10))
	mock.SetTokenStatus(http.StatusUnauthorized)

	sink := &recordingSink{}
	result, err := setupPipeline(t, mock, sink).Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if result != nil {
		t.Errorf("result = %+v, want nil", result)
	}

	var authErr *auth.AuthenticationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthenticationError, got %T: %v", err, err)
	}
	if authErr.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want 401", authErr.StatusCode)
	}

	token, grid, density := mock.Counts()
	if token != 1 {
		t.Errorf("token requests = %d, want 1", token)
	}
	if grid != 0 || density != 0 {
		t.Errorf("grid=%d density=%d, want no API requests", grid, density)
	}
	if sink.count() != 0 {
		t.Errorf("sink batches = %d, want 0", sink.count())
	}
}

func TestRun_CatalogFailureStopsRun(t *testing.T) {
	mock := testutil.NewMockHeatmapAPI()
	defer mock.Close()

	mock.SetGridStatus(http.StatusBadGateway)

	sink := &recordingSink{}
	_, err := setupPipeline(t, mock, sink).Run(context.Background())

	var upErr *client.UpstreamError
	if !errors.As(err, &upErr) {
		t.Fatalf("expected UpstreamError, got %T: %v", err, err)
	}
	if upErr.Endpoint != client.EndpointGrids {
		t.Errorf("Endpoint = %s, want %s", upErr.Endpoint, client.EndpointGrids)
	}

	_, _, density := mock.Counts()
	if density != 0 {
		t.Errorf("density requests = %d, want 0", density)
	}
	if sink.count() != 0 {
		t.Errorf("sink batches = %d, want 0", sink.count())
	}
}

func TestRun_EmptyResultSkipsSink(t *testing.T) {
	mock := testutil.NewMockHeatmapAPI()
	defer mock.Close()

	mock.SetTiles(testutil.Tiles(30))

	sink := &recordingSink{}
	result, err := setupPipeline(t, mock, sink).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Records == nil || len(result.Records) != 0 {
		t.Errorf("Records = %v, want empty non-nil slice", result.Records)
	}
	if sink.count() != 0 {
		t.Errorf("sink batches = %d, want 0", sink.count())
	}
}

func TestRun_EmptyCatalog(t *testing.T) {
	mock := testutil.NewMockHeatmapAPI()
	defer mock.Close()

	sink := &recordingSink{}
	result, err := setupPipeline(t, mock, sink).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.TileCount != 0 || len(result.Records) != 0 {
		t.Errorf("result = %+v, want empty", result)
	}
	if _, _, density := mock.Counts(); density != 0 {
		t.Errorf("density requests = %d, want 0", density)
	}
	if sink.count() != 0 {
		t.Errorf("sink batches = %d, want 0", sink.count())
	}
}

func TestRun_SinkFailure(t *testing.T) {
	mock := testutil.NewMockHeatmapAPI()
	defer mock.Close()

	tiles := testutil.Tiles(5)
	mock.SetTiles(tiles)
	mock.SetScores(testutil.Scores(tiles))

	writeErr := errors.New("connection refused")
	_, err := setupPipeline(t, mock, &recordingSink{err: writeErr}).Run(context.Background())

	var sinkErr *SinkError
	if !errors.As(err, &sinkErr) {
		t.Fatalf("expected SinkError, got %T: %v", err, err)
	}
	if sinkErr.RunID == "" {
		t.Error("expected run id on SinkError")
	}
	if !errors.Is(err, writeErr) {
		t.Error("expected error chain to contain the sink error")
	}
}

func TestRun_CancelledDuringDensities(t *testing.T) {
	mock := testutil.NewMockHeatmapAPI()
	defer mock.Close()

	tiles := testutil.Tiles(20)
	mock.SetTiles(tiles)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mock.SetDensityHandler(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		<-r.Context().Done()
	})

	sink := &recordingSink{}
	_, err := setupPipeline(t, mock, sink).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sink.count() != 0 {
		t.Errorf("sink batches = %d, want 0", sink.count())
	}
}

func TestRun_FreshTokenPerRun(t *testing.T) {
	mock := testutil.NewMockHeatmapAPI()
	defer mock.Close()

	tiles := testutil.Tiles(3)
	mock.SetTiles(tiles)
	mock.SetScores(testutil.Scores(tiles))

	p := setupPipeline(t, mock, &recordingSink{})

	first, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	second, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}

	if first.RunID == second.RunID {
		t.Error("expected distinct run ids")
	}
	if token, _, _ := mock.Counts(); token != 2 {
		t.Errorf("token requests = %d, want 2", token)
	}
}

func TestTargetDate(t *testing.T) {
	loc := zurich(t)

	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"midday", time.Date(2024, 5, 15, 12, 0, 0, 0, loc), "2024-05-14"},
		{"just after midnight", time.Date(2024, 5, 15, 0, 5, 0, 0, loc), "2024-05-14"},
		{"utc evening is next local day", time.Date(2024, 5, 14, 23, 30, 0, 0, time.UTC), "2024-05-14"},
		{"leap day", time.Date(2024, 3, 1, 8, 0, 0, 0, loc), "2024-02-29"},
		{"year boundary", time.Date(2024, 1, 1, 8, 0, 0, 0, loc), "2023-12-31"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TargetDate(tt.now, loc)
			if got.Format(heatmap.DateLayout) != tt.want {
				t.Errorf("TargetDate() = %s, want %s", got.Format(heatmap.DateLayout), tt.want)
			}
			if got.Hour() != 0 || got.Minute() != 0 || got.Location() != loc {
				t.Errorf("TargetDate() = %v, want local midnight", got)
			}
		})
	}
}
