// Package pipeline runs one heatmap ingestion: token, tile catalog, chunked
// density lookup, join, and a single batch write to the sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/auth"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/batch"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/client"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/heatmap"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for pipeline runs.
var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heatmap_pipeline_runs_total",
		Help: "Total pipeline runs by outcome (success, degraded, empty, failed, cancelled)",
	}, []string{"outcome"})

	runRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "heatmap_pipeline_records",
		Help: "Number of records produced by the last completed run",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "heatmap_pipeline_duration_seconds",
		Help:    "Pipeline run duration in seconds",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	})
)

// Run outcomes used as metric labels.
const (
	OutcomeSuccess   = "success"
	OutcomeDegraded  = "degraded"
	OutcomeEmpty     = "empty"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// TokenProvider acquires a fresh credential for each run.
type TokenProvider interface {
	Acquire(ctx context.Context) (*auth.Credential, error)
}

// CatalogFetcher lists the tiles of a region.
type CatalogFetcher interface {
	FetchTiles(ctx context.Context, cred *auth.Credential, region client.Region) ([]heatmap.Tile, error)
}

// DensityFetcher looks up density scores for tile ids.
type DensityFetcher interface {
	FetchDensities(ctx context.Context, cred *auth.Credential, date time.Time, ids []heatmap.TileID) (heatmap.DensityIndex, batch.Report, error)
}

// Sink persists the records of one run as a single batch.
type Sink interface {
	WriteBatch(ctx context.Context, b heatmap.Batch) error
}

// SinkError reports a failed batch write.
type SinkError struct {
	RunID string
	Err   error
}

// Error implements the error interface.
func (e *SinkError) Error() string {
	return fmt.Sprintf("write batch for run %s: %v", e.RunID, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *SinkError) Unwrap() error {
	return e.Err
}

// Options configures a pipeline.
type Options struct {
	Region client.Region

	// Location defines the run date used for the target date (default: UTC).
	Location *time.Location

	// Clock returns the run time (default: time.Now).
	Clock func() time.Time
}

// Result is the outcome of a completed run.
type Result struct {
	RunID      string
	TargetDate time.Time
	TileCount  int
	Records    []heatmap.OutputRecord
	Report     batch.Report
}

// Degraded reports whether some density chunks were skipped.
func (r *Result) Degraded() bool {
	return r.Report.Degraded()
}

// Pipeline orchestrates a run. It holds no state between runs.
type Pipeline struct {
	tokens    TokenProvider
	catalog   CatalogFetcher
	densities DensityFetcher
	sink      Sink
	opts      Options
}

// New creates a pipeline. sink may be nil, in which case records are only
// returned to the caller.
func New(tokens TokenProvider, catalog CatalogFetcher, densities DensityFetcher, sink Sink, opts Options) *Pipeline {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Pipeline{
		tokens:    tokens,
		catalog:   catalog,
		densities: densities,
		sink:      sink,
		opts:      opts,
	}
}

// TargetDate returns the day before now, as midnight in loc.
func TargetDate(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d-1, 0, 0, 0, 0, loc)
}

// Run executes one ingestion. Authentication and catalog failures abort the
// run before any later request; failed density chunks only shrink the
// result. The sink receives one batch, and only after the join completed.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	now := p.opts.Clock()

	result := &Result{
		RunID:      uuid.NewString(),
		TargetDate: TargetDate(now, p.opts.Location),
	}

	logger := log.With().
		Str("component", "pipeline").
		Str("run_id", result.RunID).
		Str("region", p.opts.Region.String()).
		Str("target_date", result.TargetDate.Format(heatmap.DateLayout)).
		Logger()

	defer func() {
		runDuration.Observe(time.Since(start).Seconds())
	}()

	logger.Info().Msg("Pipeline run started")

	cred, err := p.tokens.Acquire(ctx)
	if err != nil {
		return nil, p.fail(logger, "acquire token", err)
	}

	tiles, err := p.catalog.FetchTiles(ctx, cred, p.opts.Region)
	if err != nil {
		return nil, p.fail(logger, "fetch tile catalog", err)
	}
	result.TileCount = len(tiles)

	index, report, err := p.densities.FetchDensities(ctx, cred, result.TargetDate, heatmap.TileIDs(tiles))
	result.Report = report
	if err != nil {
		return nil, p.fail(logger, "fetch densities", err)
	}

	result.Records = heatmap.Join(tiles, index)

	// A run cancelled after the join still must not reach the sink.
	if err := ctx.Err(); err != nil {
		return nil, p.fail(logger, "before sink write", err)
	}

	if len(result.Records) == 0 {
		runsTotal.WithLabelValues(OutcomeEmpty).Inc()
		runRecords.Set(0)
		logger.Warn().
			Int("tiles", result.TileCount).
			Int("scores", index.Len()).
			Int("failed_chunks", len(report.Failed)).
			Msg("EmptyResultWarning: no tile has a density score, nothing written")
		return result, nil
	}

	if p.sink != nil {
		b := heatmap.Batch{
			RunID:      result.RunID,
			Region:     p.opts.Region.String(),
			TargetDate: result.TargetDate,
			CreatedAt:  now,
			Records:    result.Records,
		}
		if err := p.sink.WriteBatch(ctx, b); err != nil {
			return nil, p.fail(logger, "write batch", &SinkError{RunID: result.RunID, Err: err})
		}
	}

	outcome := OutcomeSuccess
	ev := logger.Info()
	if result.Degraded() {
		outcome = OutcomeDegraded
		ev = logger.Warn()
	}
	runsTotal.WithLabelValues(outcome).Inc()
	runRecords.Set(float64(len(result.Records)))

	ev.Int("tiles", result.TileCount).
		Int("records", len(result.Records)).
		Int("failed_chunks", len(report.Failed)).
		Bool("degraded", result.Degraded()).
		Dur("duration", time.Since(start)).
		Msg("Pipeline run complete")

	return result, nil
}

func (p *Pipeline) fail(logger zerolog.Logger, stage string, err error) error {
	outcome := OutcomeFailed
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		outcome = OutcomeCancelled
	}
	runsTotal.WithLabelValues(outcome).Inc()

	logger.Error().
		Err(err).
		Str("stage", stage).
		Str("outcome", outcome).
		Msg("Pipeline run failed")

	return fmt.Errorf("%s: %w", stage, err)
}
