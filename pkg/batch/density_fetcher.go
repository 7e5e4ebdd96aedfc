// Package batch provides chunked density fetching for heatmap tiles
package batch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/auth"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/client"
	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/heatmap"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	densityChunksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "heatmap_density_chunks_total",
		Help: "Total density chunk requests by outcome",
	}, []string{"status"})

	densityScoresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heatmap_density_scores_total",
		Help: "Total density scores accepted from successful chunks",
	})

	densityMalformedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "heatmap_density_malformed_entries_total",
		Help: "Total density entries dropped for a missing or mistyped tile id or score",
	})
)

// DefaultChunkSize is the number of tile ids per density request.
const DefaultChunkSize = 100

// Config holds density fetcher configuration
type Config struct {
	// ChunkSize is the maximum number of tile ids per request
	ChunkSize int
	// MaxConcurrency is the maximum number of chunk requests in flight
	MaxConcurrency int
	// Timeout per chunk request
	Timeout time.Duration
}

// DefaultConfig returns safe default configuration for the heatmaps API
func DefaultConfig() Config {
	return Config{
		ChunkSize:      DefaultChunkSize,
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}

// ChunkFetcher is the interface the API client implements for one density request
type ChunkFetcher interface {
	FetchDensityChunk(ctx context.Context, cred *auth.Credential, date time.Time, ids []heatmap.TileID) (client.ChunkResult, error)
}

// Report summarizes a FetchDensities call
type Report struct {
	Chunks           int
	Succeeded        int
	Failed           []*ChunkFetchError
	Scores           int
	MalformedEntries int
	Duration         time.Duration
}

// Degraded reports whether at least one chunk was skipped.
func (r Report) Degraded() bool {
	return len(r.Failed) > 0
}

// ChunkFetchError records a skipped chunk
type ChunkFetchError struct {
	Index int
	Size  int
	Err   error
}

// Error implements the error interface.
func (e *ChunkFetchError) Error() string {
	return fmt.Sprintf("density chunk %d (%d tiles): %v", e.Index, e.Size, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ChunkFetchError) Unwrap() error {
	return e.Err
}

// chunkOutcome is the per-chunk slot written by exactly one goroutine
type chunkOutcome struct {
	result client.ChunkResult
	err    error
}

// DensityFetcher fetches density scores chunk by chunk
type DensityFetcher struct {
	fetcher ChunkFetcher
	config  Config
}

// NewDensityFetcher creates a new density fetcher
func NewDensityFetcher(fetcher ChunkFetcher, config Config) *DensityFetcher {
	if config.ChunkSize <= 0 {
		config.ChunkSize = DefaultChunkSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 4
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &DensityFetcher{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchDensities requests scores for ids in chunks of ChunkSize and returns
// the union of all successful chunks. A failed chunk is logged and skipped;
// it is never retried. The error is non-nil only if ctx ends before all
// chunks completed, in which case the index must not be used.
func (df *DensityFetcher) FetchDensities(ctx context.Context, cred *auth.Credential, date time.Time, ids []heatmap.TileID) (heatmap.DensityIndex, Report, error) {
	start := time.Now()
	chunks := Partition(ids, df.config.ChunkSize)
	report := Report{Chunks: len(chunks)}

	logger := log.With().
		Str("component", "density-fetcher").
		Str("target_date", date.Format(heatmap.DateLayout)).
		Logger()

	logger.Info().
		Int("tiles", len(ids)).
		Int("chunks", len(chunks)).
		Int("chunk_size", df.config.ChunkSize).
		Msg("Starting density fetch")

	outcomes := make([]chunkOutcome, len(chunks))
	var completed atomic.Int64

	var g errgroup.Group
	g.SetLimit(df.config.MaxConcurrency)

	for i, chunk := range chunks {
		if ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i].err = ctx.Err()
				return nil
			}

			chunkCtx, cancel := context.WithTimeout(ctx, df.config.Timeout)
			result, err := df.fetcher.FetchDensityChunk(chunkCtx, cred, date, chunk)
			cancel()

			outcomes[i] = chunkOutcome{result: result, err: err}

			done := completed.Add(1)
			if done%50 == 0 {
				logger.Info().
					Int64("fetched", done).
					Int("total", len(chunks)).
					Float64("progress_pct", float64(done)/float64(len(chunks))*100).
					Msg("Density fetch progress")
			}
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		logger.Warn().
			Err(err).
			Int64("completed_chunks", completed.Load()).
			Int("total_chunks", len(chunks)).
			Msg("Density fetch abandoned")
		report.Duration = time.Since(start)
		return nil, report, fmt.Errorf("density fetch abandoned: %w", err)
	}

	// Merge in chunk order so the result does not depend on completion order.
	index := heatmap.NewDensityIndex(len(ids))
	for i, outcome := range outcomes {
		if outcome.err != nil {
			chunkErr := &ChunkFetchError{Index: i, Size: len(chunks[i]), Err: outcome.err}
			report.Failed = append(report.Failed, chunkErr)
			densityChunksTotal.WithLabelValues("failed").Inc()

			logger.Warn().
				Err(outcome.err).
				Int("chunk", i).
				Int("chunk_size", len(chunks[i])).
				Msg("Density chunk failed, skipping")
			continue
		}

		index.Merge(outcome.result.Scores)
		report.Succeeded++
		report.Scores += len(outcome.result.Scores)
		report.MalformedEntries += outcome.result.Malformed
		densityChunksTotal.WithLabelValues("ok").Inc()
		densityScoresTotal.Add(float64(len(outcome.result.Scores)))
		densityMalformedTotal.Add(float64(outcome.result.Malformed))
	}

	report.Duration = time.Since(start)

	ev := logger.Info()
	if report.Degraded() {
		ev = logger.Warn()
	}
	ev.Int("chunks", report.Chunks).
		Int("succeeded", report.Succeeded).
		Int("failed", len(report.Failed)).
		Int("scores", index.Len()).
		Int("malformed_entries", report.MalformedEntries).
		Dur("duration", report.Duration).
		Msg("Density fetch complete")

	return index, report, nil
}
