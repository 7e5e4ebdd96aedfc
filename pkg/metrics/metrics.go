// Package metrics serves the Prometheus metrics of the heatmap loader.
// All metrics are defined in their respective packages (auth, client, batch,
// pipeline, sink) via promauto, so this package only serves and documents them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler serves the default registry, which promauto registers every loader
// metric with, in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Token Metrics (pkg/auth):
//   - heatmap_token_requests_total{status} (Counter): Token exchanges by outcome (ok, HTTP status, network, invalid, misconfigured)
//
// Request Metrics (pkg/client):
//   - heatmap_api_requests_total{endpoint, status} (Counter): Requests by endpoint (grids, dwell-density) and HTTP status
//   - heatmap_api_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - heatmap_api_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//
// Density Metrics (pkg/batch):
//   - heatmap_density_chunks_total{status} (Counter): Chunk requests by outcome (ok, failed)
//   - heatmap_density_scores_total (Counter): Scores accepted from successful chunks
//   - heatmap_density_malformed_entries_total (Counter): Entries dropped for a missing or mistyped id or score
//
// Pipeline Metrics (pkg/pipeline):
//   - heatmap_pipeline_runs_total{outcome} (Counter): Runs by outcome (success, degraded, empty, failed, cancelled)
//   - heatmap_pipeline_records (Gauge): Records produced by the last completed run
//   - heatmap_pipeline_duration_seconds (Histogram): Run duration
//
// Sink Metrics (pkg/sink):
//   - heatmap_sink_batches_total{sink, status} (Counter): Batch writes by sink and outcome
//   - heatmap_sink_records_total{sink} (Counter): Records persisted by sink
//   - heatmap_sink_write_duration_seconds{sink} (Histogram): Batch write duration
//
// Example Prometheus Queries:
//
//   # Degraded run ratio
//   sum(rate(heatmap_pipeline_runs_total{outcome="degraded"}[1d])) /
//   sum(rate(heatmap_pipeline_runs_total[1d]))
//
//   # Chunk failure rate
//   rate(heatmap_density_chunks_total{status="failed"}[1h])
//
//   # Records written yesterday
//   heatmap_pipeline_records
//
//   # P95 density request latency
//   histogram_quantile(0.95, rate(heatmap_api_request_duration_seconds_bucket{endpoint="dwell-density"}[5m]))
