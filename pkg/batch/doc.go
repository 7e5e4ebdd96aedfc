// Package batch provides chunked density fetching for heatmap tiles.
//
// The dwell-density endpoint accepts a bounded number of tile ids per request.
// This package partitions the tile ids of a region into chunks of ChunkSize
// (default 100) and issues one request per chunk, with at most MaxConcurrency
// requests in flight.
//
// Example usage:
//
//	fetcher := batch.NewDensityFetcher(apiClient, batch.DefaultConfig())
//	index, report, err := fetcher.FetchDensities(ctx, cred, targetDate, ids)
//
// The density fetcher:
//   - Partitions ids in order; the last chunk may be shorter
//   - Bounds every chunk request with its own timeout
//   - Logs and skips failed chunks (no retry), recording them in Report
//   - Merges successful chunks into one DensityIndex after all complete
//   - Returns an error only when the caller's context ends
package batch
