// Package sink persists heatmap batches.
//
// Every sink receives the records of one run as a single batch and writes
// them atomically where the backend allows it:
//
//   - RedisSink appends JSON records to a per-day list and stores run
//     metadata in one MULTI/EXEC transaction.
//   - PostgresSink copies rows into heatmap_densities inside one
//     transaction, with the location encoded as EWKB (SRID 4326).
//   - WriterSink emits JSON Lines to any io.Writer.
//
// Sinks are append-only. Two runs for the same day produce two sets of
// rows, distinguished by run id.
package sink
