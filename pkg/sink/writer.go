package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Sternrassler/swisscom-heatmap-loader/pkg/heatmap"
)

// WriterSink writes each record as one JSON line.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a JSON Lines sink on w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// WriteBatch encodes all records of b and hands them to w in a single Write,
// so a failing record leaves nothing behind in w.
func (s *WriterSink) WriteBatch(ctx context.Context, b heatmap.Batch) (err error) {
	start := time.Now()
	defer func() {
		WriteDuration.WithLabelValues("writer").Observe(time.Since(start).Seconds())
		observe("writer", len(b.Records), err)
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, rec := range b.Records {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record %s: %w", rec.TileID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write records: %w", err)
	}
	return nil
}
