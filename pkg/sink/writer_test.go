package sink

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestWriterSink_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewWriterSink(&buf)

	require.NoError(t, s.WriteBatch(context.Background(), testBatch(2)))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t,
		`{"tileId":"1000","density":0,"location":{"type":"Point","coordinates":[2600000,1200000]}}`,
		lines[0])
	assert.JSONEq(t,
		`{"tileId":"1001","density":0.1,"location":{"type":"Point","coordinates":[2600100,1200000]}}`,
		lines[1])
}

func TestWriterSink_EmptyBatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriterSink(&buf).WriteBatch(context.Background(), testBatch(0)))
	assert.Empty(t, buf.String())
}

func TestWriterSink_WriteError(t *testing.T) {
	err := NewWriterSink(failingWriter{}).WriteBatch(context.Background(), testBatch(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken pipe")
}

func TestWriterSink_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := NewWriterSink(&buf).WriteBatch(ctx, testBatch(1))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}
