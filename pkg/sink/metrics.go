package sink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BatchesWritten tracks batch writes by sink and outcome
	BatchesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heatmap_sink_batches_total",
			Help: "Total number of batches handed to a sink",
		},
		[]string{"sink", "status"}, // "ok", "error"
	)

	// RecordsWritten tracks records persisted by sink
	RecordsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heatmap_sink_records_total",
			Help: "Total number of records persisted",
		},
		[]string{"sink"}, // "redis", "postgres", "writer"
	)

	// WriteDuration tracks batch write latency by sink
	WriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "heatmap_sink_write_duration_seconds",
			Help:    "Batch write duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"sink"},
	)
)

func observe(sink string, records int, err error) {
	if err != nil {
		BatchesWritten.WithLabelValues(sink, "error").Inc()
		return
	}
	BatchesWritten.WithLabelValues(sink, "ok").Inc()
	RecordsWritten.WithLabelValues(sink).Add(float64(records))
}
