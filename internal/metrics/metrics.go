// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ModelRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "expense_agent",
			Subsystem: "model",
			Name:      "requests_total",
			Help:      "Total model requests by outcome",
		},
		[]string{"model", "status"},
	)

	ModelRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "expense_agent",
			Subsystem: "model",
			Name:      "request_duration_seconds",
			Help:      "Model request duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20},
		},
		[]string{"model"},
	)

	BatchChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "expense_agent",
			Subsystem: "table",
			Name:      "batch_chunks_total",
			Help:      "Atomic chunk submissions by operation and outcome",
		},
		[]string{"op", "status"},
	)

	BatchRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "expense_agent",
			Subsystem: "table",
			Name:      "batch_records_total",
			Help:      "Records committed through batch writes",
		},
		[]string{"op"},
	)
)

func ObserveModelRequest(model, status string, d time.Duration) {
	ModelRequestsTotal.WithLabelValues(model, status).Inc()
	ModelRequestDuration.WithLabelValues(model).Observe(d.Seconds())
}

func ObserveChunk(op, status string, records int) {
	BatchChunksTotal.WithLabelValues(op, status).Inc()
	if status == "ok" {
		BatchRecordsTotal.WithLabelValues(op).Add(float64(records))
	}
}
