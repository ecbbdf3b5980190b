// Package metrics exposes Prometheus instrumentation for the search core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "Total number of language-model calls",
		},
		[]string{"provider", "op", "status"},
	)

	llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_seconds",
			Help:    "Language-model call duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "op"},
	)

	llmFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_fallbacks_total",
			Help: "Embeddings calls served by a fallback provider",
		},
		[]string{"from", "to"},
	)

	dialogTurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dialog_turns_total",
			Help: "Dialog turns by resulting action",
		},
		[]string{"action"},
	)

	indexItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_index_items",
			Help: "Active item count in the published catalog index",
		},
	)

	indexAge = promauto.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "catalog_index_age_seconds",
			Help: "Age of the published catalog index snapshot",
		},
		func() float64 {
			t := indexBuiltAt.Load()
			if t == nil {
				return 0
			}
			return time.Since(*t).Seconds()
		},
	)
)

// RecordLLMRequest records one provider call.
func RecordLLMRequest(provider, op, status string, elapsed time.Duration) {
	llmRequestsTotal.WithLabelValues(provider, op, status).Inc()
	llmRequestDuration.WithLabelValues(provider, op).Observe(elapsed.Seconds())
}

// RecordFallback records an embeddings call served by a fallback provider.
func RecordFallback(from, to string) {
	llmFallbacksTotal.WithLabelValues(from, to).Inc()
}

// RecordDialogTurn records a completed dialog turn.
func RecordDialogTurn(action string) {
	dialogTurnsTotal.WithLabelValues(action).Inc()
}

// RecordIndexSnapshot records a freshly published catalog index.
func RecordIndexSnapshot(totalItems int, builtAt time.Time) {
	indexItems.Set(float64(totalItems))
	indexBuiltAt.Store(&builtAt)
}
