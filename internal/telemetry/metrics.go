package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RecordsConsumed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_records_consumed_total",
		Help: "Records decoded and handed to the generation scheduler.",
	})

	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "strata_decode_failures_total",
		Help: "Records dropped because key or message decoding failed.",
	})

	GenerationsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "strata_generations_total",
		Help: "Generations that reached a terminal state.",
	}, []string{"state"})

	GenerationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "strata_generation_phase_seconds",
		Help:    "Wall time spent in the write and invoke phases of a generation.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}, []string{"phase"})
)

// Handler returns the metrics endpoint served by the engine resource's UI
// server.
func Handler() http.Handler {
	return promhttp.Handler()
}
