package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Generation outcomes used as the "outcome" label.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeTimeout = "timeout"
)

var generationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "buildmysite_generation_duration_seconds",
	Help:    "Time spent waiting on the AI backend per generation.",
	Buckets: []float64{1, 5, 10, 20, 30, 60, 90, 120, 180, 300},
}, []string{"mode", "outcome"})

var generationsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "buildmysite_generations_in_flight",
	Help: "Generations currently waiting on the AI backend.",
})

var generationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "buildmysite_generation_rejections_total",
	Help: "Generation requests rejected before reaching the AI backend.",
}, []string{"reason"})

var httpRequests = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "buildmysite_http_request_duration_seconds",
	Help:    "HTTP request latency by route pattern and status code.",
	Buckets: prometheus.DefBuckets,
}, []string{"method", "route", "status"})

// ObserveGeneration records one finished backend call.
func ObserveGeneration(mode, outcome string, d time.Duration) {
	generationDuration.WithLabelValues(mode, outcome).Observe(d.Seconds())
}

// GenerationStarted increments the in-flight gauge; call the returned func when the call ends.
func GenerationStarted() func() {
	generationsInFlight.Inc()
	return generationsInFlight.Dec
}

// GenerationRejected counts a request that never reached the backend.
func GenerationRejected(reason string) {
	generationRejections.WithLabelValues(reason).Inc()
}

// ObserveHTTP records one served request.
func ObserveHTTP(method, route string, status int, d time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
