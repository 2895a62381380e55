package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "veostudio_generations_total",
			Help: "Completed video generations by outcome (ok or error kind).",
		},
		[]string{"outcome"},
	)

	generationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "veostudio_generation_duration_seconds",
			Help:    "Wall time of a video generation from submit to local artifact.",
			Buckets: []float64{10, 30, 60, 120, 180, 300, 600, 1200},
		},
		[]string{"outcome"},
	)

	pollAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veostudio_poll_attempts_total",
			Help: "Status checks issued against long-running video operations.",
		},
	)

	downloadedBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "veostudio_downloaded_bytes_total",
			Help: "Video bytes fetched from delivery locators.",
		},
	)
)

func init() {
	prometheus.MustRegister(generationsTotal)
	prometheus.MustRegister(generationDuration)
	prometheus.MustRegister(pollAttemptsTotal)
	prometheus.MustRegister(downloadedBytesTotal)
}

// ObserveGeneration records the outcome of one generate call.
func ObserveGeneration(outcome string, elapsed time.Duration) {
	generationsTotal.WithLabelValues(outcome).Inc()
	generationDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

// ObservePoll counts one status check.
func ObservePoll() {
	pollAttemptsTotal.Inc()
}

// ObserveDownload counts fetched bytes.
func ObserveDownload(n int) {
	downloadedBytesTotal.Add(float64(n))
}
