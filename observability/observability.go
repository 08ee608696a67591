// Prometheus collectors for the pipeline, exposed on /metrics by both the
// server and the worker.
package observability

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "analysis_jobs_submitted_total",
		Help: "The total number of submitted analysis jobs",
	})

	JobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "analysis_jobs_processed_total",
		Help: "The total number of processed job attempts",
	}, []string{"status"}) // status: succeeded, failed, retried

	EstimateDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "estimate_duration_seconds",
		Help:    "Duration of AI estimate calls.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "analysis_jobs_queue_depth",
		Help: "Number of jobs in the live table",
	}, []string{"state"}) // state: all, ready, in_progress
)

// Handler returns the /metrics handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer runs a standalone HTTP server exposing /metrics, for
// binaries that don't serve the API.
func StartMetricsServer(addr string) {
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("metrics server failed: %s", err)
		}
	}()
}
