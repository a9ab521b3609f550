package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce       sync.Once
	apiRequestsTotal   *prometheus.CounterVec
	apiLatencySeconds  *prometheus.HistogramVec
	apiErrorsTotal     *prometheus.CounterVec
	eventsHandledTotal *prometheus.CounterVec
	jobsEnqueuedTotal  *prometheus.CounterVec
	jobsProcessedTotal *prometheus.CounterVec
	staleRecordsTotal  prometheus.Counter
)

// RegisterMetrics initialises the Prometheus collectors shared by the API and the worker.
func RegisterMetrics() {
	registerOnce.Do(func() {
		apiRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aicheck_api_requests_total",
			Help: "Total number of AI check API requests served.",
		}, []string{"method", "route", "status"})

		apiLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aicheck_api_latency_seconds",
			Help:    "Latency distribution for AI check API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		apiErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aicheck_api_errors_total",
			Help: "Total number of error responses returned by AI check endpoints.",
		}, []string{"method", "route", "status"})

		eventsHandledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aicheck_events_handled_total",
			Help: "Host submission events handled, by outcome.",
		}, []string{"outcome"})

		jobsEnqueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aicheck_jobs_enqueued_total",
			Help: "Grading jobs handed to the queue, by kind (immediate or deferred).",
		}, []string{"kind"})

		jobsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aicheck_jobs_processed_total",
			Help: "Grading jobs finished by the worker, by result.",
		}, []string{"result"})

		staleRecordsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aicheck_stale_records_failed_total",
			Help: "Processing records failed by the stale sweeper.",
		})

		prometheus.MustRegister(apiRequestsTotal, apiLatencySeconds, apiErrorsTotal,
			eventsHandledTotal, jobsEnqueuedTotal, jobsProcessedTotal, staleRecordsTotal)
	})
}

// APIRequests exposes the counter for API requests.
func APIRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return apiRequestsTotal
}

// APILatency exposes the latency histogram for API requests.
func APILatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return apiLatencySeconds
}

// APIErrors exposes the counter for API error responses.
func APIErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return apiErrorsTotal
}

// EventsHandled exposes the counter of handled host events.
func EventsHandled() *prometheus.CounterVec {
	RegisterMetrics()
	return eventsHandledTotal
}

// JobsEnqueued exposes the counter of queued grading jobs.
func JobsEnqueued() *prometheus.CounterVec {
	RegisterMetrics()
	return jobsEnqueuedTotal
}

// JobsProcessed exposes the counter of worker results.
func JobsProcessed() *prometheus.CounterVec {
	RegisterMetrics()
	return jobsProcessedTotal
}

// StaleRecordsFailed exposes the sweeper counter.
func StaleRecordsFailed() prometheus.Counter {
	RegisterMetrics()
	return staleRecordsTotal
}
