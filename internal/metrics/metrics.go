package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequests counts backend calls by endpoint and outcome (ok, http_error, transport_error, malformed).
	APIRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_api_requests_total",
		Help: "Backend API calls issued by the portal client.",
	}, []string{"endpoint", "outcome"})

	// APIDuration observes backend call latency.
	APIDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portal_api_request_duration_seconds",
		Help:    "Backend API call latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})

	// CacheReads counts cache reads by result (hit, miss, corrupt, error).
	CacheReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portal_cache_reads_total",
		Help: "Local cache reads by result.",
	}, []string{"result"})

	// CacheWriteFailures counts cache writes that could not be persisted.
	CacheWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portal_cache_write_failures_total",
		Help: "Local cache writes that failed.",
	})

	// AttendanceSubmissions counts roll-call submissions accepted by the mock backend.
	AttendanceSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mockapi_attendance_submissions_total",
		Help: "Attendance sessions recorded by the mock backend.",
	}, []string{"course"})
)
