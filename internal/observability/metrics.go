package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the service.
type Metrics struct {
	Registry *prometheus.Registry

	Requests        *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	Errors          *prometheus.CounterVec

	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	RoleResolution *prometheus.CounterVec
	RoleUpdates    *prometheus.CounterVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		Requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_session_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"path", "method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "auth_session_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path", "method"},
		),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_session_http_errors_total",
				Help: "Total number of HTTP errors by code",
			},
			[]string{"path", "method", "code"},
		),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "auth_session_profile_cache_hits_total",
			Help: "Profile cache lookups served from a fresh entry",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "auth_session_profile_cache_misses_total",
			Help: "Profile cache lookups that found no fresh entry",
		}),
		RoleResolution: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_session_role_resolutions_total",
				Help: "Role resolutions by outcome",
			},
			[]string{"outcome"},
		),
		RoleUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_session_role_updates_total",
				Help: "Role updates by outcome",
			},
			[]string{"outcome"},
		),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(path, method).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(path, method, code).Inc()
}

// RecordCacheLookup counts a profile cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
		return
	}
	m.CacheMisses.Inc()
}

// RecordRoleResolution counts a coordinator outcome.
func (m *Metrics) RecordRoleResolution(outcome string) {
	if m == nil {
		return
	}
	m.RoleResolution.WithLabelValues(outcome).Inc()
}

// RecordRoleUpdate counts an update-role outcome.
func (m *Metrics) RecordRoleUpdate(outcome string) {
	if m == nil {
		return
	}
	m.RoleUpdates.WithLabelValues(outcome).Inc()
}
