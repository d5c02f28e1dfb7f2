package metric

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yndnr/wamesh-go/internal/core/domain"
)

const namespace = "wamesh"

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Session metrics
	Sessions           *prometheus.GaugeVec
	SessionsAdded      prometheus.Counter
	SessionsRemoved    prometheus.Counter
	SessionTransitions *prometheus.CounterVec
	Reconnects         prometheus.Counter
	RestoreErrors      prometheus.Counter

	// Message metrics
	Messages *prometheus.CounterVec

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

var (
	globalOnce     sync.Once
	globalRegistry *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		globalRegistry = NewRegistry()
	})
	return globalRegistry
}

// Handler serves the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// NewRegistry creates a registry with every wamesh metric registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
		Sessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions",
			Help:      "Live sessions by status.",
		}, []string{"status"}),
		SessionsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_added_total",
			Help:      "Sessions created or restored.",
		}),
		SessionsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_removed_total",
			Help:      "Sessions deleted or logged out.",
		}),
		SessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Status transitions by target status.",
		}, []string{"to"}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnects_total",
			Help:      "Transport restarts after a transient close.",
		}),
		RestoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "restore_errors_total",
			Help:      "Session directories that could not be restored cleanly.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Send attempts by outcome.",
		}, []string{"status"}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		r.Sessions,
		r.SessionsAdded,
		r.SessionsRemoved,
		r.SessionTransitions,
		r.Reconnects,
		r.RestoreErrors,
		r.Messages,
		r.RequestsTotal,
		r.RequestDuration,
	)

	// Report every status, including empty ones.
	for _, s := range domain.AllStatuses() {
		r.Sessions.WithLabelValues(s.String())
	}
	return r
}

// Registerer lets other components add their own collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Gatherer exposes the underlying registry for tests and exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// SessionAdded records a new live session.
func (r *Registry) SessionAdded(status domain.Status) {
	r.SessionsAdded.Inc()
	r.Sessions.WithLabelValues(status.String()).Inc()
}

// SessionTransition moves one session between status gauges.
func (r *Registry) SessionTransition(from, to domain.Status) {
	r.Sessions.WithLabelValues(from.String()).Dec()
	r.Sessions.WithLabelValues(to.String()).Inc()
	r.SessionTransitions.WithLabelValues(to.String()).Inc()
}

// SessionRemoved records a session leaving the registry.
func (r *Registry) SessionRemoved(last domain.Status) {
	r.SessionsRemoved.Inc()
	r.Sessions.WithLabelValues(last.String()).Dec()
}

func (r *Registry) ReconnectAttempt() {
	r.Reconnects.Inc()
}

func (r *Registry) RestoreError() {
	r.RestoreErrors.Inc()
}

func (r *Registry) MessageRecorded(status domain.MessageStatus) {
	r.Messages.WithLabelValues(string(status)).Inc()
}

// ObserveRequest records one finished HTTP request. route is the
// matched pattern, not the raw path, to keep label cardinality bounded.
func (r *Registry) ObserveRequest(method, route string, code int, elapsed time.Duration) {
	r.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	r.RequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}
