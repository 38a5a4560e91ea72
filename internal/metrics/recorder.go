// Package metrics exports orchestrator and transport counters to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/organ-match-server/internal/domain"
)

const namespace = "organ_match"

// Recorder implements domain.Observer on a private Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	transitions      *prometheus.CounterVec
	notificationsOut *prometheus.CounterVec
	skipped          prometheus.Counter
	priorityUpdates  *prometheus.CounterVec
	pairsScored      *prometheus.CounterVec
	duplicates       *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	toolCalls    *prometheus.CounterVec
}

// NewRecorder creates a new Recorder. Go runtime and process collectors are registered
// alongside the domain counters.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_transitions_total",
			Help:      "Applied match lifecycle transitions by kind.",
		}, []string{"kind"}),
		notificationsOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Notifications created by severity.",
		}, []string{"severity"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_skipped_total",
			Help:      "Deliveries dropped because the target does not exist.",
		}),
		priorityUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "priority_updates_total",
			Help:      "Priority record updates by resulting level.",
		}, []string{"level"}),
		pairsScored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auto_match_pairs_total",
			Help:      "Auto-match pair outcomes.",
		}, []string{"outcome"}),
		duplicates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_events_total",
			Help:      "Redelivered events suppressed by idempotency keys.",
		}, []string{"kind"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mcp_tool_calls_total",
			Help:      "MCP tool invocations by tool and result.",
		}, []string{"tool", "result"}),
	}

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.transitions,
		r.notificationsOut,
		r.skipped,
		r.priorityUpdates,
		r.pairsScored,
		r.duplicates,
		r.httpRequests,
		r.httpDuration,
		r.toolCalls,
	)
	return r
}

func (r *Recorder) TransitionApplied(kind string) {
	r.transitions.WithLabelValues(kind).Inc()
}

func (r *Recorder) NotificationsSent(severity domain.Severity, n int) {
	if n > 0 {
		r.notificationsOut.WithLabelValues(string(severity)).Add(float64(n))
	}
}

func (r *Recorder) NotificationsSkipped(n int) {
	if n > 0 {
		r.skipped.Add(float64(n))
	}
}

func (r *Recorder) PriorityUpdated(level domain.PriorityLevel) {
	r.priorityUpdates.WithLabelValues(string(level)).Inc()
}

func (r *Recorder) PairScored(outcome string) {
	r.pairsScored.WithLabelValues(outcome).Inc()
}

func (r *Recorder) DuplicateEvent(kind string) {
	r.duplicates.WithLabelValues(kind).Inc()
}

// ObserveRequest records one served HTTP request.
func (r *Recorder) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	r.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	r.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ToolCalled records one MCP tool invocation.
func (r *Recorder) ToolCalled(tool string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.toolCalls.WithLabelValues(tool, result).Inc()
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
