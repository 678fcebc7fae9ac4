// Package metrics exposes attendance activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geoattend/pkg/types"
)

const namespace = "geoattend"

// Collector counts session and attendance events and HTTP traffic. It
// implements interfaces.EventPublisher so it can sit next to the hub.
type Collector struct {
	registry *prometheus.Registry

	sessionsCreated  prometheus.Counter
	sessionsEnded    prometheus.Counter
	attendanceMarked *prometheus.CounterVec
	overrides        *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpDuration     *prometheus.HistogramVec
}

// NewCollector registers the geoattend metrics, plus the Go runtime and
// process collectors, on a fresh registry
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: registry,
		sessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions opened by teachers.",
		}),
		sessionsEnded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions explicitly ended by teachers.",
		}),
		attendanceMarked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_marked_total",
			Help:      "New attendance records by the status decided at join time.",
		}, []string{"status"}),
		overrides: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_overrides_total",
			Help:      "Manual status overrides by target status.",
		}, []string{"status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	registry.MustRegister(
		c.sessionsCreated,
		c.sessionsEnded,
		c.attendanceMarked,
		c.overrides,
		c.httpRequests,
		c.httpDuration,
	)
	return c
}

// Publish updates counters for a core event
func (c *Collector) Publish(event *types.Event) {
	if event == nil {
		return
	}
	switch event.Type {
	case types.EventSessionCreated:
		c.sessionsCreated.Inc()
	case types.EventSessionEnded:
		c.sessionsEnded.Inc()
	case types.EventAttendanceMarked:
		if event.Record != nil {
			c.attendanceMarked.WithLabelValues(string(event.Record.Status)).Inc()
		}
	case types.EventAttendanceUpdated:
		if event.Record != nil {
			c.overrides.WithLabelValues(string(event.Record.Status)).Inc()
		}
	}
}

// ObserveRequest records one completed HTTP request
func (c *Collector) ObserveRequest(method, route string, code int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// RegisterGauge exposes a value sampled at scrape time, e.g. open dashboards
func (c *Collector) RegisterGauge(name, help string, sample func() float64) error {
	return c.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, sample))
}

// Handler serves the registry in the Prometheus exposition format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
