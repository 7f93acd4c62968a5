// Package metrics exposes Prometheus metrics for the MCP servers.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ggoodman/mcp-retail-demo/internal/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "retail_mcp"

// Metrics owns a private registry and the collectors registered on it. It
// implements engine.Observer.
type Metrics struct {
	registry     *prometheus.Registry
	messages     *prometheus.CounterVec
	toolCalls    *prometheus.CounterVec
	toolDuration *prometheus.HistogramVec
}

var _ engine.Observer = (*Metrics)(nil)

// New builds a registry with the process and Go runtime collectors plus the
// MCP counters.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "JSON-RPC requests handled, by server, method and outcome.",
		}, []string{"server", "method", "outcome"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations, by server, tool and outcome.",
		}, []string{"server", "tool", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool handler latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"server", "tool"}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messages,
		m.toolCalls,
		m.toolDuration,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveMessage counts one handled request.
func (m *Metrics) ObserveMessage(server, method, outcome string) {
	m.messages.WithLabelValues(server, method, outcome).Inc()
}

// ObserveToolCall counts one tool call and records its latency.
func (m *Metrics) ObserveToolCall(server, tool, outcome string, dur time.Duration) {
	m.toolCalls.WithLabelValues(server, tool, outcome).Inc()
	m.toolDuration.WithLabelValues(server, tool).Observe(dur.Seconds())
}

// TrackConnections registers a gauge reporting fn() as the number of open
// SSE connections for the server mounted at prefix.
func (m *Metrics) TrackConnections(server, prefix string, fn func() int) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace:   namespace,
		Name:        "active_connections",
		Help:        "Open SSE connections.",
		ConstLabels: prometheus.Labels{"server": server, "prefix": prefix},
	}, func() float64 { return float64(fn()) })
	if err := m.registry.Register(g); err != nil {
		return fmt.Errorf("register connection gauge for %s: %w", prefix, err)
	}
	return nil
}

// TrackSessions registers a gauge over the number of live auth sessions.
func (m *Metrics) TrackSessions(fn func() int) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Auth sessions currently held by the session store.",
	}, func() float64 { return float64(fn()) })
	if err := m.registry.Register(g); err != nil {
		return fmt.Errorf("register session gauge: %w", err)
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
