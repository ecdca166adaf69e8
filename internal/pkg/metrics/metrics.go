/*
Package metrics exposes the Prometheus collectors of the chat server.

Collectors are registered on a private registry so tests can build several
instances without clashing on the default registerer.
*/
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the server updates.
type Metrics struct {
	registry *prometheus.Registry

	// Connections is the number of live websocket connections.
	Connections prometheus.Gauge

	// Sessions is the number of connections bound to a user.
	Sessions prometheus.Gauge

	// Messages counts routed messages by kind.
	Messages *prometheus.CounterVec

	// Rejections counts rejected commands by command name and error code.
	Rejections *prometheus.CounterVec

	// HistoryChunks counts history batches pushed to clients.
	HistoryChunks prometheus.Counter
}

// New builds and registers the collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roleooc",
			Name:      "connections",
			Help:      "Live websocket connections.",
		}),
		Sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "roleooc",
			Name:      "sessions",
			Help:      "Connections bound to an authenticated user.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roleooc",
			Name:      "messages_routed_total",
			Help:      "Messages accepted by the router.",
		}, []string{"kind"}),
		Rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "roleooc",
			Name:      "commands_rejected_total",
			Help:      "Commands rejected by validation, policy or business rules.",
		}, []string{"command", "code"}),
		HistoryChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "roleooc",
			Name:      "history_chunks_total",
			Help:      "History batches delivered.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Connections,
		m.Sessions,
		m.Messages,
		m.Rejections,
		m.HistoryChunks,
	)

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
