// Package metrics exposes session/message/error counters for a thinserve
// server over the Prometheus exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// M is a self-contained Prometheus collector set. Each server created
// without an explicit *M gets its own, so that multiple servers in one
// process never collide on metric registration.
type M struct {
	registry *prometheus.Registry

	SessionsCreated  prometheus.Counter
	SessionsClosed   prometheus.Counter
	MessagesInbound  prometheus.Counter
	MessagesOutbound prometheus.Counter
	ProtocolErrors   *prometheus.CounterVec
}

// New builds an M with its own private registry.
func New() *M {
	reg := prometheus.NewRegistry()
	m := &M{
		registry: reg,
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thinserve_sessions_created_total",
			Help: "Total number of sessions created via create_session.",
		}),
		SessionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thinserve_sessions_closed_total",
			Help: "Total number of sessions closed.",
		}),
		MessagesInbound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thinserve_messages_inbound_total",
			Help: "Total number of inbound call/reply messages received.",
		}),
		MessagesOutbound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "thinserve_messages_outbound_total",
			Help: "Total number of outbound call/reply messages delivered via long-poll.",
		}),
		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "thinserve_protocol_errors_total",
			Help: "Total number of protocol errors returned to clients, by kind.",
		}, []string{"kind"}),
	}
	reg.MustRegister(
		m.SessionsCreated,
		m.SessionsClosed,
		m.MessagesInbound,
		m.MessagesOutbound,
		m.ProtocolErrors,
	)
	return m
}

// Handler exposes the collector set in the Prometheus exposition format.
func (m *M) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
