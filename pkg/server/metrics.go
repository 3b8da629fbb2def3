package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors. Each server instance
// carries its own registry so tests can run several servers in one
// process without collector collisions.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions   prometheus.Gauge
	pendingKeys      prometheus.Gauge
	boardThreads     prometheus.Gauge
	connectionsTotal prometheus.Counter
	disconnectsTotal prometheus.Counter
	messagesReceived *prometheus.CounterVec
	messagesSent     *prometheus.CounterVec
	authAttempts     *prometheus.CounterVec
	broadcastFanout  prometheus.Counter
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "driftboard_active_sessions",
			Help: "Number of currently connected authenticated sessions",
		}),
		pendingKeys: factory.NewGauge(prometheus.GaugeOpts{
			Name: "driftboard_pending_keys",
			Help: "Number of minted, unredeemed session keys",
		}),
		boardThreads: factory.NewGauge(prometheus.GaugeOpts{
			Name: "driftboard_board_threads",
			Help: "Number of threads on the board, expired included",
		}),
		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "driftboard_connections_total",
			Help: "Total TCP connections accepted",
		}),
		disconnectsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "driftboard_disconnects_total",
			Help: "Total connections closed, any reason",
		}),
		messagesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "driftboard_messages_received_total",
			Help: "Inbound wire records by type",
		}, []string{"type"}),
		messagesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "driftboard_messages_sent_total",
			Help: "Outbound wire records by type",
		}, []string{"type"}),
		authAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "driftboard_auth_attempts_total",
			Help: "Authentication attempts by path and result",
		}, []string{"path", "result"}),
		broadcastFanout: factory.NewCounter(prometheus.CounterOpts{
			Name: "driftboard_broadcast_deliveries_total",
			Help: "Individual deliveries attempted during broadcasts",
		}),
	}
}

// Handler returns the HTTP handler serving this server's /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordActiveSessions sets the live session gauge.
func (m *Metrics) RecordActiveSessions(n int) {
	m.activeSessions.Set(float64(n))
}

// RecordPendingKeys sets the outstanding key gauge.
func (m *Metrics) RecordPendingKeys(n int) {
	m.pendingKeys.Set(float64(n))
}

// RecordThreads sets the board thread gauge.
func (m *Metrics) RecordThreads(n int) {
	m.boardThreads.Set(float64(n))
}

// RecordConnection counts an accepted connection.
func (m *Metrics) RecordConnection() {
	m.connectionsTotal.Inc()
}

// RecordDisconnect counts a closed connection.
func (m *Metrics) RecordDisconnect() {
	m.disconnectsTotal.Inc()
}

// RecordMessageReceived counts one inbound record by type tag.
func (m *Metrics) RecordMessageReceived(msgType string) {
	m.messagesReceived.WithLabelValues(msgType).Inc()
}

// RecordMessageSent counts one outbound record by type tag.
func (m *Metrics) RecordMessageSent(msgType string) {
	m.messagesSent.WithLabelValues(msgType).Inc()
}

// RecordAuthAttempt counts an auth attempt. path is "key" or "password";
// result is "success", "failure" or "timeout".
func (m *Metrics) RecordAuthAttempt(path, result string) {
	m.authAttempts.WithLabelValues(path, result).Inc()
}

// RecordBroadcast counts the recipients of one fan-out.
func (m *Metrics) RecordBroadcast(recipients int) {
	m.broadcastFanout.Add(float64(recipients))
}
