// Package metrics holds the Prometheus collectors of the session server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sightquest_ws_connections",
			Help: "Open game WebSocket connections",
		},
	)
	Events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sightquest_events_total",
			Help: "Inbound client events by type and result",
		},
		[]string{"event", "result"},
	)
	Broadcasts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sightquest_broadcasts_total",
			Help: "Messages published to broadcast groups",
		},
		[]string{"source"},
	)
	DroppedMessages = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sightquest_dropped_messages_total",
			Help: "Outbound messages dropped because a connection queue was full",
		},
	)
	JournalErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sightquest_journal_errors_total",
			Help: "Event records that could not be pushed to the journal",
		},
	)
)

func init() {
	prometheus.MustRegister(Connections)
	prometheus.MustRegister(Events)
	prometheus.MustRegister(Broadcasts)
	prometheus.MustRegister(DroppedMessages)
	prometheus.MustRegister(JournalErrors)
}
