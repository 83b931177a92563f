package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics groups the Prometheus collectors exported on /metrics.
type metrics struct {
	connections         prometheus.Gauge
	loggedIn            prometheus.Gauge
	connectionsRejected prometheus.Counter
	events              *prometheus.CounterVec
	messagesAppended    prometheus.Counter
	messagesRejected    prometheus.Counter
	namesRejected       prometheus.Counter
	framesDropped       *prometheus.CounterVec
	snapshotsDropped    prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, queueDepth func() float64) *metrics {
	factory := promauto.With(reg)

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "gochat",
		Name:      "event_queue_depth",
		Help:      "Inbound events waiting for the dispatcher.",
	}, queueDepth)

	return &metrics{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gochat",
			Name:      "connections",
			Help:      "Registered WebSocket connections.",
		}),
		loggedIn: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gochat",
			Name:      "logged_in_users",
			Help:      "Names currently logged in.",
		}),
		connectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gochat",
			Name:      "connections_rejected_total",
			Help:      "Connections closed because the server was at capacity.",
		}),
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gochat",
			Name:      "events_dispatched_total",
			Help:      "Inbound events handled by the dispatcher, by kind.",
		}, []string{"kind"}),
		messagesAppended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gochat",
			Name:      "messages_appended_total",
			Help:      "Chat messages accepted into the log.",
		}),
		messagesRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gochat",
			Name:      "messages_rejected_total",
			Help:      "Chat messages rejected for a stale watermark.",
		}),
		namesRejected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gochat",
			Name:      "names_rejected_total",
			Help:      "Login attempts rejected for an invalid or taken name.",
		}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gochat",
			Name:      "frames_dropped_total",
			Help:      "Inbound frames discarded before reaching the dispatcher.",
		}, []string{"reason"}),
		snapshotsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gochat",
			Name:      "snapshots_dropped_total",
			Help:      "Outbound snapshots dropped because a send buffer was full or closed.",
		}),
	}
}
