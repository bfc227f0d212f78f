package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Delivery
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_sends_total",
			Help: "Send attempts by outcome",
		},
		[]string{"result"}, // sent, failed, stale, dropped
	)

	OutboxErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_outbox_errors_total",
			Help: "Outbox storage or parse errors treated as an empty store",
		},
		[]string{"op"},
	)

	ReadBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_read_batches_total",
			Help: "Read-receipt batch flushes by outcome",
		},
		[]string{"result"}, // ok, error, gated
	)

	// Realtime
	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_realtime_events_total",
			Help: "Realtime frames by event type; dropped frames are counted as invalid or unknown",
		},
		[]string{"event"},
	)

	TypingWhispers = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chatsync_typing_whispers_total",
			Help: "Typing whispers sent after throttling",
		},
	)

	// Dev server
	DevserverHTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatsync_devserver_http_requests_total",
			Help: "Dev server HTTP requests",
		},
		[]string{"method", "status"},
	)

	DevserverWSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatsync_devserver_ws_connections",
			Help: "Open realtime connections on the dev server",
		},
	)
)
