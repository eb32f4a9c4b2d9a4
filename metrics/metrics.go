// Package metrics exposes the agent's internal counters through the default
// prometheus registry. Nothing in scope serves the registry over HTTP; it is
// the hook the external health surface scrapes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesQueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dryerlink_messages_queued_total",
		Help: "Messages appended to the offline queue.",
	})
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dryerlink_messages_sent_total",
		Help: "Messages written to the cloud connection.",
	})
	MessagesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dryerlink_messages_evicted_total",
		Help: "Messages dropped from a full offline queue.",
	})
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dryerlink_queue_depth",
		Help: "Messages currently held in the offline queue.",
	})

	AcksConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dryerlink_acks_confirmed_total",
		Help: "Tracked messages acknowledged by the cloud.",
	})
	AcksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dryerlink_acks_failed_total",
		Help: "Tracked messages dropped after exhausting retries.",
	})
	PendingAcks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dryerlink_pending_acks",
		Help: "Messages awaiting acknowledgment.",
	})

	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dryerlink_reconnects_total",
		Help: "Watchdog-driven reconnection attempts.",
	})
	SyncBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dryerlink_sync_batches_total",
		Help: "History sync batch rounds by outcome.",
	}, []string{"status"})
)
