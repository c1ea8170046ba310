package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OpenSockets         = promauto.NewGauge(prometheus.GaugeOpts{Name: "tutorcall_open_sockets", Help: "Open WebSocket connections (registered or not)"})
	ConnectedProfs      = promauto.NewGauge(prometheus.GaugeOpts{Name: "tutorcall_connected_profs", Help: "Registered provider connections"})
	ConnectedEleves     = promauto.NewGauge(prometheus.GaugeOpts{Name: "tutorcall_connected_eleves", Help: "Registered requester connections"})
	PendingRequests     = promauto.NewGauge(prometheus.GaugeOpts{Name: "tutorcall_pending_requests", Help: "Waiting room entries across all profs"})
	ActiveCalls         = promauto.NewGauge(prometheus.GaugeOpts{Name: "tutorcall_active_calls", Help: "Calls currently in progress"})
	MessagesTotal       = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tutorcall_messages_total", Help: "Inbound messages by type"}, []string{"type"})
	RelayDroppedTotal   = promauto.NewCounter(prometheus.CounterOpts{Name: "tutorcall_relay_dropped_total", Help: "Relay messages dropped because the target was absent"})
	ErrorsTotal         = promauto.NewCounterVec(prometheus.CounterOpts{Name: "tutorcall_errors_total", Help: "Errors by type"}, []string{"type"})
	CallDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{Name: "tutorcall_call_duration_seconds", Help: "Completed call duration seconds", Buckets: prometheus.ExponentialBuckets(15, 2, 12)})
)
