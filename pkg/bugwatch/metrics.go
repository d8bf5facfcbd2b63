// metrics.go defines the Prometheus counters exported by the agent.

package bugwatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drop reasons reported by bugwatch_events_dropped_total.
const (
	DropSampled    = "sampled"
	DropBeforeSend = "before_send"
	DropInternal   = "internal"
	DropClosed     = "closed"
	DropQueueFull  = "queue_full"
)

var (
	eventsCaptured = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bugwatch_events_captured_total",
			Help: "Total number of events handed to a transport",
		},
		[]string{"kind"},
	)

	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bugwatch_events_dropped_total",
			Help: "Total number of events dropped before delivery",
		},
		[]string{"reason"},
	)

	transportSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bugwatch_transport_sends_total",
			Help: "Total number of delivery attempts by transport and outcome",
		},
		[]string{"transport", "outcome"},
	)
)

// RecordDropped counts an event dropped for reason. Transports that discard
// queued events report them here.
func RecordDropped(reason string, n int) {
	eventsDropped.WithLabelValues(reason).Add(float64(n))
}

// RecordSend counts one delivery attempt by the named transport.
func RecordSend(transport string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	transportSends.WithLabelValues(transport, outcome).Inc()
}
