// Package metrics holds the relay's prometheus collectors and the HTTP router
// that exposes them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "spwrelay_messages_received_total", Help: "inbound channel messages dispatched to a handler"},
		[]string{"channel"},
	)

	messagesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "spwrelay_messages_sent_total", Help: "outbound channel messages handed to the transport"},
		[]string{"channel"},
	)

	handlerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "spwrelay_handler_failures_total", Help: "handler invocations that returned an error or panicked"},
		[]string{"channel"},
	)

	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "spwrelay_deliveries_total", Help: "per-peer frame deliveries by result"},
		[]string{"channel", "result"},
	)

	connectedPeers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "spwrelay_connected_peers", Help: "peers currently connected to the relay"},
	)
)

func init() {
	prometheus.MustRegister(
		messagesReceived,
		messagesSent,
		handlerFailures,
		deliveries,
		connectedPeers,
	)
}

// MessageReceived counts one inbound message on channel.
func MessageReceived(channel string) { messagesReceived.WithLabelValues(channel).Inc() }

// MessageSent counts one outbound message on channel.
func MessageSent(channel string) { messagesSent.WithLabelValues(channel).Inc() }

// HandlerFailed counts one failed handler invocation on channel.
func HandlerFailed(channel string) { handlerFailures.WithLabelValues(channel).Inc() }

// Delivered counts one per-peer delivery attempt; ok selects the result label.
func Delivered(channel string, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	deliveries.WithLabelValues(channel, result).Inc()
}

// PeerConnected and PeerDisconnected track the connected peer gauge.
func PeerConnected()    { connectedPeers.Inc() }
func PeerDisconnected() { connectedPeers.Dec() }
