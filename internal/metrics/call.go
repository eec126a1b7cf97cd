package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "call",
		Name:      "started_total",
		Help:      "Calls that reached the streaming state",
	}, []string{"stream_type"})

	callFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "call",
		Name:      "failures_total",
		Help:      "Calls that ended in the error state, by error code",
	}, []string{"code"})

	negotiationRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "call",
		Name:      "negotiation_retries_total",
		Help:      "Call negotiation attempts beyond the first",
	})

	punchPackets = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "punch",
		Name:      "packets_total",
		Help:      "Firewall punch datagrams by result",
	}, []string{"result"})
)

// CallStarted counts a call that reached streaming.
func CallStarted(streamType string) {
	callsStarted.WithLabelValues(streamType).Inc()
}

// CallFailed counts a call that failed with the given error code.
func CallFailed(code string) {
	callFailures.WithLabelValues(code).Inc()
}

// NegotiationRetry counts one negotiation retry.
func NegotiationRetry() {
	negotiationRetries.Inc()
}

// PunchPacket counts one punch datagram.
func PunchPacket(ok bool) {
	result := "failed"
	if ok {
		result = "sent"
	}
	punchPackets.WithLabelValues(result).Inc()
}
