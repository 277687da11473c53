package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RelayConnectAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsecbox_relay_connect_attempts_total",
			Help: "Relay dial attempts.",
		},
		[]string{"result"},
	)

	RelayPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsecbox_relay_publish_total",
			Help: "Events published, by relay acknowledgement.",
		},
		[]string{"result"},
	)

	RelayQueryBatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nsecbox_relay_query_batches_total",
			Help: "REQ batches sent for one-shot queries.",
		},
	)

	MessagesIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsecbox_messages_ingested_total",
			Help: "Inbound direct messages, by outcome.",
		},
		[]string{"result"},
	)

	MessagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsecbox_messages_sent_total",
			Help: "Outbound direct messages, by outcome.",
		},
		[]string{"result"},
	)

	BridgeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsecbox_bridge_requests_total",
			Help: "Capability requests, by type and outcome.",
		},
		[]string{"type", "result"},
	)

	BridgeRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nsecbox_bridge_request_duration_seconds",
			Help:    "Duration of capability requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nsecbox_http_requests_total",
			Help: "Local API requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nsecbox_http_request_duration_seconds",
			Help:    "Duration of local API requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// MustRegister adds every collector to reg.
func MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		RelayConnectAttemptsTotal,
		RelayPublishTotal,
		RelayQueryBatchesTotal,
		MessagesIngestedTotal,
		MessagesSentTotal,
		BridgeRequestsTotal,
		BridgeRequestDurationSeconds,
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
	)
}

// Result turns an error into a result label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
