package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Publish results recorded by the broker hook.
const (
	PublishAccepted      = "accepted"
	PublishUnknownClient = "unknown_client"
	PublishQueueFull     = "queue_full"
)

// Ingest outcomes recorded by the pipeline.
const (
	OutcomeStored              = "stored"
	OutcomeTopicMismatch       = "topic_mismatch"
	OutcomeMalformedPayload    = "malformed_payload"
	OutcomeInvalidType         = "invalid_type"
	OutcomeInvalidChannelShape = "invalid_channel_shape"
	OutcomeInvalidChannelValue = "invalid_channel_value"
	OutcomeStorageError        = "storage_error"
)

var (
	BrokerSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "harvester_broker_sessions",
		Help: "Client sessions currently established on the embedded broker.",
	})
	BrokerPublishes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_broker_publishes_total",
		Help: "Publishes seen by the ingest hook, by result.",
	}, []string{"result"})
	HandshakeTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "harvester_broker_handshake_timeouts_total",
		Help: "Connections closed because the MQTT handshake did not finish in time.",
	})
	IngestMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "harvester_ingest_messages_total",
		Help: "Messages processed by the ingest pipeline, by outcome.",
	}, []string{"outcome"})
	StorageLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "harvester_storage_write_seconds",
		Help:    "Latency of storage writes issued by the ingest pipeline.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(BrokerSessions, BrokerPublishes, HandshakeTimeouts, IngestMessages, StorageLatency)
}
