package broker

import (
	"bytes"
	"crypto/subtle"
	"time"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/rs/zerolog"

	"harvester-telemetry-backend/internal/ingest"
	"harvester-telemetry-backend/internal/metrics"
)

// Sink receives publishes from live sessions.
type Sink interface {
	Enqueue(ev ingest.Event) bool
}

// Credentials is an optional username/password pair every client must present.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) enabled() bool {
	return c.Username != "" || c.Password != ""
}

// IngestHook tracks sessions in the registry and forwards publishes of live sessions to the sink.
type IngestHook struct {
	mqtt.HookBase
	registry *Registry
	sink     Sink
	creds    Credentials
	log      zerolog.Logger
	now      func() time.Time
}

func NewIngestHook(registry *Registry, sink Sink, creds Credentials, log zerolog.Logger) *IngestHook {
	return &IngestHook{
		registry: registry,
		sink:     sink,
		creds:    creds,
		log:      log,
		now:      time.Now,
	}
}

func (h *IngestHook) ID() string {
	return "harvester-ingest"
}

func (h *IngestHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnSessionEstablished,
		mqtt.OnDisconnect,
		mqtt.OnPublished,
		mqtt.OnSubscribed,
	}, []byte{b})
}

// OnConnectAuthenticate accepts every client unless credentials are configured.
func (h *IngestHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	if !h.creds.enabled() {
		return true
	}
	userOK := subtle.ConstantTimeCompare(pk.Connect.Username, []byte(h.creds.Username)) == 1
	passOK := subtle.ConstantTimeCompare(pk.Connect.Password, []byte(h.creds.Password)) == 1
	if !userOK || !passOK {
		h.log.Warn().Str("client_id", cl.ID).Str("remote", cl.Net.Remote).Msg("rejected client credentials")
		return false
	}
	return true
}

func (h *IngestHook) OnACLCheck(_ *mqtt.Client, _ string, _ bool) bool {
	return true
}

func (h *IngestHook) OnSessionEstablished(cl *mqtt.Client, _ packets.Packet) {
	if hc, ok := cl.Net.Conn.(*handshakeConn); ok && !hc.established() {
		return
	}
	h.registry.Register(cl)
	metrics.BrokerSessions.Set(float64(h.registry.Count()))
	h.log.Info().
		Str("client_id", cl.ID).
		Str("remote", cl.Net.Remote).
		Str("listener", cl.Net.Listener).
		Msg("client connected")
}

func (h *IngestHook) OnDisconnect(cl *mqtt.Client, err error, expire bool) {
	if !h.registry.Unregister(cl) {
		return
	}
	metrics.BrokerSessions.Set(float64(h.registry.Count()))
	h.log.Info().
		Err(err).
		Str("client_id", cl.ID).
		Bool("expire", expire).
		Msg("client disconnected")
}

// OnPublished forwards the message if its client is still live. The registry entry stays
// read-locked across the enqueue so a concurrent disconnect cannot slip in between.
func (h *IngestHook) OnPublished(cl *mqtt.Client, pk packets.Packet) {
	ev := ingest.Event{
		Source:     ingest.SourceBroker,
		ClientID:   cl.ID,
		Topic:      pk.TopicName,
		Payload:    append([]byte(nil), pk.Payload...),
		ReceivedAt: h.now(),
	}

	var enqueued bool
	live := h.registry.WithLive(cl, func() {
		enqueued = h.sink.Enqueue(ev)
	})

	switch {
	case !live:
		metrics.BrokerPublishes.WithLabelValues(metrics.PublishUnknownClient).Inc()
		h.log.Warn().Str("client_id", cl.ID).Str("topic", pk.TopicName).Msg("publish from unknown client dropped")
	case enqueued:
		metrics.BrokerPublishes.WithLabelValues(metrics.PublishAccepted).Inc()
	}
}

func (h *IngestHook) OnSubscribed(cl *mqtt.Client, pk packets.Packet, reasonCodes []byte) {
	for i, sub := range pk.Filters {
		var code byte
		if i < len(reasonCodes) {
			code = reasonCodes[i]
		}
		h.log.Debug().
			Str("client_id", cl.ID).
			Str("filter", sub.Filter).
			Uint8("reason_code", code).
			Msg("client subscribed")
	}
}
