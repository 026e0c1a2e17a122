package broker

import (
	"fmt"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/rs/zerolog"

	"harvester-telemetry-backend/config"
	"harvester-telemetry-backend/internal/logging"
)

// Broker is the embedded MQTT server devices publish to.
type Broker struct {
	server   *mqtt.Server
	registry *Registry
	tcp      *TCPListener
	ws       *WebsocketListener
	log      zerolog.Logger
}

// New builds the server and its hook. Listeners are bound by Start.
func New(cfg config.MQTTConfig, sink Sink, log zerolog.Logger) (*Broker, error) {
	caps := mqtt.NewDefaultServerCapabilities()
	caps.MaximumQos = 1

	server := mqtt.New(&mqtt.Options{
		Capabilities: caps,
		Logger:       logging.Slog(logging.Component(log, "mochi")),
	})

	registry := NewRegistry()
	hook := NewIngestHook(registry, sink, Credentials{Username: cfg.Username, Password: cfg.Password}, log)
	if err := server.AddHook(hook, nil); err != nil {
		return nil, fmt.Errorf("failed to add ingest hook: %w", err)
	}

	b := &Broker{
		server:   server,
		registry: registry,
		tcp:      NewTCPListener("tcp", fmt.Sprintf(":%d", cfg.Port), cfg.HandshakeTimeout, log),
		log:      log,
	}
	if cfg.WSPort > 0 {
		b.ws = NewWebsocketListener("ws", fmt.Sprintf(":%d", cfg.WSPort), cfg.HandshakeTimeout, log)
	}
	return b, nil
}

// Start binds every listener and begins serving. A bind failure is returned.
func (b *Broker) Start() error {
	if err := b.server.AddListener(b.tcp); err != nil {
		return fmt.Errorf("failed to bind MQTT TCP listener: %w", err)
	}
	if b.ws != nil {
		if err := b.server.AddListener(b.ws); err != nil {
			return fmt.Errorf("failed to bind MQTT websocket listener: %w", err)
		}
	}
	if err := b.server.Serve(); err != nil {
		return fmt.Errorf("failed to start MQTT server: %w", err)
	}

	ev := b.log.Info().Str("tcp", b.tcp.Address())
	if b.ws != nil {
		ev = ev.Str("ws", b.ws.Address())
	}
	ev.Msg("MQTT broker listening")
	return nil
}

// Close disconnects every client and stops all listeners.
func (b *Broker) Close() error {
	return b.server.Close()
}

// Addr is the bound TCP address.
func (b *Broker) Addr() string {
	return b.tcp.Address()
}

// Live reports whether clientID has an established session.
func (b *Broker) Live(clientID string) bool {
	return b.registry.Live(clientID)
}
