package upstream

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"harvester-telemetry-backend/config"
	"harvester-telemetry-backend/internal/ingest"
	"harvester-telemetry-backend/internal/parse"
)

// Sink receives messages read from the external broker.
type Sink interface {
	Enqueue(ev ingest.Event) bool
}

// Client subscribes to harvester topics on an external broker and feeds the ingest queue.
type Client struct {
	cfg    config.UpstreamConfig
	sink   Sink
	log    zerolog.Logger
	client paho.Client

	mu      sync.Mutex
	devices map[int64]struct{}
}

func New(cfg config.UpstreamConfig, sink Sink, log zerolog.Logger) *Client {
	if cfg.Reconnect <= 0 {
		cfg.Reconnect = 5 * time.Second
	}
	return &Client{
		cfg:     cfg,
		sink:    sink,
		log:     log,
		devices: make(map[int64]struct{}),
	}
}

// Start connects in the background. It waits up to the reconnect interval for the
// first connection and keeps retrying afterwards.
func (c *Client) Start() error {
	broker, err := BrokerURL(c.cfg.Broker, c.cfg.ClientPort)
	if err != nil {
		return err
	}

	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(c.cfg.ClientID).
		SetOrderMatters(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(c.cfg.Reconnect).
		SetConnectRetry(true).
		SetConnectRetryInterval(c.cfg.Reconnect)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	opts.OnConnectionLost = func(_ paho.Client, err error) {
		c.log.Warn().Err(err).Msg("upstream connection lost")
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		c.log.Info().Msg("reconnecting to upstream broker")
	}
	opts.OnConnect = c.onConnect

	c.client = paho.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(c.cfg.Reconnect) {
		c.log.Warn().Str("broker", broker).Msg("upstream broker not reachable yet; retrying in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to upstream broker %s: %w", broker, err)
	}
	return nil
}

// Stop disconnects from the external broker.
func (c *Client) Stop() {
	if c.client != nil {
		c.client.Disconnect(500)
	}
}

func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnectionOpen()
}

// SubscribeDevice adds a subscription for one device's realtime topic. It is kept across reconnects.
func (c *Client) SubscribeDevice(deviceID int64) error {
	c.mu.Lock()
	if _, ok := c.devices[deviceID]; ok {
		c.mu.Unlock()
		return nil
	}
	c.devices[deviceID] = struct{}{}
	c.mu.Unlock()

	if !c.IsConnected() {
		return nil
	}
	return c.subscribe(c.client, parse.Topic(deviceID))
}

func (c *Client) onConnect(pc paho.Client) {
	c.log.Info().Str("filter", parse.SubscriptionFilter).Msg("connected to upstream broker")
	if err := c.subscribe(pc, parse.SubscriptionFilter); err != nil {
		c.log.Error().Err(err).Msg("failed to subscribe to realtime topics")
	}

	c.mu.Lock()
	ids := make([]int64, 0, len(c.devices))
	for id := range c.devices {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	for _, id := range ids {
		if err := c.subscribe(pc, parse.Topic(id)); err != nil {
			c.log.Error().Err(err).Int64("device_id", id).Msg("failed to subscribe to device topic")
		}
	}
}

func (c *Client) subscribe(pc paho.Client, topic string) error {
	token := pc.Subscribe(topic, 1, c.onMessage)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe to %q timed out", topic)
	}
	return token.Error()
}

func (c *Client) onMessage(_ paho.Client, m paho.Message) {
	c.sink.Enqueue(ingest.Event{
		Source:     ingest.SourceUpstream,
		ClientID:   c.cfg.ClientID,
		Topic:      m.Topic(),
		Payload:    append([]byte(nil), m.Payload()...),
		ReceivedAt: time.Now(),
	})
}

// BrokerURL turns a configured broker address into a paho server URL.
// "mqtt://host" becomes "tcp://host:port"; a port already present in the address wins.
func BrokerURL(broker string, port int) (string, error) {
	if broker == "" {
		return "", fmt.Errorf("upstream broker address is empty")
	}
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	u, err := url.Parse(broker)
	if err != nil {
		return "", fmt.Errorf("invalid upstream broker address %q: %w", broker, err)
	}
	switch u.Scheme {
	case "mqtt", "tcp":
		u.Scheme = "tcp"
	case "mqtts", "ssl", "tls":
		u.Scheme = "ssl"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported upstream broker scheme %q", u.Scheme)
	}

	if u.Port() == "" && port > 0 {
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	}
	return u.String(), nil
}
