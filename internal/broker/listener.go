package broker

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/rs/zerolog"

	"harvester-telemetry-backend/internal/metrics"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// TCPListener is a listeners.Listener that keeps accepting after transient errors and
// closes connections whose MQTT handshake does not finish within handshakeTimeout.
type TCPListener struct {
	id               string
	address          string
	handshakeTimeout time.Duration
	log              zerolog.Logger

	mu     sync.Mutex
	listen net.Listener
	done   chan struct{}
	once   sync.Once
}

func NewTCPListener(id, address string, handshakeTimeout time.Duration, log zerolog.Logger) *TCPListener {
	return &TCPListener{
		id:               id,
		address:          address,
		handshakeTimeout: handshakeTimeout,
		log:              log.With().Str("listener", id).Logger(),
		done:             make(chan struct{}),
	}
}

func (l *TCPListener) ID() string       { return l.id }
func (l *TCPListener) Protocol() string { return "tcp" }

// Address returns the bound address once Init has run, else the configured one.
func (l *TCPListener) Address() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listen != nil {
		return l.listen.Addr().String()
	}
	return l.address
}

// Init binds the socket. A bind failure is returned to the caller.
func (l *TCPListener) Init(_ *slog.Logger) error {
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.listen = ln
	l.mu.Unlock()
	return nil
}

// Serve runs the accept loop until Close.
func (l *TCPListener) Serve(establish listeners.EstablishFn) {
	var backoff time.Duration
	for {
		conn, err := l.listen.Accept()
		if err != nil {
			if l.closed() || errors.Is(err, net.ErrClosed) {
				return
			}
			backoff = nextBackoff(backoff)
			l.log.Warn().Err(err).Dur("retry_in", backoff).Msg("accept failed")
			select {
			case <-time.After(backoff):
			case <-l.done:
				return
			}
			continue
		}
		backoff = 0

		hc := l.watch(conn)
		go func() {
			if err := establish(l.id, hc); err != nil {
				l.log.Debug().Err(err).Str("remote", hc.RemoteAddr().String()).Msg("connection ended")
			}
		}()
	}
}

// Close stops the accept loop and asks the server to close this listener's clients.
func (l *TCPListener) Close(closeClients listeners.CloseFn) {
	l.once.Do(func() {
		close(l.done)
		l.mu.Lock()
		if l.listen != nil {
			_ = l.listen.Close()
		}
		l.mu.Unlock()
	})
	if closeClients != nil {
		closeClients(l.id)
	}
}

func (l *TCPListener) closed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

func (l *TCPListener) watch(conn net.Conn) *handshakeConn {
	return watchHandshake(conn, l.handshakeTimeout, l.log)
}

// WebsocketListener is the stock websocket listener with the same handshake watchdog
// as TCPListener. It binds in Serve, so bind errors are only logged.
type WebsocketListener struct {
	*listeners.Websocket
	handshakeTimeout time.Duration
	log              zerolog.Logger
}

func NewWebsocketListener(id, address string, handshakeTimeout time.Duration, log zerolog.Logger) *WebsocketListener {
	return &WebsocketListener{
		Websocket:        listeners.NewWebsocket(listeners.Config{ID: id, Address: address}),
		handshakeTimeout: handshakeTimeout,
		log:              log.With().Str("listener", id).Logger(),
	}
}

// Serve wraps every upgraded connection in a watchdog before handing it to the server.
func (l *WebsocketListener) Serve(establish listeners.EstablishFn) {
	l.Websocket.Serve(func(id string, conn net.Conn) error {
		return establish(id, watchHandshake(conn, l.handshakeTimeout, l.log))
	})
}

func watchHandshake(conn net.Conn, timeout time.Duration, log zerolog.Logger) *handshakeConn {
	hc := &handshakeConn{Conn: conn}
	if timeout > 0 {
		hc.timer = time.AfterFunc(timeout, func() {
			metrics.HandshakeTimeouts.Inc()
			log.Info().Str("remote", conn.RemoteAddr().String()).Msg("handshake timed out; closing connection")
			_ = conn.Close()
		})
	}
	return hc
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptBackoff
	}
	d *= 2
	if d > maxAcceptBackoff {
		return maxAcceptBackoff
	}
	return d
}

// handshakeConn carries the handshake watchdog of an accepted connection.
type handshakeConn struct {
	net.Conn
	timer *time.Timer
	mu    sync.Mutex
}

// established disarms the watchdog. It reports false if the watchdog already fired.
func (c *handshakeConn) established() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil {
		return true
	}
	stopped := c.timer.Stop()
	c.timer = nil
	return stopped
}

func (c *handshakeConn) Close() error {
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	return c.Conn.Close()
}
