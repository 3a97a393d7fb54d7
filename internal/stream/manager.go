// Package stream maintains the per-test WebSocket push channel that carries
// streamed endpoint metrics.
package stream

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/hileamlakB/stress-api-sub000/internal/client"
	"github.com/hileamlakB/stress-api-sub000/internal/logging"
	"github.com/hileamlakB/stress-api-sub000/internal/metrics"
)

const (
	defaultReconnectDelay = 1 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 60 * time.Second
	writeTimeout          = 10 * time.Second
)

// DeliverFunc receives decoded batches tagged with the generation of the
// connection they arrived on.
type DeliverFunc func(gen uint64, batch client.MetricsBatch)

// URL returns the push-channel URL for a test.
func URL(base, testID string) string {
	return strings.TrimRight(base, "/") + "/ws/tests/" + url.PathEscape(testID) + "/metrics"
}

// Option customizes a Manager.
type Option func(*Manager)

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithReconnectDelay sets the fixed delay between a drop and the next dial.
func WithReconnectDelay(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.reconnectDelay = d
		}
	}
}

// WithKeepalive sets the ping interval and the read deadline extended by
// each pong.
func WithKeepalive(ping, pong time.Duration) Option {
	return func(m *Manager) {
		if ping > 0 && pong > ping {
			m.pingInterval = ping
			m.pongTimeout = pong
		}
	}
}

// WithToken sends a bearer token on every dial.
func WithToken(token string) Option {
	return func(m *Manager) {
		m.token = token
	}
}

// WithLogger sets the logger; nil keeps the default.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records connection and frame counters on mx.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mx
	}
}

// Manager opens push-channel handles against one server.
type Manager struct {
	base           string
	token          string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	pingInterval   time.Duration
	pongTimeout    time.Duration
	logger         *log.Logger
	metrics        *metrics.Metrics
}

// NewManager creates a manager dialing below base (ws:// or wss://).
func NewManager(base string, options ...Option) *Manager {
	m := &Manager{
		base:           base,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: defaultReconnectDelay,
		pingInterval:   defaultPingInterval,
		pongTimeout:    defaultPongTimeout,
		logger:         logging.Discard(),
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// Handle is one test's push channel. Its generation increments on every
// connection attempt; frames from older generations are never delivered.
type Handle struct {
	m       *Manager
	testID  string
	url     string
	deliver DeliverFunc
	logger  *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	writeMu sync.Mutex // serialises pings on the live conn
	gen     uint64
	conn    *websocket.Conn
	timer   *time.Timer
	closed  bool
}

// Open starts connecting in the background and returns immediately.
func (m *Manager) Open(testID string, deliver DeliverFunc) *Handle {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		m:       m,
		testID:  testID,
		url:     URL(m.base, testID),
		deliver: deliver,
		logger:  m.logger.With("test_id", testID),
		ctx:     ctx,
		cancel:  cancel,
	}
	go h.connect()
	return h
}

// Close cancels any pending reconnect and closes the live connection.
// Calling it more than once is harmless.
func (m *Manager) Close(h *Handle) {
	if h != nil {
		h.Close()
	}
}

// Close marks the handle closed; see Manager.Close.
func (h *Handle) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	if h.timer != nil {
		h.timer.Stop()
		h.timer = nil
	}
	conn := h.conn
	h.conn = nil
	h.mu.Unlock()

	h.cancel()
	if conn != nil {
		h.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		h.writeMu.Unlock()
		conn.Close()
	}
	h.logger.Debug("stream closed")
}

// Generation returns the current connection generation.
func (h *Handle) Generation() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.gen
}

// Current reports whether gen is the live generation of an open handle.
func (h *Handle) Current(gen uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.closed && h.gen == gen
}

// Closed reports whether Close has been called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) connect() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.gen++
	gen := h.gen
	h.mu.Unlock()

	var header http.Header
	if h.m.token != "" {
		header = http.Header{"Authorization": []string{"Bearer " + h.m.token}}
	}
	conn, _, err := h.m.dialer.DialContext(h.ctx, h.url, header)
	if err != nil {
		h.m.metrics.StreamConnect(false)
		if h.ctx.Err() == nil {
			h.logger.Warn("stream dial failed", "gen", gen, "err", err, "retry_in", h.m.reconnectDelay)
		}
		h.scheduleReconnect(gen)
		return
	}
	h.m.metrics.StreamConnect(true)

	h.mu.Lock()
	if h.closed || h.gen != gen {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.conn = conn
	h.mu.Unlock()
	h.logger.Debug("stream connected", "gen", gen, "url", h.url)

	go h.pingLoop(conn, gen)
	err = h.readLoop(conn, gen)

	h.mu.Lock()
	if h.conn == conn {
		h.conn = nil
	}
	h.mu.Unlock()
	conn.Close()

	if h.ctx.Err() == nil {
		h.logger.Info("stream disconnected", "gen", gen, "err", err, "retry_in", h.m.reconnectDelay)
	}
	h.scheduleReconnect(gen)
}

// scheduleReconnect arms one timer per generation. A drop seen by both the
// ping and read paths still yields a single reconnect.
func (h *Handle) scheduleReconnect(gen uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.gen != gen || h.timer != nil {
		return
	}
	h.timer = time.AfterFunc(h.m.reconnectDelay, func() {
		h.mu.Lock()
		h.timer = nil
		h.mu.Unlock()
		h.connect()
	})
}

func (h *Handle) readLoop(conn *websocket.Conn, gen uint64) error {
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(h.m.pongTimeout))
		return nil
	})
	conn.SetReadDeadline(time.Now().Add(h.m.pongTimeout))

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		batch, err := client.DecodeMetrics(data)
		if err != nil {
			h.m.metrics.StreamFrame("malformed")
			h.logger.Debug("dropping stream frame", "gen", gen, "err", err)
			continue
		}
		if !h.Current(gen) {
			h.m.metrics.StreamFrame("stale")
			return nil
		}
		h.m.metrics.StreamFrame("delivered")
		h.deliver(gen, batch)
	}
}

// pingLoop exits when the handle closes or the connection is replaced.
func (h *Handle) pingLoop(conn *websocket.Conn, gen uint64) {
	ticker := time.NewTicker(h.m.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.mu.Lock()
			live := h.conn == conn && h.gen == gen
			h.mu.Unlock()
			if !live {
				return
			}
			h.writeMu.Lock()
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			h.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
