package socket

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkrauss/wirefeed/internal/wire"
)

// Manager owns a single stream connection and its lifecycle: dialing,
// keep-alive, bounded reconnection, outbound queuing while disconnected,
// and inbound dispatch by message type.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	st   State
	url  string
	conn *websocket.Conn
	gen  int // connection generation; events from superseded pumps are inert

	closed         bool // explicit Close requested; disables reconnection
	attempts       int
	reconnecting   bool
	reconnectTimer *time.Timer
	failedFired    bool

	heartbeatStop chan struct{}
	lastActivity  time.Time

	// Write serialization
	writeMu sync.Mutex

	queue    *sendQueue
	handlers *dispatcher

	sent     atomic.Int64
	received atomic.Int64
	queued   atomic.Int64
	dropped  atomic.Int64
}

// New creates a Manager for the configured URL. The URL is validated and
// normalized up front; with AutoConnect set, dialing starts immediately.
func New(cfg Config, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	u, err := NormalizeURL(cfg.URL)
	if err != nil {
		return nil, err
	}

	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = 1 * time.Second
	}
	if cfg.ReconnectMultiplier < 1 {
		cfg.ReconnectMultiplier = 1
	}

	m := &Manager{
		cfg:      cfg,
		logger:   logger,
		st:       StateDisconnected,
		url:      u,
		queue:    newSendQueue(cfg.QueueLimit),
		handlers: newDispatcher(),
	}

	if cfg.AutoConnect {
		go func() {
			if err := m.Connect(); err != nil {
				m.logger.Warn("auto-connect failed", "url", u, "error", err)
			}
		}()
	}

	return m, nil
}

// Connect dials the stream. It is a no-op while already Connecting or
// Connected. A manual Connect resets the reconnect attempt counter and
// re-enables automatic reconnection after a prior Close.
func (m *Manager) Connect() error {
	m.mu.Lock()
	if m.st == StateConnecting || m.st == StateConnected {
		m.mu.Unlock()
		return nil
	}
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnecting = false
	m.closed = false
	m.attempts = 0
	m.failedFired = false
	m.mu.Unlock()

	return m.dial()
}

// dial performs one connection attempt. A failure transitions to Errored
// and goes through the same reconnect decision as an unexpected close.
func (m *Manager) dial() error {
	m.mu.Lock()
	if m.st == StateConnecting || m.st == StateConnected {
		m.mu.Unlock()
		return nil
	}
	m.st = StateConnecting
	m.gen++
	gen := m.gen
	u := m.url
	m.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		Subprotocols:     m.cfg.Protocols,
	}

	conn, _, err := dialer.Dial(u, nil)
	if err != nil {
		m.mu.Lock()
		if gen != m.gen {
			m.mu.Unlock()
			return err
		}
		m.st = StateErrored
		m.mu.Unlock()

		m.reportError(fmt.Errorf("dial %s: %w", u, err))
		m.scheduleReconnect()
		return err
	}

	m.mu.Lock()
	if gen != m.gen || m.closed {
		m.mu.Unlock()
		conn.Close()
		return nil
	}
	m.conn = conn
	m.st = StateConnected
	m.attempts = 0
	m.failedFired = false
	m.reconnecting = false
	m.lastActivity = time.Now()
	m.startHeartbeatLocked()
	m.mu.Unlock()

	go m.readPump(gen, conn)

	m.logger.Info("connected", "url", u)

	// Drain messages queued while disconnected, oldest first. A failed
	// send leaves the remainder queued for the next connection.
	flushed, ferr := m.queue.flush(func(data []byte) error {
		return m.write(conn, data)
	})
	if ferr != nil {
		m.logger.Warn("queue flush interrupted",
			"flushed", flushed,
			"remaining", m.queue.len(),
			"error", ferr,
		)
	} else if flushed > 0 {
		m.logger.Debug("flushed queued messages", "count", flushed)
	}

	if m.cfg.OnOpen != nil {
		m.invokeObserver("open", m.cfg.OnOpen)
	}

	return nil
}

// Close performs a normal closure. Idempotent.
func (m *Manager) Close() error {
	return m.CloseWithStatus(websocket.CloseNormalClosure, "")
}

// CloseWithStatus closes the connection with the given status code and
// reason, disables automatic reconnection, stops the heartbeat, and
// rejects any pending request correlations.
func (m *Manager) CloseWithStatus(code int, reason string) error {
	m.mu.Lock()
	if m.closed && m.conn == nil {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.reconnecting = false
	m.stopHeartbeatLocked()
	conn := m.conn
	m.conn = nil // a repeat Close must not touch the dead transport
	m.st = StateDisconnected
	m.mu.Unlock()

	m.handlers.failPending(ErrConnectionLost)

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		return conn.Close()
	}

	return nil
}

// Send transmits v immediately when connected. While disconnected the
// encoded payload is queued for the next successful connection and Send
// reports (false, nil): queued is not an error. Encoding failures are
// returned, never panicked.
//
// v may be a wire.Envelope, any JSON-marshalable value, or raw []byte /
// json.RawMessage sent as-is.
func (m *Manager) Send(v any) (sent bool, err error) {
	data, err := encodePayload(v)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	if m.st != StateConnected || m.conn == nil {
		m.mu.Unlock()
		if err := m.queue.push(data); err != nil {
			m.dropped.Add(1)
			return false, err
		}
		m.queued.Add(1)
		return false, nil
	}
	conn := m.conn
	m.mu.Unlock()

	if err := m.write(conn, data); err != nil {
		return false, err
	}
	return true, nil
}

// RegisterHandler stores a handler for a message type. The last
// registration for a type wins.
func (m *Manager) RegisterHandler(msgType string, h HandlerFunc) {
	m.handlers.register(msgType, h)
}

// UnregisterHandler removes the handler for a message type.
func (m *Manager) UnregisterHandler(msgType string) {
	m.handlers.unregister(msgType)
}

// SetURL validates and normalizes a new stream URL. It takes effect on
// the next connection attempt.
func (m *Manager) SetURL(raw string) error {
	u, err := NormalizeURL(raw)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.url = u
	m.mu.Unlock()
	return nil
}

// URL returns the normalized stream URL.
func (m *Manager) URL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.url
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st
}

// IsConnected reports whether the connection is open.
func (m *Manager) IsConnected() bool { return m.State() == StateConnected }

// IsConnecting reports whether a dial is in progress.
func (m *Manager) IsConnecting() bool { return m.State() == StateConnecting }

// IsClosed reports whether the manager is neither connected nor trying
// to connect.
func (m *Manager) IsClosed() bool {
	s := m.State()
	return s == StateDisconnected || s == StateErrored
}

// IsActive reports whether the manager is connected or working toward a
// connection.
func (m *Manager) IsActive() bool {
	s := m.State()
	return s == StateConnected || s == StateConnecting || s == StateReconnecting
}

// Stats assembles a point-in-time snapshot.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	st := m.st
	attempts := m.attempts
	m.mu.Unlock()

	return Stats{
		State:             st,
		ReconnectAttempts: attempts,
		QueueDepth:        m.queue.len(),
		HandlerCount:      m.handlers.size(),
		MessagesSent:      m.sent.Load(),
		MessagesReceived:  m.received.Load(),
		MessagesQueued:    m.queued.Load(),
		MessagesDropped:   m.dropped.Load(),
	}
}

// readPump reads messages until the connection drops, dispatching each
// inbound payload. Runs once per connection generation.
func (m *Manager) readPump(gen int, conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			code, reason, clean := closeInfo(err)
			m.handleDisconnect(gen, code, reason, clean, err)
			return
		}

		m.received.Add(1)

		m.mu.Lock()
		m.lastActivity = receivedAt
		m.mu.Unlock()

		msg := Message{Raw: raw, ReceivedAt: receivedAt}

		// Decode failure is non-fatal: the payload passes through raw
		// to the generic observer.
		if env, derr := wire.Decode(raw); derr == nil {
			msg.Envelope = &env
			m.handlers.dispatch(env, m.invokeHandler)
		}

		if m.cfg.OnMessage != nil {
			m.invokeObserver("message", func() { m.cfg.OnMessage(msg) })
		}
	}
}

// handleDisconnect is the single exit path for a dropped connection:
// stop the heartbeat, reject pending correlations, notify observers, and
// decide whether to reconnect.
func (m *Manager) handleDisconnect(gen, code int, reason string, clean bool, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	wasClosed := m.closed
	m.conn = nil
	m.stopHeartbeatLocked()
	if m.st == StateConnected || m.st == StateConnecting {
		m.st = StateDisconnected
	}
	m.mu.Unlock()

	m.handlers.failPending(ErrConnectionLost)

	if wasClosed {
		// Intentional close: the close handshake we initiated counts as clean.
		clean = true
		code = websocket.CloseNormalClosure
	} else if !clean {
		m.reportError(fmt.Errorf("connection lost: %w", err))
	}

	m.logger.Info("disconnected", "code", code, "clean", clean)

	if m.cfg.OnClose != nil {
		m.invokeObserver("close", func() { m.cfg.OnClose(code, reason, clean) })
	}

	if wasClosed || clean || !m.cfg.Reconnect {
		return
	}
	m.scheduleReconnect()
}

// write sends one frame with the configured deadline. Writes are
// serialized across the send path, queue flush, and heartbeat.
func (m *Manager) write(conn *websocket.Conn, data []byte) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(m.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	m.sent.Add(1)
	return nil
}

// transmit sends an envelope only while connected; it never queues.
func (m *Manager) transmit(env wire.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.st != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.mu.Unlock()

	return m.write(conn, data)
}

// reportError logs err and notifies the error observer.
func (m *Manager) reportError(err error) {
	m.logger.Warn("stream error", "error", err)
	if m.cfg.OnError != nil {
		m.invokeObserver("error", func() { m.cfg.OnError(err) })
	}
}

// invokeObserver isolates a user callback so a panic cannot corrupt the
// state machine.
func (m *Manager) invokeObserver(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("observer panicked", "observer", name, "panic", r)
		}
	}()
	fn()
}

// invokeHandler isolates a registered message handler.
func (m *Manager) invokeHandler(h HandlerFunc, env wire.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("handler panicked", "type", env.Type, "panic", r)
		}
	}()
	h(env)
}

// encodePayload serializes an outbound value. Raw bytes pass through
// unchanged; everything else is JSON.
func encodePayload(v any) ([]byte, error) {
	switch p := v.(type) {
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode message: %w", err)
		}
		return data, nil
	}
}

// closeInfo extracts close metadata from a read error. Normal closure
// and going-away count as clean; everything else, including abrupt
// drops, does not.
func closeInfo(err error) (code int, reason string, clean bool) {
	if ce, ok := err.(*websocket.CloseError); ok {
		clean = ce.Code == websocket.CloseNormalClosure || ce.Code == websocket.CloseGoingAway
		return ce.Code, ce.Text, clean
	}
	return websocket.CloseAbnormalClosure, "", false
}
