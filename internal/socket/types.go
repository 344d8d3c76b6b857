package socket

import (
	"errors"
	"time"

	"github.com/dkrauss/wirefeed/internal/wire"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrInvalidURL      = errors.New("invalid stream url")
	ErrQueueFull       = errors.New("send queue full")
	ErrConnectionLost  = errors.New("connection lost before response")
	ErrRequestTimeout  = errors.New("request timeout")
	ErrRequestPending  = errors.New("request of this type already pending")
	ErrStaleConnection = errors.New("connection stale (no traffic)")
)

// State is the connection state. Exactly one value at a time, owned by
// the Manager.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a dial is in progress.
	StateConnecting

	// StateConnected indicates an open connection.
	StateConnected

	// StateReconnecting indicates a reconnect attempt is scheduled.
	StateReconnecting

	// StateErrored indicates a failed dial or an exhausted reconnect budget.
	StateErrored
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Message is an inbound message delivered to the OnMessage observer.
// Envelope is nil when the payload did not decode as an envelope; Raw
// always holds the bytes as received.
type Message struct {
	Envelope   *wire.Envelope
	Raw        []byte
	ReceivedAt time.Time
}

// HandlerFunc handles inbound envelopes of a registered type.
type HandlerFunc func(env wire.Envelope)

// Config configures a Manager.
type Config struct {
	URL       string   // stream URL (ws, wss, or http/https to be mapped)
	Protocols []string // optional subprotocols offered during the handshake

	AutoConnect bool // dial immediately from New

	Reconnect            bool          // reconnect after unexpected closes
	MaxReconnectAttempts int           // attempt ceiling before giving up
	ReconnectInterval    time.Duration // delay before the first attempt
	ReconnectMultiplier  float64       // per-attempt delay growth (1 = fixed)
	ReconnectMaxInterval time.Duration // cap on the grown delay

	PingInterval     time.Duration // keep-alive envelope cadence (0 = disabled)
	StaleTimeout     time.Duration // max silence before dropping the conn (0 = disabled)
	HandshakeTimeout time.Duration // dial deadline
	WriteTimeout     time.Duration // per-write deadline
	RequestTimeout   time.Duration // authenticate/subscribe/unsubscribe deadline

	QueueLimit int // max queued outbound messages while disconnected (0 = unbounded)

	// Observers. All invocations are isolated: a panic in user code is
	// recovered and logged, never propagated into the state machine.
	OnOpen            func()
	OnClose           func(code int, reason string, clean bool)
	OnError           func(err error)
	OnMessage         func(msg Message)
	OnReconnect       func(attempt int, delay time.Duration)
	OnReconnectFailed func()
}

// DefaultConfig returns sensible defaults for the given URL.
func DefaultConfig(url string) Config {
	return Config{
		URL:                  url,
		Reconnect:            true,
		MaxReconnectAttempts: 10,
		ReconnectInterval:    1 * time.Second,
		ReconnectMultiplier:  1.0,
		ReconnectMaxInterval: 60 * time.Second,
		PingInterval:         30 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         5 * time.Second,
		RequestTimeout:       10 * time.Second,
	}
}

// Stats is a point-in-time snapshot assembled on demand.
type Stats struct {
	State             State
	ReconnectAttempts int
	QueueDepth        int
	HandlerCount      int
	MessagesSent      int64
	MessagesReceived  int64
	MessagesQueued    int64
	MessagesDropped   int64
}
