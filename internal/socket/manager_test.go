package socket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dkrauss/wirefeed/internal/wire"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// echoServer keeps the connection open and discards inbound messages.
func echoServer(t *testing.T) *httptest.Server {
	return mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
}

// breakableServer is an echoServer whose drop func severs every active
// connection from the server side without a close handshake. Upgraded
// connections are hijacked, so dropping has to happen in the handler;
// httptest's CloseClientConnections does not reach them.
func breakableServer(t *testing.T) (server *httptest.Server, drop func()) {
	var mu sync.Mutex
	var conns []*websocket.Conn

	server = mockWSServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		conns = append(conns, conn)
		mu.Unlock()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	drop = func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
		conns = nil
	}
	return server, drop
}

// collectServer forwards every inbound text frame to out.
func collectServer(t *testing.T, out chan<- []byte) *httptest.Server {
	return mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			out <- data
		}
	})
}

// replyServer decodes inbound envelopes and lets reply script responses.
func replyServer(t *testing.T, reply func(conn *websocket.Conn, env wire.Envelope)) *httptest.Server {
	return mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := wire.Decode(data)
			if err != nil {
				continue
			}
			reply(conn, env)
		}
	})
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	env, err := wire.New(msgType, payload)
	if err != nil {
		t.Fatalf("build %s envelope: %v", msgType, err)
	}
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("encode %s envelope: %v", msgType, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write %s envelope: %v", msgType, err)
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func testConfig(url string) Config {
	cfg := DefaultConfig(url)
	cfg.PingInterval = 0 // most tests do not want keep-alive traffic
	cfg.ReconnectInterval = 20 * time.Millisecond
	cfg.RequestTimeout = 2 * time.Second
	return cfg
}

func TestManager_ConnectAndClose(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	m, err := New(testConfig(wsURL(server)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !m.IsConnected() {
		t.Error("expected IsConnected after Connect")
	}
	if got := m.State(); got != StateConnected {
		t.Errorf("State = %v, want %v", got, StateConnected)
	}

	// Idempotent while connected.
	if err := m.Connect(); err != nil {
		t.Errorf("second Connect failed: %v", err)
	}

	if err := m.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if m.IsConnected() {
		t.Error("expected IsConnected false after Close")
	}
	if !m.IsClosed() {
		t.Error("expected IsClosed after Close")
	}

	// Idempotent close.
	if err := m.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestManager_InvalidURL(t *testing.T) {
	tests := []string{
		"",
		"ftp://example.com/feed",
		"no-scheme-here",
		"ws://",
	}

	for _, raw := range tests {
		if _, err := New(DefaultConfig(raw), nil); !errors.Is(err, ErrInvalidURL) {
			t.Errorf("New(%q) error = %v, want ErrInvalidURL", raw, err)
		}
	}
}

func TestManager_QueueFlushOrder(t *testing.T) {
	received := make(chan []byte, 16)
	server := collectServer(t, received)
	defer server.Close()

	m, err := New(testConfig(wsURL(server)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer m.Close()

	// Queued while disconnected: not sent, not an error.
	for _, payload := range []string{"first", "second", "third"} {
		sent, err := m.Send(map[string]string{"type": "ping", "data": payload})
		if err != nil {
			t.Fatalf("Send(%s) failed: %v", payload, err)
		}
		if sent {
			t.Errorf("Send(%s) reported sent while disconnected", payload)
		}
	}

	if depth := m.Stats().QueueDepth; depth != 3 {
		t.Fatalf("QueueDepth = %d, want 3", depth)
	}

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	sent, err := m.Send(map[string]string{"type": "ping", "data": "fourth"})
	if err != nil {
		t.Fatalf("Send after connect failed: %v", err)
	}
	if !sent {
		t.Error("expected immediate send while connected")
	}

	want := []string{"first", "second", "third", "fourth"}
	for i, expect := range want {
		select {
		case data := <-received:
			var msg struct {
				Data string `json:"data"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("unmarshal message %d: %v", i, err)
			}
			if msg.Data != expect {
				t.Errorf("message %d = %q, want %q", i, msg.Data, expect)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d (%s)", i, expect)
		}
	}

	if depth := m.Stats().QueueDepth; depth != 0 {
		t.Errorf("QueueDepth after flush = %d, want 0", depth)
	}
}

func TestManager_QueueLimit(t *testing.T) {
	cfg := testConfig("ws://localhost:9/feed")
	cfg.QueueLimit = 2

	m, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := m.Send("payload"); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	if _, err := m.Send("overflow"); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Send over limit error = %v, want ErrQueueFull", err)
	}
	if dropped := m.Stats().MessagesDropped; dropped != 1 {
		t.Errorf("MessagesDropped = %d, want 1", dropped)
	}
}

func TestManager_ReconnectCeiling(t *testing.T) {
	server, drop := breakableServer(t)

	var failed atomic.Int32
	var reconnects atomic.Int32

	cfg := testConfig(wsURL(server))
	cfg.Reconnect = true
	cfg.MaxReconnectAttempts = 3
	cfg.OnReconnect = func(attempt int, delay time.Duration) { reconnects.Add(1) }
	cfg.OnReconnectFailed = func() { failed.Add(1) }

	m, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer m.Close()

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Stop the listener so every redial fails, then sever the live
	// connection so the close is unexpected.
	server.Close()
	drop()

	if !waitFor(t, 3*time.Second, func() bool { return m.State() == StateErrored }) {
		t.Fatalf("manager never reached Errored, state = %v", m.State())
	}

	if got := failed.Load(); got != 1 {
		t.Errorf("OnReconnectFailed fired %d times, want exactly 1", got)
	}
	if got := reconnects.Load(); got != 3 {
		t.Errorf("OnReconnect fired %d times, want 3", got)
	}
	if got := m.Stats().ReconnectAttempts; got != 3 {
		t.Errorf("Stats().ReconnectAttempts = %d, want 3", got)
	}
}

func TestManager_ReconnectDisabled(t *testing.T) {
	var failed atomic.Int32
	var reconnects atomic.Int32

	// Dead endpoint: the dial fails, and with Reconnect off no retry
	// may be scheduled and no reconnect observer may fire.
	cfg := testConfig("ws://localhost:9/feed")
	cfg.Reconnect = false
	cfg.MaxReconnectAttempts = 2
	cfg.OnReconnect = func(attempt int, delay time.Duration) { reconnects.Add(1) }
	cfg.OnReconnectFailed = func() { failed.Add(1) }

	m, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := m.Connect(); err == nil {
		t.Fatal("Connect to a dead endpoint succeeded")
	}
	if got := m.State(); got != StateErrored {
		t.Errorf("State = %v, want %v", got, StateErrored)
	}

	// Long enough for any wrongly armed timer to fire.
	time.Sleep(100 * time.Millisecond)

	if got := reconnects.Load(); got != 0 {
		t.Errorf("OnReconnect fired %d times with reconnect disabled", got)
	}
	if got := failed.Load(); got != 0 {
		t.Errorf("OnReconnectFailed fired %d times with reconnect disabled", got)
	}
	if got := m.Stats().ReconnectAttempts; got != 0 {
		t.Errorf("ReconnectAttempts = %d, want 0", got)
	}
}

func TestManager_ManualConnectResetsAttempts(t *testing.T) {
	server, drop := breakableServer(t)

	cfg := testConfig(wsURL(server))
	cfg.Reconnect = true
	cfg.MaxReconnectAttempts = 2

	m, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer m.Close()

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	server.Close()
	drop()

	if !waitFor(t, 3*time.Second, func() bool { return m.State() == StateErrored }) {
		t.Fatalf("manager never reached Errored, state = %v", m.State())
	}

	// New target, manual connect: counter resets.
	fresh := echoServer(t)
	defer fresh.Close()

	if err := m.SetURL(wsURL(fresh)); err != nil {
		t.Fatalf("SetURL failed: %v", err)
	}
	if err := m.Connect(); err != nil {
		t.Fatalf("manual Connect failed: %v", err)
	}

	if got := m.Stats().ReconnectAttempts; got != 0 {
		t.Errorf("ReconnectAttempts after manual connect = %d, want 0", got)
	}
	if !m.IsConnected() {
		t.Error("expected connection to the fresh server")
	}
}

func TestManager_CloseDisablesReconnect(t *testing.T) {
	server := echoServer(t)
	defer server.Close()

	var reconnects atomic.Int32
	closed := make(chan struct{}, 1)

	cfg := testConfig(wsURL(server))
	cfg.Reconnect = true
	cfg.MaxReconnectAttempts = 5
	cfg.OnReconnect = func(attempt int, delay time.Duration) { reconnects.Add(1) }
	cfg.OnClose = func(code int, reason string, clean bool) {
		if !clean {
			t.Errorf("OnClose clean = false after explicit Close")
		}
		select {
		case closed <- struct{}{}:
		default:
		}
	}

	m, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("OnClose never fired after Close")
	}

	time.Sleep(100 * time.Millisecond)
	if got := reconnects.Load(); got != 0 {
		t.Errorf("reconnect triggered %d times after explicit Close", got)
	}
	if got := m.State(); got != StateDisconnected {
		t.Errorf("State = %v, want %v", got, StateDisconnected)
	}
}

func TestManager_AuthenticateNotConnected(t *testing.T) {
	m, err := New(testConfig("ws://localhost:9/feed"), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := m.Authenticate(context.Background(), map[string]string{"token": "x"}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Authenticate error = %v, want ErrNotConnected", err)
	}
	if got := m.Stats().HandlerCount; got != 0 {
		t.Errorf("HandlerCount = %d, want 0 (no residual registration)", got)
	}
}

func TestManager_AuthenticateSuccess(t *testing.T) {
	server := replyServer(t, func(conn *websocket.Conn, env wire.Envelope) {
		if env.Type == wire.TypeAuthenticate {
			sendEnvelope(t, conn, wire.TypeAuthResult, wire.Result{Success: true})
		}
	})
	defer server.Close()

	m, err := New(testConfig(wsURL(server)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer m.Close()

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := m.Authenticate(context.Background(), map[string]string{"token": "secret"}); err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got := m.Stats().HandlerCount; got != 0 {
		t.Errorf("HandlerCount after authenticate = %d, want 0", got)
	}
}

func TestManager_SubscribeSuccess(t *testing.T) {
	server := replyServer(t, func(conn *websocket.Conn, env wire.Envelope) {
		if env.Type != wire.TypeSubscribe {
			return
		}
		var req wire.SubscribeRequest
		json.Unmarshal(env.Data, &req)
		sendEnvelope(t, conn, wire.TypeSubscribeResult, wire.Result{Success: true, Channel: req.Channel})
		// A channel message right after acceptance.
		sendEnvelope(t, conn, req.Channel, map[string]int{"seq": 1})
	})
	defer server.Close()

	m, err := New(testConfig(wsURL(server)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer m.Close()

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	got := make(chan wire.Envelope, 1)
	if err := m.Subscribe(context.Background(), "ticks", func(env wire.Envelope) {
		got <- env
	}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// Only the persistent channel handler remains; the transient
	// subscribe-result entry is gone.
	if count := m.Stats().HandlerCount; count != 1 {
		t.Errorf("HandlerCount = %d, want 1", count)
	}

	select {
	case env := <-got:
		if env.Type != "ticks" {
			t.Errorf("handler received type %q, want %q", env.Type, "ticks")
		}
	case <-time.After(time.Second):
		t.Fatal("channel handler never invoked")
	}
}

func TestManager_SubscribeRejected(t *testing.T) {
	server := replyServer(t, func(conn *websocket.Conn, env wire.Envelope) {
		if env.Type == wire.TypeSubscribe {
			sendEnvelope(t, conn, wire.TypeSubscribeResult, wire.Result{Success: false, Error: "denied"})
		}
	})
	defer server.Close()

	m, err := New(testConfig(wsURL(server)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer m.Close()

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	err = m.Subscribe(context.Background(), "private", func(wire.Envelope) {})
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if !strings.Contains(err.Error(), "denied") {
		t.Errorf("error = %v, want the server's rejection reason", err)
	}

	// The speculative channel handler was rolled back.
	if count := m.Stats().HandlerCount; count != 0 {
		t.Errorf("HandlerCount = %d, want 0", count)
	}
}

func TestManager_SubscribeNotConnected(t *testing.T) {
	m, err := New(testConfig("ws://localhost:9/feed"), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = m.Subscribe(context.Background(), "ticks", func(wire.Envelope) {})
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe error = %v, want ErrNotConnected", err)
	}
	if got := m.Stats().HandlerCount; got != 0 {
		t.Errorf("HandlerCount = %d, want 0", got)
	}
}

func TestManager_PendingRejectedOnClose(t *testing.T) {
	// Server that never answers requests.
	server := echoServer(t)
	defer server.Close()

	m, err := New(testConfig(wsURL(server)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	result := make(chan error, 1)
	go func() {
		result <- m.Subscribe(context.Background(), "ticks", nil)
	}()

	// Let the request go out, then drop the connection.
	time.Sleep(50 * time.Millisecond)
	m.Close()

	select {
	case err := <-result:
		if !errors.Is(err, ErrConnectionLost) {
			t.Errorf("Subscribe error = %v, want ErrConnectionLost", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending subscribe hung after close")
	}

	if got := m.Stats().HandlerCount; got != 0 {
		t.Errorf("HandlerCount = %d, want 0 after close", got)
	}
}

func TestManager_DispatchAndRawPassthrough(t *testing.T) {
	ready := make(chan struct{})
	server := mockWSServer(t, func(conn *websocket.Conn) {
		<-ready
		env, _ := wire.New("tick", map[string]int{"seq": 7})
		data, _ := env.Encode()
		conn.WriteMessage(websocket.TextMessage, data)
		conn.WriteMessage(websocket.TextMessage, []byte("plainly not json"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	messages := make(chan Message, 4)
	handled := make(chan wire.Envelope, 1)

	cfg := testConfig(wsURL(server))
	cfg.OnMessage = func(msg Message) { messages <- msg }

	m, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer m.Close()

	m.RegisterHandler("tick", func(env wire.Envelope) { handled <- env })

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	close(ready)

	select {
	case env := <-handled:
		if env.Type != "tick" {
			t.Errorf("handler type = %q, want tick", env.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("tick handler never invoked")
	}

	// Both messages reach the generic observer; the second has no
	// envelope and passes through raw.
	var sawEnvelope, sawRaw bool
	for i := 0; i < 2; i++ {
		select {
		case msg := <-messages:
			if msg.Envelope != nil {
				sawEnvelope = true
			} else if string(msg.Raw) == "plainly not json" {
				sawRaw = true
			}
		case <-time.After(time.Second):
			t.Fatal("generic observer missed a message")
		}
	}
	if !sawEnvelope || !sawRaw {
		t.Errorf("observer saw envelope=%v raw=%v, want both", sawEnvelope, sawRaw)
	}
}

func TestManager_HandlerPanicIsolated(t *testing.T) {
	ready := make(chan struct{})
	server := mockWSServer(t, func(conn *websocket.Conn) {
		<-ready
		for i := 0; i < 2; i++ {
			env, _ := wire.New("boom", nil)
			data, _ := env.Encode()
			conn.WriteMessage(websocket.TextMessage, data)
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	m, err := New(testConfig(wsURL(server)), nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer m.Close()

	var calls atomic.Int32
	m.RegisterHandler("boom", func(wire.Envelope) {
		calls.Add(1)
		panic("user handler bug")
	})

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	close(ready)

	if !waitFor(t, 2*time.Second, func() bool { return calls.Load() == 2 }) {
		t.Fatalf("handler calls = %d, want 2 (panic must not kill the pump)", calls.Load())
	}
	if !m.IsConnected() {
		t.Error("connection dropped after handler panic")
	}
}

func TestManager_Heartbeat(t *testing.T) {
	received := make(chan []byte, 16)
	server := collectServer(t, received)
	defer server.Close()

	cfg := testConfig(wsURL(server))
	cfg.PingInterval = 25 * time.Millisecond

	m, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer m.Close()

	if err := m.Connect(); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	var pings int
	deadline := time.After(time.Second)
	for pings < 2 {
		select {
		case data := <-received:
			env, err := wire.Decode(data)
			if err == nil && env.Type == wire.TypePing {
				pings++
			}
		case <-deadline:
			t.Fatalf("saw %d keep-alive pings, want at least 2", pings)
		}
	}
}
