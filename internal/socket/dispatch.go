package socket

import (
	"sync"

	"github.com/dkrauss/wirefeed/internal/wire"
)

// pendingResult carries a correlated response or the reason none will come.
type pendingResult struct {
	env wire.Envelope
	err error
}

// dispatcher routes inbound envelopes to registered per-type handlers.
// Transient entries correlate one request with one response message and
// are removed exactly once: on delivery, on abandonment by the caller,
// or when the connection drops.
type dispatcher struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	pending  map[string]chan pendingResult
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		handlers: make(map[string]HandlerFunc),
		pending:  make(map[string]chan pendingResult),
	}
}

// register stores a handler for a message type. Last registration wins.
func (d *dispatcher) register(msgType string, h HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[msgType] = h
}

// unregister removes the handler for a message type.
func (d *dispatcher) unregister(msgType string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, msgType)
}

// await registers a transient one-shot entry for a response type and
// returns the channel the response will be delivered on. Only one
// outstanding request per response type is allowed.
func (d *dispatcher) await(respType string) (chan pendingResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.pending[respType]; exists {
		return nil, ErrRequestPending
	}

	ch := make(chan pendingResult, 1)
	d.pending[respType] = ch
	return ch, nil
}

// abandon removes a transient entry that will never be delivered, such
// as after a send failure or timeout. Removing an entry that was already
// delivered or failed is a no-op.
func (d *dispatcher) abandon(respType string, ch chan pendingResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if cur, ok := d.pending[respType]; ok && cur == ch {
		delete(d.pending, respType)
	}
}

// dispatch delivers an envelope. A matching transient entry consumes the
// message and self-removes; otherwise the persistent handler for the
// type runs, if any. A missing handler is not an error.
func (d *dispatcher) dispatch(env wire.Envelope, invoke func(HandlerFunc, wire.Envelope)) {
	d.mu.Lock()
	if ch, ok := d.pending[env.Type]; ok {
		delete(d.pending, env.Type)
		d.mu.Unlock()
		ch <- pendingResult{env: env}
		return
	}
	h := d.handlers[env.Type]
	d.mu.Unlock()

	if h != nil {
		invoke(h, env)
	}
}

// failPending rejects every outstanding correlation with err and clears
// the transient registry. Unresolved correlations must not hang forever.
func (d *dispatcher) failPending(err error) {
	d.mu.Lock()
	pending := d.pending
	d.pending = make(map[string]chan pendingResult)
	d.mu.Unlock()

	for _, ch := range pending {
		ch <- pendingResult{err: err}
	}
}

// size reports persistent plus transient entries.
func (d *dispatcher) size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handlers) + len(d.pending)
}
