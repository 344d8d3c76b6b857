package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkrauss/wirefeed/internal/wire"
)

// request sends env and blocks for the correlated response type. The
// transient registry entry is removed exactly once on every path:
// delivery, send failure, timeout, cancellation, or connection loss.
func (m *Manager) request(ctx context.Context, env wire.Envelope, respType string) (wire.Envelope, error) {
	ch, err := m.handlers.await(respType)
	if err != nil {
		return wire.Envelope{}, err
	}

	if err := m.transmit(env); err != nil {
		m.handlers.abandon(respType, ch)
		return wire.Envelope{}, err
	}

	timer := time.NewTimer(m.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		m.handlers.abandon(respType, ch)
		return wire.Envelope{}, ctx.Err()
	case <-timer.C:
		m.handlers.abandon(respType, ch)
		return wire.Envelope{}, fmt.Errorf("%w: no %s received", ErrRequestTimeout, respType)
	case res := <-ch:
		if res.err != nil {
			return wire.Envelope{}, res.err
		}
		return res.env, nil
	}
}

// decodeResult parses a result payload; an empty payload decodes to a
// zero (unsuccessful) result.
func decodeResult(env wire.Envelope) (wire.Result, error) {
	var res wire.Result
	if len(env.Data) == 0 {
		return res, nil
	}
	if err := json.Unmarshal(env.Data, &res); err != nil {
		return res, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return res, nil
}

// Authenticate sends the credentials and waits for the auth-result.
// Fails immediately, registering nothing, when not connected.
func (m *Manager) Authenticate(ctx context.Context, credentials any) error {
	if !m.IsConnected() {
		return ErrNotConnected
	}

	raw, err := json.Marshal(credentials)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	env, err := wire.New(wire.TypeAuthenticate, wire.AuthRequest{Credentials: raw})
	if err != nil {
		return err
	}

	resp, err := m.request(ctx, env, wire.TypeAuthResult)
	if err != nil {
		return err
	}

	res, err := decodeResult(resp)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("authentication rejected: %s", res.Error)
	}
	return nil
}

// Subscribe requests the channel and waits for the subscribe-result. The
// channel handler is registered speculatively so messages arriving right
// after the server's acceptance are not missed, and rolled back when the
// request fails or is rejected. Fails immediately when not connected.
func (m *Manager) Subscribe(ctx context.Context, channel string, handler HandlerFunc) error {
	if channel == "" {
		return errors.New("channel is required")
	}
	if !m.IsConnected() {
		return ErrNotConnected
	}

	env, err := wire.New(wire.TypeSubscribe, wire.SubscribeRequest{Channel: channel})
	if err != nil {
		return err
	}

	if handler != nil {
		m.handlers.register(channel, handler)
	}

	resp, err := m.request(ctx, env, wire.TypeSubscribeResult)
	if err != nil {
		if handler != nil {
			m.handlers.unregister(channel)
		}
		return err
	}

	res, rerr := decodeResult(resp)
	if rerr != nil || !res.Success {
		if handler != nil {
			m.handlers.unregister(channel)
		}
		if rerr != nil {
			return rerr
		}
		return fmt.Errorf("subscribe %s rejected: %s", channel, res.Error)
	}

	m.logger.Debug("subscribed", "channel", channel)
	return nil
}

// Unsubscribe requests removal from the channel and waits for the
// unsubscribe-result. The channel handler is removed on acceptance; a
// rejection leaves it in place since the server still delivers. Fails
// immediately when not connected.
func (m *Manager) Unsubscribe(ctx context.Context, channel string) error {
	if channel == "" {
		return errors.New("channel is required")
	}
	if !m.IsConnected() {
		return ErrNotConnected
	}

	env, err := wire.New(wire.TypeUnsubscribe, wire.SubscribeRequest{Channel: channel})
	if err != nil {
		return err
	}

	resp, err := m.request(ctx, env, wire.TypeUnsubscribeResult)
	if err != nil {
		return err
	}

	res, err := decodeResult(resp)
	if err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("unsubscribe %s rejected: %s", channel, res.Error)
	}

	m.handlers.unregister(channel)
	m.logger.Debug("unsubscribed", "channel", channel)
	return nil
}
