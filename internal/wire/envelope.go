package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Errors
var (
	ErrNoType = errors.New("message has no type field")
)

// Well-known message types.
const (
	TypePing              = "ping"
	TypeAuthenticate      = "authenticate"
	TypeAuthResult        = "auth-result"
	TypeSubscribe         = "subscribe"
	TypeSubscribeResult   = "subscribe-result"
	TypeUnsubscribe       = "unsubscribe"
	TypeUnsubscribeResult = "unsubscribe-result"
)

// Envelope is the wire-level message unit. Type is required; ID and
// Timestamp are filled by New for correlation but tolerated absent on
// inbound messages.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// New builds an envelope with a fresh correlation id and timestamp.
// A nil payload produces an envelope with no data field.
func New(msgType string, payload any) (Envelope, error) {
	env := Envelope{
		Type:      msgType,
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		env.Data = data
	}

	return env, nil
}

// Encode serializes the envelope for transmission.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses raw bytes as an envelope. Bytes that are not a JSON
// object with a non-empty type field return an error; callers treat
// that as raw passthrough, not a protocol violation.
func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, err
	}
	if env.Type == "" {
		return Envelope{}, ErrNoType
	}
	return env, nil
}

// SubscribeRequest is the payload for subscribe and unsubscribe messages.
type SubscribeRequest struct {
	Channel string `json:"channel"`
}

// AuthRequest is the payload for an authenticate message.
type AuthRequest struct {
	Credentials json.RawMessage `json:"credentials"`
}

// Result is the payload of auth-result, subscribe-result, and
// unsubscribe-result messages.
type Result struct {
	Success bool   `json:"success"`
	Channel string `json:"channel,omitempty"`
	Error   string `json:"error,omitempty"`
}
