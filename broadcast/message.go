// Package broadcast propagates session lifecycle events between processes
// sharing one persisted token store. Delivery is at-least-once and unordered;
// messages are triggers to re-check the real state, never the state itself.
package broadcast

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Type enumerates cross-process session notifications.
type Type int

const (
	TypeSignedOut Type = iota + 1
	TypeSessionRefreshed
	TypeSessionInvalid
)

func (t Type) String() string {
	switch t {
	case TypeSignedOut:
		return "signed_out"
	case TypeSessionRefreshed:
		return "session_refreshed"
	case TypeSessionInvalid:
		return "session_invalid"
	}
	return "unknown"
}

// Message is one cross-process notification. Origin identifies the sending
// coordinator so receivers can drop their own messages; ID makes consecutive
// payloads distinct for transports that compare content.
type Message struct {
	Type      Type      `json:"type"`
	Origin    string    `json:"origin"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage mints a message for the given origin.
func NewMessage(t Type, origin string) Message {
	return Message{
		Type:      t,
		Origin:    origin,
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
	}
}

// Encode serializes a message for the wire.
func Encode(m Message) ([]byte, error) {
	payload, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "[Encode] Marshal")
	}
	return payload, nil
}

// Decode parses a wire payload back into a message.
func Decode(payload []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(payload, &m); err != nil {
		return Message{}, errors.Wrap(err, "[Decode] Unmarshal")
	}
	return m, nil
}
