// Package relay forwards accepted shares and weak blocks from the pool to
// downstream receivers. It holds the wire codec, the per-receiver connection
// proxy and the failover submitter that routes events between them.
package relay

import "fmt"

// MessageType is the 16-bit type flag at the start of every frame
type MessageType uint16

// The only two frame types on the wire
const (
	TypeShare MessageType = 0xFE01
	TypeAuth  MessageType = 0xEF01
)

// Valid reports whether t is one of the defined frame types
func (t MessageType) Valid() bool {
	return t == TypeShare || t == TypeAuth
}

// String returns the short name used in logs
func (t MessageType) String() string {
	switch t {
	case TypeShare:
		return "share"
	case TypeAuth:
		return "auth"
	default:
		return fmt.Sprintf("unknown(0x%04x)", uint16(t))
	}
}

// Message is one relay protocol message. Payload is the JSON share text for
// TypeShare and the shared secret for TypeAuth.
type Message struct {
	Type    MessageType
	Payload string
}

// NewShareMessage wraps a pre-serialized share or weak block record
func NewShareMessage(data string) Message {
	return Message{Type: TypeShare, Payload: data}
}

// NewAuthMessage builds the credential frame sent first on every connection
func NewAuthMessage(password string) Message {
	return Message{Type: TypeAuth, Payload: password}
}

// Data returns the share payload, or "" for other types
func (m Message) Data() string {
	if m.Type != TypeShare {
		return ""
	}
	return m.Payload
}

// Password returns the credential, or "" for other types
func (m Message) Password() string {
	if m.Type != TypeAuth {
		return ""
	}
	return m.Payload
}

// String keeps credentials out of logs
func (m Message) String() string {
	if m.Type == TypeAuth {
		return fmt.Sprintf("auth(%d bytes)", len(m.Payload))
	}
	return fmt.Sprintf("%s(%q)", m.Type, m.Payload)
}
