package messaging

import (
	"fmt"
	"time"
)

// EventKind discriminates relay events
type EventKind string

const (
	// KindShare is an accepted share
	KindShare EventKind = "share"
	// KindWeakBlock is a block-shaped candidate meeting the weak-block target
	KindWeakBlock EventKind = "weak_block"
	// KindEvent is a free-form pool event, logged but not relayed
	KindEvent EventKind = "event"
)

// RelayEvent is what a pool server publishes for every accepted share or weak block
type RelayEvent struct {
	Kind   EventKind `json:"kind"`
	User   string    `json:"user,omitempty"`
	Worker string    `json:"worker,omitempty"`
	// Credential is checked against the authorised-users hash when relayd requires auth
	Credential string `json:"credential,omitempty"`

	Height int64  `json:"height,omitempty"`
	Payout uint64 `json:"payout,omitempty"`
	// Header is the 80-byte serialized block header, hex encoded
	Header string `json:"header,omitempty"`
	// LeadingZeros of the share hash; computed from the header when absent
	LeadingZeros *uint8 `json:"leading_zeros,omitempty"`
	ClientTarget uint8  `json:"client_target,omitempty"`
	TxCount      int    `json:"tx_count,omitempty"`

	// Event is the message of a KindEvent
	Event string `json:"event,omitempty"`

	ObservedAt time.Time `json:"observed_at"`
}

// Validate checks the fields required by the event kind
func (e *RelayEvent) Validate() error {
	switch e.Kind {
	case KindShare, KindWeakBlock:
		if e.User == "" {
			return fmt.Errorf("%s event without user", e.Kind)
		}
		if e.Header == "" {
			return fmt.Errorf("%s event without header", e.Kind)
		}
	case KindEvent:
		if e.Event == "" {
			return fmt.Errorf("event without message")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}

// Key is the Kafka message key: events of one user stay on one partition
func (e *RelayEvent) Key() string {
	if e.User != "" {
		return e.User
	}
	return string(e.Kind)
}
