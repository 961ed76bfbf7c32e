package store

import (
	"time"

	v1 "chatlink/contracts/chat/v1"
)

// UnsentPlaceholder replaces the text of a retracted message everywhere it
// is rendered. The original text must never be shown again once the unsent
// flag is set.
const UnsentPlaceholder = "This message was unsent"

// Status is the delivery status of a message.
// Values are ordered: a status may only advance, never regress.
type Status int

const (
	StatusSent Status = iota
	StatusDelivered
	StatusRead
)

// String returns the wire representation of the status.
func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return v1.StatusDelivered
	case StatusRead:
		return v1.StatusRead
	default:
		return v1.StatusSent
	}
}

// ParseStatus maps a wire status string to a Status.
// Unknown strings map to StatusSent so a malformed update can never advance
// a message past its true state.
func ParseStatus(s string) Status {
	switch s {
	case v1.StatusDelivered:
		return StatusDelivered
	case v1.StatusRead:
		return StatusRead
	default:
		return StatusSent
	}
}

// Message is one message in a conversation.
//
// The id is client-generated at send time and globally unique within a
// conversation; SentAt is server-assigned and authoritative. The Unsent flag
// is monotonic: once true it never reverts.
type Message struct {
	ID     string
	From   string
	To     string
	Text   string
	SentAt time.Time
	Status Status
	Unsent bool
}

// DisplayText returns the text to render: the placeholder for unsent
// messages, the original text otherwise.
func (m Message) DisplayText() string {
	if m.Unsent {
		return UnsentPlaceholder
	}
	return m.Text
}

// FromWire converts a wire message into a store Message.
func FromWire(w v1.WireMessage) Message {
	return Message{
		ID:     w.MessageID,
		From:   w.From,
		To:     w.To,
		Text:   w.Text,
		SentAt: w.Timestamp,
		Status: ParseStatus(w.Status),
		Unsent: w.Unsent,
	}
}

// ToWire converts a store Message into its wire representation.
func (m Message) ToWire() v1.WireMessage {
	return v1.WireMessage{
		MessageID: m.ID,
		From:      m.From,
		To:        m.To,
		Text:      m.Text,
		Timestamp: m.SentAt,
		Status:    m.Status.String(),
		Unsent:    m.Unsent,
	}
}
