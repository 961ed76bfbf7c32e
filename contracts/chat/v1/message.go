package v1

import "time"

// Delivery status strings (wire-stable). Ordering sent < delivered < read
// is enforced by clients, not by the wire contract.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// WireMessage is the canonical message representation on the wire,
// used by new-message, message-sent, chat-cleared and restore-chat.
type WireMessage struct {
	MessageID string    `json:"messageId"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status,omitempty"`
	Unsent    bool      `json:"unsent,omitempty"`
}
