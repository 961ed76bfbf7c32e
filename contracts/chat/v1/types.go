// Package v1 defines the chatlink wire protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the server and clients to keep the wire protocol
// authoritative: every event kind the transport may carry is enumerated
// here with a typed payload, so the protocol surface is statically
// checkable instead of being a string-keyed dispatch table.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Kind constants (wire-stable).
const (
	// KindUserOnline announces presence after authentication or reconnect (client -> server).
	KindUserOnline = "user-online"
	// KindSendMessage requests delivery of a new message (client -> server).
	KindSendMessage = "send-message"
	// KindUnsendMessage requests retraction of a previously sent message (client -> server).
	KindUnsendMessage = "unsend-message"
	// KindClearChat requests clearing of a conversation (client -> server).
	KindClearChat = "clear-chat"
	// KindRestoreChat returns a cleared message set for reinstatement (client -> server).
	KindRestoreChat = "restore-chat"

	// KindTypingStart signals typing activity. Client -> server when locally
	// originated; server -> client when describing the peer.
	KindTypingStart = "typing-start"
	// KindTypingStop signals typing quiescence. Bidirectional like KindTypingStart.
	KindTypingStop = "typing-stop"

	// KindNewMessage delivers a message to its recipient (server -> client).
	KindNewMessage = "new-message"
	// KindMessageSent echoes an accepted message back to its sender (server -> client).
	KindMessageSent = "message-sent"
	// KindMessageStatus advances a message's delivery status (server -> client).
	KindMessageStatus = "message-status-update"
	// KindMessageUnsent confirms retraction of a message (server -> client).
	KindMessageUnsent = "message-unsent"
	// KindChatCleared acknowledges a clear and carries the removed set (server -> client).
	KindChatCleared = "chat-cleared"
	// KindChatRestored acknowledges reinstatement of a cleared set (server -> client).
	KindChatRestored = "chat-restored"
	// KindUserStatusChange signals a presence change for some partner (server -> client).
	KindUserStatusChange = "user-status-change"
)

// outboundKinds enumerates kinds a client may emit.
var outboundKinds = map[string]struct{}{
	KindUserOnline:    {},
	KindSendMessage:   {},
	KindUnsendMessage: {},
	KindClearChat:     {},
	KindRestoreChat:   {},
	KindTypingStart:   {},
	KindTypingStop:    {},
}

// inboundKinds enumerates kinds a client may receive.
var inboundKinds = map[string]struct{}{
	KindNewMessage:       {},
	KindMessageSent:      {},
	KindMessageStatus:    {},
	KindMessageUnsent:    {},
	KindChatCleared:      {},
	KindChatRestored:     {},
	KindTypingStart:      {},
	KindTypingStop:       {},
	KindUserStatusChange: {},
}

// IsOutbound reports whether kind may be emitted by a client.
func IsOutbound(kind string) bool {
	_, ok := outboundKinds[kind]
	return ok
}

// IsInbound reports whether kind may be received by a client.
func IsInbound(kind string) bool {
	_, ok := inboundKinds[kind]
	return ok
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if !IsOutbound(e.Type) && !IsInbound(e.Type) {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("missing field: id")
	}
	if e.TS.IsZero() {
		return errors.New("missing field: ts")
	}
	return nil
}

// ---- Payloads ----

// UserOnlinePayload announces the authenticated user's presence.
type UserOnlinePayload struct {
	Username string `json:"username"`
}

// SendMessagePayload requests delivery of a message to a recipient.
type SendMessagePayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Text      string `json:"text"`
	MessageID string `json:"messageId"`
}

// UnsendMessagePayload requests retraction of a previously sent message.
type UnsendMessagePayload struct {
	MessageID string `json:"messageId"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// TypingPayload carries a typing signal. To is set only on the outbound leg;
// the server strips it when relaying the signal to the peer.
type TypingPayload struct {
	From string `json:"from"`
	To   string `json:"to,omitempty"`
}

// ClearChatPayload requests clearing of the conversation with ChatUser.
type ClearChatPayload struct {
	Username string `json:"username"`
	ChatUser string `json:"chatUser"`
}

// RestoreChatPayload returns a previously cleared message set for reinstatement.
type RestoreChatPayload struct {
	Username        string        `json:"username"`
	ChatUser        string        `json:"chatUser"`
	ClearedMessages []WireMessage `json:"clearedMessages"`
}

// MessageStatusPayload advances the delivery status of a single message.
type MessageStatusPayload struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// MessageUnsentPayload confirms retraction of a single message.
type MessageUnsentPayload struct {
	MessageID string `json:"messageId"`
}

// ChatClearedPayload acknowledges a clear and carries the removed message set.
type ChatClearedPayload struct {
	ChatUser        string        `json:"chatUser"`
	ClearedMessages []WireMessage `json:"clearedMessages"`
	Timestamp       time.Time     `json:"timestamp"`
}

// ChatRestoredPayload acknowledges reinstatement of a cleared conversation.
type ChatRestoredPayload struct {
	ChatUser string `json:"chatUser"`
}

// UserStatusChangePayload signals that some partner's presence changed.
// It intentionally carries no data: clients refresh their roster instead.
type UserStatusChangePayload struct{}
