package store

import "context"

// Archive is an optional durable mirror of server-confirmed messages.
//
// The in-memory Store stays authoritative for the live view; the archive
// only records what the server has already confirmed, so replaying it can
// never introduce state the server does not know about.
//
// Requirements:
//   - RecordMessage is idempotent per (conversation_id, message_id)
//   - MarkUnsent replaces the stored text with nothing (the original text
//     must not survive retraction, mirroring the sticky unsent flag)
type Archive interface {
	RecordMessage(ctx context.Context, conversationID string, msg Message) error
	MarkUnsent(ctx context.Context, messageID string) error
	UpdateStatus(ctx context.Context, messageID string, status Status) error
	PurgeConversation(ctx context.Context, conversationID string) error
	Close() error
}

// NopArchive is used when no database is configured.
type NopArchive struct{}

func (NopArchive) RecordMessage(context.Context, string, Message) error  { return nil }
func (NopArchive) MarkUnsent(context.Context, string) error              { return nil }
func (NopArchive) UpdateStatus(context.Context, string, Status) error    { return nil }
func (NopArchive) PurgeConversation(context.Context, string) error       { return nil }
func (NopArchive) Close() error                                          { return nil }
