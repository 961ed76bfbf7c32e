package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresArchive is an Archive backed by PostgreSQL.
//
// Ownership model:
// - PostgresArchive does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresArchive struct {
	pool   *pgxpool.Pool
	schema string
}

// ArchiveOption configures PostgresArchive behavior.
type ArchiveOption func(*PostgresArchive) error

// WithArchiveSchema sets the DB schema used by the archive (default: "chatlink").
// The schema name is validated and safely quoted in queries.
func WithArchiveSchema(schema string) ArchiveOption {
	return func(a *PostgresArchive) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("store: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("store: invalid schema identifier")
		}
		a.schema = schema
		return nil
	}
}

// NewPostgresArchive constructs a Postgres-backed Archive and ensures its
// schema exists. Unlike a server-side store, the archive is a single-writer
// local mirror, so creating its own table on startup is acceptable.
func NewPostgresArchive(ctx context.Context, pool *pgxpool.Pool, opts ...ArchiveOption) (*PostgresArchive, error) {
	a := &PostgresArchive{
		pool:   pool,
		schema: "chatlink",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.pool == nil {
		return nil, errors.New("store: nil pool")
	}

	if err := a.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Close is a no-op because the pool is owned by the caller.
func (a *PostgresArchive) Close() error { return nil }

func (a *PostgresArchive) ensureSchema(ctx context.Context) error {
	messages := pgIdent(a.schema, "messages")

	stmts := []string{
		`CREATE SCHEMA IF NOT EXISTS ` + pgQuoteIdent(a.schema),
		`CREATE TABLE IF NOT EXISTS ` + messages + ` (
			conversation_id text        NOT NULL,
			message_id      text        NOT NULL,
			sender          text        NOT NULL,
			recipient       text        NOT NULL,
			text            text        NOT NULL,
			sent_at         timestamptz NOT NULL,
			status          text        NOT NULL,
			unsent          boolean     NOT NULL DEFAULT false,
			PRIMARY KEY (conversation_id, message_id)
		)`,
	}
	for _, q := range stmts {
		if _, err := a.pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("archive schema: %w", err)
		}
	}
	return nil
}

// RecordMessage upserts a confirmed message. Idempotent per
// (conversation_id, message_id): a duplicate insert is ignored so status
// and unsent state recorded later cannot be clobbered by a replay.
func (a *PostgresArchive) RecordMessage(ctx context.Context, conversationID string, msg Message) error {
	if a == nil || a.pool == nil {
		return errors.New("store: nil archive")
	}
	if conversationID == "" || msg.ID == "" {
		return errors.New("store: invalid input")
	}

	messages := pgIdent(a.schema, "messages")

	text := msg.Text
	if msg.Unsent {
		text = ""
	}

	_, err := a.pool.Exec(ctx,
		`INSERT INTO `+messages+` (conversation_id, message_id, sender, recipient, text, sent_at, status, unsent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (conversation_id, message_id) DO NOTHING`,
		conversationID, msg.ID, msg.From, msg.To, text, msg.SentAt, msg.Status.String(), msg.Unsent,
	)
	if err != nil {
		return fmt.Errorf("archive record: %w", err)
	}
	return nil
}

// MarkUnsent sets the unsent flag and erases the stored text.
func (a *PostgresArchive) MarkUnsent(ctx context.Context, messageID string) error {
	if a == nil || a.pool == nil {
		return errors.New("store: nil archive")
	}
	if messageID == "" {
		return errors.New("store: missing message id")
	}

	messages := pgIdent(a.schema, "messages")

	_, err := a.pool.Exec(ctx,
		`UPDATE `+messages+` SET unsent = true, text = '' WHERE message_id = $1`,
		messageID,
	)
	if err != nil {
		return fmt.Errorf("archive unsend: %w", err)
	}
	return nil
}

// UpdateStatus records the latest confirmed delivery status.
// Monotonicity is enforced in SQL so a replayed stale update cannot regress
// the archived status.
func (a *PostgresArchive) UpdateStatus(ctx context.Context, messageID string, status Status) error {
	if a == nil || a.pool == nil {
		return errors.New("store: nil archive")
	}
	if messageID == "" {
		return errors.New("store: missing message id")
	}

	messages := pgIdent(a.schema, "messages")

	_, err := a.pool.Exec(ctx,
		`UPDATE `+messages+` SET status = $2
		 WHERE message_id = $1
		   AND array_position(ARRAY['sent','delivered','read'], status)
		     < array_position(ARRAY['sent','delivered','read'], $2)`,
		messageID, status.String(),
	)
	if err != nil {
		return fmt.Errorf("archive status: %w", err)
	}
	return nil
}

// PurgeConversation removes all archived messages of a conversation.
// Called when an undo window elapses and the clear becomes permanent.
func (a *PostgresArchive) PurgeConversation(ctx context.Context, conversationID string) error {
	if a == nil || a.pool == nil {
		return errors.New("store: nil archive")
	}
	if conversationID == "" {
		return errors.New("store: missing conversation id")
	}

	messages := pgIdent(a.schema, "messages")

	_, err := a.pool.Exec(ctx,
		`DELETE FROM `+messages+` WHERE conversation_id = $1`,
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("archive purge: %w", err)
	}
	return nil
}

// ---- identifier quoting ----

var pgIdentRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRe.MatchString(s)
}

func pgQuoteIdent(s string) string {
	return `"` + s + `"`
}

func pgIdent(schema, table string) string {
	return pgQuoteIdent(schema) + "." + pgQuoteIdent(table)
}
