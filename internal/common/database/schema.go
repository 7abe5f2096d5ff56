// internal/common/database/schema.go
// Schema for conversations, messages, receipts, reactions and calls

package database

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jmoiron/sqlx"
)

// migrations are written once and specialised per dialect by dialectReplacer.
// The unique indexes here are the authority for the "one live call per
// conversation", "one reaction per (message, user, emoji)" and "one receipt
// per (message, user)" rules; services treat a violation as the rejection.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id {{serial}},
		username TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		avatar_url TEXT,
		email TEXT,
		phone TEXT,
		status TEXT NOT NULL DEFAULT 'offline',
		last_seen {{ts}},
		created_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS conversations (
		id {{serial}},
		type TEXT NOT NULL DEFAULT 'direct',
		name TEXT,
		last_message_at {{ts}},
		last_message_preview TEXT,
		created_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE TABLE IF NOT EXISTS conversation_participants (
		conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		joined_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (conversation_id, user_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_participants_user ON conversation_participants(user_id)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id BIGINT NOT NULL REFERENCES users(id),
		content TEXT NOT NULL DEFAULT '',
		message_type TEXT NOT NULL DEFAULT 'text',
		media_urls TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL DEFAULT 'SENT',
		is_edited BOOLEAN NOT NULL DEFAULT FALSE,
		edited_at {{ts}},
		previous_content TEXT,
		client_message_id TEXT,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS message_read_receipts (
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		read_at {{ts}} NOT NULL,
		PRIMARY KEY (message_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS message_reactions (
		message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		emoji TEXT NOT NULL,
		created_at {{ts}} NOT NULL,
		PRIMARY KEY (message_id, user_id, emoji)
	)`,

	`CREATE TABLE IF NOT EXISTS calls (
		id TEXT PRIMARY KEY,
		conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		caller_id BIGINT NOT NULL REFERENCES users(id),
		receiver_id BIGINT NOT NULL REFERENCES users(id),
		call_type TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at {{ts}},
		ended_at {{ts}},
		duration INTEGER NOT NULL DEFAULT 0,
		created_at {{ts}} NOT NULL,
		updated_at {{ts}} NOT NULL
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS idx_calls_one_live_per_conversation
		ON calls(conversation_id)
		WHERE status IN ('INITIATING', 'RINGING', 'ACTIVE')`,

	`CREATE INDEX IF NOT EXISTS idx_calls_caller ON calls(caller_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_calls_receiver ON calls(receiver_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS push_tokens (
		token TEXT PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		platform TEXT NOT NULL DEFAULT 'android',
		created_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

func dialectReplacer(driverName string) *strings.Replacer {
	if driverName == DriverSQLite {
		return strings.NewReplacer(
			"{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
			"{{ts}}", "TIMESTAMP",
		)
	}
	return strings.NewReplacer(
		"{{serial}}", "BIGSERIAL PRIMARY KEY",
		"{{ts}}", "TIMESTAMPTZ",
	)
}

// Migrate creates any missing tables and indexes
func Migrate(ctx context.Context, db *sqlx.DB) error {
	r := dialectReplacer(db.DriverName())

	for i, stmt := range migrations {
		if _, err := db.ExecContext(ctx, r.Replace(stmt)); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Printf("[database] %d migrations applied (%s)", len(migrations), db.DriverName())
	return nil
}
