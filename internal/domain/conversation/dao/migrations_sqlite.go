package dao

import (
	"context"
	"database/sql"
	"fmt"
)

// MigrateSQLite creates the conversation tables if they do not exist.
// Timestamps are stored as unix nanoseconds.
func MigrateSQLite(ctx context.Context, db *sql.DB) error {
	migrations := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account TEXT NOT NULL,
			peer TEXT NOT NULL,
			kind TEXT NOT NULL,
			options TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (account, peer)
		)`,

		`CREATE TABLE IF NOT EXISTS entries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account TEXT NOT NULL,
			peer TEXT NOT NULL,
			type INTEGER NOT NULL,
			timestamp INTEGER NOT NULL,
			stanza_id TEXT NOT NULL DEFAULT '',
			state INTEGER NOT NULL,
			state_message TEXT NOT NULL DEFAULT '',
			sender_kind INTEGER NOT NULL DEFAULT 0,
			sender_nickname TEXT NOT NULL DEFAULT '',
			sender_jid TEXT NOT NULL DEFAULT '',
			sender_participant_id TEXT NOT NULL DEFAULT '',
			recipient_nickname TEXT NOT NULL DEFAULT '',
			recipient_jid TEXT NOT NULL DEFAULT '',
			encryption_kind INTEGER NOT NULL DEFAULT 0,
			encryption_fingerprint TEXT NOT NULL DEFAULT '',
			encryption_code INTEGER NOT NULL DEFAULT 0,
			data TEXT NOT NULL DEFAULT '{}',
			correction_id TEXT NOT NULL DEFAULT '',
			correction_timestamp INTEGER,
			retracted INTEGER NOT NULL DEFAULT 0
		)`,

		`CREATE INDEX IF NOT EXISTS idx_entries_conversation ON entries (account, peer, id)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_stanza ON entries (account, peer, stanza_id)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_state ON entries (account, peer, state)`,
	}

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}
	return nil
}
