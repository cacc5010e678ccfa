package dao

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MigratePostgres creates the conversation tables if they do not exist
func MigratePostgres(ctx context.Context, pool *pgxpool.Pool) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id BIGSERIAL PRIMARY KEY,
			account TEXT NOT NULL,
			peer TEXT NOT NULL,
			kind TEXT NOT NULL,
			options JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (account, peer)
		)`,

		`CREATE TABLE IF NOT EXISTS entries (
			id BIGSERIAL PRIMARY KEY,
			account TEXT NOT NULL,
			peer TEXT NOT NULL,
			type INTEGER NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
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
			data JSONB NOT NULL DEFAULT '{}',
			correction_id TEXT NOT NULL DEFAULT '',
			correction_timestamp TIMESTAMPTZ,
			retracted BOOLEAN NOT NULL DEFAULT FALSE
		)`,

		`CREATE INDEX IF NOT EXISTS idx_entries_conversation ON entries (account, peer, id)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_stanza ON entries (account, peer, stanza_id)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_state ON entries (account, peer, state)`,
	}

	for _, m := range migrations {
		if _, err := pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}
	return nil
}
