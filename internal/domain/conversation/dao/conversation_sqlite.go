package dao

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

// ConversationSQLite implements ConversationRepository for SQLite
type ConversationSQLite struct {
	db *sql.DB
}

// NewConversationSQLite creates a new SQLite conversation repository
func NewConversationSQLite(db *sql.DB) *ConversationSQLite {
	return &ConversationSQLite{db: db}
}

// Ensure returns the record for key, creating it with default options.
// An existing record keeps its stored kind.
func (r *ConversationSQLite) Ensure(ctx context.Context, key entity.Key, kind entity.Kind) (*entity.Record, error) {
	opts, err := entity.DefaultOptions().Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding default options: %w", err)
	}

	now := time.Now().UnixNano()
	insert := `
		INSERT INTO conversations (account, peer, kind, options, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account, peer) DO NOTHING
	`
	if _, err := r.db.ExecContext(ctx, insert, key.Account, key.Peer, kind.String(), string(opts), now, now); err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	query := `SELECT id, account, peer, kind, options FROM conversations WHERE account = ? AND peer = ?`
	rec, err := scanRecord(r.db.QueryRowContext(ctx, query, key.Account, key.Peer))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// SaveOptions persists the options of a conversation
func (r *ConversationSQLite) SaveOptions(ctx context.Context, id int64, opts entity.Options) error {
	raw, err := opts.Encode()
	if err != nil {
		return fmt.Errorf("encoding options: %w", err)
	}

	query := `UPDATE conversations SET options = ?, updated_at = ? WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, string(raw), time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("updating options: %w", err)
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return entity.ErrConversationNotFound
	}

	return nil
}

// List returns the records of an account, or all records
func (r *ConversationSQLite) List(ctx context.Context, account string) ([]entity.Record, error) {
	query := `
		SELECT id, account, peer, kind, options FROM conversations
		WHERE ? = '' OR account = ?
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, query, account, account)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var records []entity.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating conversations: %w", err)
	}

	return records, nil
}

// Delete removes a record together with its history
func (r *ConversationSQLite) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	history := `
		DELETE FROM entries WHERE EXISTS (
			SELECT 1 FROM conversations c
			WHERE c.id = ? AND c.account = entries.account AND c.peer = entries.peer
		)
	`
	if _, err := tx.ExecContext(ctx, history, id); err != nil {
		return fmt.Errorf("deleting history: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
