package dao

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

// ConversationPostgres implements ConversationRepository for PostgreSQL
type ConversationPostgres struct {
	pool *pgxpool.Pool
}

// NewConversationPostgres creates a new PostgreSQL conversation repository
func NewConversationPostgres(pool *pgxpool.Pool) *ConversationPostgres {
	return &ConversationPostgres{pool: pool}
}

// Ensure returns the record for key, creating it with default options.
// An existing record keeps its stored kind.
func (r *ConversationPostgres) Ensure(ctx context.Context, key entity.Key, kind entity.Kind) (*entity.Record, error) {
	opts, err := entity.DefaultOptions().Encode()
	if err != nil {
		return nil, fmt.Errorf("encoding default options: %w", err)
	}

	insert := `
		INSERT INTO conversations (account, peer, kind, options)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account, peer) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, insert, key.Account, key.Peer, kind.String(), opts); err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}

	query := `SELECT id, account, peer, kind, options FROM conversations WHERE account = $1 AND peer = $2`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, key.Account, key.Peer))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}

	return rec, nil
}

// SaveOptions persists the options of a conversation
func (r *ConversationPostgres) SaveOptions(ctx context.Context, id int64, opts entity.Options) error {
	raw, err := opts.Encode()
	if err != nil {
		return fmt.Errorf("encoding options: %w", err)
	}

	query := `UPDATE conversations SET options = $1, updated_at = NOW() WHERE id = $2`
	tag, err := r.pool.Exec(ctx, query, raw, id)
	if err != nil {
		return fmt.Errorf("updating options: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrConversationNotFound
	}

	return nil
}

// List returns the records of an account, or all records
func (r *ConversationPostgres) List(ctx context.Context, account string) ([]entity.Record, error) {
	query := `
		SELECT id, account, peer, kind, options FROM conversations
		WHERE $1 = '' OR account = $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, account)
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

// Delete removes a record together with its history. Both statements go
// out in one batch, which pgx runs as a single implicit transaction.
func (r *ConversationPostgres) Delete(ctx context.Context, id int64) error {
	batch := &pgx.Batch{}
	batch.Queue(`
		DELETE FROM entries e USING conversations c
		WHERE c.id = $1 AND e.account = c.account AND e.peer = c.peer
	`, id)
	batch.Queue(`DELETE FROM conversations WHERE id = $1`, id)

	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()

	if _, err := results.Exec(); err != nil {
		return fmt.Errorf("deleting history: %w", err)
	}
	if _, err := results.Exec(); err != nil {
		return fmt.Errorf("deleting conversation: %w", err)
	}

	return nil
}

func scanRecord(row scanner) (*entity.Record, error) {
	var (
		rec  entity.Record
		kind string
		raw  []byte
	)
	if err := row.Scan(&rec.ID, &rec.Key.Account, &rec.Key.Peer, &kind, &raw); err != nil {
		return nil, fmt.Errorf("scanning conversation: %w", err)
	}

	k, err := entity.ParseKind(kind)
	if err != nil {
		return nil, err
	}
	opts, err := entity.DecodeOptions(raw)
	if err != nil {
		return nil, fmt.Errorf("conversation %d: %w", rec.ID, err)
	}
	rec.Kind = k
	rec.Options = opts

	return &rec, nil
}
