package dao

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

// HistoryPostgres implements HistoryRepository for PostgreSQL
type HistoryPostgres struct {
	pool *pgxpool.Pool
}

// NewHistoryPostgres creates a new PostgreSQL history repository
func NewHistoryPostgres(pool *pgxpool.Pool) *HistoryPostgres {
	return &HistoryPostgres{pool: pool}
}

// Append stores a new entry and returns its id
func (r *HistoryPostgres) Append(ctx context.Context, in entity.AppendInput) (int64, error) {
	data, err := encodeData(in.Data)
	if err != nil {
		return 0, err
	}

	query := `
		INSERT INTO entries (
			account, peer, type, timestamp, stanza_id, state, state_message,
			sender_kind, sender_nickname, sender_jid, sender_participant_id,
			recipient_nickname, recipient_jid,
			encryption_kind, encryption_fingerprint, encryption_code, data
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id
	`

	var id int64
	err = r.pool.QueryRow(ctx, query,
		in.Key.Account,
		in.Key.Peer,
		int(in.Type),
		in.Timestamp,
		in.StanzaID,
		int(in.State.Code),
		in.State.Message,
		int(in.Sender.Kind),
		in.Sender.Nickname,
		in.Sender.JID,
		in.Sender.ParticipantID,
		in.Recipient.Nickname,
		in.Recipient.JID,
		int(in.Encryption.Kind),
		in.Encryption.Fingerprint,
		in.Encryption.Code,
		data,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting entry: %w", err)
	}

	return id, nil
}

// History loads entries of one conversation in ascending id order
func (r *HistoryPostgres) History(ctx context.Context, key entity.Key, q entity.HistoryQuery) ([]entity.Entry, error) {
	var (
		query string
		args  []any
		desc  bool
	)
	base := `SELECT ` + entryColumns + ` FROM entries WHERE account = $1 AND peer = $2`

	switch q.Kind {
	case entity.QueryLast:
		query = base + ` ORDER BY id DESC LIMIT $3`
		args = []any{key.Account, key.Peer, historyLimit(q)}
		desc = true
	case entity.QueryBefore:
		query = base + ` AND id < $3 ORDER BY id DESC LIMIT $4`
		args = []any{key.Account, key.Peer, q.BeforeID, historyLimit(q)}
		desc = true
	case entity.QueryResendable:
		query = base + ` AND sender_kind = $3 AND state = ANY($4) ORDER BY id ASC`
		args = []any{key.Account, key.Peer, int(entity.SenderMe), resendableCodes()}
	case entity.QueryStanza:
		query = base + ` AND stanza_id = $3 ORDER BY id ASC`
		args = []any{key.Account, key.Peer, q.StanzaID}
	default:
		return nil, fmt.Errorf("unknown history query %d", q.Kind)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []entity.Entry
	for rows.Next() {
		e, err := scanEntryPostgres(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating history: %w", err)
	}

	if desc {
		return ascending(entries), nil
	}
	return entries, nil
}

// UpdateState moves an entry between delivery states
func (r *HistoryPostgres) UpdateState(ctx context.Context, key entity.Key, stanzaID string, from []entity.StateCode, to entity.State) (bool, error) {
	query := `
		UPDATE entries SET state = $1, state_message = $2
		WHERE account = $3 AND peer = $4 AND stanza_id = $5 AND state = ANY($6)
	`

	tag, err := r.pool.Exec(ctx, query, int(to.Code), to.Message, key.Account, key.Peer, stanzaID, codes(from))
	if err != nil {
		return false, fmt.Errorf("updating entry state: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// CorrectMessage replaces the payload of a message
func (r *HistoryPostgres) CorrectMessage(ctx context.Context, in entity.CorrectInput) (bool, error) {
	data, err := encodeData(in.Data)
	if err != nil {
		return false, err
	}

	args := []any{data, in.CorrectionStanzaID, in.CorrectionTimestamp,
		in.Key.Account, in.Key.Peer, in.StanzaID,
		int(in.Sender.Kind), in.Sender.Nickname, in.Sender.ParticipantID}
	set := `data = $1, correction_id = $2, correction_timestamp = $3`
	if in.State != nil {
		set += `, state = $10, state_message = $11`
		args = append(args, int(in.State.Code), in.State.Message)
	}

	query := `
		UPDATE entries SET ` + set + `
		WHERE account = $4 AND peer = $5 AND stanza_id = $6
			AND sender_kind = $7 AND sender_nickname = $8 AND sender_participant_id = $9
			AND NOT retracted
	`

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("correcting message: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// RetractMessage marks a message as retracted and drops its payload
func (r *HistoryPostgres) RetractMessage(ctx context.Context, in entity.RetractInput) (bool, error) {
	query := `
		UPDATE entries SET retracted = TRUE, data = '{}', correction_timestamp = $1
		WHERE account = $2 AND peer = $3 AND stanza_id = $4
			AND sender_kind = $5 AND sender_nickname = $6 AND sender_participant_id = $7
	`

	tag, err := r.pool.Exec(ctx, query,
		in.RetractionTimestamp,
		in.Key.Account, in.Key.Peer, in.StanzaID,
		int(in.Sender.Kind), in.Sender.Nickname, in.Sender.ParticipantID,
	)
	if err != nil {
		return false, fmt.Errorf("retracting message: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// MarkRead clears the unread flag on every entry of the conversation
func (r *HistoryPostgres) MarkRead(ctx context.Context, key entity.Key) (int64, error) {
	query := `
		UPDATE entries SET state = CASE state
			WHEN $1 THEN $2::int
			WHEN $3 THEN $4::int
			WHEN $5 THEN $6::int
		END
		WHERE account = $7 AND peer = $8 AND state IN ($1, $3, $5)
	`

	tag, err := r.pool.Exec(ctx, query,
		int(entity.StateIncomingUnread), int(entity.StateIncoming),
		int(entity.StateIncomingErrorUnread), int(entity.StateIncomingError),
		int(entity.StateOutgoingErrorUnread), int(entity.StateOutgoingError),
		key.Account, key.Peer,
	)
	if err != nil {
		return 0, fmt.Errorf("marking entries read: %w", err)
	}

	return tag.RowsAffected(), nil
}

// CountUnread counts incoming entries not yet seen
func (r *HistoryPostgres) CountUnread(ctx context.Context, key entity.Key) (int, error) {
	query := `SELECT COUNT(*) FROM entries WHERE account = $1 AND peer = $2 AND state = ANY($3)`

	var count int
	if err := r.pool.QueryRow(ctx, query, key.Account, key.Peer, unreadCodes()).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting unread entries: %w", err)
	}

	return count, nil
}

func scanEntryPostgres(row scanner) (entity.Entry, error) {
	var r entryRow
	err := row.Scan(
		&r.ID, &r.Account, &r.Peer, &r.Type, &r.Timestamp, &r.StanzaID, &r.State, &r.StateMessage,
		&r.SenderKind, &r.SenderNickname, &r.SenderJID, &r.SenderParticipantID,
		&r.RecipientNickname, &r.RecipientJID,
		&r.EncryptionKind, &r.EncryptionFingerprint, &r.EncryptionCode,
		&r.Data, &r.CorrectionID, &r.CorrectionTimestamp, &r.Retracted,
	)
	if err != nil {
		return entity.Entry{}, fmt.Errorf("scanning entry: %w", err)
	}
	return r.entry()
}
