package dao

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

// HistorySQLite implements HistoryRepository for an embedded SQLite file
type HistorySQLite struct {
	db *sql.DB
}

// NewHistorySQLite creates a new SQLite history repository
func NewHistorySQLite(db *sql.DB) *HistorySQLite {
	return &HistorySQLite{db: db}
}

// Append stores a new entry and returns its id
func (r *HistorySQLite) Append(ctx context.Context, in entity.AppendInput) (int64, error) {
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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	res, err := r.db.ExecContext(ctx, query,
		in.Key.Account,
		in.Key.Peer,
		int(in.Type),
		in.Timestamp.UnixNano(),
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
		string(data),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting entry: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading entry id: %w", err)
	}

	return id, nil
}

// History loads entries of one conversation in ascending id order
func (r *HistorySQLite) History(ctx context.Context, key entity.Key, q entity.HistoryQuery) ([]entity.Entry, error) {
	var (
		query string
		args  []any
		desc  bool
	)
	base := `SELECT ` + entryColumns + ` FROM entries WHERE account = ? AND peer = ?`

	switch q.Kind {
	case entity.QueryLast:
		query = base + ` ORDER BY id DESC LIMIT ?`
		args = []any{key.Account, key.Peer, historyLimit(q)}
		desc = true
	case entity.QueryBefore:
		query = base + ` AND id < ? ORDER BY id DESC LIMIT ?`
		args = []any{key.Account, key.Peer, q.BeforeID, historyLimit(q)}
		desc = true
	case entity.QueryResendable:
		in, inArgs := inClause(resendableCodes())
		query = base + ` AND sender_kind = ? AND state IN ` + in + ` ORDER BY id ASC`
		args = append([]any{key.Account, key.Peer, int(entity.SenderMe)}, inArgs...)
	case entity.QueryStanza:
		query = base + ` AND stanza_id = ? ORDER BY id ASC`
		args = []any{key.Account, key.Peer, q.StanzaID}
	default:
		return nil, fmt.Errorf("unknown history query %d", q.Kind)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var entries []entity.Entry
	for rows.Next() {
		e, err := scanEntrySQLite(rows)
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
func (r *HistorySQLite) UpdateState(ctx context.Context, key entity.Key, stanzaID string, from []entity.StateCode, to entity.State) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	in, inArgs := inClause(codes(from))
	query := `
		UPDATE entries SET state = ?, state_message = ?
		WHERE account = ? AND peer = ? AND stanza_id = ? AND state IN ` + in

	args := append([]any{int(to.Code), to.Message, key.Account, key.Peer, stanzaID}, inArgs...)
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("updating entry state: %w", err)
	}

	return affected(res)
}

// CorrectMessage replaces the payload of a message
func (r *HistorySQLite) CorrectMessage(ctx context.Context, in entity.CorrectInput) (bool, error) {
	data, err := encodeData(in.Data)
	if err != nil {
		return false, err
	}

	set := `data = ?, correction_id = ?, correction_timestamp = ?`
	args := []any{string(data), in.CorrectionStanzaID, in.CorrectionTimestamp.UnixNano()}
	if in.State != nil {
		set += `, state = ?, state_message = ?`
		args = append(args, int(in.State.Code), in.State.Message)
	}
	args = append(args,
		in.Key.Account, in.Key.Peer, in.StanzaID,
		int(in.Sender.Kind), in.Sender.Nickname, in.Sender.ParticipantID)

	query := `
		UPDATE entries SET ` + set + `
		WHERE account = ? AND peer = ? AND stanza_id = ?
			AND sender_kind = ? AND sender_nickname = ? AND sender_participant_id = ?
			AND retracted = 0
	`

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("correcting message: %w", err)
	}

	return affected(res)
}

// RetractMessage marks a message as retracted and drops its payload
func (r *HistorySQLite) RetractMessage(ctx context.Context, in entity.RetractInput) (bool, error) {
	query := `
		UPDATE entries SET retracted = 1, data = '{}', correction_timestamp = ?
		WHERE account = ? AND peer = ? AND stanza_id = ?
			AND sender_kind = ? AND sender_nickname = ? AND sender_participant_id = ?
	`

	res, err := r.db.ExecContext(ctx, query,
		in.RetractionTimestamp.UnixNano(),
		in.Key.Account, in.Key.Peer, in.StanzaID,
		int(in.Sender.Kind), in.Sender.Nickname, in.Sender.ParticipantID,
	)
	if err != nil {
		return false, fmt.Errorf("retracting message: %w", err)
	}

	return affected(res)
}

// MarkRead clears the unread flag on every entry of the conversation
func (r *HistorySQLite) MarkRead(ctx context.Context, key entity.Key) (int64, error) {
	query := `
		UPDATE entries SET state = CASE state
			WHEN ? THEN ?
			WHEN ? THEN ?
			WHEN ? THEN ?
			ELSE state
		END
		WHERE account = ? AND peer = ? AND state IN (?, ?, ?)
	`

	res, err := r.db.ExecContext(ctx, query,
		int(entity.StateIncomingUnread), int(entity.StateIncoming),
		int(entity.StateIncomingErrorUnread), int(entity.StateIncomingError),
		int(entity.StateOutgoingErrorUnread), int(entity.StateOutgoingError),
		key.Account, key.Peer,
		int(entity.StateIncomingUnread), int(entity.StateIncomingErrorUnread), int(entity.StateOutgoingErrorUnread),
	)
	if err != nil {
		return 0, fmt.Errorf("marking entries read: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading affected rows: %w", err)
	}
	return n, nil
}

// CountUnread counts incoming entries not yet seen
func (r *HistorySQLite) CountUnread(ctx context.Context, key entity.Key) (int, error) {
	in, inArgs := inClause(unreadCodes())
	query := `SELECT COUNT(*) FROM entries WHERE account = ? AND peer = ? AND state IN ` + in

	var count int
	args := append([]any{key.Account, key.Peer}, inArgs...)
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting unread entries: %w", err)
	}

	return count, nil
}

func scanEntrySQLite(row scanner) (entity.Entry, error) {
	var (
		r          entryRow
		ts         int64
		correction sql.NullInt64
		data       string
	)
	err := row.Scan(
		&r.ID, &r.Account, &r.Peer, &r.Type, &ts, &r.StanzaID, &r.State, &r.StateMessage,
		&r.SenderKind, &r.SenderNickname, &r.SenderJID, &r.SenderParticipantID,
		&r.RecipientNickname, &r.RecipientJID,
		&r.EncryptionKind, &r.EncryptionFingerprint, &r.EncryptionCode,
		&data, &r.CorrectionID, &correction, &r.Retracted,
	)
	if err != nil {
		return entity.Entry{}, fmt.Errorf("scanning entry: %w", err)
	}

	r.Timestamp = time.Unix(0, ts).UTC()
	if correction.Valid {
		t := time.Unix(0, correction.Int64).UTC()
		r.CorrectionTimestamp = &t
	}
	r.Data = []byte(data)
	return r.entry()
}

func inClause(values []int32) (string, []any) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ") + ")", args
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reading affected rows: %w", err)
	}
	return n > 0, nil
}
