package dao

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

const entryColumns = `id, account, peer, type, timestamp, stanza_id, state, state_message,
	sender_kind, sender_nickname, sender_jid, sender_participant_id,
	recipient_nickname, recipient_jid,
	encryption_kind, encryption_fingerprint, encryption_code,
	data, correction_id, correction_timestamp, retracted`

// scanner is satisfied by pgx.Row(s) and *sql.Row(s)
type scanner interface {
	Scan(dest ...any) error
}

// entryRow mirrors the entries table. Timestamps are filled by the backend
// specific scan since SQLite stores them as unix nanoseconds.
type entryRow struct {
	ID                    int64
	Account               string
	Peer                  string
	Type                  int
	Timestamp             time.Time
	StanzaID              string
	State                 int
	StateMessage          string
	SenderKind            int
	SenderNickname        string
	SenderJID             string
	SenderParticipantID   string
	RecipientNickname     string
	RecipientJID          string
	EncryptionKind        int
	EncryptionFingerprint string
	EncryptionCode        int
	Data                  []byte
	CorrectionID          string
	CorrectionTimestamp   *time.Time
	Retracted             bool
}

func (r *entryRow) entry() (entity.Entry, error) {
	var data entity.EntryData
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &data); err != nil {
			return entity.Entry{}, fmt.Errorf("decoding entry %d data: %w", r.ID, err)
		}
	}

	return entity.Entry{
		ID:        r.ID,
		Key:       entity.Key{Account: r.Account, Peer: r.Peer},
		Type:      entity.EntryType(r.Type),
		Timestamp: r.Timestamp,
		StanzaID:  r.StanzaID,
		State:     entity.MustState(r.State, r.StateMessage),
		Sender: entity.Sender{
			Kind:          entity.SenderKind(r.SenderKind),
			Nickname:      r.SenderNickname,
			JID:           r.SenderJID,
			ParticipantID: r.SenderParticipantID,
		},
		Recipient: entity.Recipient{Nickname: r.RecipientNickname, JID: r.RecipientJID},
		Encryption: entity.Encryption{
			Kind:        entity.EncryptionKind(r.EncryptionKind),
			Fingerprint: r.EncryptionFingerprint,
			Code:        r.EncryptionCode,
		},
		Data:                data,
		CorrectionID:        r.CorrectionID,
		CorrectionTimestamp: r.CorrectionTimestamp,
		Retracted:           r.Retracted,
	}, nil
}

func encodeData(data entity.EntryData) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding entry data: %w", err)
	}
	return raw, nil
}

func historyLimit(q entity.HistoryQuery) int {
	if q.Limit <= 0 {
		return DefaultHistoryLimit
	}
	return q.Limit
}

// ascending reverses a newest-first page
func ascending(entries []entity.Entry) []entity.Entry {
	slices.Reverse(entries)
	return entries
}

func resendableCodes() []int32 {
	return []int32{
		int32(entity.StateOutgoingUnsent),
		int32(entity.StateOutgoingError),
		int32(entity.StateOutgoingErrorUnread),
	}
}

func unreadCodes() []int32 {
	return []int32{
		int32(entity.StateIncomingUnread),
		int32(entity.StateIncomingErrorUnread),
	}
}

func codes(from []entity.StateCode) []int32 {
	out := make([]int32, len(from))
	for i, c := range from {
		out[i] = int32(c)
	}
	return out
}
