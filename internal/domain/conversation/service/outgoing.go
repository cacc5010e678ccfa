package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

// outbound is how a kind wants an entry put on the wire
type outbound struct {
	stanza     entity.Stanza
	mode       entity.EncryptionMode
	recipients []string
}

// appendOutgoing stores a new outgoing entry in the unsent state and makes it
// the latest activity
func (s *State) appendOutgoing(ctx context.Context, in entity.AppendInput) (entity.Entry, error) {
	if s.Closed() {
		return entity.Entry{}, entity.ErrConversationClosed
	}

	in.Key = s.key
	in.State = entity.State{Code: entity.StateOutgoingUnsent}
	in.Sender = entity.Me()
	in.Timestamp = s.deps.now()
	if in.StanzaID == "" {
		in.StanzaID = uuid.NewString()
	}

	// in flight from birth so a resend sweep cannot pick it up before transmit
	s.markSending(in.StanzaID)
	id, err := s.deps.History.Append(ctx, in)
	if err != nil {
		s.doneSending(in.StanzaID)
		return entity.Entry{}, fmt.Errorf("appending outgoing entry: %w", err)
	}

	entry := entryFrom(id, in)
	if a, ok := entity.ActivityFor(entry); ok {
		s.Update(a, entry.Timestamp, false)
	}
	s.publish(ChangeHistory)
	return entry, nil
}

// transmit encodes and sends an unsent entry. Encryption and network failures
// end up in the entry state; only history failures are returned. The
// returned state is the one known when transmit returns.
func (s *State) transmit(ctx context.Context, stanzaID string, current entity.State, out outbound) (entity.State, error) {
	st := out.stanza
	if st.ID == "" {
		st.ID = stanzaID
	}

	s.markSending(stanzaID)
	if out.mode == entity.EncryptionOMEMO {
		enc, err := s.deps.Session.Encode(ctx, []byte(st.Body), out.recipients)
		if err != nil {
			s.doneSending(stanzaID)
			s.log.Warn("encoding outgoing message", "stanza_id", stanzaID, "error", err)
			return s.fail(ctx, stanzaID, current, encodeFailure(s.kind, err))
		}
		st.Body = ""
		st.Encrypted = enc.Payload
	}

	// the send outlives the request that asked for it
	done := context.WithoutCancel(ctx)
	s.deps.Session.Send(done, st, func(err error) {
		s.q.Async(func() { s.completeSend(done, stanzaID, err) })
	})
	return current, nil
}

// completeSend runs under the barrier once the network reports the outcome
func (s *State) completeSend(ctx context.Context, stanzaID string, sendErr error) {
	delete(s.inflight, stanzaID)

	from := []entity.StateCode{entity.StateOutgoingUnsent}
	to := entity.State{Code: entity.StateOutgoing}
	if sendErr != nil {
		s.log.Warn("sending stanza", "stanza_id", stanzaID, "error", sendErr)
		to, _ = entity.State{Code: entity.StateOutgoingUnsent}.Failed(sendErr.Error())
	}

	ok, err := s.deps.History.UpdateState(ctx, s.key, stanzaID, from, to)
	if err != nil {
		s.log.Error("recording send completion", "stanza_id", stanzaID, "error", err)
		return
	}
	if ok {
		s.publish(ChangeHistory)
	}
}

func (s *State) markSending(stanzaID string) {
	s.q.Barrier(func() { s.inflight[stanzaID] = struct{}{} })
}

func (s *State) doneSending(stanzaID string) {
	s.q.Barrier(func() { delete(s.inflight, stanzaID) })
}

// claimSend marks stanzaID as sending. It reports false when an earlier send
// of it has not completed yet.
func (s *State) claimSend(stanzaID string) bool {
	claimed := false
	s.q.Barrier(func() {
		if _, busy := s.inflight[stanzaID]; !busy {
			s.inflight[stanzaID] = struct{}{}
			claimed = true
		}
	})
	return claimed
}

// fail moves an outgoing entry into its error state
func (s *State) fail(ctx context.Context, stanzaID string, current entity.State, msg string) (entity.State, error) {
	to, _ := current.Failed(msg)
	ok, err := s.deps.History.UpdateState(ctx, s.key, stanzaID, []entity.StateCode{current.Code}, to)
	if err != nil {
		return current, fmt.Errorf("recording send failure: %w", err)
	}
	if !ok {
		return current, nil
	}
	s.publish(ChangeHistory)
	return to, nil
}

// resend puts a failed entry back to unsent and transmits it again.
// Entries that are not ours or not resendable are left alone. An entry whose
// previous send has not completed yields ErrSendInFlight.
func (s *State) resend(ctx context.Context, entry entity.Entry, out outbound) (entity.Entry, error) {
	if s.Closed() {
		return entry, entity.ErrConversationClosed
	}
	if entry.Sender.Kind != entity.SenderMe || !entry.State.Resendable() {
		return entry, nil
	}
	if !s.claimSend(entry.StanzaID) {
		return entry, entity.ErrSendInFlight
	}

	if entry.State.IsError() {
		to, _ := entry.State.Retry()
		ok, err := s.deps.History.UpdateState(ctx, s.key, entry.StanzaID, []entity.StateCode{entry.State.Code}, to)
		if err != nil {
			s.doneSending(entry.StanzaID)
			return entry, fmt.Errorf("resetting failed entry: %w", err)
		}
		if !ok {
			s.doneSending(entry.StanzaID)
			return entry, nil
		}
		entry.State = to
		s.publish(ChangeHistory)
	}

	state, err := s.transmit(ctx, entry.StanzaID, entry.State, out)
	entry.State = state
	return entry, err
}

// correct replaces the text of one of our messages and sends the correction.
// An unknown origin id is a no-op.
func (s *State) correct(ctx context.Context, stanzaID string, data entity.EntryData, out outbound) (bool, error) {
	if s.Closed() {
		return false, entity.ErrConversationClosed
	}
	if strings.TrimSpace(data.Text) == "" {
		return false, entity.ErrEmptyMessage
	}

	unsent := entity.State{Code: entity.StateOutgoingUnsent}
	ok, err := s.deps.History.CorrectMessage(ctx, entity.CorrectInput{
		Key:                 s.key,
		StanzaID:            stanzaID,
		Sender:              entity.Me(),
		Data:                data,
		CorrectionStanzaID:  uuid.NewString(),
		CorrectionTimestamp: s.deps.now(),
		State:               &unsent,
	})
	if err != nil {
		return false, fmt.Errorf("correcting message: %w", err)
	}
	if !ok {
		return false, nil
	}
	s.publish(ChangeHistory)

	out.stanza.Body = data.Text
	out.stanza.Replace = stanzaID
	out.stanza.ID = uuid.NewString()
	if _, err := s.transmit(ctx, stanzaID, unsent, out); err != nil {
		return true, err
	}
	return true, nil
}

// retract withdraws one of our messages. An unknown origin id is a no-op.
func (s *State) retract(ctx context.Context, stanzaID string, stanza entity.Stanza) (bool, error) {
	if s.Closed() {
		return false, entity.ErrConversationClosed
	}

	ok, err := s.deps.History.RetractMessage(ctx, entity.RetractInput{
		Key:                 s.key,
		StanzaID:            stanzaID,
		Sender:              entity.Me(),
		RetractionStanzaID:  uuid.NewString(),
		RetractionTimestamp: s.deps.now(),
	})
	if err != nil {
		return false, fmt.Errorf("retracting message: %w", err)
	}
	if !ok {
		return false, nil
	}
	s.publish(ChangeHistory)

	stanza.ID = uuid.NewString()
	stanza.Retract = stanzaID
	s.fireAndForget(ctx, stanza)
	return true, nil
}

// fireAndForget sends a stanza whose outcome only matters for the log
func (s *State) fireAndForget(ctx context.Context, stanza entity.Stanza) {
	if stanza.ID == "" {
		stanza.ID = uuid.NewString()
	}
	s.deps.Session.Send(ctx, stanza, func(err error) {
		if err != nil {
			s.log.Warn("sending stanza", "type", string(stanza.Type), "stanza_id", stanza.ID, "error", err)
		}
	})
}

// sendMarker acknowledges an incoming message when the options allow it
func (s *State) sendMarker(ctx context.Context, stanza entity.Stanza) {
	if !s.Options().ConfirmMessages {
		return
	}
	s.fireAndForget(ctx, stanza)
}

func entryFrom(id int64, in entity.AppendInput) entity.Entry {
	return entity.Entry{
		ID:         id,
		Key:        in.Key,
		Type:       in.Type,
		Timestamp:  in.Timestamp,
		StanzaID:   in.StanzaID,
		State:      in.State,
		Sender:     in.Sender,
		Recipient:  in.Recipient,
		Encryption: in.Encryption,
		Data:       in.Data,
	}
}

func textBody(data entity.EntryData) string {
	if data.URL != "" {
		return data.URL
	}
	return data.Text
}
