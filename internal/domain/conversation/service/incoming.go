package service

import (
	"context"
	"fmt"
	"time"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

// receive stores an incoming entry. A stanza id already in history is a
// retransmission and returns the stored entry with stored == false.
func (s *State) receive(ctx context.Context, in entity.AppendInput, unread bool) (entry entity.Entry, stored bool, err error) {
	if s.Closed() {
		return entity.Entry{}, false, entity.ErrConversationClosed
	}
	in.Key = s.key

	if in.StanzaID != "" {
		existing, err := s.lookup(ctx, in.StanzaID)
		if err != nil {
			return entity.Entry{}, false, err
		}
		if existing != nil {
			return *existing, false, nil
		}
	}

	if unread {
		s.readMu.Lock()
		defer s.readMu.Unlock()
	}

	if unread && s.UnreadCount() == 0 {
		if err := s.appendUnreadMarker(ctx, in); err != nil {
			return entity.Entry{}, false, err
		}
	}

	if unread && in.State.Direction() == entity.Incoming {
		in.State, _ = in.State.Unread()
	}

	id, err := s.deps.History.Append(ctx, in)
	if err != nil {
		return entity.Entry{}, false, fmt.Errorf("appending incoming entry: %w", err)
	}

	entry = entryFrom(id, in)
	if a, ok := entity.ActivityFor(entry); ok {
		s.Update(a, entry.Timestamp, unread)
	} else if unread {
		s.MarkAsUnread(1)
	}
	s.publish(ChangeHistory)
	return entry, true, nil
}

// appendUnreadMarker puts the "unread messages" divider before the first
// unread entry
func (s *State) appendUnreadMarker(ctx context.Context, next entity.AppendInput) error {
	_, err := s.deps.History.Append(ctx, entity.AppendInput{
		Key:       s.key,
		Type:      entity.EntryMarker,
		State:     entity.State{Code: entity.StateIncoming},
		Timestamp: next.Timestamp,
		Data:      entity.EntryData{Marker: entity.MarkerUnread},
	})
	if err != nil {
		return fmt.Errorf("appending unread marker: %w", err)
	}
	return nil
}

// receiveCorrection applies an incoming correction from sender
func (s *State) receiveCorrection(ctx context.Context, st entity.Stanza, sender entity.Sender) (bool, error) {
	ok, err := s.deps.History.CorrectMessage(ctx, entity.CorrectInput{
		Key:                 s.key,
		StanzaID:            st.Replace,
		Sender:              sender,
		Data:                entity.EntryData{Text: st.Body},
		CorrectionStanzaID:  st.ID,
		CorrectionTimestamp: stanzaTime(st, s.deps),
	})
	if err != nil {
		return false, fmt.Errorf("applying correction: %w", err)
	}
	if ok {
		s.publish(ChangeHistory)
	}
	return ok, nil
}

// receiveRetraction applies an incoming retraction from sender
func (s *State) receiveRetraction(ctx context.Context, st entity.Stanza, sender entity.Sender) (bool, error) {
	ok, err := s.deps.History.RetractMessage(ctx, entity.RetractInput{
		Key:                 s.key,
		StanzaID:            st.Retract,
		Sender:              sender,
		RetractionStanzaID:  st.ID,
		RetractionTimestamp: stanzaTime(st, s.deps),
	})
	if err != nil {
		return false, fmt.Errorf("applying retraction: %w", err)
	}
	if ok {
		s.publish(ChangeHistory)
	}
	return ok, nil
}

// HandleMarker applies a delivery receipt or chat marker to our message.
// Unknown ids and markers that would move the state backwards are ignored.
func (s *State) HandleMarker(ctx context.Context, marker entity.MarkerType, stanzaID string) (bool, error) {
	if s.Closed() {
		return false, entity.ErrConversationClosed
	}

	var (
		from []entity.StateCode
		to   entity.State
	)
	switch marker {
	case entity.MarkerReceived:
		from = []entity.StateCode{entity.StateOutgoingUnsent, entity.StateOutgoing}
		to = entity.State{Code: entity.StateOutgoingDelivered}
	case entity.MarkerDisplayed:
		from = []entity.StateCode{entity.StateOutgoingUnsent, entity.StateOutgoing, entity.StateOutgoingDelivered}
		to = entity.State{Code: entity.StateOutgoingRead}
	default:
		return false, nil
	}

	ok, err := s.deps.History.UpdateState(ctx, s.key, stanzaID, from, to)
	if err != nil {
		return false, fmt.Errorf("applying %s marker: %w", marker, err)
	}
	if ok {
		s.publish(ChangeHistory)
	}
	return ok, nil
}

// confirmReflection marks our own message sent when the server echoes it
// back. Reports whether stanzaID was one of ours.
func (s *State) confirmReflection(ctx context.Context, stanzaID string) (bool, error) {
	existing, err := s.lookup(ctx, stanzaID)
	if err != nil || existing == nil {
		return false, err
	}
	if existing.Sender.Kind != entity.SenderMe {
		return false, nil
	}

	ok, err := s.deps.History.UpdateState(ctx, s.key, stanzaID,
		[]entity.StateCode{entity.StateOutgoingUnsent}, entity.State{Code: entity.StateOutgoing})
	if err != nil {
		return true, fmt.Errorf("confirming reflected message: %w", err)
	}
	if ok {
		s.publish(ChangeHistory)
	}
	return true, nil
}

func (s *State) lookup(ctx context.Context, stanzaID string) (*entity.Entry, error) {
	entries, err := s.deps.History.History(ctx, s.key, entity.HistoryQuery{Kind: entity.QueryStanza, StanzaID: stanzaID})
	if err != nil {
		return nil, fmt.Errorf("looking up stanza %s: %w", stanzaID, err)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

// incomingInput builds the history record of an incoming message stanza
func incomingInput(st entity.Stanza, sender entity.Sender, deps Deps) entity.AppendInput {
	in := entity.AppendInput{
		Type:       entity.EntryMessage,
		State:      entity.State{Code: entity.StateIncoming},
		Sender:     sender,
		Encryption: st.Encryption,
		Timestamp:  stanzaTime(st, deps),
		StanzaID:   st.ID,
		Data:       entity.EntryData{Text: st.Body},
	}
	switch {
	case st.Attachment != nil:
		in.Type = entity.EntryAttachment
		in.Data = *st.Attachment
	case st.Invitation != nil:
		in.Type = entity.EntryInvitation
		in.Data = *st.Invitation
	}
	if st.Encryption.Kind == entity.EncryptionDecryptionFailed || st.Encryption.Kind == entity.EncryptionNotForDevice {
		in.State = entity.State{Code: entity.StateIncomingError, Message: st.Encryption.Kind.String()}
	}
	return in
}

// stanzaTime prefers the delayed-delivery timestamp of the stanza
func stanzaTime(st entity.Stanza, deps Deps) time.Time {
	if !st.Timestamp.IsZero() {
		return st.Timestamp
	}
	return deps.now()
}
