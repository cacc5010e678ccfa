package service

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
	"github.com/vadim/neo-session/internal/reconcile"
)

// Channel is a federated multi-party channel
type Channel struct {
	*State

	channelState entity.ChannelState
	permissions  entity.Permissions
	permsLoaded  bool

	participants *Directory[string, entity.Participant]
	list         *reconcile.List[entity.Participant, string]
}

// NewChannel creates a channel from its persisted record
func NewChannel(rec entity.Record, deps Deps) *Channel {
	label := "participants:" + rec.Key.String()
	c := &Channel{
		State:        newState(entity.KindChannel, rec, deps),
		participants: NewDirectory[string, entity.Participant](label),
		list: reconcile.NewList(label,
			func(p entity.Participant) string { return p.ID },
			func(a, b entity.Participant) bool { return a == b },
		),
	}
	c.list.WithParent(rec.Key)
	return c
}

// ChannelState returns the membership state
func (c *Channel) ChannelState() entity.ChannelState {
	var s entity.ChannelState
	c.q.Sync(func() { s = c.channelState })
	return s
}

// UpdateState moves the channel to a new state and drops the participants,
// which the server resends after every state change
func (c *Channel) UpdateState(state entity.ChannelState) {
	c.write(func() {
		c.channelState = state
		c.participants.Clear()
		c.list.Update(nil)
		c.publish(ChangeJoinState)
		c.publish(ChangeParticipants)
	})
}

// Permissions returns our capabilities, fetching them on first use
func (c *Channel) Permissions(ctx context.Context) (entity.Permissions, error) {
	var (
		perms  entity.Permissions
		loaded bool
	)
	c.q.Sync(func() {
		perms, loaded = slices.Clone(c.permissions), c.permsLoaded
	})
	if loaded || c.deps.Permissions == nil {
		return perms, nil
	}

	fetched, err := c.deps.Permissions.Permissions(ctx, c.key.Account, c.key.Peer)
	if err != nil {
		return nil, fmt.Errorf("fetching channel permissions: %w", err)
	}
	c.write(func() {
		c.permissions = slices.Clone(fetched)
		c.permsLoaded = true
		c.publish(ChangePermissions)
	})
	return fetched, nil
}

// InvalidatePermissions forces the next Permissions call to fetch again
func (c *Channel) InvalidatePermissions() {
	c.write(func() {
		c.permissions = nil
		c.permsLoaded = false
	})
}

// AddParticipant inserts or replaces a participant
func (c *Channel) AddParticipant(p entity.Participant) {
	p.JID = entity.NormalizeJID(p.JID)
	c.write(func() {
		c.participants.Upsert(p.ID, p)
		c.participantsChanged()
	})
}

// RemoveParticipant drops a participant
func (c *Channel) RemoveParticipant(id string) (entity.Participant, bool) {
	var (
		old     entity.Participant
		existed bool
	)
	c.write(func() {
		old, existed = c.participants.Remove(id)
		if existed {
			c.participantsChanged()
		}
	})
	return old, existed
}

// Participant returns the participant with id
func (c *Channel) Participant(id string) (entity.Participant, bool) {
	return c.participants.Get(id)
}

// Participants returns every participant ordered by nickname
func (c *Channel) Participants() []entity.Participant {
	return c.participants.List(compareParticipants)
}

// ObserveParticipants replays the ordered participant list to o
func (c *Channel) ObserveParticipants(o reconcile.Observer[entity.Participant]) (cancel func()) {
	return c.list.Observe(o)
}

// ParticipantList returns the snapshot last replayed to participant observers
func (c *Channel) ParticipantList() []entity.Participant {
	return c.list.Items()
}

// HandleParticipant applies a participant join, update or leave
func (c *Channel) HandleParticipant(st entity.Stanza) {
	if st.Left {
		c.RemoveParticipant(st.ParticipantID)
		return
	}
	c.AddParticipant(entity.Participant{ID: st.ParticipantID, Nickname: st.Nickname, JID: st.JID})
}

// Send sends a message to the channel
func (c *Channel) Send(ctx context.Context, text string) (entity.Entry, error) {
	if strings.TrimSpace(text) == "" {
		return entity.Entry{}, entity.ErrEmptyMessage
	}
	return c.sendEntry(ctx, entity.AppendInput{Type: entity.EntryMessage, Data: entity.EntryData{Text: text}})
}

// SendAttachment sends an uploaded file to the channel
func (c *Channel) SendAttachment(ctx context.Context, data entity.EntryData) (entity.Entry, error) {
	if data.URL == "" {
		return entity.Entry{}, entity.ErrEmptyMessage
	}
	return c.sendEntry(ctx, entity.AppendInput{Type: entity.EntryAttachment, Data: data})
}

func (c *Channel) sendEntry(ctx context.Context, in entity.AppendInput) (entity.Entry, error) {
	if c.ChannelState() != entity.ChannelJoined {
		return entity.Entry{}, entity.ErrNotJoined
	}
	entry, err := c.appendOutgoing(ctx, in)
	if err != nil {
		return entity.Entry{}, err
	}
	state, err := c.transmit(ctx, entry.StanzaID, entry.State, c.outbound(entry))
	entry.State = state
	return entry, err
}

// Resend transmits an unsent or failed entry again
func (c *Channel) Resend(ctx context.Context, entry entity.Entry) (entity.Entry, error) {
	if c.ChannelState() != entity.ChannelJoined {
		return entry, entity.ErrNotJoined
	}
	return c.resend(ctx, entry, c.outbound(entry))
}

// Correct replaces the text of one of our messages
func (c *Channel) Correct(ctx context.Context, stanzaID, text string) (bool, error) {
	return c.correct(ctx, stanzaID, entity.EntryData{Text: text}, c.outbound(entity.Entry{Type: entity.EntryMessage}))
}

// Retract withdraws one of our messages
func (c *Channel) Retract(ctx context.Context, stanzaID string) (bool, error) {
	return c.retract(ctx, stanzaID, entity.Stanza{Type: entity.StanzaChannel, From: c.key.Account, To: c.key.Peer})
}

// Receive handles a channel message. Our own messages come back from the
// channel and confirm the pending entry.
func (c *Channel) Receive(ctx context.Context, st entity.Stanza) (*entity.Entry, error) {
	ownID := c.Options().ParticipantID
	mine := ownID != "" && st.ParticipantID == ownID

	sender := entity.Me()
	if !mine {
		nick, jid := st.Nickname, st.JID
		if p, ok := c.Participant(st.ParticipantID); ok {
			nick = cmp.Or(p.Nickname, nick)
			jid = cmp.Or(p.JID, jid)
		}
		sender = entity.ParticipantSender(st.ParticipantID, nick, jid)
	}

	switch {
	case st.Replace != "":
		_, err := c.receiveCorrection(ctx, st, sender)
		return nil, err
	case st.Retract != "":
		_, err := c.receiveRetraction(ctx, st, sender)
		return nil, err
	}

	if mine && st.ID != "" {
		known, err := c.confirmReflection(ctx, st.ID)
		if err != nil || known {
			return nil, err
		}
	}

	in := incomingInput(st, sender, c.deps)
	if mine {
		in.State = entity.State{Code: entity.StateOutgoing}
	}
	entry, _, err := c.receive(ctx, in, !mine)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Close detaches the channel and its participant list
func (c *Channel) Close() {
	c.State.Close()
	c.list.Close()
}

func (c *Channel) outbound(entry entity.Entry) outbound {
	st := entity.Stanza{
		Type: entity.StanzaChannel,
		From: c.key.Account,
		To:   c.key.Peer,
		Body: textBody(entry.Data),
	}
	if entry.Type == entity.EntryAttachment {
		data := entry.Data
		st.Attachment = &data
	}
	return outbound{
		stanza: st,
		mode:   c.deps.Settings.Encryption.Resolve(entity.KindChannel, c.Options().Encryption),
	}
}

// participantsChanged runs under the barrier
func (c *Channel) participantsChanged() {
	c.list.Update(c.participants.List(compareParticipants))
	c.publish(ChangeParticipants)
}

func compareParticipants(a, b entity.Participant) int {
	if c := cmp.Compare(strings.ToLower(a.Nickname), strings.ToLower(b.Nickname)); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}
