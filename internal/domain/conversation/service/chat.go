package service

import (
	"context"
	"strings"
	"time"

	"github.com/vadim/neo-session/internal/dispatch"
	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

// Chat is a one-to-one conversation
type Chat struct {
	*State

	remote    entity.ChatState
	local     entity.ChatState
	composing dispatch.Timer
}

// NewChat creates a direct chat from its persisted record
func NewChat(rec entity.Record, deps Deps) *Chat {
	return &Chat{
		State:  newState(entity.KindChat, rec, deps),
		remote: entity.ChatActive,
		local:  entity.ChatActive,
	}
}

// RemoteChatState returns the typing state of the buddy
func (c *Chat) RemoteChatState() entity.ChatState {
	var s entity.ChatState
	c.q.Sync(func() { s = c.remote })
	return s
}

// LocalChatState returns the typing state we last announced
func (c *Chat) LocalChatState() entity.ChatState {
	var s entity.ChatState
	c.q.Sync(func() { s = c.local })
	return s
}

// SetRemoteChatState records the buddy's typing state. Composing reverts
// to active on its own unless refreshed within the composing timeout.
func (c *Chat) SetRemoteChatState(state entity.ChatState) bool {
	changed := false
	c.write(func() {
		c.composing.Cancel()
		if state == entity.ChatComposing {
			c.composing.Arm(c.q, c.composingTimeout(), func() {
				if c.remote == entity.ChatComposing {
					c.remote = entity.ChatActive
					c.publish(ChangeChatState)
				}
			})
		}
		if c.remote != state {
			c.remote = state
			changed = true
			c.publish(ChangeChatState)
		}
	})
	return changed
}

// SetLocalChatState announces our typing state. Nothing is sent when the
// state is unchanged or the session is offline.
func (c *Chat) SetLocalChatState(ctx context.Context, state entity.ChatState) bool {
	changed := false
	c.write(func() {
		if c.local != state {
			c.local = state
			changed = true
		}
	})
	if !changed || c.deps.Session.ConnectionState() != entity.Connected {
		return changed
	}

	c.fireAndForget(ctx, entity.Stanza{
		Type:      entity.StanzaChatState,
		From:      c.key.Account,
		To:        c.key.Peer,
		ChatState: state,
	})
	return changed
}

// Send sends a text message
func (c *Chat) Send(ctx context.Context, text string) (entity.Entry, error) {
	if strings.TrimSpace(text) == "" {
		return entity.Entry{}, entity.ErrEmptyMessage
	}
	return c.sendEntry(ctx, entity.AppendInput{
		Type: entity.EntryMessage,
		Data: entity.EntryData{Text: text},
	})
}

// SendAttachment sends an uploaded file
func (c *Chat) SendAttachment(ctx context.Context, data entity.EntryData) (entity.Entry, error) {
	if data.URL == "" {
		return entity.Entry{}, entity.ErrEmptyMessage
	}
	return c.sendEntry(ctx, entity.AppendInput{Type: entity.EntryAttachment, Data: data})
}

func (c *Chat) sendEntry(ctx context.Context, in entity.AppendInput) (entity.Entry, error) {
	entry, err := c.appendOutgoing(ctx, in)
	if err != nil {
		return entity.Entry{}, err
	}
	c.write(func() { c.local = entity.ChatActive })

	state, err := c.transmit(ctx, entry.StanzaID, entry.State, c.outbound(entry))
	entry.State = state
	return entry, err
}

// Resend transmits an unsent or failed entry again
func (c *Chat) Resend(ctx context.Context, entry entity.Entry) (entity.Entry, error) {
	return c.resend(ctx, entry, c.outbound(entry))
}

// Correct replaces the text of one of our messages
func (c *Chat) Correct(ctx context.Context, stanzaID, text string) (bool, error) {
	return c.correct(ctx, stanzaID, entity.EntryData{Text: text}, c.outbound(entity.Entry{Type: entity.EntryMessage}))
}

// Retract withdraws one of our messages
func (c *Chat) Retract(ctx context.Context, stanzaID string) (bool, error) {
	return c.retract(ctx, stanzaID, entity.Stanza{Type: entity.StanzaChat, From: c.key.Account, To: c.key.Peer})
}

// SendDisplayed tells the buddy we have seen stanzaID
func (c *Chat) SendDisplayed(ctx context.Context, stanzaID string) {
	c.sendMarker(ctx, entity.Stanza{
		Type:     entity.StanzaMarker,
		From:     c.key.Account,
		To:       c.key.Peer,
		Marker:   entity.MarkerDisplayed,
		MarkerID: stanzaID,
	})
}

// Receive handles a message stanza from the buddy, or a carbon copy of one
// we sent from another device. It returns the stored entry, or nil when the
// stanza only amended existing history.
func (c *Chat) Receive(ctx context.Context, st entity.Stanza) (*entity.Entry, error) {
	sender := entity.Buddy()
	if st.Self {
		sender = entity.Me()
	} else {
		next := st.ChatState
		if next == "" {
			next = entity.ChatActive
		}
		c.SetRemoteChatState(next)
	}

	switch {
	case st.Replace != "":
		_, err := c.receiveCorrection(ctx, st, sender)
		return nil, err
	case st.Retract != "":
		_, err := c.receiveRetraction(ctx, st, sender)
		return nil, err
	}

	in := incomingInput(st, sender, c.deps)
	if st.Self {
		in.State = entity.State{Code: entity.StateOutgoing}
	}
	entry, stored, err := c.receive(ctx, in, !st.Self)
	if err != nil {
		return nil, err
	}

	if stored && st.Markable && !st.Self {
		c.sendMarker(ctx, entity.Stanza{
			Type:     entity.StanzaMarker,
			From:     c.key.Account,
			To:       c.key.Peer,
			Marker:   entity.MarkerReceived,
			MarkerID: st.ID,
		})
	}
	return &entry, nil
}

// Close stops the composing timer and detaches the chat
func (c *Chat) Close() {
	c.q.Barrier(func() { c.composing.Cancel() })
	c.State.Close()
}

func (c *Chat) outbound(entry entity.Entry) outbound {
	st := entity.Stanza{
		Type:      entity.StanzaChat,
		From:      c.key.Account,
		To:        c.key.Peer,
		Body:      textBody(entry.Data),
		Markable:  true,
		ChatState: entity.ChatActive,
	}
	if entry.Type == entity.EntryAttachment {
		data := entry.Data
		st.Attachment = &data
	}

	return outbound{
		stanza:     st,
		mode:       c.deps.Settings.Encryption.Resolve(entity.KindChat, c.Options().Encryption),
		recipients: []string{c.key.Peer},
	}
}

func (c *Chat) composingTimeout() time.Duration {
	if c.deps.Settings.ComposingTimeout > 0 {
		return c.deps.Settings.ComposingTimeout
	}
	return entity.DefaultComposingTimeout
}
