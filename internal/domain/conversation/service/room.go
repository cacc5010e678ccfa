package service

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"time"

	"github.com/vadim/neo-session/internal/dispatch"
	"github.com/vadim/neo-session/internal/domain/conversation/entity"
	"github.com/vadim/neo-session/internal/reconcile"
)

// Room is a multi-user chat room
type Room struct {
	*State

	roomState   entity.RoomState
	role        entity.Role
	affiliation entity.Affiliation
	features    entity.RoomFeatures
	members     []string

	occupants *Directory[string, entity.Occupant]
	list      *reconcile.List[entity.Occupant, string]

	// drops renames whose second presence never arrives
	expiry dispatch.Timer
}

// NewRoom creates a room from its persisted record
func NewRoom(rec entity.Record, deps Deps) *Room {
	label := "occupants:" + rec.Key.String()
	r := &Room{
		State:       newState(entity.KindRoom, rec, deps),
		role:        entity.RoleNone,
		affiliation: entity.AffiliationNone,
		occupants:   NewDirectory[string, entity.Occupant](label),
		list: reconcile.NewList(label,
			func(o entity.Occupant) string { return o.Nickname },
			func(a, b entity.Occupant) bool { return a == b },
		),
	}
	r.list.WithParent(rec.Key)
	return r
}

// RoomState returns the join state
func (r *Room) RoomState() entity.RoomState {
	var s entity.RoomState
	r.q.Sync(func() { s = r.roomState })
	return s
}

// Role returns our role in the room
func (r *Room) Role() entity.Role {
	var role entity.Role
	r.q.Sync(func() { role = r.role })
	return role
}

// Affiliation returns our affiliation with the room
func (r *Room) Affiliation() entity.Affiliation {
	var a entity.Affiliation
	r.q.Sync(func() { a = r.affiliation })
	return a
}

// Features returns the room features relevant to encryption
func (r *Room) Features() entity.RoomFeatures {
	var f entity.RoomFeatures
	r.q.Sync(func() { f = r.features })
	return f
}

// Members returns the real addresses of occupants with a membership grade
func (r *Room) Members() []string {
	var out []string
	r.q.Sync(func() { out = slices.Clone(r.members) })
	return out
}

// Nickname returns our nickname in the room: the configured one, else the
// local part of the account address
func (r *Room) Nickname() string {
	if nick := r.Options().Nickname; nick != "" {
		return nick
	}
	local, _, _ := strings.Cut(r.key.Account, "@")
	return local
}

// UpdateState moves the room to a new join state. Occupants and members
// are rebuilt from scratch after every state change.
func (r *Room) UpdateState(state entity.RoomState) {
	r.write(func() {
		r.roomState = state
		r.members = nil
		r.occupants.Clear()
		r.list.Update(nil)
		r.publish(ChangeJoinState)
		r.publish(ChangeOccupants)
	})
}

// SetFeatures records the room features
func (r *Room) SetFeatures(f entity.RoomFeatures) {
	r.write(func() {
		if r.features != f {
			r.features = f
			r.publish(ChangeJoinState)
		}
	})
}

// AddOccupant inserts or replaces an occupant. A presence for an unknown
// nickname is an insert.
func (r *Room) AddOccupant(o entity.Occupant) {
	o.JID = entity.NormalizeJID(o.JID)
	r.write(func() {
		old, existed := r.occupants.Upsert(o.Nickname, o)
		if existed && old.JID != "" && old.JID != o.JID {
			r.dropMember(old.JID)
		}
		if o.JID != "" {
			if o.Affiliation.IsMember() {
				r.addMember(o.JID)
			} else {
				r.dropMember(o.JID)
			}
		}
		r.occupantsChanged()
	})
}

// RemoveOccupant drops an occupant and its membership
func (r *Room) RemoveOccupant(nickname string) (entity.Occupant, bool) {
	var (
		old     entity.Occupant
		existed bool
	)
	r.write(func() {
		old, existed = r.occupants.Remove(nickname)
		if !existed {
			return
		}
		if old.JID != "" {
			r.dropMember(old.JID)
		}
		r.occupantsChanged()
	})
	return old, existed
}

// Occupant returns the occupant with nickname
func (r *Room) Occupant(nickname string) (entity.Occupant, bool) {
	return r.occupants.Get(nickname)
}

// Occupants returns every occupant ordered by nickname, case-insensitively
func (r *Room) Occupants() []entity.Occupant {
	return r.occupants.List(compareOccupants)
}

// BeginNicknameChange stages an occupant under its old nickname until the
// presence for the new one arrives
func (r *Room) BeginNicknameChange(oldNick, newNick string) bool {
	staged := false
	r.write(func() {
		o, ok := r.occupants.Get(oldNick)
		if !ok {
			return
		}
		r.occupants.Stage(oldNick, newNick, o, r.deps.now())
		staged = true
		if !r.expiry.Pending() {
			r.armExpiry()
		}
		r.occupantsChanged()
	})
	return staged
}

// CompleteNicknameChange consumes the staged occupant waiting for
// o.Nickname. Fields missing from the new presence are carried over.
func (r *Room) CompleteNicknameChange(o entity.Occupant) (oldNick string, ok bool) {
	prev, oldNick, ok := r.occupants.Consume(o.Nickname)
	if !ok {
		return "", false
	}
	if o.JID == "" {
		o.JID = prev.JID
	}
	if o.Affiliation == "" {
		o.Affiliation = prev.Affiliation
	}
	if o.Role == "" {
		o.Role = prev.Role
	}
	r.AddOccupant(o)
	return oldNick, true
}

// SweepTemporaryOccupants drops renames whose second presence never came
func (r *Room) SweepTemporaryOccupants() int {
	return r.occupants.SweepTemporary(r.deps.now().Add(-r.temporaryTTL()))
}

// armExpiry sweeps staged renames once the TTL has passed and keeps doing so
// while any remain. Must run under the barrier.
func (r *Room) armExpiry() {
	r.expiry.Arm(r.q, r.temporaryTTL(), func() {
		if n := r.SweepTemporaryOccupants(); n > 0 {
			r.log.Debug("dropped expired nickname changes", "count", n)
		}
		if r.occupants.TemporaryLen() > 0 {
			r.armExpiry()
		}
	})
}

func (r *Room) temporaryTTL() time.Duration {
	if ttl := r.deps.Settings.TemporaryOccupantTTL; ttl > 0 {
		return ttl
	}
	return entity.DefaultTemporaryOccupantTTL
}

// TemporaryOccupants returns the number of renames in flight
func (r *Room) TemporaryOccupants() int {
	return r.occupants.TemporaryLen()
}

// ObserveOccupants replays the ordered occupant list to o
func (r *Room) ObserveOccupants(o reconcile.Observer[entity.Occupant]) (cancel func()) {
	return r.list.Observe(o)
}

// OccupantList returns the snapshot last replayed to occupant observers
func (r *Room) OccupantList() []entity.Occupant {
	return r.list.Items()
}

// HandlePresence applies an occupant presence, including our own
func (r *Room) HandlePresence(ctx context.Context, st entity.Stanza) error {
	if r.Closed() {
		return entity.ErrConversationClosed
	}

	o := entity.Occupant{
		Nickname:    st.Nickname,
		Presence:    st.Presence,
		Role:        st.Role,
		Affiliation: st.Affiliation,
		JID:         st.JID,
	}

	if st.Presence == entity.PresenceUnavailable {
		if st.NewNickname != "" {
			r.BeginNicknameChange(st.Nickname, st.NewNickname)
			if st.Self {
				_, err := r.UpdateOptions(ctx, func(opts *entity.Options) { opts.Nickname = st.NewNickname })
				return err
			}
			return nil
		}
		r.RemoveOccupant(st.Nickname)
		if st.Self {
			r.UpdateState(entity.RoomNotJoined)
		}
		return nil
	}

	if _, ok := r.CompleteNicknameChange(o); !ok {
		r.AddOccupant(o)
	}
	if st.Self {
		r.write(func() {
			r.role = st.Role
			r.affiliation = st.Affiliation
			// our own presence closes the join; occupants seen so far stay
			r.roomState = entity.RoomJoined
			r.publish(ChangeJoinState)
		})
	}
	return nil
}

// Send sends a message to the whole room
func (r *Room) Send(ctx context.Context, text string) (entity.Entry, error) {
	if strings.TrimSpace(text) == "" {
		return entity.Entry{}, entity.ErrEmptyMessage
	}
	return r.sendEntry(ctx, entity.AppendInput{Type: entity.EntryMessage, Data: entity.EntryData{Text: text}})
}

// SendAttachment sends an uploaded file to the whole room
func (r *Room) SendAttachment(ctx context.Context, data entity.EntryData) (entity.Entry, error) {
	if data.URL == "" {
		return entity.Entry{}, entity.ErrEmptyMessage
	}
	return r.sendEntry(ctx, entity.AppendInput{Type: entity.EntryAttachment, Data: data})
}

// SendPrivate sends a message to one occupant
func (r *Room) SendPrivate(ctx context.Context, nickname, text string) (entity.Entry, error) {
	if strings.TrimSpace(text) == "" {
		return entity.Entry{}, entity.ErrEmptyMessage
	}
	o, ok := r.Occupant(nickname)
	if !ok {
		return entity.Entry{}, entity.ErrOccupantNotFound
	}
	return r.sendEntry(ctx, entity.AppendInput{
		Type:      entity.EntryMessage,
		Recipient: entity.Recipient{Nickname: o.Nickname, JID: o.JID},
		Data:      entity.EntryData{Text: text},
	})
}

func (r *Room) sendEntry(ctx context.Context, in entity.AppendInput) (entity.Entry, error) {
	if r.RoomState() != entity.RoomJoined {
		return entity.Entry{}, entity.ErrNotJoined
	}
	entry, err := r.appendOutgoing(ctx, in)
	if err != nil {
		return entity.Entry{}, err
	}
	state, err := r.transmit(ctx, entry.StanzaID, entry.State, r.outbound(entry))
	entry.State = state
	return entry, err
}

// Resend transmits an unsent or failed entry again
func (r *Room) Resend(ctx context.Context, entry entity.Entry) (entity.Entry, error) {
	if r.RoomState() != entity.RoomJoined {
		return entry, entity.ErrNotJoined
	}
	return r.resend(ctx, entry, r.outbound(entry))
}

// Correct replaces the text of one of our messages
func (r *Room) Correct(ctx context.Context, stanzaID, text string) (bool, error) {
	return r.correct(ctx, stanzaID, entity.EntryData{Text: text}, r.outbound(entity.Entry{Type: entity.EntryMessage}))
}

// Retract withdraws one of our messages
func (r *Room) Retract(ctx context.Context, stanzaID string) (bool, error) {
	return r.retract(ctx, stanzaID, entity.Stanza{Type: entity.StanzaGroupchat, From: r.key.Account, To: r.key.Peer})
}

// SendDisplayed tells the room we have seen stanzaID
func (r *Room) SendDisplayed(ctx context.Context, stanzaID string) {
	r.sendMarker(ctx, entity.Stanza{
		Type:     entity.StanzaMarker,
		From:     r.key.Account,
		To:       r.key.Peer,
		Marker:   entity.MarkerDisplayed,
		MarkerID: stanzaID,
	})
}

// Receive handles a groupchat or private message. The server reflects our
// own messages back; a reflection confirms the pending entry instead of
// creating a new one.
func (r *Room) Receive(ctx context.Context, st entity.Stanza) (*entity.Entry, error) {
	own := r.Nickname()
	mine := st.Nickname == own && !st.Private

	sender := entity.Me()
	if !mine {
		jid := st.JID
		if o, ok := r.Occupant(st.Nickname); ok && o.JID != "" {
			jid = o.JID
		}
		sender = entity.OccupantSender(st.Nickname, jid)
	}

	switch {
	case st.Replace != "":
		_, err := r.receiveCorrection(ctx, st, sender)
		return nil, err
	case st.Retract != "":
		_, err := r.receiveRetraction(ctx, st, sender)
		return nil, err
	}

	if mine && st.ID != "" {
		known, err := r.confirmReflection(ctx, st.ID)
		if err != nil || known {
			return nil, err
		}
	}

	in := incomingInput(st, sender, r.deps)
	if mine {
		in.State = entity.State{Code: entity.StateOutgoing}
	}
	if st.Private {
		in.Recipient = entity.Recipient{Nickname: own}
	}

	entry, _, err := r.receive(ctx, in, !mine)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Close detaches the room and its occupant list
func (r *Room) Close() {
	r.q.Barrier(func() { r.expiry.Cancel() })
	r.State.Close()
	r.list.Close()
}

func (r *Room) outbound(entry entity.Entry) outbound {
	st := entity.Stanza{
		Type:     entity.StanzaGroupchat,
		From:     r.key.Account,
		To:       r.key.Peer,
		Body:     textBody(entry.Data),
		Markable: true,
	}
	if entry.Type == entity.EntryAttachment {
		data := entry.Data
		st.Attachment = &data
	}

	var (
		features   entity.RoomFeatures
		recipients []string
	)
	r.q.Sync(func() {
		features = r.features
		recipients = slices.Clone(r.members)
	})

	if !entry.Recipient.IsNone() {
		st.Type = entity.StanzaChat
		st.To = r.key.Peer + "/" + entry.Recipient.Nickname
		st.Nickname = entry.Recipient.Nickname
		st.Private = true
		recipients = nil
		if entry.Recipient.JID != "" {
			recipients = []string{entry.Recipient.JID}
		}
	}

	mode := r.deps.Settings.Encryption.Resolve(entity.KindRoom, r.Options().Encryption)
	if mode == entity.EncryptionOMEMO && !features.SupportsOMEMO() {
		mode = entity.EncryptionPlain
	}

	return outbound{stanza: st, mode: mode, recipients: recipients}
}

// addMember and dropMember run under the barrier
func (r *Room) addMember(jid string) {
	if !slices.Contains(r.members, jid) {
		r.members = append(r.members, jid)
	}
}

func (r *Room) dropMember(jid string) {
	r.members = slices.DeleteFunc(r.members, func(m string) bool { return m == jid })
}

// occupantsChanged runs under the barrier so snapshots reach the list in
// mutation order
func (r *Room) occupantsChanged() {
	r.list.Update(r.occupants.List(compareOccupants))
	r.publish(ChangeOccupants)
}

func compareOccupants(a, b entity.Occupant) int {
	if c := cmp.Compare(strings.ToLower(a.Nickname), strings.ToLower(b.Nickname)); c != 0 {
		return c
	}
	return cmp.Compare(a.Nickname, b.Nickname)
}
