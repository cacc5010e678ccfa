package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
	"github.com/vadim/neo-session/internal/reconcile"
)

func newRoom(f *fixture) *Room {
	return NewRoom(record(entity.KindRoom, "room@muc.example.org"), f.deps)
}

func TestRoomMembers(t *testing.T) {
	r := newRoom(newFixture())
	assert.Equal(t, entity.RoomNotJoined, r.RoomState())

	r.UpdateState(entity.RoomJoined)
	assert.Empty(t, r.Occupants())

	r.AddOccupant(entity.Occupant{Nickname: "alice", JID: "alice@example.org", Affiliation: entity.AffiliationMember})
	assert.Equal(t, []string{"alice@example.org"}, r.Members())

	r.AddOccupant(entity.Occupant{Nickname: "alice", JID: "alice@example.org", Affiliation: entity.AffiliationOutcast})
	assert.Empty(t, r.Members())

	t.Run("outcast never becomes a member", func(t *testing.T) {
		r.AddOccupant(entity.Occupant{Nickname: "mallory", JID: "mallory@example.org", Affiliation: entity.AffiliationOutcast})
		r.AddOccupant(entity.Occupant{Nickname: "bob", JID: "bob@example.org", Affiliation: entity.AffiliationOwner})
		assert.Equal(t, []string{"bob@example.org"}, r.Members())
	})

	t.Run("members have set semantics", func(t *testing.T) {
		r.AddOccupant(entity.Occupant{Nickname: "bob", JID: "bob@example.org", Affiliation: entity.AffiliationAdmin})
		assert.Equal(t, []string{"bob@example.org"}, r.Members())
	})

	t.Run("removing an occupant drops its membership", func(t *testing.T) {
		_, ok := r.RemoveOccupant("bob")
		assert.True(t, ok)
		assert.Empty(t, r.Members())

		_, ok = r.RemoveOccupant("nobody")
		assert.False(t, ok)
	})

	t.Run("state refresh clears the directory", func(t *testing.T) {
		r.AddOccupant(entity.Occupant{Nickname: "carol", JID: "carol@example.org", Affiliation: entity.AffiliationMember})
		r.UpdateState(entity.RoomJoined)
		assert.Empty(t, r.Occupants())
		assert.Empty(t, r.Members())
	})
}

func TestRoomOccupantsSorted(t *testing.T) {
	r := newRoom(newFixture())
	for _, nick := range []string{"bob", "Alice", "carol", "alice"} {
		r.AddOccupant(entity.Occupant{Nickname: nick})
	}

	var nicks []string
	for _, o := range r.Occupants() {
		nicks = append(nicks, o.Nickname)
	}
	assert.Equal(t, []string{"Alice", "alice", "bob", "carol"}, nicks)
}

func TestRoomOccupantObserver(t *testing.T) {
	r := newRoom(newFixture())

	var (
		mu     sync.Mutex
		events []string
	)
	add := func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	}
	r.ObserveOccupants(reconcile.ObserverFuncs[entity.Occupant]{
		OnReload: func() { add("reload") },
		OnInsert: func([]int) { add("insert") },
		OnRemove: func([]int) { add("remove") },
		OnChange: func(o entity.Occupant) { add("change:" + o.Nickname) },
	})

	r.AddOccupant(entity.Occupant{Nickname: "alice", Role: entity.RoleParticipant})
	r.list.Flush()
	r.AddOccupant(entity.Occupant{Nickname: "alice", Role: entity.RoleModerator})
	r.list.Flush()
	r.RemoveOccupant("alice")
	r.list.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"reload", "insert", "change:alice", "remove"}, events)
	assert.Empty(t, r.OccupantList())
}

func TestRoomNicknameChange(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	r := newRoom(f)
	r.AddOccupant(entity.Occupant{Nickname: "alice", JID: "alice@example.org", Affiliation: entity.AffiliationMember, Presence: entity.PresenceAvailable})

	require.NoError(t, r.HandlePresence(ctx, entity.Stanza{
		Type: entity.StanzaPresence, Nickname: "alice", NewNickname: "alicia", Presence: entity.PresenceUnavailable,
	}))
	_, ok := r.Occupant("alice")
	assert.False(t, ok)
	assert.Equal(t, 1, r.TemporaryOccupants())

	require.NoError(t, r.HandlePresence(ctx, entity.Stanza{
		Type: entity.StanzaPresence, Nickname: "alicia", Presence: entity.PresenceAvailable,
	}))
	o, ok := r.Occupant("alicia")
	require.True(t, ok)
	assert.Equal(t, "alice@example.org", o.JID)
	assert.Equal(t, entity.AffiliationMember, o.Affiliation)
	assert.Zero(t, r.TemporaryOccupants())
	assert.Equal(t, []string{"alice@example.org"}, r.Members())

	t.Run("abandoned rename expires", func(t *testing.T) {
		r.AddOccupant(entity.Occupant{Nickname: "bob"})
		assert.True(t, r.BeginNicknameChange("bob", "robert"))
		assert.Zero(t, r.SweepTemporaryOccupants())

		f.clock.Advance(entity.DefaultTemporaryOccupantTTL + time.Second)
		assert.Equal(t, 1, r.SweepTemporaryOccupants())

		_, ok := r.CompleteNicknameChange(entity.Occupant{Nickname: "robert"})
		assert.False(t, ok)
	})

	t.Run("presence for an unknown nickname inserts", func(t *testing.T) {
		require.NoError(t, r.HandlePresence(ctx, entity.Stanza{Nickname: "dave", Presence: entity.PresenceAway}))
		_, ok := r.Occupant("dave")
		assert.True(t, ok)
	})
}

func TestRoomRenameExpiresOnItsOwn(t *testing.T) {
	f := newFixture()
	f.deps.Settings.TemporaryOccupantTTL = 20 * time.Millisecond
	r := newRoom(f)
	t.Cleanup(r.Close)

	r.AddOccupant(entity.Occupant{Nickname: "bob", Presence: entity.PresenceAvailable})
	require.True(t, r.BeginNicknameChange("bob", "robert"))
	require.Equal(t, 1, r.TemporaryOccupants())

	f.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return r.TemporaryOccupants() == 0 }, time.Second, 5*time.Millisecond)

	_, ok := r.CompleteNicknameChange(entity.Occupant{Nickname: "robert"})
	assert.False(t, ok)
}

func TestRoomSelfPresence(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	r := newRoom(f)
	r.UpdateState(entity.RoomRequested)
	r.AddOccupant(entity.Occupant{Nickname: "alice"})

	require.NoError(t, r.HandlePresence(ctx, entity.Stanza{
		Nickname: "me", Presence: entity.PresenceAvailable, Self: true,
		Role: entity.RoleParticipant, Affiliation: entity.AffiliationMember,
	}))
	assert.Equal(t, entity.RoomJoined, r.RoomState())
	assert.Equal(t, entity.RoleParticipant, r.Role())
	assert.Equal(t, entity.AffiliationMember, r.Affiliation())
	assert.Len(t, r.Occupants(), 2, "joining keeps occupants announced before us")

	require.NoError(t, r.HandlePresence(ctx, entity.Stanza{
		Nickname: "me", NewNickname: "myself", Presence: entity.PresenceUnavailable, Self: true,
	}))
	assert.Equal(t, "myself", r.Nickname())

	require.NoError(t, r.HandlePresence(ctx, entity.Stanza{Nickname: "myself", Presence: entity.PresenceUnavailable, Self: true}))
	assert.Equal(t, entity.RoomNotJoined, r.RoomState())
}

func TestRoomSend(t *testing.T) {
	ctx := context.Background()

	t.Run("requires a joined room", func(t *testing.T) {
		_, err := newRoom(newFixture()).Send(ctx, "hello")
		assert.ErrorIs(t, err, entity.ErrNotJoined)
	})

	t.Run("reflection confirms the pending entry", func(t *testing.T) {
		f := newFixture()
		r := newRoom(f)
		r.UpdateState(entity.RoomJoined)

		// the reflection may overtake the send completion or follow it
		entry, err := r.Send(ctx, "hello room")
		require.NoError(t, err)

		reflected, err := r.Receive(ctx, entity.Stanza{ID: entry.StanzaID, Type: entity.StanzaGroupchat, Nickname: "me", Body: "hello room"})
		require.NoError(t, err)
		assert.Nil(t, reflected)

		stored := settled(t, f, r, entry.StanzaID)
		assert.Equal(t, entity.StateOutgoing, stored.State.Code)
		assert.Len(t, f.history.all(), 1)
		assert.Zero(t, r.UnreadCount())
	})

	t.Run("falls back to plaintext without room support", func(t *testing.T) {
		f := newFixture()
		f.deps.Settings.Encryption.Room = entity.EncryptionOMEMO
		r := newRoom(f)
		r.UpdateState(entity.RoomJoined)

		_, err := r.Send(ctx, "open")
		require.NoError(t, err)
		sent := f.session.ofType(entity.StanzaGroupchat)
		require.Len(t, sent, 1)
		assert.Equal(t, "open", sent[0].Body)
		assert.Empty(t, f.session.encoded)
	})

	t.Run("encrypts for members when supported", func(t *testing.T) {
		f := newFixture()
		f.deps.Settings.Encryption.Room = entity.EncryptionOMEMO
		r := newRoom(f)
		r.UpdateState(entity.RoomJoined)
		r.SetFeatures(entity.RoomFeatures{MembersOnly: true, NonAnonymous: true})
		r.AddOccupant(entity.Occupant{Nickname: "alice", JID: "alice@example.org", Affiliation: entity.AffiliationMember})

		_, err := r.Send(ctx, "closed")
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"alice@example.org"}}, f.session.encoded)
	})

	t.Run("private message addresses one occupant", func(t *testing.T) {
		f := newFixture()
		r := newRoom(f)
		r.UpdateState(entity.RoomJoined)

		_, err := r.SendPrivate(ctx, "alice", "psst")
		assert.ErrorIs(t, err, entity.ErrOccupantNotFound)

		r.AddOccupant(entity.Occupant{Nickname: "alice", JID: "alice@example.org"})
		entry, err := r.SendPrivate(ctx, "alice", "psst")
		require.NoError(t, err)
		assert.Equal(t, entity.Recipient{Nickname: "alice", JID: "alice@example.org"}, entry.Recipient)

		sent := f.session.ofType(entity.StanzaChat)
		require.Len(t, sent, 1)
		assert.True(t, sent[0].Private)
		assert.Equal(t, "room@muc.example.org/alice", sent[0].To)
	})
}

func TestRoomReceive(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	r := newRoom(f)
	r.UpdateState(entity.RoomJoined)
	r.AddOccupant(entity.Occupant{Nickname: "alice", JID: "Alice@Example.org"})

	entry, err := r.Receive(ctx, entity.Stanza{ID: "g1", Type: entity.StanzaGroupchat, Nickname: "alice", Body: "hi all"})
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, entity.OccupantSender("alice", "alice@example.org"), entry.Sender)
	assert.Equal(t, 1, r.UnreadCount())

	a, _ := r.LastActivity()
	assert.Equal(t, "alice", a.Sender)

	private, err := r.Receive(ctx, entity.Stanza{ID: "p1", Type: entity.StanzaChat, Nickname: "alice", Body: "psst", Private: true})
	require.NoError(t, err)
	assert.Equal(t, entity.Recipient{Nickname: "me"}, private.Recipient)
	assert.Equal(t, 2, r.UnreadCount())
}
