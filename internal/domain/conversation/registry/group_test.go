package registry

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
	"github.com/vadim/neo-session/internal/domain/conversation/service"
	"github.com/vadim/neo-session/internal/reconcile"
)

func peers(snaps []service.Snapshot) []string {
	out := make([]string, len(snaps))
	for i, s := range snaps {
		out[i] = s.Key.Peer
	}
	return out
}

// settle waits until r's events and conv's changes reached g's observers
func settle(r *Registry, g *Group, convs ...service.Conversation) {
	r.Flush()
	for _, c := range convs {
		c.Flush()
	}
	g.Flush()
}

func TestGroupOrdersByActivity(t *testing.T) {
	r := New(account)
	g := NewGroup(entity.KindChat)
	defer g.Close()
	g.Track(r)

	var convs []service.Conversation
	for i, peer := range []string{"a@example.org", "b@example.org", "c@example.org"} {
		conv, _, err := r.Open(peer, factoryFor(entity.KindChat, peer))
		require.NoError(t, err)
		conv.Update(message(peer), base.Add(time.Duration(i)*time.Minute), false)
		convs = append(convs, conv)
	}
	room, _, err := r.Open("room@muc.example.org", factoryFor(entity.KindRoom, "room@muc.example.org"))
	require.NoError(t, err)
	room.Update(message("room"), base.Add(time.Hour), false)

	settle(r, g, append(convs, room)...)
	assert.Equal(t, []string{"c@example.org", "b@example.org", "a@example.org"}, peers(g.Items()))
	assert.Equal(t, 3, g.Len())

	var (
		mu     sync.Mutex
		events []string
	)
	add := func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	}
	cancel := g.Observe(reconcile.ObserverFuncs[service.Snapshot]{
		OnReload: func() { add("reload") },
		OnInsert: func(ix []int) { add(fmt.Sprintf("insert:%v", ix)) },
		OnRemove: func(ix []int) { add(fmt.Sprintf("remove:%v", ix)) },
		OnMove:   func(from, to int) { add(fmt.Sprintf("move:%d->%d", from, to)) },
		OnChange: func(s service.Snapshot) { add("change:" + s.Key.Peer) },
	})
	defer cancel()

	convs[0].Update(message("newest"), base.Add(10*time.Minute), false)
	settle(r, g, convs...)
	assert.Equal(t, []string{"a@example.org", "c@example.org", "b@example.org"}, peers(g.Items()))

	r.Close(convs[1], nil)
	settle(r, g)
	assert.Equal(t, []string{"a@example.org", "c@example.org"}, peers(g.Items()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"reload", "move:2->0", "change:a@example.org", "remove:[2]"}, events)
}

func TestGroupStaleActivityKeepsOrder(t *testing.T) {
	r := New(account)
	g := NewGroup(entity.KindChat)
	defer g.Close()
	g.Track(r)

	a, _, err := r.Open("a@example.org", factoryFor(entity.KindChat, "a@example.org"))
	require.NoError(t, err)
	b, _, err := r.Open("b@example.org", factoryFor(entity.KindChat, "b@example.org"))
	require.NoError(t, err)
	a.Update(message("a"), base.Add(2*time.Minute), false)
	b.Update(message("b"), base.Add(time.Minute), false)
	settle(r, g, a, b)

	// out of order delivery only bumps the unread counter
	b.Update(message("late"), base, true)
	settle(r, g, a, b)

	items := g.Items()
	assert.Equal(t, []string{"a@example.org", "b@example.org"}, peers(items))
	assert.Equal(t, 1, items[1].Unread)
	assert.Equal(t, "b", items[1].Activity.Text)
}

func TestGroupTracksExistingConversations(t *testing.T) {
	r := New(account)
	conv, _, err := r.Open("a@example.org", factoryFor(entity.KindChat, "a@example.org"))
	require.NoError(t, err)

	g := NewGroup(entity.KindChat)
	defer g.Close()
	g.Track(r)
	settle(r, g, conv)
	assert.Equal(t, []string{"a@example.org"}, peers(g.Items()))

	assert.False(t, g.Add(conv), "already a member")
	assert.False(t, g.Add(newConversation(entity.KindRoom, "room@muc.example.org")))
}
