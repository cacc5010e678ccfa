package registry

import (
	"slices"
	"strings"

	"github.com/vadim/neo-session/internal/dispatch"
	"github.com/vadim/neo-session/internal/domain/conversation/entity"
	"github.com/vadim/neo-session/internal/domain/conversation/service"
	"github.com/vadim/neo-session/internal/reconcile"
)

type member struct {
	conv   service.Conversation
	cancel func()
}

// Group is the ordered list of open conversations of one kind, newest
// activity first. It follows registries for opens and closes and each
// member conversation for activity, unread and option changes, and replays
// the resulting order to its observers.
type Group struct {
	kind entity.Kind

	q       *dispatch.Queue
	members map[entity.Key]member
	tracked []func()

	list *reconcile.List[service.Snapshot, entity.Key]
}

// NewGroup creates an empty group for kind
func NewGroup(kind entity.Kind) *Group {
	label := "group:" + kind.String()
	return &Group{
		kind:    kind,
		q:       dispatch.NewQueue(label),
		members: make(map[entity.Key]member),
		list: reconcile.NewList(label,
			func(s service.Snapshot) entity.Key { return s.Key },
			sameSnapshot,
		).WithParent(kind),
	}
}

// Kind returns the conversation kind held by the group
func (g *Group) Kind() entity.Kind { return g.kind }

// Track follows r: conversations of the group's kind that are open now or
// opened later join the group, closed ones leave it.
func (g *Group) Track(r *Registry) (cancel func()) {
	cancel = r.Subscribe(func(e Event) {
		switch e.Kind {
		case EventOpened:
			g.Add(e.Conversation)
		case EventClosed:
			g.Remove(e.Conversation.Key())
		}
	})
	g.q.Barrier(func() { g.tracked = append(g.tracked, cancel) })

	for _, c := range r.Conversations() {
		g.Add(c)
	}
	return cancel
}

// Add inserts c when it has the group's kind and is still open
func (g *Group) Add(c service.Conversation) bool {
	if c.Kind() != g.kind || c.Closed() {
		return false
	}
	key := c.Key()
	added := false
	g.q.Barrier(func() {
		if _, ok := g.members[key]; ok {
			return
		}
		cancel := c.Subscribe(func(ch service.Change) {
			switch ch.Kind {
			case service.ChangeActivity, service.ChangeUnread, service.ChangeOptions:
				g.refresh()
			}
		})
		g.members[key] = member{conv: c, cancel: cancel}
		g.publish()
		added = true
	})
	return added
}

// Remove drops the conversation with key
func (g *Group) Remove(key entity.Key) bool {
	removed := false
	g.q.Barrier(func() {
		m, ok := g.members[key]
		if !ok {
			return
		}
		m.cancel()
		delete(g.members, key)
		g.publish()
		removed = true
	})
	return removed
}

// Items returns the current ordered snapshot
func (g *Group) Items() []service.Snapshot {
	return g.list.Items()
}

// Len returns the number of member conversations
func (g *Group) Len() int {
	var n int
	g.q.Sync(func() { n = len(g.members) })
	return n
}

// Observe registers o; it is reloaded first
func (g *Group) Observe(o reconcile.Observer[service.Snapshot]) (cancel func()) {
	return g.list.Observe(o)
}

// Flush waits until every submitted order has been replayed to observers
func (g *Group) Flush() {
	g.list.Flush()
}

// Close stops following registries and conversations
func (g *Group) Close() {
	g.q.Barrier(func() {
		for _, cancel := range g.tracked {
			cancel()
		}
		g.tracked = nil
		for key, m := range g.members {
			m.cancel()
			delete(g.members, key)
		}
	})
	g.list.Close()
}

func (g *Group) refresh() {
	g.q.Barrier(g.publish)
}

// publish runs under the barrier
func (g *Group) publish() {
	snaps := make([]service.Snapshot, 0, len(g.members))
	for _, m := range g.members {
		snaps = append(snaps, m.conv.Snapshot())
	}
	slices.SortFunc(snaps, compareSnapshots)
	g.list.Update(snaps)
}

// compareSnapshots orders by timestamp, newest first, then by key
func compareSnapshots(a, b service.Snapshot) int {
	if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
		return c
	}
	if c := strings.Compare(a.Key.Account, b.Key.Account); c != 0 {
		return c
	}
	return strings.Compare(a.Key.Peer, b.Key.Peer)
}

func sameSnapshot(a, b service.Snapshot) bool {
	if !a.Timestamp.Equal(b.Timestamp) || a.Unread != b.Unread || a.Options != b.Options {
		return false
	}
	if (a.Activity == nil) != (b.Activity == nil) {
		return false
	}
	return a.Activity == nil || *a.Activity == *b.Activity
}
