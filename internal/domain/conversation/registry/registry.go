// Package registry tracks the open conversations of each account.
package registry

import (
	"cmp"
	"slices"
	"time"

	"github.com/vadim/neo-session/internal/dispatch"
	"github.com/vadim/neo-session/internal/domain/conversation/entity"
	"github.com/vadim/neo-session/internal/domain/conversation/service"
)

// EventKind tags a registry event
type EventKind int

const (
	EventOpened EventKind = iota
	EventClosed
)

func (k EventKind) String() string {
	if k == EventClosed {
		return "closed"
	}
	return "opened"
}

// Event is published when a conversation enters or leaves the registry
type Event struct {
	Kind         EventKind
	Conversation service.Conversation
}

// Factory builds the conversation for a peer that is not open yet
type Factory func() (service.Conversation, error)

// Registry holds the open conversations of one account, keyed by peer
type Registry struct {
	account string

	q             *dispatch.Queue
	conversations map[string]service.Conversation
	events        *dispatch.Broadcaster[Event]
}

// New creates an empty registry for account
func New(account string) *Registry {
	account = entity.NormalizeJID(account)
	return &Registry{
		account:       account,
		q:             dispatch.NewQueue("registry:" + account),
		conversations: make(map[string]service.Conversation),
		events:        dispatch.NewBroadcaster[Event]("registry:" + account),
	}
}

// Account returns the account this registry serves
func (r *Registry) Account() string { return r.account }

// Open returns the conversation with peer, building it with factory when it
// is not open yet. Lookup and insert happen in one critical section, so
// factory runs at most once per peer even when callers race. factory must
// not call back into the registry.
func (r *Registry) Open(peer string, factory Factory) (conv service.Conversation, created bool, err error) {
	peer = entity.NormalizeJID(peer)
	r.q.Barrier(func() {
		if existing, ok := r.conversations[peer]; ok {
			conv = existing
			return
		}
		conv, err = factory()
		if err != nil {
			return
		}
		r.conversations[peer] = conv
		created = true
		r.events.Publish(Event{Kind: EventOpened, Conversation: conv})
	})
	return conv, created, err
}

// Close removes conv and closes it. onRemoved runs only when conv was
// actually held by the registry.
func (r *Registry) Close(conv service.Conversation, onRemoved func(service.Conversation)) bool {
	peer := conv.Key().Peer
	removed := false
	r.q.Barrier(func() {
		if held, ok := r.conversations[peer]; ok && held == conv {
			delete(r.conversations, peer)
			removed = true
		}
	})
	if !removed {
		return false
	}

	conv.Close()
	r.events.Publish(Event{Kind: EventClosed, Conversation: conv})
	if onRemoved != nil {
		onRemoved(conv)
	}
	return true
}

// Get returns the open conversation with peer
func (r *Registry) Get(peer string) (service.Conversation, bool) {
	peer = entity.NormalizeJID(peer)
	var (
		conv service.Conversation
		ok   bool
	)
	r.q.Sync(func() { conv, ok = r.conversations[peer] })
	return conv, ok
}

// Conversations returns every open conversation ordered by peer
func (r *Registry) Conversations() []service.Conversation {
	var out []service.Conversation
	r.q.Sync(func() {
		out = make([]service.Conversation, 0, len(r.conversations))
		for _, c := range r.conversations {
			out = append(out, c)
		}
	})
	slices.SortFunc(out, func(a, b service.Conversation) int {
		return cmp.Compare(a.Key().Peer, b.Key().Peer)
	})
	return out
}

// Len returns the number of open conversations
func (r *Registry) Len() int {
	var n int
	r.q.Sync(func() { n = len(r.conversations) })
	return n
}

// LastMessageTimestamp returns the newest timestamp among conversations
// that have an activity, or the zero time when none has
func (r *Registry) LastMessageTimestamp() time.Time {
	var latest time.Time
	for _, c := range r.Conversations() {
		snap := c.Snapshot()
		if snap.Activity != nil && snap.Timestamp.After(latest) {
			latest = snap.Timestamp
		}
	}
	return latest
}

// UnreadCount sums the unread counters of every open conversation
func (r *Registry) UnreadCount() int {
	total := 0
	for _, c := range r.Conversations() {
		total += c.UnreadCount()
	}
	return total
}

// Subscribe registers fn for open and close events
func (r *Registry) Subscribe(fn func(Event)) (cancel func()) {
	return r.events.Subscribe(fn)
}

// Flush waits until every event published so far has been delivered
func (r *Registry) Flush() {
	r.events.Flush()
}

// CloseAll closes every conversation and stops publishing events
func (r *Registry) CloseAll() {
	for _, c := range r.Conversations() {
		r.Close(c, nil)
	}
	r.events.Flush()
	r.events.Close()
}
