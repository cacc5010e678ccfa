package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vadim/neo-session/internal/dispatch"
	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

// ChangeKind tags what changed on a conversation
type ChangeKind int

const (
	ChangeActivity ChangeKind = iota
	ChangeUnread
	ChangeOptions
	ChangeHistory
	ChangeChatState
	ChangeJoinState
	ChangeOccupants
	ChangeParticipants
	ChangePermissions
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeActivity:
		return "activity"
	case ChangeUnread:
		return "unread"
	case ChangeOptions:
		return "options"
	case ChangeHistory:
		return "history"
	case ChangeChatState:
		return "chat_state"
	case ChangeJoinState:
		return "join_state"
	case ChangeOccupants:
		return "occupants"
	case ChangeParticipants:
		return "participants"
	case ChangePermissions:
		return "permissions"
	default:
		return fmt.Sprintf("change(%d)", int(k))
	}
}

// Change is published to conversation subscribers
type Change struct {
	Key  entity.Key `json:"key"`
	Kind ChangeKind `json:"kind"`
}

// Snapshot is a consistent copy of the shared conversation fields
type Snapshot struct {
	ID        int64            `json:"id"`
	Key       entity.Key       `json:"key"`
	Kind      entity.Kind      `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`
	Unread    int              `json:"unread"`
	Activity  *entity.Activity `json:"activity,omitempty"`
	Options   entity.Options   `json:"options"`
}

// State is the mutable record shared by every conversation kind.
// All fields below the queue are guarded by it: writers go through
// q.Barrier, readers through q.Sync.
type State struct {
	id   int64
	key  entity.Key
	kind entity.Kind
	deps Deps
	log  *slog.Logger

	q       *dispatch.Queue
	changes *dispatch.Broadcaster[Change]

	timestamp time.Time
	unread    int
	activity  *entity.Activity
	options   entity.Options

	// stanza ids handed to the network whose completion has not arrived
	inflight map[string]struct{}

	// held across storing an unread entry and counting it, and across
	// marking history read and clearing the count
	readMu sync.Mutex
}

func newState(kind entity.Kind, rec entity.Record, deps Deps) *State {
	label := kind.String() + ":" + rec.Key.String()
	return &State{
		id:      rec.ID,
		key:     rec.Key,
		kind:    kind,
		deps:    deps,
		log:     deps.logger().With("conversation", rec.Key.String(), "kind", kind.String()),
		q:       dispatch.NewQueue(label),
		changes: dispatch.NewBroadcaster[Change](label),
		options: rec.Options,

		inflight: make(map[string]struct{}),
	}
}

// ID returns the persistence id
func (s *State) ID() int64 { return s.id }

// Key returns the conversation key
func (s *State) Key() entity.Key { return s.key }

// Kind returns the conversation kind
func (s *State) Kind() entity.Kind { return s.kind }

// Snapshot reads the shared fields in one dispatch
func (s *State) Snapshot() Snapshot {
	var snap Snapshot
	s.q.Sync(func() {
		snap = Snapshot{
			ID:        s.id,
			Key:       s.key,
			Kind:      s.kind,
			Timestamp: s.timestamp,
			Unread:    s.unread,
			Options:   s.options,
		}
		if s.activity != nil {
			a := *s.activity
			snap.Activity = &a
		}
	})
	return snap
}

// Timestamp returns the time of the last activity
func (s *State) Timestamp() time.Time {
	var ts time.Time
	s.q.Sync(func() { ts = s.timestamp })
	return ts
}

// UnreadCount returns the number of unseen entries
func (s *State) UnreadCount() int {
	var n int
	s.q.Sync(func() { n = s.unread })
	return n
}

// LastActivity returns the latest activity, if any
func (s *State) LastActivity() (entity.Activity, bool) {
	var (
		a  entity.Activity
		ok bool
	)
	s.q.Sync(func() {
		if s.activity != nil {
			a, ok = *s.activity, true
		}
	})
	return a, ok
}

// Options returns the current options
func (s *State) Options() entity.Options {
	var opts entity.Options
	s.q.Sync(func() { opts = s.options })
	return opts
}

// Closed reports whether the conversation was closed
func (s *State) Closed() bool {
	return s.q.Closed()
}

// MarkAsRead lowers the unread count by n, floored at zero.
// It is a no-op returning false when nothing is unread.
func (s *State) MarkAsRead(n int) bool {
	changed := false
	s.write(func() {
		if s.unread == 0 {
			return
		}
		s.unread = max(s.unread-n, 0)
		changed = true
		s.publish(ChangeUnread)
	})
	return changed
}

// MarkRead runs mark against the stored history and then clears the unread
// count. Incoming entries wait for it, so history and the count cannot
// disagree on which of them were read.
func (s *State) MarkRead(ctx context.Context, mark func(context.Context, entity.Key) (int64, error)) (int64, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	n, err := mark(ctx, s.key)
	if err != nil {
		return 0, err
	}
	s.MarkAsRead(s.UnreadCount())
	return n, nil
}

// MarkAsUnread raises the unread count by n
func (s *State) MarkAsUnread(n int) bool {
	if n <= 0 {
		return false
	}
	changed := false
	s.write(func() {
		s.unread += n
		changed = true
		s.publish(ChangeUnread)
	})
	return changed
}

// Update records a new activity. The unread increment always applies; the
// activity and timestamp are replaced only when none is set yet or ts is
// strictly newer than the current timestamp.
func (s *State) Update(activity entity.Activity, ts time.Time, unread bool) bool {
	changed := false
	s.write(func() {
		if unread {
			s.unread++
			changed = true
			s.publish(ChangeUnread)
		}
		if s.activity != nil && !s.timestamp.Before(ts) {
			return
		}
		s.activity = &activity
		s.timestamp = ts
		changed = true
		s.publish(ChangeActivity)
	})
	return changed
}

// Restore seeds the state loaded from history when the conversation is
// opened. It does not notify subscribers.
func (s *State) Restore(activity *entity.Activity, ts time.Time, unread int) {
	s.write(func() {
		if activity != nil {
			a := *activity
			s.activity = &a
		}
		s.timestamp = ts
		s.unread = max(unread, 0)
	})
}

// UpdateOptions applies fn to a copy of the options and persists the result
// if it differs. Reports whether anything changed.
func (s *State) UpdateOptions(ctx context.Context, fn func(*entity.Options)) (bool, error) {
	var (
		changed bool
		err     error
	)
	s.q.Barrier(func() {
		if s.q.Closed() {
			err = entity.ErrConversationClosed
			return
		}
		next := s.options
		fn(&next)
		if next == s.options {
			return
		}
		if s.deps.Options != nil {
			if err = s.deps.Options.SaveOptions(ctx, s.id, next); err != nil {
				err = fmt.Errorf("saving options: %w", err)
				return
			}
		}
		s.options = next
		changed = true
		s.publish(ChangeOptions)
	})
	return changed, err
}

// Subscribe registers fn for change notifications until cancel is called or
// the conversation is closed
func (s *State) Subscribe(fn func(Change)) (cancel func()) {
	return s.changes.Subscribe(fn)
}

// Flush waits until pending completions and notifications have been handled
func (s *State) Flush() {
	s.q.Flush()
	s.changes.Flush()
}

// Close detaches the conversation: pending completions are dropped and
// later mutations are ignored.
func (s *State) Close() {
	s.q.Barrier(func() {
		s.q.Close()
	})
	s.changes.Close()
}

// write runs fn under the barrier unless the conversation is closed
func (s *State) write(fn func()) bool {
	ran := false
	s.q.Barrier(func() {
		if s.q.Closed() {
			return
		}
		fn()
		ran = true
	})
	return ran
}

func (s *State) publish(kind ChangeKind) {
	s.changes.Publish(Change{Key: s.key, Kind: kind})
}

func (s *State) base() *State { return s }
