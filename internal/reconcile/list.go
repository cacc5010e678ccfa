package reconcile

import (
	"slices"
	"sync"

	"github.com/vadim/neo-session/internal/dispatch"
)

// List holds the current ordered snapshot of a collection and replays each
// new snapshot to its observers as an edit script.
//
// Snapshots are diffed on the list's own queue in submission order. When
// several snapshots arrive before the queue gets to them only the latest is
// diffed; intermediate ones are dropped, never reordered.
type List[T any, K comparable] struct {
	order  *dispatch.Queue
	id     func(T) K
	same   func(a, b T) bool
	parent any

	itemsMu sync.RWMutex
	items   []T

	nextMu    sync.Mutex
	next      []T
	scheduled bool

	obsMu     sync.Mutex
	obsNextID int
	observers map[int]Observer[T]
}

// NewList creates an empty list. same compares the content of two items with
// equal identity; nil means content changes are never reported.
func NewList[T any, K comparable](label string, id func(T) K, same func(a, b T) bool) *List[T, K] {
	return &List[T, K]{
		order:     dispatch.NewQueue(label),
		id:        id,
		same:      same,
		observers: make(map[int]Observer[T]),
	}
}

// WithParent sets the parent reported with every operation
func (l *List[T, K]) WithParent(parent any) *List[T, K] {
	l.parent = parent
	return l
}

// Items returns a copy of the current snapshot
func (l *List[T, K]) Items() []T {
	l.itemsMu.RLock()
	defer l.itemsMu.RUnlock()
	return slices.Clone(l.items)
}

// Update submits a new snapshot.
func (l *List[T, K]) Update(items []T) {
	l.nextMu.Lock()
	defer l.nextMu.Unlock()

	l.next = slices.Clone(items)
	if l.scheduled {
		return
	}
	l.scheduled = true
	l.order.Async(l.apply)
}

// Observe registers o. It is sent Reload first, ordered after any snapshot
// already submitted.
func (l *List[T, K]) Observe(o Observer[T]) (cancel func()) {
	l.obsMu.Lock()
	id := l.obsNextID
	l.obsNextID++
	l.obsMu.Unlock()

	l.order.Async(func() {
		l.obsMu.Lock()
		l.observers[id] = o
		l.obsMu.Unlock()
		o.Reload()
	})

	return func() {
		l.order.Async(func() {
			l.obsMu.Lock()
			delete(l.observers, id)
			l.obsMu.Unlock()
		})
	}
}

// Flush waits until every submitted snapshot has been replayed.
func (l *List[T, K]) Flush() {
	l.order.Flush()
}

// Close stops replaying snapshots.
func (l *List[T, K]) Close() {
	l.order.Close()
}

func (l *List[T, K]) apply() {
	l.nextMu.Lock()
	next := l.next
	l.next = nil
	l.scheduled = false
	l.nextMu.Unlock()

	l.itemsMu.Lock()
	prev := l.items
	script := Diff(prev, next, l.id)
	changed := l.changedItems(prev, next)
	l.items = next
	l.itemsMu.Unlock()

	if script.Empty() && len(changed) == 0 {
		return
	}

	for _, o := range l.snapshotObservers() {
		Emit(o, script, l.parent, changed)
	}
}

func (l *List[T, K]) changedItems(prev, next []T) []T {
	if l.same == nil {
		return nil
	}
	byID := make(map[K]T, len(prev))
	for _, v := range prev {
		byID[l.id(v)] = v
	}
	var changed []T
	for _, v := range next {
		if old, ok := byID[l.id(v)]; ok && !l.same(old, v) {
			changed = append(changed, v)
		}
	}
	return changed
}

func (l *List[T, K]) snapshotObservers() []Observer[T] {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()

	ids := make([]int, 0, len(l.observers))
	for id := range l.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]Observer[T], 0, len(ids))
	for _, id := range ids {
		out = append(out, l.observers[id])
	}
	return out
}
