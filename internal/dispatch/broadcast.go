package dispatch

import (
	"slices"
	"sync"
)

// Broadcaster fans values out to subscribers scoped to one owner.
// Publish never blocks on subscribers: values are delivered in publish order
// from the broadcaster's own queue, so it is safe to publish under a barrier.
type Broadcaster[T any] struct {
	q      *Queue
	mu     sync.Mutex
	nextID int
	subs   map[int]func(T)
}

// NewBroadcaster creates a broadcaster
func NewBroadcaster[T any](label string) *Broadcaster[T] {
	return &Broadcaster[T]{
		q:    NewQueue(label),
		subs: make(map[int]func(T)),
	}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Broadcaster[T]) Subscribe(fn func(T)) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish queues v for delivery to the current subscribers.
func (b *Broadcaster[T]) Publish(v T) {
	b.q.Async(func() {
		b.mu.Lock()
		ids := make([]int, 0, len(b.subs))
		for id := range b.subs {
			ids = append(ids, id)
		}
		b.mu.Unlock()

		slices.Sort(ids)
		for _, id := range ids {
			b.mu.Lock()
			fn, ok := b.subs[id]
			b.mu.Unlock()
			if ok {
				fn(v)
			}
		}
	})
}

// Flush waits until every published value has been delivered.
func (b *Broadcaster[T]) Flush() {
	b.q.Flush()
}

// Close drops undelivered values and detaches all subscribers.
func (b *Broadcaster[T]) Close() {
	b.q.Close()
	b.mu.Lock()
	b.subs = make(map[int]func(T))
	b.mu.Unlock()
}
