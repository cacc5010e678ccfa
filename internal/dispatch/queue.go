package dispatch

import (
	"fmt"
	"sync"
)

// Queue is a serial task queue guarding one owner's state.
//
// Readers run through Sync and may overlap with each other. Writers run
// through Barrier and exclude every other task. Async tasks are writers that
// execute later, in submission order, on a single drain goroutine.
type Queue struct {
	label string
	mu    sync.RWMutex

	pendingMu sync.Mutex
	pending   []func()
	draining  bool
	closed    bool
	idle      *sync.Cond
}

// NewQueue creates a queue. The label only shows up in panics and logs.
func NewQueue(label string) *Queue {
	q := &Queue{label: label}
	q.idle = sync.NewCond(&q.pendingMu)
	return q
}

// Sync runs fn as a reader.
func (q *Queue) Sync(fn func()) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	fn()
}

// Barrier runs fn with exclusive access.
func (q *Queue) Barrier(fn func()) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fn()
}

// Async schedules fn to run under the barrier after every previously
// submitted async task. Tasks submitted after Close are dropped.
func (q *Queue) Async(fn func()) {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()

	if q.closed {
		return
	}
	q.pending = append(q.pending, fn)
	if !q.draining {
		q.draining = true
		go q.drain()
	}
}

func (q *Queue) drain() {
	for {
		q.pendingMu.Lock()
		if len(q.pending) == 0 || q.closed {
			q.pending = nil
			q.draining = false
			q.idle.Broadcast()
			q.pendingMu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.pendingMu.Unlock()

		q.run(fn)
	}
}

// run executes an async task. Its panic would otherwise carry no hint of
// which owner submitted it.
func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			panic(fmt.Sprintf("dispatch queue %s: %v", q.label, r))
		}
	}()
	q.Barrier(fn)
}

// Flush blocks until every async task submitted so far has run.
// Must not be called from inside a task of the same queue.
func (q *Queue) Flush() {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	for q.draining {
		q.idle.Wait()
	}
}

// Close drops pending async tasks and rejects new ones.
func (q *Queue) Close() {
	q.pendingMu.Lock()
	q.closed = true
	q.pending = nil
	q.pendingMu.Unlock()
}

// Closed reports whether Close was called
func (q *Queue) Closed() bool {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	return q.closed
}
