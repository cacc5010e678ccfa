package dispatch

import (
	"sync"
	"time"
)

// Timer is a cancellable single-shot timer whose callback runs as an async
// task on a Queue. Arm and Cancel are meant to be called under the owner's
// barrier so the callback can never observe a state it was not armed for.
type Timer struct {
	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
}

// Arm schedules fn on q after d, replacing any pending fire.
// fn runs under q's barrier and must not re-enter q.
func (t *Timer) Arm(q *Queue, d time.Duration, fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.gen++
	gen := t.gen
	t.timer = time.AfterFunc(d, func() {
		q.Async(func() {
			if t.consume(gen) {
				fn()
			}
		})
	})
}

// Cancel invalidates any pending fire, including one already queued.
func (t *Timer) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
}

// Pending reports whether a fire is armed
func (t *Timer) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

func (t *Timer) consume(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.gen != gen {
		return false
	}
	t.timer = nil
	return true
}
