package dispatch

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimerFires(t *testing.T) {
	q := NewQueue("timer")
	var timer Timer
	var fired atomic.Int32

	q.Barrier(func() {
		timer.Arm(q, 5*time.Millisecond, func() { fired.Add(1) })
	})

	assert.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, time.Millisecond)
	assert.False(t, timer.Pending())
}

func TestTimerRearmReplacesPendingFire(t *testing.T) {
	q := NewQueue("timer")
	var timer Timer
	var first, second atomic.Int32

	timer.Arm(q, 5*time.Millisecond, func() { first.Add(1) })
	timer.Arm(q, 10*time.Millisecond, func() { second.Add(1) })

	assert.Eventually(t, func() bool { return second.Load() == 1 }, time.Second, time.Millisecond)
	assert.Zero(t, first.Load())
}

func TestTimerCancelInvalidatesQueuedFire(t *testing.T) {
	q := NewQueue("timer")
	var timer Timer
	var fired atomic.Int32

	// hold the queue so the fire is queued behind the barrier when cancelled
	q.Barrier(func() {
		timer.Arm(q, time.Millisecond, func() { fired.Add(1) })
		time.Sleep(10 * time.Millisecond)
		timer.Cancel()
	})
	time.Sleep(10 * time.Millisecond)
	q.Flush()

	assert.Zero(t, fired.Load())
	assert.False(t, timer.Pending())
}
