package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueAsyncRunsInSubmissionOrder(t *testing.T) {
	q := NewQueue("order")

	var got []int
	for i := range 100 {
		q.Async(func() { got = append(got, i) })
	}
	q.Flush()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueueBarrierExcludesReaders(t *testing.T) {
	q := NewQueue("barrier")

	var inside atomic.Int32
	var overlap atomic.Bool
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			q.Barrier(func() {
				if inside.Add(1) != 1 {
					overlap.Store(true)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
			})
		}()
		go func() {
			defer wg.Done()
			q.Sync(func() {
				if inside.Load() != 0 {
					overlap.Store(true)
				}
			})
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load())
}

func TestQueueCloseDropsPendingTasks(t *testing.T) {
	q := NewQueue("close")

	release := make(chan struct{})
	started := make(chan struct{})
	var ran atomic.Int32
	q.Async(func() {
		close(started)
		<-release
	})
	<-started
	q.Async(func() { ran.Add(1) })
	q.Close()
	close(release)
	q.Flush()

	q.Async(func() { ran.Add(1) })
	q.Flush()

	assert.True(t, q.Closed())
	assert.Zero(t, ran.Load())
}
