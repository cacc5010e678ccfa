package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
	"github.com/vadim/neo-session/internal/domain/conversation/service"
)

const account = "me@example.org"

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newConversation(kind entity.Kind, peer string) service.Conversation {
	rec := entity.Record{
		ID:      1,
		Key:     entity.NewKey(account, peer),
		Kind:    kind,
		Options: entity.DefaultOptions(),
	}
	conv, err := service.New(rec, service.Deps{Settings: service.DefaultSettings()})
	if err != nil {
		panic(err)
	}
	return conv
}

func factoryFor(kind entity.Kind, peer string) Factory {
	return func() (service.Conversation, error) {
		return newConversation(kind, peer), nil
	}
}

func message(text string) entity.Activity {
	return entity.Activity{Kind: entity.ActivityMessage, Text: text}
}

func TestRegistryOpen(t *testing.T) {
	t.Run("factory runs once per peer", func(t *testing.T) {
		r := New(account)
		var calls atomic.Int32
		factory := func() (service.Conversation, error) {
			calls.Add(1)
			return newConversation(entity.KindChat, "alice@example.org"), nil
		}

		var (
			wg      sync.WaitGroup
			created atomic.Int32
			seen    sync.Map
		)
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				conv, isNew, err := r.Open("Alice@Example.org", factory)
				if err != nil || conv == nil {
					return
				}
				if isNew {
					created.Add(1)
				}
				seen.Store(conv, true)
			}()
		}
		wg.Wait()

		assert.EqualValues(t, 1, calls.Load())
		assert.EqualValues(t, 1, created.Load())
		n := 0
		seen.Range(func(any, any) bool { n++; return true })
		assert.Equal(t, 1, n)
		assert.Equal(t, 1, r.Len())
	})

	t.Run("factory error leaves nothing behind", func(t *testing.T) {
		r := New(account)
		boom := errors.New("boom")
		_, _, err := r.Open("bob@example.org", func() (service.Conversation, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)

		_, ok := r.Get("bob@example.org")
		assert.False(t, ok)
	})
}

func TestRegistryClose(t *testing.T) {
	r := New(account)
	conv, _, err := r.Open("alice@example.org", factoryFor(entity.KindChat, "alice@example.org"))
	require.NoError(t, err)

	stranger := newConversation(entity.KindChat, "alice@example.org")
	calls := 0
	assert.False(t, r.Close(stranger, func(service.Conversation) { calls++ }))
	assert.Zero(t, calls)

	assert.True(t, r.Close(conv, func(service.Conversation) { calls++ }))
	assert.Equal(t, 1, calls)
	assert.True(t, conv.Closed())

	assert.False(t, r.Close(conv, func(service.Conversation) { calls++ }))
	assert.Equal(t, 1, calls)
	assert.Zero(t, r.Len())
}

func TestRegistryEvents(t *testing.T) {
	r := New(account)
	var (
		mu     sync.Mutex
		events []string
	)
	cancel := r.Subscribe(func(e Event) {
		mu.Lock()
		events = append(events, e.Kind.String()+":"+e.Conversation.Key().Peer)
		mu.Unlock()
	})
	defer cancel()

	conv, _, err := r.Open("alice@example.org", factoryFor(entity.KindChat, "alice@example.org"))
	require.NoError(t, err)
	_, _, err = r.Open("alice@example.org", factoryFor(entity.KindChat, "alice@example.org"))
	require.NoError(t, err)
	r.Close(conv, nil)
	r.Flush()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"opened:alice@example.org", "closed:alice@example.org"}, events)
}

func TestRegistryLastMessageTimestamp(t *testing.T) {
	r := New(account)
	assert.True(t, r.LastMessageTimestamp().IsZero())

	quiet, _, err := r.Open("quiet@example.org", factoryFor(entity.KindChat, "quiet@example.org"))
	require.NoError(t, err)
	// a timestamp without activity does not count
	quiet.Restore(nil, base.Add(time.Hour), 0)
	assert.True(t, r.LastMessageTimestamp().IsZero())

	for i, peer := range []string{"a@example.org", "b@example.org", "c@example.org"} {
		conv, _, err := r.Open(peer, factoryFor(entity.KindChat, peer))
		require.NoError(t, err)
		conv.Update(message(peer), base.Add(time.Duration([]int{2, 5, 1}[i])*time.Minute), false)
	}
	assert.Equal(t, base.Add(5*time.Minute), r.LastMessageTimestamp())
}

func TestAccounts(t *testing.T) {
	a := NewAccounts()
	first := a.Add("Me@Example.org")
	assert.Same(t, first, a.Add("me@example.org"))
	second := a.Add("work@example.org")

	for i, r := range []*Registry{first, second} {
		for j := range 2 {
			peer := fmt.Sprintf("peer%d@example.org", j)
			conv, _, err := r.Open(peer, func() (service.Conversation, error) {
				rec := entity.Record{Key: entity.NewKey(r.Account(), peer), Kind: entity.KindChat, Options: entity.DefaultOptions()}
				return service.New(rec, service.Deps{})
			})
			require.NoError(t, err)
			conv.Update(message("hi"), base.Add(time.Duration(i*10+j)*time.Minute), true)
		}
	}

	assert.Equal(t, 4, a.TotalUnread())
	assert.Equal(t, base.Add(11*time.Minute), a.LastMessageTimestamp())

	regs := a.Registries()
	require.Len(t, regs, 2)
	assert.Equal(t, "me@example.org", regs[0].Account())

	conv, ok := second.Get("peer0@example.org")
	require.True(t, ok)
	assert.True(t, a.Remove("work@example.org"))
	assert.True(t, conv.Closed())
	assert.False(t, a.Remove("work@example.org"))
	assert.Equal(t, 2, a.TotalUnread())
}
