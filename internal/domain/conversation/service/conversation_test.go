package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

func TestMarkAsRead(t *testing.T) {
	f := newFixture()
	c := NewChat(record(entity.KindChat, "alice@example.org"), f.deps)

	assert.False(t, c.MarkAsRead(1), "nothing unread")

	c.MarkAsUnread(3)
	assert.True(t, c.MarkAsRead(5))
	assert.Equal(t, 0, c.UnreadCount())

	assert.False(t, c.MarkAsRead(1))
	assert.Equal(t, 0, c.UnreadCount())

	c.MarkAsUnread(4)
	assert.True(t, c.MarkAsRead(1))
	assert.Equal(t, 3, c.UnreadCount())
}

func TestMarkReadHoldsBackIncoming(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	c := newChat(f)

	_, err := c.Receive(ctx, entity.Stanza{ID: "m1", Type: entity.StanzaChat, From: "alice@example.org", Body: "hi"})
	require.NoError(t, err)
	require.Equal(t, 1, c.UnreadCount())

	received := make(chan struct{})
	n, err := c.MarkRead(ctx, func(ctx context.Context, key entity.Key) (int64, error) {
		assert.Equal(t, c.Key(), key)
		go func() {
			defer close(received)
			_, err := c.Receive(ctx, entity.Stanza{ID: "m2", Type: entity.StanzaChat, From: "alice@example.org", Body: "again"})
			assert.NoError(t, err)
		}()
		select {
		case <-received:
			t.Error("incoming entry stored while history was being marked read")
		case <-time.After(20 * time.Millisecond):
		}
		return 1, nil
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	<-received
	assert.Equal(t, 1, c.UnreadCount(), "the later entry stays unread")
	stored, ok := f.history.byStanza("m2")
	require.True(t, ok)
	assert.Equal(t, entity.StateIncomingUnread, stored.State.Code)
}

func TestMarkReadFailureKeepsCount(t *testing.T) {
	f := newFixture()
	c := newChat(f)
	c.MarkAsUnread(2)

	_, err := c.MarkRead(context.Background(), func(context.Context, entity.Key) (int64, error) {
		return 0, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.Equal(t, 2, c.UnreadCount())
}

func TestUpdate(t *testing.T) {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	first := entity.Activity{Kind: entity.ActivityMessage, Text: "first"}
	second := entity.Activity{Kind: entity.ActivityMessage, Text: "second"}

	t.Run("first activity is always taken", func(t *testing.T) {
		c := NewChat(record(entity.KindChat, "alice@example.org"), newFixture().deps)
		past := base.Add(-24 * time.Hour)

		assert.True(t, c.Update(first, past, true))

		a, ok := c.LastActivity()
		require.True(t, ok)
		assert.Equal(t, first, a)
		assert.Equal(t, past, c.Timestamp())
		assert.Equal(t, 1, c.UnreadCount())
	})

	t.Run("older or equal timestamp keeps the activity but counts unread", func(t *testing.T) {
		c := NewChat(record(entity.KindChat, "alice@example.org"), newFixture().deps)
		c.Update(first, base, false)

		c.Update(second, base, true)
		c.Update(second, base.Add(-time.Second), true)

		a, _ := c.LastActivity()
		assert.Equal(t, first, a)
		assert.Equal(t, base, c.Timestamp())
		assert.Equal(t, 2, c.UnreadCount())
	})

	t.Run("strictly newer timestamp wins", func(t *testing.T) {
		c := NewChat(record(entity.KindChat, "alice@example.org"), newFixture().deps)
		c.Update(first, base, false)
		c.Update(second, base.Add(time.Nanosecond), false)

		a, _ := c.LastActivity()
		assert.Equal(t, second, a)
		assert.Zero(t, c.UnreadCount())
	})

	t.Run("out of order delivery settles on the newest", func(t *testing.T) {
		c := NewChat(record(entity.KindChat, "alice@example.org"), newFixture().deps)
		var wg sync.WaitGroup
		for i := range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.Update(entity.Activity{Text: time.Duration(i).String()}, base.Add(time.Duration(i)), true)
			}()
		}
		wg.Wait()

		assert.Equal(t, base.Add(49), c.Timestamp())
		assert.Equal(t, 50, c.UnreadCount())
	})
}

func TestUpdateOptions(t *testing.T) {
	f := newFixture()
	c := NewChat(record(entity.KindChat, "alice@example.org"), f.deps)

	var changes []ChangeKind
	var mu sync.Mutex
	c.Subscribe(func(ch Change) {
		mu.Lock()
		changes = append(changes, ch.Kind)
		mu.Unlock()
	})

	changed, err := c.UpdateOptions(context.Background(), func(o *entity.Options) {
		o.ConfirmMessages = true
	})
	require.NoError(t, err)
	assert.False(t, changed, "unchanged options are not saved")
	assert.Empty(t, f.options.saved)

	changed, err = c.UpdateOptions(context.Background(), func(o *entity.Options) {
		o.Encryption = entity.EncryptionOMEMO
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, entity.EncryptionOMEMO, f.options.saved[1].Encryption)
	assert.Equal(t, entity.EncryptionOMEMO, c.Options().Encryption)

	c.Flush()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ChangeKind{ChangeOptions}, changes)
}

func TestClosedConversationIgnoresMutations(t *testing.T) {
	f := newFixture()
	c := NewChat(record(entity.KindChat, "alice@example.org"), f.deps)
	c.MarkAsUnread(2)
	c.Close()

	assert.True(t, c.Closed())
	assert.False(t, c.MarkAsRead(1))
	assert.False(t, c.Update(entity.Activity{Text: "late"}, time.Now(), true))
	assert.Equal(t, 2, c.UnreadCount())

	_, err := c.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, entity.ErrConversationClosed)

	_, err = c.UpdateOptions(context.Background(), func(o *entity.Options) { o.Nickname = "x" })
	assert.ErrorIs(t, err, entity.ErrConversationClosed)
}

func TestSnapshotIsConsistent(t *testing.T) {
	f := newFixture()
	c := NewRoom(record(entity.KindRoom, "room@muc.example.org"), f.deps)
	ts := f.clock.Now()
	c.Update(entity.Activity{Text: "hi"}, ts, true)

	snap := c.Snapshot()
	assert.Equal(t, int64(1), snap.ID)
	assert.Equal(t, entity.KindRoom, snap.Kind)
	assert.Equal(t, ts, snap.Timestamp)
	assert.Equal(t, 1, snap.Unread)
	require.NotNil(t, snap.Activity)
	assert.Equal(t, "hi", snap.Activity.Text)
}
