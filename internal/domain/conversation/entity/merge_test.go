package entity

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func message(id int64, ts time.Time, text string) Entry {
	return Entry{
		ID:        id,
		Key:       NewKey("me@example.org", "juliet@example.org"),
		Type:      EntryMessage,
		Timestamp: ts,
		StanzaID:  fmt.Sprintf("s%d", id),
		State:     State{Code: StateIncoming},
		Sender:    Buddy(),
		Data:      EntryData{Text: text},
	}
}

func TestCanMerge(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	window := MergeSmart.Window(DefaultMergeWindows())
	prev := message(1, now, "hi")

	tests := []struct {
		name   string
		mutate func(e *Entry)
		want   bool
	}{
		{"close in time", func(e *Entry) {}, true},
		{"outside window", func(e *Entry) { e.Timestamp = now.Add(30 * time.Second) }, false},
		{"earlier than previous", func(e *Entry) { e.Timestamp = now.Add(-time.Second) }, false},
		{"me action", func(e *Entry) { e.Data.Text = "/me waves" }, false},
		{"other conversation", func(e *Entry) { e.Key.Peer = "romeo@example.org" }, false},
		{"other direction", func(e *Entry) { e.State = State{Code: StateOutgoing} }, false},
		{"other sender", func(e *Entry) { e.Sender = OccupantSender("nurse", "") }, false},
		{"other recipient", func(e *Entry) { e.Recipient = Recipient{Nickname: "nurse"} }, false},
		{"other encryption class", func(e *Entry) { e.Encryption = Decrypted("aa") }, false},
		{"marker", func(e *Entry) { e.Type = EntryMarker }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := message(2, now.Add(10*time.Second), "there")
			tt.mutate(&next)
			assert.Equal(t, tt.want, CanMerge(prev, next, window))
		})
	}
}

func TestCanMergeEncryptionComparesClassOnly(t *testing.T) {
	now := time.Now()
	a := message(1, now, "a")
	a.Encryption = Decrypted("fingerprint-1")
	b := message(2, now.Add(time.Second), "b")
	b.Encryption = Decrypted("fingerprint-2")
	assert.True(t, CanMerge(a, b, DefaultSmartMergeWindow))
}

func TestMergePolicyWindows(t *testing.T) {
	w := DefaultMergeWindows()
	assert.Equal(t, MergeDisabled, MergeNone.Window(w))
	assert.Equal(t, 24*time.Hour, MergeAlways.Window(w))
	assert.Equal(t, 30*time.Second, MergeSmart.Window(w))

	now := time.Now()
	a, b := message(1, now, "a"), message(2, now.Add(time.Hour), "b")
	assert.False(t, CanMerge(a, b, MergeNone.Window(w)))
	assert.False(t, CanMerge(a, b, MergeSmart.Window(w)))
	assert.True(t, CanMerge(a, b, MergeAlways.Window(w)))
}

func TestCanMergeNeverSelfOrCrossConversation(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	base := time.Now()
	for i := 0; i < 500; i++ {
		e := message(int64(rng.Intn(10)), base.Add(time.Duration(rng.Intn(60))*time.Second), "x")
		assert.False(t, CanMerge(e, e, DefaultAlwaysMergeWindow))

		other := message(e.ID+1, e.Timestamp.Add(time.Second), "y")
		other.Key = NewKey("me@example.org", "someone-else@example.org")
		assert.False(t, CanMerge(e, other, DefaultAlwaysMergeWindow))
	}
}
