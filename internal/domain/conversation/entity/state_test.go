package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allCodes = []StateCode{
	StateIncoming, StateOutgoing, StateIncomingUnread, StateOutgoingUnsent,
	StateIncomingError, StateOutgoingError, StateIncomingErrorUnread,
	StateOutgoingErrorUnread, StateOutgoingDelivered, StateOutgoingRead,
}

func TestStateTransitionsKeepDirection(t *testing.T) {
	transitions := map[string]func(State) (State, bool){
		"sent":      State.Sent,
		"delivered": State.Delivered,
		"displayed": State.Displayed,
		"read":      State.Read,
		"unread":    State.Unread,
		"retry":     State.Retry,
		"failed":    func(s State) (State, bool) { return s.Failed("boom") },
	}

	for _, code := range allCodes {
		from := MustState(int(code), "x")
		for name, transition := range transitions {
			to, _ := transition(from)
			assert.Equal(t, from.Direction(), to.Direction(), "%s from %s", name, from)
			assert.True(t, to.Code.Valid(), "%s from %s", name, from)
		}
	}
}

func TestStateLifecycle(t *testing.T) {
	unsent := State{Code: StateOutgoingUnsent}
	assert.True(t, unsent.IsUnsent())

	sent, ok := unsent.Sent()
	require.True(t, ok)
	assert.Equal(t, StateOutgoing, sent.Code)

	_, ok = sent.Sent()
	assert.False(t, ok, "sent twice")

	delivered, ok := sent.Delivered()
	require.True(t, ok)
	assert.Equal(t, StateOutgoingDelivered, delivered.Code)

	read, ok := delivered.Displayed()
	require.True(t, ok)
	assert.Equal(t, StateOutgoingRead, read.Code)

	_, ok = read.Delivered()
	assert.False(t, ok, "read never regresses to delivered")
}

func TestStateFailedPreservesUnread(t *testing.T) {
	failed, ok := State{Code: StateOutgoingUnsent}.Failed("timeout")
	require.True(t, ok)
	assert.Equal(t, State{Code: StateOutgoingError, Message: "timeout"}, failed)
	assert.True(t, failed.IsError())
	assert.False(t, failed.IsUnread())

	failed, _ = State{Code: StateIncomingUnread}.Failed("bad")
	assert.Equal(t, StateIncomingErrorUnread, failed.Code)
	assert.True(t, failed.IsUnread())

	failed, _ = State{Code: StateOutgoingErrorUnread, Message: "a"}.Failed("b")
	assert.Equal(t, StateOutgoingErrorUnread, failed.Code)
	assert.Equal(t, "b", failed.Message)
}

func TestMustState(t *testing.T) {
	assert.Equal(t, State{Code: StateOutgoingError, Message: "m"}, MustState(5, "m"))
	assert.Equal(t, State{Code: StateIncoming}, MustState(0, "dropped for non-error states"))

	for _, code := range []int{8, 10, 12, -1} {
		assert.Panics(t, func() { MustState(code, "") }, "code %d", code)
	}
}

func TestStateQueries(t *testing.T) {
	assert.Equal(t, Incoming, State{Code: StateIncomingErrorUnread}.Direction())
	assert.Equal(t, Outgoing, State{Code: StateOutgoingRead}.Direction())
	assert.True(t, State{Code: StateOutgoingError}.Resendable())
	assert.False(t, State{Code: StateOutgoingDelivered}.Resendable())
}

func TestClassifyDecryption(t *testing.T) {
	assert.Equal(t, EncryptionNone, ClassifyDecryption("", nil).Kind)
	assert.Equal(t, Decrypted("ab:cd"), ClassifyDecryption("ab:cd", nil))
	assert.Equal(t, NotForDevice(), ClassifyDecryption("", ErrNotForDevice))
	assert.Equal(t, DecryptionFailed(7), ClassifyDecryption("", &DecryptionError{Code: 7, Err: assert.AnError}))
	assert.Equal(t, DecryptionFailed(0), ClassifyDecryption("", assert.AnError))
}
