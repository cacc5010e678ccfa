package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJIDHelpers(t *testing.T) {
	assert.Equal(t, "room@muc.example.org", BareJID(" Room@MUC.example.org/Alice "))
	assert.Equal(t, "alice@example.org", BareJID("alice@example.org"))
	assert.Equal(t, "Alice", Resource("room@muc.example.org/Alice"))
	assert.Equal(t, "a/b", Resource("room@muc.example.org/a/b"))
	assert.Empty(t, Resource("alice@example.org"))

	k := NewKey("Me@Example.org", " Bob@Example.org")
	assert.Equal(t, Key{Account: "me@example.org", Peer: "bob@example.org"}, k)
	assert.Equal(t, "me@example.org|bob@example.org", k.String())
}

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		parsed, err := ParseKind(k.String())
		assert.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("forum")
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}
