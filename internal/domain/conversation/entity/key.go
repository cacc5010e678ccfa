package entity

import (
	"fmt"
	"strings"
)

// Key identifies a conversation: one peer within one account
type Key struct {
	Account string `json:"account"`
	Peer    string `json:"peer"`
}

// NewKey creates a key with normalized (bare, lowercased) addresses
func NewKey(account, peer string) Key {
	return Key{Account: NormalizeJID(account), Peer: NormalizeJID(peer)}
}

func (k Key) String() string {
	return k.Account + "|" + k.Peer
}

// NormalizeJID lowercases and trims an address
func NormalizeJID(jid string) string {
	return strings.ToLower(strings.TrimSpace(jid))
}

// BareJID strips the resource from an address and normalizes it
func BareJID(jid string) string {
	bare, _, _ := strings.Cut(jid, "/")
	return NormalizeJID(bare)
}

// Resource returns the part after the first "/", which is the occupant
// nickname for room addresses
func Resource(jid string) string {
	_, res, _ := strings.Cut(jid, "/")
	return res
}

// Kind is the conversation kind
type Kind int

const (
	KindChat Kind = iota
	KindRoom
	KindChannel
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindRoom:
		return "room"
	case KindChannel:
		return "channel"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind parses the string form of a Kind
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "chat":
		return KindChat, nil
	case "room":
		return KindRoom, nil
	case "channel":
		return KindChannel, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
	}
}

// Kinds lists every conversation kind
var Kinds = []Kind{KindChat, KindRoom, KindChannel}
