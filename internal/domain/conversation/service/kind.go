package service

import (
	"context"
	"fmt"
	"time"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

// Conversation is one of *Chat, *Room or *Channel. The set is closed: code
// that needs kind-specific behaviour goes through Visit, so a new kind
// fails to compile at every such call site until it is handled.
type Conversation interface {
	ID() int64
	Key() entity.Key
	Kind() entity.Kind
	Snapshot() Snapshot
	Timestamp() time.Time
	UnreadCount() int
	LastActivity() (entity.Activity, bool)
	Options() entity.Options

	MarkAsRead(n int) bool
	MarkRead(ctx context.Context, mark func(context.Context, entity.Key) (int64, error)) (int64, error)
	MarkAsUnread(n int) bool
	Update(activity entity.Activity, ts time.Time, unread bool) bool
	Restore(activity *entity.Activity, ts time.Time, unread int)
	UpdateOptions(ctx context.Context, fn func(*entity.Options)) (bool, error)
	Subscribe(fn func(Change)) (cancel func())

	Send(ctx context.Context, text string) (entity.Entry, error)
	SendAttachment(ctx context.Context, data entity.EntryData) (entity.Entry, error)
	Resend(ctx context.Context, entry entity.Entry) (entity.Entry, error)
	Correct(ctx context.Context, stanzaID, text string) (bool, error)
	Retract(ctx context.Context, stanzaID string) (bool, error)
	Receive(ctx context.Context, st entity.Stanza) (*entity.Entry, error)
	HandleMarker(ctx context.Context, marker entity.MarkerType, stanzaID string) (bool, error)

	Flush()
	Close()
	Closed() bool

	base() *State
}

var (
	_ Conversation = (*Chat)(nil)
	_ Conversation = (*Room)(nil)
	_ Conversation = (*Channel)(nil)
)

// Visit calls the function matching the kind of c
func Visit[R any](c Conversation, chat func(*Chat) R, room func(*Room) R, channel func(*Channel) R) R {
	switch v := c.(type) {
	case *Chat:
		return chat(v)
	case *Room:
		return room(v)
	case *Channel:
		return channel(v)
	}
	panic(fmt.Sprintf("service: unknown conversation type %T", c))
}

// New creates a conversation of the kind stored in rec
func New(rec entity.Record, deps Deps) (Conversation, error) {
	switch rec.Kind {
	case entity.KindChat:
		return NewChat(rec, deps), nil
	case entity.KindRoom:
		return NewRoom(rec, deps), nil
	case entity.KindChannel:
		return NewChannel(rec, deps), nil
	default:
		return nil, fmt.Errorf("%w: %s", entity.ErrUnsupportedKind, rec.Kind)
	}
}
