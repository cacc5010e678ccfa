package dao

import (
	"context"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

// DefaultHistoryLimit is used when a query asks for no limit
const DefaultHistoryLimit = 50

// HistoryRepository defines the interface for conversation history storage
type HistoryRepository interface {
	// Append stores a new entry and returns its id
	Append(ctx context.Context, in entity.AppendInput) (int64, error)

	// History loads entries of one conversation in ascending id order
	History(ctx context.Context, key entity.Key, q entity.HistoryQuery) ([]entity.Entry, error)

	// UpdateState moves the entry with stanzaID to the given state if its
	// current state is one of from. Reports whether a row changed.
	UpdateState(ctx context.Context, key entity.Key, stanzaID string, from []entity.StateCode, to entity.State) (bool, error)

	// CorrectMessage replaces the payload of a message sent by in.Sender
	CorrectMessage(ctx context.Context, in entity.CorrectInput) (bool, error)

	// RetractMessage marks a message sent by in.Sender as retracted
	RetractMessage(ctx context.Context, in entity.RetractInput) (bool, error)

	// MarkRead clears the unread flag on every entry of the conversation
	MarkRead(ctx context.Context, key entity.Key) (int64, error)

	// CountUnread counts incoming entries not yet seen
	CountUnread(ctx context.Context, key entity.Key) (int, error)
}

// ConversationRepository defines the interface for conversation records
type ConversationRepository interface {
	// Ensure returns the record for key, creating it with default options
	Ensure(ctx context.Context, key entity.Key, kind entity.Kind) (*entity.Record, error)

	// SaveOptions persists the options of a conversation
	SaveOptions(ctx context.Context, id int64, opts entity.Options) error

	// List returns the records of an account, or of every account when
	// account is empty
	List(ctx context.Context, account string) ([]entity.Record, error)

	// Delete removes a record together with its history
	Delete(ctx context.Context, id int64) error
}
