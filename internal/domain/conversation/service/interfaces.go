package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

// HistoryStore defines the history operations conversations depend on
type HistoryStore interface {
	Append(ctx context.Context, in entity.AppendInput) (int64, error)
	History(ctx context.Context, key entity.Key, q entity.HistoryQuery) ([]entity.Entry, error)
	UpdateState(ctx context.Context, key entity.Key, stanzaID string, from []entity.StateCode, to entity.State) (bool, error)
	CorrectMessage(ctx context.Context, in entity.CorrectInput) (bool, error)
	RetractMessage(ctx context.Context, in entity.RetractInput) (bool, error)
}

// OptionsStore persists per-conversation options
type OptionsStore interface {
	SaveOptions(ctx context.Context, id int64, opts entity.Options) error
}

// Session is the network session of one account
type Session interface {
	// Send hands a stanza to the network. completion is called exactly once,
	// possibly on another goroutine, with the outcome.
	Send(ctx context.Context, stanza entity.Stanza, completion func(error))

	// Encode encrypts a payload for the devices of recipients
	Encode(ctx context.Context, payload []byte, recipients []string) (entity.EncodedMessage, error)

	// ConnectionState reports the current connection state
	ConnectionState() entity.ConnectionState
}

// PermissionFetcher loads the capabilities of the local user in a channel
type PermissionFetcher interface {
	Permissions(ctx context.Context, account, channel string) (entity.Permissions, error)
}

// Deps holds the collaborators shared by every conversation of an account
type Deps struct {
	History     HistoryStore
	Options     OptionsStore
	Session     Session
	Permissions PermissionFetcher
	Settings    Settings
	Logger      *slog.Logger
}

// Settings tunes conversation behaviour
type Settings struct {
	ComposingTimeout     time.Duration
	TemporaryOccupantTTL time.Duration
	Encryption           EncryptionDefaults

	// Now is the clock; nil means time.Now
	Now func() time.Time
}

// DefaultSettings returns the stock settings
func DefaultSettings() Settings {
	return Settings{
		ComposingTimeout:     entity.DefaultComposingTimeout,
		TemporaryOccupantTTL: entity.DefaultTemporaryOccupantTTL,
	}
}

func (d Deps) now() time.Time {
	if d.Settings.Now != nil {
		return d.Settings.Now()
	}
	return time.Now()
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
