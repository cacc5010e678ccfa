package entity

import "errors"

// Domain errors for the conversation engine
var (
	ErrConversationNotFound  = errors.New("conversation not found")
	ErrConversationClosed    = errors.New("conversation is closed")
	ErrUnknownAccount        = errors.New("unknown account")
	ErrUnsupportedKind       = errors.New("unsupported conversation kind")
	ErrEmptyMessage          = errors.New("message text cannot be empty")
	ErrNotJoined             = errors.New("conversation is not joined")
	ErrOccupantNotFound      = errors.New("occupant not found")
	ErrEntryNotFound         = errors.New("entry not found")
	ErrNoTrustedDevice       = errors.New("no trusted device")
	ErrEncryptionFailed      = errors.New("encryption failed")
	ErrEncryptionUnavailable = errors.New("encryption is unavailable")
	ErrNotConnected          = errors.New("session is not connected")
	ErrInvalidOptions        = errors.New("invalid conversation options")
	ErrStorageUnavailable    = errors.New("attachment storage is not configured")
	ErrSendInFlight          = errors.New("entry is still being sent")
)
