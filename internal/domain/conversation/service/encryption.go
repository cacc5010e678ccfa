package service

import (
	"errors"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

// EncryptionDefaults are the fallbacks consulted when a conversation has no
// explicit encryption preference
type EncryptionDefaults struct {
	Global entity.EncryptionMode
	Chat   entity.EncryptionMode
	Room   entity.EncryptionMode
}

// Resolve picks the effective mode: the conversation override, then the
// per-kind default, then the global default. Channels are never encrypted.
func (d EncryptionDefaults) Resolve(kind entity.Kind, override entity.EncryptionMode) entity.EncryptionMode {
	if kind == entity.KindChannel {
		return entity.EncryptionPlain
	}
	if override != entity.EncryptionDefault {
		return override
	}

	perKind := entity.EncryptionDefault
	switch kind {
	case entity.KindChat:
		perKind = d.Chat
	case entity.KindRoom:
		perKind = d.Room
	}
	if perKind != entity.EncryptionDefault {
		return perKind
	}
	if d.Global != entity.EncryptionDefault {
		return d.Global
	}
	return entity.EncryptionPlain
}

// encodeFailure is the message recorded on an entry whose payload could not
// be encrypted
func encodeFailure(kind entity.Kind, err error) string {
	switch {
	case errors.Is(err, entity.ErrNoTrustedDevice) && kind == entity.KindRoom:
		return "no trusted devices for room members"
	case errors.Is(err, entity.ErrNoTrustedDevice):
		return "no trusted devices for the recipient"
	case errors.Is(err, entity.ErrEncryptionUnavailable):
		return "encryption is not available"
	default:
		return "encryption failed: " + err.Error()
	}
}
