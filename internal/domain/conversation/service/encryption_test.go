package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

func TestEncryptionDefaultsResolve(t *testing.T) {
	tests := []struct {
		name     string
		defaults EncryptionDefaults
		kind     entity.Kind
		override entity.EncryptionMode
		want     entity.EncryptionMode
	}{
		{"nothing set", EncryptionDefaults{}, entity.KindChat, "", entity.EncryptionPlain},
		{"global", EncryptionDefaults{Global: entity.EncryptionOMEMO}, entity.KindChat, "", entity.EncryptionOMEMO},
		{"kind beats global", EncryptionDefaults{Global: entity.EncryptionOMEMO, Room: entity.EncryptionPlain}, entity.KindRoom, "", entity.EncryptionPlain},
		{"override beats kind", EncryptionDefaults{Chat: entity.EncryptionPlain}, entity.KindChat, entity.EncryptionOMEMO, entity.EncryptionOMEMO},
		{"channel is plaintext", EncryptionDefaults{Global: entity.EncryptionOMEMO}, entity.KindChannel, entity.EncryptionOMEMO, entity.EncryptionPlain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.defaults.Resolve(tt.kind, tt.override))
		})
	}
}

func TestEncodeFailure(t *testing.T) {
	assert.Equal(t, "no trusted devices for the recipient", encodeFailure(entity.KindChat, entity.ErrNoTrustedDevice))
	assert.Equal(t, "no trusted devices for room members", encodeFailure(entity.KindRoom, entity.ErrNoTrustedDevice))
	assert.Equal(t, "encryption failed: boom", encodeFailure(entity.KindChat, errors.New("boom")))
}
