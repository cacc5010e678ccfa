package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOptions(t *testing.T) {
	t.Run("empty record yields defaults", func(t *testing.T) {
		opts, err := DecodeOptions(nil)
		require.NoError(t, err)
		assert.Equal(t, DefaultOptions(), opts)
	})

	t.Run("missing keys are default-filled", func(t *testing.T) {
		opts, err := DecodeOptions([]byte(`{"version":2,"nickname":"romeo"}`))
		require.NoError(t, err)
		assert.True(t, opts.ConfirmMessages)
		assert.Equal(t, "romeo", opts.Nickname)
		assert.Equal(t, EncryptionDefault, opts.Encryption)
	})

	t.Run("legacy boolean encryption is upgraded", func(t *testing.T) {
		opts, err := DecodeOptions([]byte(`{"version":1,"encrypt":true,"confirm_messages":false}`))
		require.NoError(t, err)
		assert.Equal(t, EncryptionOMEMO, opts.Encryption)
		assert.False(t, opts.ConfirmMessages)
		assert.Equal(t, OptionsVersion, opts.Version)
	})

	t.Run("unknown encryption is rejected", func(t *testing.T) {
		_, err := DecodeOptions([]byte(`{"encryption":"pgp"}`))
		assert.ErrorIs(t, err, ErrInvalidOptions)
	})

	t.Run("round trip", func(t *testing.T) {
		in := DefaultOptions()
		in.Encryption = EncryptionOMEMO
		in.ParticipantID = "p-1"
		raw, err := in.Encode()
		require.NoError(t, err)
		out, err := DecodeOptions(raw)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})
}
