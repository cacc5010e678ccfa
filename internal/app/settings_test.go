package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadim/neo-session/internal/config"
	"github.com/vadim/neo-session/internal/domain/conversation/entity"
)

func TestEngineSettings(t *testing.T) {
	settings, window, err := engineSettings(config.Engine{
		MergePolicy:      "smart",
		SmartMergeWindow: 45 * time.Second,
		ComposingTimeout: 10 * time.Second,
		RoomEncryption:   "omemo",
	})
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, window)
	assert.Equal(t, 10*time.Second, settings.ComposingTimeout)
	assert.Equal(t, entity.DefaultTemporaryOccupantTTL, settings.TemporaryOccupantTTL)
	assert.Equal(t, entity.EncryptionOMEMO, settings.Encryption.Room)
	assert.Equal(t, entity.EncryptionDefault, settings.Encryption.Chat)

	_, window, err = engineSettings(config.Engine{MergePolicy: "none"})
	require.NoError(t, err)
	assert.Equal(t, entity.MergeDisabled, window)

	_, window, err = engineSettings(config.Engine{MergePolicy: "always"})
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, window)

	_, _, err = engineSettings(config.Engine{MergePolicy: "sometimes"})
	assert.Error(t, err)

	_, _, err = engineSettings(config.Engine{Encryption: "pgp"})
	assert.ErrorIs(t, err, entity.ErrInvalidOptions)
}

func TestNewLogger(t *testing.T) {
	logger, err := newLogger(config.Log{Level: "debug"})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = newLogger(config.Log{Level: "loud"})
	assert.Error(t, err)
}
