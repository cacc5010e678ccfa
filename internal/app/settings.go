package app

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/vadim/neo-session/internal/config"
	"github.com/vadim/neo-session/internal/domain/conversation/entity"
	"github.com/vadim/neo-session/internal/domain/conversation/service"
)

func newLogger(cfg config.Log) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})), nil
}

// engineSettings turns the engine section into conversation settings and the
// merge window used to group history entries
func engineSettings(cfg config.Engine) (service.Settings, time.Duration, error) {
	settings := service.DefaultSettings()
	if cfg.ComposingTimeout > 0 {
		settings.ComposingTimeout = cfg.ComposingTimeout
	}
	if cfg.TemporaryOccupantTTL > 0 {
		settings.TemporaryOccupantTTL = cfg.TemporaryOccupantTTL
	}

	modes := []struct {
		name  string
		value string
		dst   *entity.EncryptionMode
	}{
		{"encryption", cfg.Encryption, &settings.Encryption.Global},
		{"chat_encryption", cfg.ChatEncryption, &settings.Encryption.Chat},
		{"room_encryption", cfg.RoomEncryption, &settings.Encryption.Room},
	}
	for _, m := range modes {
		mode, err := entity.ParseEncryptionMode(m.value)
		if err != nil {
			return service.Settings{}, 0, fmt.Errorf("parsing %s: %w", m.name, err)
		}
		*m.dst = mode
	}

	policy, err := entity.ParseMergePolicy(cfg.MergePolicy)
	if err != nil {
		return service.Settings{}, 0, fmt.Errorf("parsing merge policy: %w", err)
	}
	windows := entity.DefaultMergeWindows()
	if cfg.SmartMergeWindow > 0 {
		windows.Smart = cfg.SmartMergeWindow
	}
	if cfg.AlwaysMergeWindow > 0 {
		windows.Always = cfg.AlwaysMergeWindow
	}

	return settings, policy.Window(windows), nil
}
