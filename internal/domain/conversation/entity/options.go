package entity

import (
	"encoding/json"
	"fmt"
)

// OptionsVersion is the current persisted options schema version.
// Version 1 stored encryption as a boolean "encrypt" key.
const OptionsVersion = 2

// NotificationPolicy controls notifications for a conversation
type NotificationPolicy string

const (
	NotifyDefault  NotificationPolicy = ""
	NotifyAlways   NotificationPolicy = "always"
	NotifyMentions NotificationPolicy = "mentions"
	NotifyNever    NotificationPolicy = "never"
)

// ParseNotificationPolicy accepts the policy names and the empty default
func ParseNotificationPolicy(s string) (NotificationPolicy, error) {
	switch p := NotificationPolicy(s); p {
	case NotifyDefault, NotifyAlways, NotifyMentions, NotifyNever:
		return p, nil
	default:
		return "", fmt.Errorf("%w: notifications %q", ErrInvalidOptions, s)
	}
}

// Options is the persisted per-conversation configuration.
// It is compared by value, so every field must stay comparable.
type Options struct {
	Version         int                `json:"version"`
	Encryption      EncryptionMode     `json:"encryption,omitempty"`
	Notifications   NotificationPolicy `json:"notifications,omitempty"`
	ConfirmMessages bool               `json:"confirm_messages"`

	// room
	Nickname string `json:"nickname,omitempty"`
	Password string `json:"password,omitempty"`

	// channel
	ParticipantID string `json:"participant_id,omitempty"`
}

// DefaultOptions returns the options of a fresh conversation
func DefaultOptions() Options {
	return Options{
		Version:         OptionsVersion,
		ConfirmMessages: true,
	}
}

type storedOptions struct {
	Options
	LegacyEncrypt *bool `json:"encrypt,omitempty"`
}

// DecodeOptions decodes a persisted record. Keys missing from older records
// keep their defaults.
func DecodeOptions(raw []byte) (Options, error) {
	stored := storedOptions{Options: DefaultOptions()}
	stored.Version = 0
	if len(raw) == 0 {
		return DefaultOptions(), nil
	}
	if err := json.Unmarshal(raw, &stored); err != nil {
		return Options{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	opts := stored.Options
	if opts.Version < 2 && stored.LegacyEncrypt != nil && opts.Encryption == EncryptionDefault {
		if *stored.LegacyEncrypt {
			opts.Encryption = EncryptionOMEMO
		} else {
			opts.Encryption = EncryptionPlain
		}
	}
	if _, err := ParseEncryptionMode(string(opts.Encryption)); err != nil {
		return Options{}, err
	}
	opts.Version = OptionsVersion
	return opts, nil
}

// Encode serializes the options at the current schema version
func (o Options) Encode() ([]byte, error) {
	o.Version = OptionsVersion
	return json.Marshal(o)
}
