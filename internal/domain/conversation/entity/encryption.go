package entity

import (
	"errors"
	"fmt"
	"strings"
)

// EncryptionMode is the outgoing encryption preference.
// The empty mode means "not set here, ask the next layer".
type EncryptionMode string

const (
	EncryptionDefault EncryptionMode = ""
	EncryptionPlain   EncryptionMode = "none"
	EncryptionOMEMO   EncryptionMode = "omemo"
)

// ParseEncryptionMode accepts "", "none" and "omemo"
func ParseEncryptionMode(s string) (EncryptionMode, error) {
	switch m := EncryptionMode(strings.ToLower(strings.TrimSpace(s))); m {
	case EncryptionDefault, EncryptionPlain, EncryptionOMEMO:
		return m, nil
	default:
		return "", fmt.Errorf("%w: encryption %q", ErrInvalidOptions, s)
	}
}

// EncryptionKind classifies how an incoming entry was protected
type EncryptionKind int

const (
	EncryptionNone EncryptionKind = iota
	EncryptionDecrypted
	EncryptionDecryptionFailed
	EncryptionNotForDevice
)

func (k EncryptionKind) String() string {
	switch k {
	case EncryptionDecrypted:
		return "decrypted"
	case EncryptionDecryptionFailed:
		return "decryption_failed"
	case EncryptionNotForDevice:
		return "not_for_device"
	default:
		return "none"
	}
}

// Encryption is the recorded encryption outcome of an entry
type Encryption struct {
	Kind        EncryptionKind `json:"kind"`
	Fingerprint string         `json:"fingerprint,omitempty"`
	Code        int            `json:"code,omitempty"`
}

// Decrypted records a successful decryption by the device with fingerprint
func Decrypted(fingerprint string) Encryption {
	return Encryption{Kind: EncryptionDecrypted, Fingerprint: fingerprint}
}

// DecryptionFailed records a failed decryption with the decoder's code
func DecryptionFailed(code int) Encryption {
	return Encryption{Kind: EncryptionDecryptionFailed, Code: code}
}

// NotForDevice records a message encrypted for other devices only
func NotForDevice() Encryption {
	return Encryption{Kind: EncryptionNotForDevice}
}

// SameClass compares only the outcome tag, ignoring fingerprints and codes.
func (e Encryption) SameClass(other Encryption) bool {
	return e.Kind == other.Kind
}

// ErrNotForDevice is returned by decoders when the payload carries no key
// for this device
var ErrNotForDevice = errors.New("message not encrypted for this device")

// DecryptionError is a decoder failure carrying the decoder's code
type DecryptionError struct {
	Code int
	Err  error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("decryption failed (code %d): %v", e.Code, e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// ClassifyDecryption turns the result of decoding an incoming payload into
// the outcome recorded on the entry. An empty fingerprint with no error means
// the payload was not encrypted.
func ClassifyDecryption(fingerprint string, err error) Encryption {
	if err == nil {
		if fingerprint == "" {
			return Encryption{Kind: EncryptionNone}
		}
		return Decrypted(fingerprint)
	}
	if errors.Is(err, ErrNotForDevice) {
		return NotForDevice()
	}
	var de *DecryptionError
	if errors.As(err, &de) {
		return DecryptionFailed(de.Code)
	}
	return DecryptionFailed(0)
}
