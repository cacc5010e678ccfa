package entity

import (
	"fmt"
	"time"
)

// MergePolicy controls visual grouping of adjacent entries
type MergePolicy string

const (
	MergeNone   MergePolicy = "none"
	MergeAlways MergePolicy = "always"
	MergeSmart  MergePolicy = "smart"
)

// Default grouping windows
const (
	DefaultSmartMergeWindow  = 30 * time.Second
	DefaultAlwaysMergeWindow = 24 * time.Hour
)

// MergeDisabled is the window returned by MergeNone
const MergeDisabled time.Duration = -1

// ParseMergePolicy parses a policy name; empty means smart
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch p := MergePolicy(s); p {
	case "":
		return MergeSmart, nil
	case MergeNone, MergeAlways, MergeSmart:
		return p, nil
	default:
		return "", fmt.Errorf("unknown merge policy %q", s)
	}
}

// MergeWindows holds the configurable windows of the grouping policies
type MergeWindows struct {
	Smart  time.Duration
	Always time.Duration
}

// DefaultMergeWindows returns the stock windows
func DefaultMergeWindows() MergeWindows {
	return MergeWindows{Smart: DefaultSmartMergeWindow, Always: DefaultAlwaysMergeWindow}
}

// Window resolves the grouping window for p
func (p MergePolicy) Window(w MergeWindows) time.Duration {
	switch p {
	case MergeNone:
		return MergeDisabled
	case MergeAlways:
		return w.Always
	default:
		return w.Smart
	}
}

// CanMerge reports whether next attaches after prev in the same visual block.
// The relation is not symmetric.
func CanMerge(prev, next Entry, window time.Duration) bool {
	if window < 0 {
		return false
	}
	if prev.ID == next.ID && prev.StanzaID == next.StanzaID {
		return false
	}
	if !prev.Mergeable() || !next.Mergeable() {
		return false
	}
	if prev.Key != next.Key {
		return false
	}
	if prev.Direction() != next.Direction() {
		return false
	}
	if prev.Sender != next.Sender || prev.Recipient != next.Recipient {
		return false
	}
	if !prev.Encryption.SameClass(next.Encryption) {
		return false
	}
	gap := next.Timestamp.Sub(prev.Timestamp)
	return gap >= 0 && gap < window
}
