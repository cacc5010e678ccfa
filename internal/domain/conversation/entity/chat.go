package entity

import (
	"fmt"
	"time"
)

// ChatState is the typing notification state of a direct chat
type ChatState string

const (
	ChatActive    ChatState = "active"
	ChatComposing ChatState = "composing"
	ChatPaused    ChatState = "paused"
	ChatInactive  ChatState = "inactive"
	ChatGone      ChatState = "gone"
)

// ParseChatState parses a chat state name
func ParseChatState(s string) (ChatState, error) {
	switch c := ChatState(s); c {
	case ChatActive, ChatComposing, ChatPaused, ChatInactive, ChatGone:
		return c, nil
	default:
		return "", fmt.Errorf("unknown chat state %q", s)
	}
}

// DefaultComposingTimeout is how long a remote "composing" state is trusted
// before it silently reverts to active
const DefaultComposingTimeout = 60 * time.Second
