package entity

import "fmt"

// Direction of an entry, fixed at creation
type Direction int

const (
	Incoming Direction = iota
	Outgoing
)

func (d Direction) String() string {
	if d == Outgoing {
		return "outgoing"
	}
	return "incoming"
}

// StateCode is the persisted delivery state code.
// Even codes are incoming, odd codes are outgoing.
type StateCode int

const (
	StateIncoming            StateCode = 0
	StateOutgoing            StateCode = 1 // sent
	StateIncomingUnread      StateCode = 2
	StateOutgoingUnsent      StateCode = 3
	StateIncomingError       StateCode = 4
	StateOutgoingError       StateCode = 5
	StateIncomingErrorUnread StateCode = 6
	StateOutgoingErrorUnread StateCode = 7
	StateOutgoingDelivered   StateCode = 9
	StateOutgoingRead        StateCode = 11
)

var stateNames = map[StateCode]string{
	StateIncoming:            "incoming",
	StateOutgoing:            "outgoing",
	StateIncomingUnread:      "incoming_unread",
	StateOutgoingUnsent:      "outgoing_unsent",
	StateIncomingError:       "incoming_error",
	StateOutgoingError:       "outgoing_error",
	StateIncomingErrorUnread: "incoming_error_unread",
	StateOutgoingErrorUnread: "outgoing_error_unread",
	StateOutgoingDelivered:   "outgoing_delivered",
	StateOutgoingRead:        "outgoing_read",
}

// Valid reports whether c is a defined state code
func (c StateCode) Valid() bool {
	_, ok := stateNames[c]
	return ok
}

func (c StateCode) String() string {
	if name, ok := stateNames[c]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(c))
}

// State is the delivery state of one entry. Message is set for error states.
type State struct {
	Code    StateCode `json:"code"`
	Message string    `json:"message,omitempty"`
}

// MustState builds a state from a persisted code. An undefined code means the
// store holds data this build cannot interpret, so it panics.
func MustState(code int, message string) State {
	c := StateCode(code)
	if !c.Valid() {
		panic(fmt.Sprintf("entity: undefined delivery state code %d", code))
	}
	if !c.isError() {
		message = ""
	}
	return State{Code: c, Message: message}
}

func (s State) String() string {
	if s.Message != "" {
		return s.Code.String() + "{" + s.Message + "}"
	}
	return s.Code.String()
}

// Direction derives the entry direction from the code parity
func (s State) Direction() Direction {
	if s.Code%2 == 0 {
		return Incoming
	}
	return Outgoing
}

func (c StateCode) isError() bool {
	switch c {
	case StateIncomingError, StateOutgoingError, StateIncomingErrorUnread, StateOutgoingErrorUnread:
		return true
	}
	return false
}

// IsError reports whether the entry failed
func (s State) IsError() bool { return s.Code.isError() }

// IsUnread reports whether the entry has not been seen
func (s State) IsUnread() bool {
	switch s.Code {
	case StateIncomingUnread, StateIncomingErrorUnread, StateOutgoingErrorUnread:
		return true
	}
	return false
}

// IsUnsent reports whether the entry still waits for the network
func (s State) IsUnsent() bool { return s.Code == StateOutgoingUnsent }

// Sent is the transition on a successful network send.
func (s State) Sent() (State, bool) {
	if s.Code != StateOutgoingUnsent {
		return s, false
	}
	return State{Code: StateOutgoing}, true
}

// Delivered is the transition on a delivery receipt. A receipt may overtake
// the local send completion, so it is accepted from unsent too.
func (s State) Delivered() (State, bool) {
	switch s.Code {
	case StateOutgoingUnsent, StateOutgoing:
		return State{Code: StateOutgoingDelivered}, true
	}
	return s, false
}

// Displayed is the transition on a "displayed" chat marker.
func (s State) Displayed() (State, bool) {
	switch s.Code {
	case StateOutgoingUnsent, StateOutgoing, StateOutgoingDelivered:
		return State{Code: StateOutgoingRead}, true
	}
	return s, false
}

// Failed moves the entry into the error state of its direction, keeping
// its unread flag.
func (s State) Failed(message string) (State, bool) {
	unread := s.IsUnread()
	if s.Direction() == Outgoing {
		if unread {
			return State{Code: StateOutgoingErrorUnread, Message: message}, true
		}
		return State{Code: StateOutgoingError, Message: message}, true
	}
	if unread {
		return State{Code: StateIncomingErrorUnread, Message: message}, true
	}
	return State{Code: StateIncomingError, Message: message}, true
}

// Read clears the unread flag
func (s State) Read() (State, bool) {
	switch s.Code {
	case StateIncomingUnread:
		return State{Code: StateIncoming}, true
	case StateIncomingErrorUnread:
		return State{Code: StateIncomingError, Message: s.Message}, true
	case StateOutgoingErrorUnread:
		return State{Code: StateOutgoingError, Message: s.Message}, true
	}
	return s, false
}

// Unread sets the unread flag on incoming entries
func (s State) Unread() (State, bool) {
	switch s.Code {
	case StateIncoming:
		return State{Code: StateIncomingUnread}, true
	case StateIncomingError:
		return State{Code: StateIncomingErrorUnread, Message: s.Message}, true
	}
	return s, false
}

// Retry puts a failed outgoing entry back in the unsent state for resending
func (s State) Retry() (State, bool) {
	switch s.Code {
	case StateOutgoingError, StateOutgoingErrorUnread:
		return State{Code: StateOutgoingUnsent}, true
	}
	return s, false
}

// Resendable reports whether the resend path should pick the entry up
func (s State) Resendable() bool {
	switch s.Code {
	case StateOutgoingUnsent, StateOutgoingError, StateOutgoingErrorUnread:
		return true
	}
	return false
}
