package entity

import "time"

// StanzaType represents the kind of stanza exchanged with the network session
type StanzaType string

const (
	StanzaChat        StanzaType = "chat"
	StanzaGroupchat   StanzaType = "groupchat"
	StanzaChannel     StanzaType = "channel"
	StanzaChatState   StanzaType = "chatstate"
	StanzaMarker      StanzaType = "marker"
	StanzaPresence    StanzaType = "presence"
	StanzaParticipant StanzaType = "participant"
	StanzaInvitation  StanzaType = "invitation"
	StanzaRoomState   StanzaType = "room_state"
)

// MarkerType is a chat marker or receipt
type MarkerType string

const (
	MarkerReceived  MarkerType = "received"
	MarkerDisplayed MarkerType = "displayed"
)

// Stanza is the unit handed to and received from the network session.
// Only the fields relevant to its Type are set.
type Stanza struct {
	ID        string     `json:"id"`
	Type      StanzaType `json:"type"`
	From      string     `json:"from"`
	To        string     `json:"to"`
	Timestamp time.Time  `json:"timestamp"`

	Body       string     `json:"body,omitempty"`
	Encrypted  []byte     `json:"encrypted,omitempty"`
	Encryption Encryption `json:"encryption"`
	Markable   bool       `json:"markable,omitempty"`
	Attachment *EntryData `json:"attachment,omitempty"`

	// Replace and Retract reference the origin id of an earlier message
	Replace string `json:"replace,omitempty"`
	Retract string `json:"retract,omitempty"`

	ChatState ChatState  `json:"chat_state,omitempty"`
	Marker    MarkerType `json:"marker,omitempty"`
	MarkerID  string     `json:"marker_id,omitempty"`

	// room presence and private messages
	Nickname    string      `json:"nickname,omitempty"`
	NewNickname string      `json:"new_nickname,omitempty"`
	Presence    Presence    `json:"presence,omitempty"`
	Role        Role        `json:"role,omitempty"`
	Affiliation Affiliation `json:"affiliation,omitempty"`
	JID         string      `json:"jid,omitempty"`
	Private     bool        `json:"private,omitempty"`
	Self        bool        `json:"self,omitempty"`

	// room state refresh
	RoomState    *RoomState    `json:"room_state,omitempty"`
	RoomFeatures *RoomFeatures `json:"room_features,omitempty"`

	// channel participants
	ParticipantID string `json:"participant_id,omitempty"`
	Left          bool   `json:"left,omitempty"`

	// invitation
	Invitation *EntryData `json:"invitation,omitempty"`
}

// ConnectionState is the observable state of a network session
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// EncodedMessage is the output of the encryption capability
type EncodedMessage struct {
	Payload []byte
	Devices []string
}
