package entity

import (
	"strings"
	"time"
)

// EntryType represents the type of history entry
type EntryType int

const (
	EntryMessage EntryType = iota
	EntryAttachment
	EntryInvitation
	EntryLinkPreview
	EntryMarker
)

func (t EntryType) String() string {
	switch t {
	case EntryAttachment:
		return "attachment"
	case EntryInvitation:
		return "invitation"
	case EntryLinkPreview:
		return "link_preview"
	case EntryMarker:
		return "marker"
	default:
		return "message"
	}
}

// MarkerUnread is the "unread messages" divider
const MarkerUnread = "unread"

// EntryData is the payload of an entry. Which fields are set depends on the
// entry type.
type EntryData struct {
	Text string `json:"text,omitempty"`

	// attachment / link preview
	URL         string `json:"url,omitempty"`
	MimeType    string `json:"mime_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Filename    string `json:"filename,omitempty"`
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	// invitation
	Room     string `json:"room,omitempty"`
	Password string `json:"password,omitempty"`
	Reason   string `json:"reason,omitempty"`

	// system marker
	Marker string `json:"marker,omitempty"`
}

// Entry is one history record of a conversation
type Entry struct {
	ID                  int64      `json:"id"`
	Key                 Key        `json:"conversation"`
	Type                EntryType  `json:"type"`
	Timestamp           time.Time  `json:"timestamp"`
	StanzaID            string     `json:"stanza_id"`
	State               State      `json:"state"`
	Sender              Sender     `json:"sender"`
	Recipient           Recipient  `json:"recipient"`
	Encryption          Encryption `json:"encryption"`
	Data                EntryData  `json:"data"`
	CorrectionID        string     `json:"correction_id,omitempty"`
	CorrectionTimestamp *time.Time `json:"correction_timestamp,omitempty"`
	Retracted           bool       `json:"retracted,omitempty"`
}

// HasSender reports whether the entry type carries sender and state
func (e Entry) HasSender() bool {
	return e.Type != EntryMarker
}

// Direction is derived from the delivery state
func (e Entry) Direction() Direction {
	return e.State.Direction()
}

// Corrected reports whether a correction superseded the original text
func (e Entry) Corrected() bool {
	return e.CorrectionID != ""
}

// Mergeable reports whether the entry may be grouped with its neighbours.
// "/me " actions always stand alone.
func (e Entry) Mergeable() bool {
	if !e.HasSender() || e.Retracted {
		return false
	}
	return !IsMeAction(e.Data.Text)
}

// IsMeAction reports whether text is a "/me " action
func IsMeAction(text string) bool {
	return strings.HasPrefix(text, "/me ")
}

// AppendInput represents input for appending an entry to history
type AppendInput struct {
	Key        Key
	Type       EntryType
	State      State
	Sender     Sender
	Recipient  Recipient
	Encryption Encryption
	Timestamp  time.Time
	StanzaID   string
	Data       EntryData
}

// QueryKind selects the history query
type QueryKind int

const (
	QueryLast QueryKind = iota
	QueryBefore
	QueryResendable
	QueryStanza
)

// HistoryQuery describes which entries to load
type HistoryQuery struct {
	Kind     QueryKind
	Limit    int
	BeforeID int64  // QueryBefore
	StanzaID string // QueryStanza
}

// CorrectInput represents a message correction
type CorrectInput struct {
	Key                 Key
	StanzaID            string // origin id of the corrected message
	Sender              Sender
	Data                EntryData
	CorrectionStanzaID  string
	CorrectionTimestamp time.Time
	State               *State // nil keeps the current state
}

// RetractInput represents a message retraction
type RetractInput struct {
	Key                 Key
	StanzaID            string
	Sender              Sender
	RetractionStanzaID  string
	RetractionTimestamp time.Time
}
