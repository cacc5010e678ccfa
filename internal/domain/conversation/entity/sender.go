package entity

// SenderKind tags the Sender variant
type SenderKind int

const (
	SenderNone SenderKind = iota
	SenderMe
	SenderBuddy
	SenderOccupant
	SenderParticipant
)

// Sender identifies who produced an entry.
// Nickname and JID apply to occupants and participants, ParticipantID to
// participants only.
type Sender struct {
	Kind          SenderKind `json:"kind"`
	Nickname      string     `json:"nickname,omitempty"`
	JID           string     `json:"jid,omitempty"`
	ParticipantID string     `json:"participant_id,omitempty"`
}

// Me is the local user
func Me() Sender { return Sender{Kind: SenderMe} }

// Buddy is the remote party of a direct chat
func Buddy() Sender { return Sender{Kind: SenderBuddy} }

// OccupantSender is a room occupant; jid may be empty in anonymous rooms
func OccupantSender(nickname, jid string) Sender {
	return Sender{Kind: SenderOccupant, Nickname: nickname, JID: NormalizeJID(jid)}
}

// ParticipantSender is a channel participant
func ParticipantSender(id, nickname, jid string) Sender {
	return Sender{Kind: SenderParticipant, ParticipantID: id, Nickname: nickname, JID: NormalizeJID(jid)}
}

// Label is the display name used in activity summaries
func (s Sender) Label() string {
	switch s.Kind {
	case SenderOccupant, SenderParticipant:
		if s.Nickname != "" {
			return s.Nickname
		}
		return s.JID
	case SenderMe:
		return "me"
	default:
		return ""
	}
}

// Recipient addresses a private message inside a room. The zero value
// means the whole conversation.
type Recipient struct {
	Nickname string `json:"nickname,omitempty"`
	JID      string `json:"jid,omitempty"`
}

// IsNone reports whether no specific occupant is addressed
func (r Recipient) IsNone() bool {
	return r.Nickname == "" && r.JID == ""
}
