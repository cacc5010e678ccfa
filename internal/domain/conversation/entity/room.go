package entity

import "time"

// RoomState represents the join state of a multi-user room
type RoomState int

const (
	RoomNotJoined RoomState = iota
	RoomRequested
	RoomJoined
)

func (s RoomState) String() string {
	switch s {
	case RoomRequested:
		return "requested"
	case RoomJoined:
		return "joined"
	default:
		return "not_joined"
	}
}

// Role is the presence-bound role of an occupant
type Role string

const (
	RoleNone        Role = "none"
	RoleVisitor     Role = "visitor"
	RoleParticipant Role = "participant"
	RoleModerator   Role = "moderator"
)

// Affiliation is the identity-bound membership grade in a room
type Affiliation string

const (
	AffiliationNone    Affiliation = "none"
	AffiliationOutcast Affiliation = "outcast"
	AffiliationMember  Affiliation = "member"
	AffiliationAdmin   Affiliation = "admin"
	AffiliationOwner   Affiliation = "owner"
)

// IsMember reports whether the affiliation puts its holder in the members list
func (a Affiliation) IsMember() bool {
	switch a {
	case "", AffiliationNone, AffiliationOutcast:
		return false
	}
	return true
}

// Presence is the availability of an occupant
type Presence string

const (
	PresenceAvailable   Presence = "available"
	PresenceAway        Presence = "away"
	PresenceChat        Presence = "chat"
	PresenceDND         Presence = "dnd"
	PresenceXA          Presence = "xa"
	PresenceUnavailable Presence = "unavailable"
)

// Occupant is a room member as seen through presence
type Occupant struct {
	Nickname    string      `json:"nickname"`
	Presence    Presence    `json:"presence"`
	Role        Role        `json:"role"`
	Affiliation Affiliation `json:"affiliation"`
	JID         string      `json:"jid,omitempty"`
}

// RoomFeatures are the disco features relevant to encryption
type RoomFeatures struct {
	MembersOnly  bool `json:"members_only"`
	NonAnonymous bool `json:"non_anonymous"`
}

// SupportsOMEMO reports whether members can be resolved to devices
func (f RoomFeatures) SupportsOMEMO() bool {
	return f.MembersOnly && f.NonAnonymous
}

// DefaultTemporaryOccupantTTL bounds how long an occupant staged for a
// nickname change waits for its second presence
const DefaultTemporaryOccupantTTL = 30 * time.Second
