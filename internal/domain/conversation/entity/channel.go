package entity

import "slices"

// ChannelState represents the membership state of a channel
type ChannelState int

const (
	ChannelLeft ChannelState = iota
	ChannelJoined
)

func (s ChannelState) String() string {
	if s == ChannelJoined {
		return "joined"
	}
	return "left"
}

// Participant is a channel member addressed by a stable id
type Participant struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
	JID      string `json:"jid,omitempty"`
}

// Permission is one channel capability
type Permission string

const (
	PermissionSend          Permission = "send"
	PermissionInvite        Permission = "invite"
	PermissionChangeConfig  Permission = "change_config"
	PermissionManageMembers Permission = "manage_members"
	PermissionDelete        Permission = "delete"
)

// Permissions is the capability set of the local user in a channel
type Permissions []Permission

// Has reports whether p is granted
func (ps Permissions) Has(p Permission) bool {
	return slices.Contains(ps, p)
}
