package entity

// ActivityKind represents what the last activity of a conversation was
type ActivityKind int

const (
	ActivityMessage ActivityKind = iota
	ActivityAttachment
	ActivityInvitation
)

// Activity is the "latest message" preview of a conversation
type Activity struct {
	Kind      ActivityKind `json:"kind"`
	Text      string       `json:"text"`
	Direction Direction    `json:"direction"`
	Sender    string       `json:"sender,omitempty"`
}

// ActivityFor summarizes an entry. Markers and link previews produce no
// activity.
func ActivityFor(e Entry) (Activity, bool) {
	a := Activity{
		Direction: e.Direction(),
		Sender:    e.Sender.Label(),
	}
	switch e.Type {
	case EntryMessage:
		a.Kind = ActivityMessage
		a.Text = e.Data.Text
	case EntryAttachment:
		a.Kind = ActivityAttachment
		a.Text = e.Data.Filename
		if a.Text == "" {
			a.Text = e.Data.URL
		}
	case EntryInvitation:
		a.Kind = ActivityInvitation
		a.Text = e.Data.Room
	default:
		return Activity{}, false
	}
	return a, true
}
