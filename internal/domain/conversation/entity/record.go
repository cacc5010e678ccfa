package entity

// Record is the persisted identity of a conversation
type Record struct {
	ID      int64   `json:"id"`
	Key     Key     `json:"key"`
	Kind    Kind    `json:"kind"`
	Options Options `json:"options"`
}
