package models

// Thread is a conversation: an append-only, ordered sequence of messages.
type Thread struct {
	ID        string            `json:"id"`
	OwnerID   string            `json:"owner_id"`
	FileIDs   []string          `json:"file_ids,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt int64             `json:"created_at"`
}
