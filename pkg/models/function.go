package models

import "encoding/json"

// Function is a registered callable contract. Names are unique per owner;
// assistants reference functions by name from their tool configuration.
type Function struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
	CreatedAt   int64           `json:"created_at"`
}
