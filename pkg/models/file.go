package models

// File is metadata for an uploaded blob. Bytes live in the blob store; chunks
// derived during ingestion live in the chunk store.
type File struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose,omitempty"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
}

// Chunk is one slice of ingested file text, read-only once created.
type Chunk struct {
	ID          string `json:"id"`
	FileID      string `json:"file_id"`
	Sequence    int    `json:"sequence"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Text        string `json:"text"`
	CreatedAt   int64  `json:"created_at"`
}
