package models

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentPartType discriminates message content parts.
type ContentPartType string

const (
	ContentPartText ContentPartType = "text"
	ContentPartFile ContentPartType = "file"
)

// ContentPart is one typed element of a message body.
type ContentPart struct {
	Type   ContentPartType `json:"type"`
	Text   *TextContent    `json:"text,omitempty"`
	FileID string          `json:"file_id,omitempty"`
}

// TextContent is text plus citation annotations pointing back at source files.
type TextContent struct {
	Value       string       `json:"value"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// Annotation is a citation attached to a span of assistant text.
type Annotation struct {
	Type       string `json:"type"` // file_citation
	Text       string `json:"text,omitempty"`
	FileID     string `json:"file_id,omitempty"`
	StartIndex int    `json:"start_index,omitempty"`
	EndIndex   int    `json:"end_index,omitempty"`
}

// Message is one entry in a thread. Messages are immutable once created;
// ordering within a thread is by Seq, assigned by the store at append time.
type Message struct {
	ID          string            `json:"id"`
	ThreadID    string            `json:"thread_id"`
	Role        Role              `json:"role"`
	Content     []ContentPart     `json:"content"`
	AssistantID string            `json:"assistant_id,omitempty"`
	RunID       string            `json:"run_id,omitempty"`
	FileIDs     []string          `json:"file_ids,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Seq         int64             `json:"-"`
	CreatedAt   int64             `json:"created_at"`
}

// NewTextMessage builds a message with a single text part.
func NewTextMessage(threadID string, role Role, text string) *Message {
	return &Message{
		ID:       NewID(MessageIDPrefix),
		ThreadID: threadID,
		Role:     role,
		Content: []ContentPart{{
			Type: ContentPartText,
			Text: &TextContent{Value: text},
		}},
	}
}

// PlainText concatenates the message's text parts.
func (m *Message) PlainText() string {
	var out string
	for _, part := range m.Content {
		if part.Type == ContentPartText && part.Text != nil {
			if out != "" {
				out += "\n"
			}
			out += part.Text.Value
		}
	}
	return out
}
