package chat

import "time"

// DefaultTitle names a session until its first user message arrives.
const DefaultTitle = "New Chat"

// Session captures one independent conversation thread.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a copy that shares no memory with s.
func (s Session) Clone() Session {
	s.Messages = CloneMessages(s.Messages)
	return s
}

// CloneMessages copies a message slice. A nil input yields an empty slice.
func CloneMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	return out
}
