// Package transcript derives what a client renders for a session. It holds
// no state of its own; every view is recomputed from a store snapshot.
package transcript

import (
	"time"

	"github.com/zhouzirui/novachat/backend/internal/model/chat"
	"github.com/zhouzirui/novachat/backend/internal/model/tier"
)

const (
	// ThinkingText stands in for a reply that has not produced text yet.
	ThinkingText = "Thinking..."
	userAuthor   = "You"
)

// Suggestions are offered while a session has no messages.
var Suggestions = []Suggestion{
	{Title: "Explain quantum computing", Detail: "in simple terms for a beginner", Prompt: "Explain quantum computing in simple terms"},
	{Title: "Write code", Detail: "React component for a timer", Prompt: "Write a React component for a countdown timer"},
}

// Suggestion is a starter prompt for an empty session.
type Suggestion struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Prompt string `json:"prompt"`
}

// Entry is one renderable message.
type Entry struct {
	ID        string    `json:"id"`
	Role      chat.Role `json:"role"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	Streaming bool      `json:"streaming"`
	Pending   bool      `json:"pending"`
	CreatedAt time.Time `json:"createdAt"`
}

// View is the display state of one session.
type View struct {
	SessionID   string       `json:"sessionId"`
	Title       string       `json:"title"`
	Tier        tier.Tier    `json:"tier"`
	Entries     []Entry      `json:"entries"`
	Empty       bool         `json:"empty"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Derive builds the view of session. Model replies are attributed to the
// selected tier's label.
func Derive(session chat.Session, selected tier.Spec) View {
	view := View{
		SessionID: session.ID,
		Title:     session.Title,
		Tier:      selected.ID,
		Entries:   make([]Entry, 0, len(session.Messages)),
		Empty:     len(session.Messages) == 0,
		UpdatedAt: session.UpdatedAt,
	}
	if view.Title == "" {
		view.Title = chat.DefaultTitle
	}
	if view.Empty {
		view.Suggestions = append([]Suggestion(nil), Suggestions...)
	}

	for _, msg := range session.Messages {
		entry := Entry{
			ID:        msg.ID,
			Role:      msg.Role,
			Author:    userAuthor,
			Text:      msg.Content,
			Streaming: msg.Streaming,
			CreatedAt: msg.CreatedAt,
		}
		if msg.Role == chat.RoleModel {
			entry.Author = selected.Label
		}
		if msg.Streaming && msg.Content == "" {
			entry.Text = ThinkingText
			entry.Pending = true
		}
		view.Entries = append(view.Entries, entry)
	}
	return view
}
