package transcript

import (
	"time"

	"github.com/zhouzirui/novachat/backend/internal/model/chat"
)

// SessionSummary is one row of the session list.
type SessionSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	Current      bool      `json:"current"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Sidebar summarizes sessions in store order and marks the current one.
func Sidebar(sessions []chat.Session, currentID string) []SessionSummary {
	out := make([]SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		title := s.Title
		if title == "" {
			title = chat.DefaultTitle
		}
		out = append(out, SessionSummary{
			ID:           s.ID,
			Title:        title,
			MessageCount: len(s.Messages),
			Current:      s.ID == currentID,
			UpdatedAt:    s.UpdatedAt,
		})
	}
	return out
}
