package chat

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/novachat/backend/internal/model/chat"
)

// ErrSessionNotFound is reported by callers that need to surface a missing
// session. Store mutations themselves treat unknown ids as no-ops.
var ErrSessionNotFound = errors.New("session not found")

// EventKind classifies a store change.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventDeleted  EventKind = "deleted"
	EventUpdated  EventKind = "updated"
	EventSelected EventKind = "selected"
)

// Event tells subscribers which session changed. Subscribers re-read the
// store; events carry no session data.
type Event struct {
	SessionID string    `json:"sessionId"`
	Kind      EventKind `json:"kind"`
}

const subscriberBuffer = 64

// Store owns every chat session of the process. Sessions are kept newest
// first and every read hands out a deep copy.
type Store struct {
	mu        sync.RWMutex
	sessions  []chat.Session
	currentID string
	now       func() time.Time

	subs    map[int]chan Event
	nextSub int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		now:  func() time.Time { return time.Now().UTC() },
		subs: make(map[int]chan Event),
	}
}

// CreateSession inserts an empty session at the front and returns its id.
// The new session is not selected.
func (s *Store) CreateSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked()
}

func (s *Store) createLocked() string {
	session := chat.Session{
		ID:        uuid.NewString(),
		Title:     chat.DefaultTitle,
		Messages:  make([]chat.Message, 0, 16),
		UpdatedAt: s.now(),
	}
	s.sessions = append([]chat.Session{session}, s.sessions...)
	s.publishLocked(Event{SessionID: session.ID, Kind: EventCreated})
	return session.ID
}

// DeleteSession removes a session. When it was the current one, the first
// remaining session becomes current, or a fresh session is created and
// selected if none remain. Both steps happen under one lock.
func (s *Store) DeleteSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return
	}
	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)
	s.publishLocked(Event{SessionID: id, Kind: EventDeleted})

	if s.currentID != id {
		return
	}
	if len(s.sessions) == 0 {
		s.createLocked()
	}
	s.selectLocked(s.sessions[0].ID)
}

// AppendMessages replaces the session's messages with the given sequence and
// bumps UpdatedAt. Unknown ids are ignored.
func (s *Store) AppendMessages(id string, messages []chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return
	}
	s.sessions[idx].Messages = chat.CloneMessages(messages)
	s.sessions[idx].UpdatedAt = s.now()
	s.publishLocked(Event{SessionID: id, Kind: EventUpdated})
}

// SetTitle renames a session. Unknown ids are ignored.
func (s *Store) SetTitle(id, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return
	}
	s.sessions[idx].Title = title
	s.publishLocked(Event{SessionID: id, Kind: EventUpdated})
}

// GetSession retrieves a copy of a session.
func (s *Store) GetSession(id string) (chat.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return chat.Session{}, false
	}
	return s.sessions[idx].Clone(), true
}

// List returns copies of all sessions, newest first.
func (s *Store) List() []chat.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]chat.Session, len(s.sessions))
	for i, session := range s.sessions {
		out[i] = session.Clone()
	}
	return out
}

// Select makes id the current session. It reports false and changes nothing
// when id is unknown.
func (s *Store) Select(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(id) < 0 {
		return false
	}
	s.selectLocked(id)
	return true
}

func (s *Store) selectLocked(id string) {
	s.currentID = id
	s.publishLocked(Event{SessionID: id, Kind: EventSelected})
}

// CurrentID returns the current session id, or "" when nothing is selected.
func (s *Store) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

// Current returns a copy of the current session.
func (s *Store) Current() (chat.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := s.indexLocked(s.currentID)
	if idx < 0 {
		return chat.Session{}, false
	}
	return s.sessions[idx].Clone(), true
}

// Len reports how many sessions the store holds.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Subscribe registers for change events. Delivery never blocks the writer:
// a subscriber that falls behind misses events and should re-read the store.
// The returned func unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Store) publishLocked(ev Event) {
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i := range s.sessions {
		if s.sessions[i].ID == id {
			return i
		}
	}
	return -1
}
