package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/novachat/backend/internal/model/chat"
	"github.com/zhouzirui/novachat/backend/internal/model/tier"
	"github.com/zhouzirui/novachat/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/novachat/backend/internal/service/chat"
)

// ErrorReply replaces the assistant message of a failed turn.
const ErrorReply = "**Error:** Failed to generate response. Please check your API key or try again."

const titleLimit = 30

// Controller drives the send/stream state machine and the session commands
// of a single user.
type Controller struct {
	store    *chatservice.Store
	streamer ai.Streamer
	tiers    tier.Store
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	busy map[string]bool
	tier tier.Tier
}

// New wires a controller. The store gets an empty current session if it has
// none, mirroring the first page load of the chat client.
func New(store *chatservice.Store, streamer ai.Streamer, tiers tier.Store, initial tier.Tier, logger *zap.Logger) (*Controller, error) {
	if _, ok := tiers.FindByID(initial); !ok {
		return nil, fmt.Errorf("%w: %s", tier.ErrUnknownTier, initial)
	}

	c := &Controller{
		store:    store,
		streamer: streamer,
		tiers:    tiers,
		logger:   logger.Named("conversation"),
		now:      func() time.Time { return time.Now().UTC() },
		busy:     make(map[string]bool),
		tier:     initial,
	}

	if _, ok := store.Current(); !ok {
		if sessions := store.List(); len(sessions) > 0 {
			store.Select(sessions[0].ID)
		} else {
			store.Select(store.CreateSession())
		}
	}
	return c, nil
}

// NewChat creates an empty session and makes it current.
func (c *Controller) NewChat() string {
	id := c.store.CreateSession()
	c.store.Select(id)
	c.logger.Debug("new chat", zap.String("session", id))
	return id
}

// SelectSession makes id current. The selection is unchanged when id is unknown.
func (c *Controller) SelectSession(id string) error {
	if !c.store.Select(id) {
		return chatservice.ErrSessionNotFound
	}
	return nil
}

// DeleteSession removes a session; the store picks the replacement when the
// current session goes away. A turn still streaming into the deleted session
// keeps running and its commits are dropped.
func (c *Controller) DeleteSession(id string) error {
	if _, ok := c.store.GetSession(id); !ok {
		return chatservice.ErrSessionNotFound
	}
	c.store.DeleteSession(id)
	c.logger.Debug("deleted session", zap.String("session", id), zap.String("current", c.store.CurrentID()))
	return nil
}

// SelectTier changes the tier used by subsequent sends. Turns already in
// flight keep the tier captured when they began.
func (c *Controller) SelectTier(t tier.Tier) error {
	if _, ok := c.tiers.FindByID(t); !ok {
		return fmt.Errorf("%w: %s", tier.ErrUnknownTier, t)
	}
	c.mu.Lock()
	c.tier = t
	c.mu.Unlock()
	return nil
}

// Tier returns the selected tier.
func (c *Controller) Tier() tier.Tier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tier
}

// TierSpec returns the catalog entry of the selected tier.
func (c *Controller) TierSpec() tier.Spec {
	spec, _ := c.tiers.FindByID(c.Tier())
	return spec
}

// Busy reports whether a turn is in flight for the session.
func (c *Controller) Busy(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy[sessionID]
}

// Send runs a whole turn on the current session and blocks until it is
// finalized. It reports false when the call was ignored: blank input, a turn
// already in flight for the session, or no current session.
func (c *Controller) Send(ctx context.Context, text string) (Result, bool) {
	turn, ok := c.Begin(text)
	if !ok {
		return Result{}, false
	}
	return turn.Run(ctx), true
}

// Begin commits the user message and the streaming placeholder of a new
// turn. Run must be called on the returned turn to open the stream and
// release the session.
func (c *Controller) Begin(text string) (*Turn, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, false
	}

	c.mu.Lock()
	session, ok := c.store.Current()
	if !ok || c.busy[session.ID] {
		c.mu.Unlock()
		return nil, false
	}
	c.busy[session.ID] = true
	selected := c.tier
	c.mu.Unlock()

	// Stored content keeps the user's whitespace; only the emptiness check trims.
	user := chat.Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Content:   text,
		CreatedAt: c.now(),
	}
	committed := append(chat.CloneMessages(session.Messages), user)
	c.store.AppendMessages(session.ID, committed)

	if len(session.Messages) == 0 {
		c.store.SetTitle(session.ID, DeriveTitle(text))
	}

	turn := &Turn{
		SessionID: session.ID,
		Tier:      selected,
		ctrl:      c,
		prompt:    user.Content,
		committed: committed,
		placeholder: chat.Message{
			ID:        uuid.NewString(),
			Role:      chat.RoleModel,
			CreatedAt: c.now(),
			Streaming: true,
		},
		state: StateUserCommitted,
	}
	turn.commit("", true)
	return turn, true
}

func (c *Controller) release(sessionID string) {
	c.mu.Lock()
	delete(c.busy, sessionID)
	c.mu.Unlock()
}

// DeriveTitle names a session after its first message: the first 30
// characters, with "..." appended when the message is longer.
func DeriveTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= titleLimit {
		return text
	}
	return string(runes[:titleLimit]) + "..."
}
