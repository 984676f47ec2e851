package stream

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chatService "github.com/zhouzirui/novachat/backend/internal/service/chat"
	"github.com/zhouzirui/novachat/backend/internal/service/conversation"
	"github.com/zhouzirui/novachat/backend/internal/service/transcript"
	"github.com/zhouzirui/novachat/backend/pkg/utils"
)

// SSE event names.
const (
	EventTranscript = "transcript"
	EventEnd        = "end"
)

// Handler runs a send and streams the re-derived transcript of the turn's
// session via Server-Sent Events.
type Handler struct {
	ctrl   *conversation.Controller
	store  *chatService.Store
	logger *zap.Logger
}

// New creates the stream handler.
func New(ctrl *conversation.Controller, store *chatService.Store, logger *zap.Logger) *Handler {
	return &Handler{ctrl: ctrl, store: store, logger: logger.Named("stream")}
}

// RegisterRoutes registers the send route.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/messages", h.handleSend)
}

// EndEvent closes a send stream.
type EndEvent struct {
	SessionID string             `json:"sessionId"`
	MessageID string             `json:"messageId"`
	State     conversation.State `json:"state"`
	Fragments int                `json:"fragments"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := h.store.Subscribe()
	defer unsubscribe()

	turn, ok := h.ctrl.Begin(payload.Text)
	if !ok {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	// The turn outlives the request: there is no way to abort a stream once opened.
	done := make(chan conversation.Result, 1)
	go func() {
		done <- turn.Run(context.WithoutCancel(r.Context()))
	}()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	h.sendView(w, flusher, turn.SessionID)

	for {
		select {
		case ev := <-events:
			if ev.SessionID != turn.SessionID || ev.Kind != chatService.EventUpdated {
				continue
			}
			h.sendView(w, flusher, turn.SessionID)
		case res := <-done:
			h.sendView(w, flusher, turn.SessionID)
			h.send(w, flusher, EventEnd, EndEvent{
				SessionID: res.SessionID,
				MessageID: res.MessageID,
				State:     res.State,
				Fragments: res.Fragments,
			})
			return
		case <-r.Context().Done():
			h.logger.Debug("client left before turn finished", zap.String("session", turn.SessionID))
			return
		}
	}
}

func (h *Handler) sendView(w http.ResponseWriter, flusher http.Flusher, sessionID string) {
	session, ok := h.store.GetSession(sessionID)
	if !ok {
		return
	}
	h.send(w, flusher, EventTranscript, transcript.Derive(session, h.ctrl.TierSpec()))
}

func (h *Handler) send(w http.ResponseWriter, flusher http.Flusher, event string, data any) {
	if err := utils.SendSSEEvent(w, flusher, event, data); err != nil {
		h.logger.Debug("sse write failed", zap.String("event", event), zap.Error(err))
	}
}
