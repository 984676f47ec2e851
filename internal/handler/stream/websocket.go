package stream

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/novachat/backend/internal/middleware"
	chatService "github.com/zhouzirui/novachat/backend/internal/service/chat"
	"github.com/zhouzirui/novachat/backend/internal/service/conversation"
	"github.com/zhouzirui/novachat/backend/internal/service/transcript"
)

const writeTimeout = 10 * time.Second

// Snapshot 是客户端重绘所需的全部数据：会话列表、当前会话与其对话记录。
type Snapshot struct {
	Sessions   []transcript.SessionSummary `json:"sessions"`
	CurrentID  string                      `json:"currentId"`
	Transcript *transcript.View            `json:"transcript,omitempty"`
	Busy       bool                        `json:"busy"`
}

// FeedHandler 在会话存储每次变更后通过 WebSocket 推送 Snapshot。
type FeedHandler struct {
	ctrl     *conversation.Controller
	store    *chatService.Store
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewFeedHandler 创建 WebSocket 推送处理器，握手时按 allowedOrigins 校验来源。
func NewFeedHandler(ctrl *conversation.Controller, store *chatService.Store, logger *zap.Logger, allowedOrigins []string) *FeedHandler {
	return &FeedHandler{
		ctrl:   ctrl,
		store:  store,
		logger: logger.Named("feed"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				// 非浏览器客户端不携带 Origin
				return origin == "" || middleware.OriginAllowed(allowedOrigins, origin)
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// RegisterRoutes 注册推送路由。
func (h *FeedHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleFeed)
}

// BuildSnapshot 从会话存储派生快照。
func (h *FeedHandler) BuildSnapshot() Snapshot {
	currentID := h.store.CurrentID()
	snap := Snapshot{
		Sessions:  transcript.Sidebar(h.store.List(), currentID),
		CurrentID: currentID,
		Busy:      h.ctrl.Busy(currentID),
	}
	if session, ok := h.store.GetSession(currentID); ok {
		view := transcript.Derive(session, h.ctrl.TierSpec())
		snap.Transcript = &view
	}
	return snap
}

func (h *FeedHandler) handleFeed(w http.ResponseWriter, r *http.Request) {
	events, unsubscribe := h.store.Subscribe()
	defer unsubscribe()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// 推送是单向的，读循环只用于感知客户端断开
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := h.write(conn); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			return
		case <-events:
			drain(events)
			if err := h.write(conn); err != nil {
				h.logger.Debug("feed write failed", zap.Error(err))
				return
			}
		}
	}
}

func (h *FeedHandler) write(conn *websocket.Conn) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(h.BuildSnapshot())
}

// drain 丢弃已排队的事件，合并到即将发送的快照中。
func drain(events <-chan chatService.Event) {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}
