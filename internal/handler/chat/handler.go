package chat

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	chatService "github.com/zhouzirui/novachat/backend/internal/service/chat"
	"github.com/zhouzirui/novachat/backend/internal/service/conversation"
	"github.com/zhouzirui/novachat/backend/internal/service/transcript"
	"github.com/zhouzirui/novachat/backend/pkg/utils"
)

// Handler 会话相关的HTTP处理器：列表、新建、切换、删除与对话记录查询
type Handler struct {
	ctrl  *conversation.Controller
	store *chatService.Store
}

// New 创建会话处理器
func New(ctrl *conversation.Controller, store *chatService.Store) *Handler {
	return &Handler{ctrl: ctrl, store: store}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleListSessions)
	r.Post("/sessions", h.handleNewChat)
	r.Put("/sessions/current", h.handleSelectSession)
	r.Delete("/sessions/{sessionID}", h.handleDeleteSession)
	r.Get("/sessions/{sessionID}/transcript", h.handleTranscript)
}

type sessionList struct {
	Sessions  []transcript.SessionSummary `json:"sessions"`
	CurrentID string                      `json:"currentId"`
}

func (h *Handler) list() sessionList {
	currentID := h.store.CurrentID()
	return sessionList{
		Sessions:  transcript.Sidebar(h.store.List(), currentID),
		CurrentID: currentID,
	}
}

// handleListSessions 返回会话列表与当前会话
func (h *Handler) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.list())
}

// handleNewChat 新建会话并设为当前会话
func (h *Handler) handleNewChat(w http.ResponseWriter, _ *http.Request) {
	h.ctrl.NewChat()
	utils.RespondJSON(w, http.StatusCreated, h.list())
}

// handleSelectSession 切换当前会话
func (h *Handler) handleSelectSession(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ID string `json:"id"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ID == "" {
		utils.RespondError(w, http.StatusBadRequest, "id is required")
		return
	}

	if err := h.ctrl.SelectSession(payload.ID); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.list())
}

// handleDeleteSession 删除会话
func (h *Handler) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.DeleteSession(chi.URLParam(r, "sessionID")); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.list())
}

// handleTranscript 返回会话的对话记录视图
func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	session, ok := h.store.GetSession(chi.URLParam(r, "sessionID"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, chatService.ErrSessionNotFound.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, transcript.Derive(session, h.ctrl.TierSpec()))
}

// respondServiceError 将服务错误映射为HTTP状态码
func respondServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, chatService.ErrSessionNotFound) {
		status = http.StatusNotFound
	}
	utils.RespondError(w, status, err.Error())
}
