package tier

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/novachat/backend/internal/model/tier"
	"github.com/zhouzirui/novachat/backend/internal/service/conversation"
	"github.com/zhouzirui/novachat/backend/pkg/utils"
)

// Handler 模型档位的HTTP处理器
type Handler struct {
	tiers tier.Store
	ctrl  *conversation.Controller
}

// New 创建档位处理器
func New(tiers tier.Store, ctrl *conversation.Controller) *Handler {
	return &Handler{tiers: tiers, ctrl: ctrl}
}

// RegisterRoutes 注册档位相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/tiers", h.handleListTiers)
	r.Put("/tiers/current", h.handleSelectTier)
}

type tierList struct {
	Tiers    []tier.Spec `json:"tiers"`
	Selected tier.Tier   `json:"selected"`
}

// handleListTiers 返回档位目录与当前档位
func (h *Handler) handleListTiers(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, tierList{Tiers: h.tiers.List(), Selected: h.ctrl.Tier()})
}

// handleSelectTier 切换后续发送使用的档位
func (h *Handler) handleSelectTier(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Tier string `json:"tier"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	selected, err := tier.Parse(payload.Tier)
	if err == nil {
		err = h.ctrl.SelectTier(selected)
	}
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, tier.ErrUnknownTier) {
			status = http.StatusBadRequest
		}
		utils.RespondError(w, status, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, tierList{Tiers: h.tiers.List(), Selected: h.ctrl.Tier()})
}
