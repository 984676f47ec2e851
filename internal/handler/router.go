package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/novachat/backend/internal/handler/chat"
	"github.com/zhouzirui/novachat/backend/internal/handler/stream"
	tierHandler "github.com/zhouzirui/novachat/backend/internal/handler/tier"
	middlewarePkg "github.com/zhouzirui/novachat/backend/internal/middleware"
	"github.com/zhouzirui/novachat/backend/internal/model/tier"
	chatService "github.com/zhouzirui/novachat/backend/internal/service/chat"
	"github.com/zhouzirui/novachat/backend/internal/service/conversation"
	"github.com/zhouzirui/novachat/backend/pkg/utils"
)

// NewRouter wires HTTP routes to core services.
func NewRouter(ctrl *conversation.Controller, store *chatService.Store, tiers tier.Store, logger *zap.Logger, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(allowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		chat.New(ctrl, store).RegisterRoutes(api)
		tierHandler.New(tiers, ctrl).RegisterRoutes(api)
		stream.New(ctrl, store, logger).RegisterRoutes(api)
		stream.NewFeedHandler(ctrl, store, logger, allowedOrigins).RegisterRoutes(api)
	})

	return r
}
