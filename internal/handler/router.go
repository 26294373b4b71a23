package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/zhouzirui/meeting-copilot/backend/internal/handler/session"
	"github.com/zhouzirui/meeting-copilot/backend/internal/handler/stream"
	"github.com/zhouzirui/meeting-copilot/backend/internal/handler/ws"
	middlewarePkg "github.com/zhouzirui/meeting-copilot/backend/internal/middleware"
	"github.com/zhouzirui/meeting-copilot/backend/pkg/utils"
)

// Dependencies 路由所需的服务
type Dependencies struct {
	Streamer       stream.Streamer
	Sessions       session.Store
	AllowedOrigins []string
	// Components 由健康检查接口返回，例如 {"model": true}。
	Components map[string]bool
	Logger     *slog.Logger
}

// NewRouter 把 HTTP 路由绑定到核心服务。
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	started := time.Now()

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			utils.RespondJSON(w, http.StatusOK, map[string]any{
				"status":     "ok",
				"uptime":     time.Since(started).Round(time.Second).String(),
				"components": deps.Components,
			})
		})

		if deps.Sessions != nil {
			session.New(deps.Sessions).RegisterRoutes(api)
		}

		if deps.Streamer == nil {
			api.Post("/chat/stream", unavailable)
			api.Get("/ws/chat", unavailable)
			return
		}
		stream.New(deps.Streamer, deps.Logger).RegisterRoutes(api)
		ws.New(deps.Streamer, deps.AllowedOrigins, deps.Logger).RegisterRoutes(api)
	})

	return r
}

func unavailable(w http.ResponseWriter, _ *http.Request) {
	utils.RespondError(w, http.StatusServiceUnavailable, "chat streaming unavailable")
}
