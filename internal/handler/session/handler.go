package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
	convstore "github.com/zhouzirui/meeting-copilot/backend/internal/service/conversation"
	"github.com/zhouzirui/meeting-copilot/backend/pkg/utils"
)

// Store 会话查询与删除
type Store interface {
	Get(ctx context.Context, sessionID string) (conversation.Session, error)
	Remove(ctx context.Context, sessionID string) bool
	List(ctx context.Context) []string
}

// Handler 会话管理的HTTP处理器
type Handler struct {
	store Store
}

// New 创建会话处理器
func New(store Store) *Handler {
	return &Handler{store: store}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/sessions", h.handleList)
	r.Get("/sessions/{sessionID}", h.handleGet)
	r.Delete("/sessions/{sessionID}", h.handleDelete)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{"sessions": h.store.List(r.Context())})
}

// handleGet 返回会话及其全部轮次
func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, err := h.store.Get(r.Context(), sessionID)
	if errors.Is(err, convstore.ErrSessionNotFound) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	utils.RespondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !h.store.Remove(r.Context(), sessionID) {
		utils.RespondError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
