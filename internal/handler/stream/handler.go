// Package stream 通过 Server-Sent Events 输出编排器事件流。
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
	"github.com/zhouzirui/meeting-copilot/backend/internal/model/event"
	"github.com/zhouzirui/meeting-copilot/backend/pkg/utils"
)

// maxBodyBytes 请求体大小上限。
const maxBodyBytes = 1 << 20

// Streamer 为单个请求生成事件流。
type Streamer interface {
	Handle(ctx context.Context, req conversation.Request) *schema.StreamReader[event.Event]
}

// Handler 通过 SSE 输出流式回答
type Handler struct {
	streamer Streamer
	logger   *slog.Logger
}

// New 创建流式处理器
func New(streamer Streamer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{streamer: streamer, logger: logger.With("component", "sse")}
}

// RegisterRoutes 注册流式问答路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/stream", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	var req conversation.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	// 客户端断开时 r.Context() 被取消，编排器随之停止。
	sr := h.streamer.Handle(r.Context(), req)
	defer sr.Close()

	var sessionID string
	for {
		ev, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			h.logger.Warn("event stream failed", "session_id", sessionID, "error", err)
			return
		}
		sessionID = ev.SessionID

		if err := utils.SendSSEChunk(w, flusher, ev); err != nil {
			h.logger.Info("client went away", "session_id", sessionID, "error", err)
			return
		}
	}
}
