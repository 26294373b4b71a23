// Package ws 通过 WebSocket 输出编排器事件流。每个入站文本帧是一个请求，
// 每个事件作为一个 JSON 帧发出。
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
	"github.com/zhouzirui/meeting-copilot/backend/internal/model/event"
)

const (
	readWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
	maxFrameSize = 1 << 20
)

// Streamer 为单个请求生成事件流。
type Streamer interface {
	Handle(ctx context.Context, req conversation.Request) *schema.StreamReader[event.Event]
}

// Handler WebSocket 问答处理器
type Handler struct {
	streamer Streamer
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New 创建WebSocket处理器。allowedOrigins 与 CORS 中间件一致，"*" 放行任意来源，
// 为空时只允许同源。
func New(streamer Streamer, allowedOrigins []string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		streamer: streamer,
		logger:   logger.With("component", "websocket"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if len(allowedOrigins) > 0 {
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					return true
				}
			}
			return origin == ""
		}
	}
	return h
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/chat", h.handleWebSocket)
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// 连接级会话，首个请求未带 session_id 时由 START 事件回填。
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	frames := make(chan []byte, 4)
	go h.readLoop(ctx, cancel, conn, frames)
	go h.pingLoop(ctx, conn)

	h.logger.Info("connection opened", "remote", r.RemoteAddr, "session_id", sessionID)

	for frame := range frames {
		var req conversation.Request
		if err := json.Unmarshal(frame, &req); err != nil {
			if err := h.sendError(conn, sessionID, "invalid request frame"); err != nil {
				return
			}
			continue
		}
		if req.SessionID == "" {
			req.SessionID = sessionID
		}

		id, err := h.relay(ctx, conn, req)
		if id != "" {
			sessionID = id
		}
		if err != nil {
			h.logger.Info("connection closed while streaming", "session_id", sessionID, "error", err)
			return
		}
	}
}

// relay 把一个请求的事件写到连接上，返回编排器分配的会话 id。
func (h *Handler) relay(ctx context.Context, conn *websocket.Conn, req conversation.Request) (string, error) {
	sr := h.streamer.Handle(ctx, req)
	defer sr.Close()

	var sessionID string
	for {
		ev, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			return sessionID, nil
		}
		if err != nil {
			return sessionID, err
		}
		if ev.SessionID != "" {
			sessionID = ev.SessionID
		}
		if err := h.writeJSON(conn, ev); err != nil {
			return sessionID, err
		}
	}
}

// readLoop 负责所有读操作。读失败时取消 ctx，对端离开后进行中的请求立即停止。
func (h *Handler) readLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, frames chan<- []byte) {
	defer close(frames)
	defer cancel()

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read error", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		if kind != websocket.TextMessage {
			continue
		}

		select {
		case frames <- data:
		case <-ctx.Done():
			return
		}
	}
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// WriteControl 可与数据帧写入并发调用。
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

// sendError 报告未能交给编排器的帧。
func (h *Handler) sendError(conn *websocket.Conn, sessionID, message string) error {
	b := event.Builder{SessionID: sessionID}
	return h.writeJSON(conn, b.New(event.KindError, event.ErrorData{
		Code:         "invalid_request",
		ErrorMessage: message,
	}))
}
