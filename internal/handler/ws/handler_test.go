package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
	"github.com/zhouzirui/meeting-copilot/backend/internal/model/event"
)

type recordingStreamer struct {
	mu       sync.Mutex
	requests []conversation.Request
}

func (s *recordingStreamer) Handle(_ context.Context, req conversation.Request) *schema.StreamReader[event.Event] {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()

	id := req.SessionID
	if id == "" {
		id = "generated-1"
	}
	b := event.Builder{SessionID: id}
	return schema.StreamReaderFromArray([]event.Event{
		b.New(event.KindStart, event.StartData{SessionID: id}),
		b.Content("ok"),
		b.New(event.KindEnd, event.EndData{Message: "Response completed."}),
	})
}

func (s *recordingStreamer) snapshot() []conversation.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]conversation.Request(nil), s.requests...)
}

func dial(t *testing.T, s Streamer) *websocket.Conn {
	t.Helper()
	r := chi.NewRouter()
	New(s, nil, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/chat", nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readKinds(t *testing.T, conn *websocket.Conn, n int) []map[string]any {
	t.Helper()
	out := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		var frame map[string]any
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		out = append(out, frame)
	}
	return out
}

func TestWebSocketRelaysEventsAndKeepsSession(t *testing.T) {
	streamer := &recordingStreamer{}
	conn := dial(t, streamer)

	if err := conn.WriteJSON(map[string]any{"query": "first"}); err != nil {
		t.Fatalf("write err: %v", err)
	}
	frames := readKinds(t, conn, 3)
	for i, want := range []string{"start", "content", "end"} {
		if frames[i]["type"] != want {
			t.Fatalf("frame %d: expected %s, got %v", i, want, frames[i]["type"])
		}
	}
	if frames[0]["session_id"] != "generated-1" {
		t.Fatalf("unexpected session id %v", frames[0]["session_id"])
	}

	if err := conn.WriteJSON(map[string]any{"query": "second"}); err != nil {
		t.Fatalf("write err: %v", err)
	}
	readKinds(t, conn, 3)

	reqs := streamer.snapshot()
	if len(reqs) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(reqs))
	}
	if reqs[1].SessionID != "generated-1" {
		t.Fatalf("follow-up should reuse the session, got %q", reqs[1].SessionID)
	}
}

func TestWebSocketMalformedFrame(t *testing.T) {
	streamer := &recordingStreamer{}
	conn := dial(t, streamer)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{oops")); err != nil {
		t.Fatalf("write err: %v", err)
	}
	frames := readKinds(t, conn, 1)
	if frames[0]["type"] != "error" {
		t.Fatalf("expected error frame, got %v", frames[0]["type"])
	}
	data, _ := frames[0]["data"].(map[string]any)
	if data["code"] != "invalid_request" {
		t.Fatalf("unexpected error payload %v", data)
	}

	// 连接仍然可用
	if err := conn.WriteJSON(map[string]any{"query": "after"}); err != nil {
		t.Fatalf("write err: %v", err)
	}
	readKinds(t, conn, 3)
	if n := len(streamer.snapshot()); n != 1 {
		t.Fatalf("expected 1 request, got %d", n)
	}
}
