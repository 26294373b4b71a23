package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
	"github.com/zhouzirui/meeting-copilot/backend/internal/model/event"
	convstore "github.com/zhouzirui/meeting-copilot/backend/internal/service/conversation"
)

type stubStreamer struct{}

func (stubStreamer) Handle(_ context.Context, req conversation.Request) *schema.StreamReader[event.Event] {
	b := event.Builder{SessionID: "s1"}
	return schema.StreamReaderFromArray([]event.Event{
		b.New(event.KindStart, event.StartData{SessionID: "s1"}),
		b.New(event.KindEnd, event.EndData{Message: "Response completed."}),
	})
}

func TestHealth(t *testing.T) {
	r := NewRouter(Dependencies{Components: map[string]bool{"model": true, "retrieval": false}})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Status     string          `json:"status"`
		Components map[string]bool `json:"components"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode err: %v", err)
	}
	if body.Status != "ok" || !body.Components["model"] || body.Components["retrieval"] {
		t.Fatalf("unexpected health body %+v", body)
	}
}

func TestStreamRouteMounted(t *testing.T) {
	r := NewRouter(Dependencies{Streamer: stubStreamer{}, Sessions: convstore.NewStore()})

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"query":"hi"}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"type":"end"`) {
		t.Fatalf("missing end event: %q", resp.Body.String())
	}
}

func TestStreamUnavailableWithoutStreamer(t *testing.T) {
	r := NewRouter(Dependencies{})

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stream", strings.NewReader(`{"query":"hi"}`))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}
