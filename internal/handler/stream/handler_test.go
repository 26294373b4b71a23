package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
	"github.com/zhouzirui/meeting-copilot/backend/internal/model/event"
)

type fakeStreamer struct {
	got    conversation.Request
	calls  int
	events []event.Event
}

func (f *fakeStreamer) Handle(_ context.Context, req conversation.Request) *schema.StreamReader[event.Event] {
	f.got = req
	f.calls++
	return schema.StreamReaderFromArray(f.events)
}

func setupRouter(s Streamer) *chi.Mux {
	r := chi.NewRouter()
	New(s, nil).RegisterRoutes(r)
	return r
}

func TestStreamWritesOneChunkPerEvent(t *testing.T) {
	b := event.Builder{SessionID: "s1"}
	fake := &fakeStreamer{events: []event.Event{
		b.New(event.KindStart, event.StartData{SessionID: "s1"}),
		b.Content("Hello"),
		b.New(event.KindEnd, event.EndData{Message: "Response completed."}),
	}}
	r := setupRouter(fake)

	body := `{"query":"what was decided?","session_id":"s1","meeting_context":{"meeting_id":"m1"}}`
	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader(body))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if ct := resp.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if fake.got.Query != "what was decided?" || fake.got.MeetingContext == nil || fake.got.MeetingContext.MeetingID != "m1" {
		t.Fatalf("request not forwarded: %+v", fake.got)
	}

	chunks := strings.Split(strings.TrimSpace(resp.Body.String()), "\n\n")
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d: %q", len(chunks), resp.Body.String())
	}

	var kinds []string
	for _, chunk := range chunks {
		if !strings.HasPrefix(chunk, "data: ") {
			t.Fatalf("chunk missing data prefix: %q", chunk)
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(chunk, "data: ")), &payload); err != nil {
			t.Fatalf("chunk is not json: %v", err)
		}
		kinds = append(kinds, payload["type"].(string))
	}
	if strings.Join(kinds, ",") != "start,content,end" {
		t.Fatalf("unexpected event order %v", kinds)
	}
	if !strings.Contains(chunks[1], `"content":"Hello"`) {
		t.Fatalf("content fragment missing: %q", chunks[1])
	}
}

func TestStreamRejectsMalformedBody(t *testing.T) {
	fake := &fakeStreamer{}
	r := setupRouter(fake)

	req := httptest.NewRequest(http.MethodPost, "/chat/stream", strings.NewReader("{not json"))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
	if fake.calls != 0 {
		t.Fatal("streamer must not run for a malformed body")
	}
}
