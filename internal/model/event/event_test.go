package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestContentEventEncodesNullData(t *testing.T) {
	b := Builder{SessionID: "s1", Now: func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }}
	raw, err := json.Marshal(b.Content("hello"))
	if err != nil {
		t.Fatalf("marshal err: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal err: %v", err)
	}
	if decoded["type"] != "content" {
		t.Fatalf("unexpected type: %v", decoded["type"])
	}
	if decoded["content"] != "hello" {
		t.Fatalf("unexpected content: %v", decoded["content"])
	}
	if v, ok := decoded["data"]; !ok || v != nil {
		t.Fatalf("expected explicit null data, got %v", v)
	}
	if decoded["timestamp"] != "2026-01-02T03:04:05.000Z" {
		t.Fatalf("unexpected timestamp: %v", decoded["timestamp"])
	}
}

func TestDataEventOmitsContent(t *testing.T) {
	b := Builder{SessionID: "s1"}
	raw, err := json.Marshal(b.New(KindEnd, EndData{Message: "done"}))
	if err != nil {
		t.Fatalf("marshal err: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal err: %v", err)
	}
	if _, ok := decoded["content"]; ok {
		t.Fatal("content must be omitted for data events")
	}
	if !KindEnd.Terminal() || !KindError.Terminal() || KindContentFragment.Terminal() {
		t.Fatal("unexpected terminal classification")
	}
}
