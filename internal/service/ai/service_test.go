package ai

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
	"github.com/zhouzirui/meeting-copilot/backend/internal/service/ai/aitest"
)

func newTestService(t *testing.T, fake *aitest.ChatModel) *Service {
	t.Helper()
	svc, err := NewService(context.Background(), fake, Options{RetryAttempts: 1, RetryBackoff: time.Millisecond})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func drain(t *testing.T, stream *UnitStream) ([]Unit, error) {
	t.Helper()
	defer stream.Close()
	var units []Unit
	for {
		unit, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return units, nil
		}
		if err != nil {
			return units, err
		}
		units = append(units, unit)
	}
}

func TestClassifyParsesFencedJSON(t *testing.T) {
	fake := &aitest.ChatModel{Classification: "```json\n{\"intent\": \"send_meeting_minutes\", \"entities\": {\"target_user_or_channel\": \"@kim\", \"meeting_id\": 42}}\n```"}
	svc := newTestService(t, fake)

	got, err := svc.Classify(context.Background(), "send the minutes to kim", nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Kind != conversation.IntentNotify || got.Label != "send_meeting_minutes" {
		t.Fatalf("unexpected intent: %+v", got)
	}
	if got.Entities["target_user_or_channel"] != "@kim" || got.Entities["meeting_id"] != "42" {
		t.Fatalf("unexpected entities: %v", got.Entities)
	}
}

func TestClassifyUnknownLabelKeepsLabel(t *testing.T) {
	fake := &aitest.ChatModel{Classification: `{"intent": "book_room", "entities": {}}`}
	svc := newTestService(t, fake)

	got, err := svc.Classify(context.Background(), "book a room", nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Kind != conversation.IntentUnknown || got.Label != "book_room" {
		t.Fatalf("unexpected intent: %+v", got)
	}
}

func TestClassifyFailures(t *testing.T) {
	cases := map[string]*aitest.ChatModel{
		"model error": {GenerateErr: errors.New("quota exceeded")},
		"not json":    {Classification: "I think it is a question"},
		"no intent":   {Classification: `{"entities": {}}`},
	}
	for name, fake := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newTestService(t, fake)
			_, err := svc.Classify(context.Background(), "hello", nil)
			if !errors.Is(err, ErrClassificationUnavailable) {
				t.Fatalf("expected ErrClassificationUnavailable, got %v", err)
			}
		})
	}
}

func TestClassifyKeywordFallbackWithoutModel(t *testing.T) {
	svc, err := NewService(context.Background(), nil, Options{KeywordFallback: true})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	got, err := svc.Classify(context.Background(), "please send the meeting minutes to everyone", nil)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if got.Kind != conversation.IntentNotify {
		t.Fatalf("expected notify intent, got %+v", got)
	}

	if _, err := svc.Generate(context.Background(), GenerateInput{Query: "q"}); !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("expected ErrGenerationUnavailable without a model, got %v", err)
	}
}

func TestGenerateStreamsUnits(t *testing.T) {
	fake := &aitest.ChatModel{Streams: []aitest.StreamFunc{
		aitest.Chunks("<think>Find the decision.</think>", "Answer: It ", "shipped."),
	}}
	svc := newTestService(t, fake)

	stream, err := svc.Generate(context.Background(), GenerateInput{
		Query:     "What shipped?",
		Documents: []conversation.RetrievedDocument{{DocumentID: "d1", Excerpt: "Release 1.2 shipped", Score: 0.9}},
		History:   []conversation.Turn{{Query: "hi", Answer: "hello"}},
		Meeting:   &conversation.MeetingContext{Title: "Weekly"},
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	units, err := drain(t, stream)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	steps, content := split(units)
	if len(steps) != 1 || content != "It shipped." {
		t.Fatalf("unexpected units: steps=%d content=%q", len(steps), content)
	}

	input := fake.LastStreamInput()
	if len(input) != 4 {
		t.Fatalf("expected system, two history messages and the query, got %d messages", len(input))
	}
	if input[0].Role != schema.System || !strings.Contains(input[0].Content, "Weekly") {
		t.Fatalf("system prompt must carry meeting context: %q", input[0].Content)
	}
	if !strings.Contains(input[3].Content, "Release 1.2 shipped") {
		t.Fatalf("query must carry retrieved documents: %q", input[3].Content)
	}
}

func TestGenerateRetriesStreamOpen(t *testing.T) {
	fake := &aitest.ChatModel{Streams: []aitest.StreamFunc{
		aitest.FailOpen(errors.New("503")),
		aitest.Chunks("ok"),
	}}
	svc := newTestService(t, fake)

	stream, err := svc.Generate(context.Background(), GenerateInput{Query: "q"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	units, err := drain(t, stream)
	if err != nil || len(units) != 1 || units[0].Content != "ok" {
		t.Fatalf("unexpected result: %v %+v", err, units)
	}
	if fake.StreamCalls() != 2 {
		t.Fatalf("expected 2 stream attempts, got %d", fake.StreamCalls())
	}
}

func TestGenerateGivesUpAfterBudget(t *testing.T) {
	fake := &aitest.ChatModel{Streams: []aitest.StreamFunc{aitest.FailOpen(errors.New("503"))}}
	svc := newTestService(t, fake)

	_, err := svc.Generate(context.Background(), GenerateInput{Query: "q"})
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("expected ErrGenerationUnavailable, got %v", err)
	}
	if fake.StreamCalls() != 2 {
		t.Fatalf("expected 2 stream attempts, got %d", fake.StreamCalls())
	}
}

func TestGenerateMidStreamFailure(t *testing.T) {
	fake := &aitest.ChatModel{Streams: []aitest.StreamFunc{
		aitest.FailAfter(errors.New("connection reset"), "partial "),
	}}
	svc := newTestService(t, fake)

	stream, err := svc.Generate(context.Background(), GenerateInput{Query: "q"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	units, err := drain(t, stream)
	if !errors.Is(err, ErrGenerationUnavailable) {
		t.Fatalf("expected ErrGenerationUnavailable, got %v", err)
	}
	if len(units) != 1 || units[0].Content != "partial " {
		t.Fatalf("units before the failure must still be delivered: %+v", units)
	}
	if fake.StreamCalls() != 1 {
		t.Fatalf("mid-stream failures must not be retried, got %d calls", fake.StreamCalls())
	}
}
