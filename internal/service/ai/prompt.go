package ai

import (
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
)

// FString templates treat braces as placeholders, so the fixed prompts below avoid them.
const classifierSystemPrompt = "You classify requests sent to a meeting assistant.\n" +
	"Allowed intents: qna (a question about meetings or documents), send_meeting_minutes (the user wants meeting minutes delivered to participants or a chat user or channel), unsupported (anything unrelated).\n" +
	"Output exactly one JSON object with the fields intent (one of the allowed intents) and entities (an object of string values, for example meeting_id, document_name, target_user_or_channel). Output nothing else."

const classifierUserPrompt = "Recent conversation:\n{history}\n\nLatest request:\n{query}\n\nReturn the JSON now."

const generationSystemPrompt = "You are a meeting assistant that answers questions about meetings and their documents.\n" +
	"Before answering, write your reasoning under a <think> heading, step by step, one step per paragraph. When a step takes an action, write it on its own line starting with \"Action:\".\n" +
	"After the reasoning, write the final answer under an \"Answer:\" heading.\n" +
	"Use the reference documents when they are relevant and say so when they do not contain the answer. Keep the previous conversation in mind."

func buildSystemPrompt(meeting *conversation.MeetingContext) string {
	if meeting == nil || meeting.IsZero() {
		return generationSystemPrompt
	}

	var builder strings.Builder
	builder.WriteString(generationSystemPrompt)
	builder.WriteString("\n\nCurrent meeting:")
	if meeting.Title != "" {
		builder.WriteString("\n- title: ")
		builder.WriteString(meeting.Title)
	}
	if meeting.MeetingID != "" {
		builder.WriteString("\n- meeting id: ")
		builder.WriteString(meeting.MeetingID)
	}
	if meeting.DocumentID != "" {
		builder.WriteString("\n- document id: ")
		builder.WriteString(meeting.DocumentID)
	}
	if names := meeting.ParticipantNames(); len(names) > 0 {
		builder.WriteString("\n- participants: ")
		builder.WriteString(strings.Join(names, ", "))
	}
	return builder.String()
}

func buildUserPrompt(query string, documents []conversation.RetrievedDocument) string {
	query = strings.TrimSpace(query)
	if len(documents) == 0 {
		return query
	}

	var builder strings.Builder
	builder.WriteString(query)
	builder.WriteString("\n\n--- Reference documents ---")
	for i, doc := range documents {
		title := doc.Title
		if title == "" {
			title = doc.DocumentID
		}
		builder.WriteString(fmt.Sprintf("\n[%d] %s (score %.2f)\n%s", i+1, title, doc.Score, strings.TrimSpace(doc.Excerpt)))
	}
	return builder.String()
}

func (s *Service) buildHistoryMessages(turns []conversation.Turn) []*schema.Message {
	if len(turns) == 0 {
		return nil
	}

	startIdx := 0
	if len(turns) > s.historyLimit {
		startIdx = len(turns) - s.historyLimit
	}

	history := make([]*schema.Message, 0, 2*(len(turns)-startIdx))
	for _, turn := range turns[startIdx:] {
		history = append(history, schema.UserMessage(turn.Query))
		if turn.Answer != "" {
			history = append(history, schema.AssistantMessage(turn.Answer, nil))
		}
	}
	return history
}
