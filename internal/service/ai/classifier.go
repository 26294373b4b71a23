package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
)

type classifierPayload struct {
	Intent   string         `json:"intent"`
	Entities map[string]any `json:"entities"`
}

// Classify 对查询进行意图分类。失败时返回包装了 ErrClassificationUnavailable 的错误。
func (s *Service) Classify(ctx context.Context, query string, history []conversation.Turn) (conversation.Intent, error) {
	if s.classifier == nil {
		if s.keywordFallback {
			return s.keywordIntent(query), nil
		}
		return conversation.Intent{}, fmt.Errorf("%w: no chat model configured", ErrClassificationUnavailable)
	}

	input := map[string]any{
		"history": formatHistory(history, s.historyLimit),
		"query":   strings.TrimSpace(query),
	}

	msg, err := s.classifier.Invoke(ctx, input)
	if err != nil {
		return conversation.Intent{}, fmt.Errorf("%w: %v", ErrClassificationUnavailable, err)
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return conversation.Intent{}, fmt.Errorf("%w: empty classifier output", ErrClassificationUnavailable)
	}

	payload, err := parseClassifierOutput(msg.Content)
	if err != nil {
		s.logger.Debug("classifier output parse failed", "error", err, "raw", msg.Content)
		return conversation.Intent{}, fmt.Errorf("%w: %v", ErrClassificationUnavailable, err)
	}

	label := strings.ToLower(strings.TrimSpace(payload.Intent))
	if label == "" {
		return conversation.Intent{}, fmt.Errorf("%w: classifier returned no intent", ErrClassificationUnavailable)
	}

	return conversation.Intent{
		Kind:     s.resolveLabel(label),
		Label:    label,
		Entities: stringifyEntities(payload.Entities),
	}, nil
}

// parseClassifierOutput 解析大模型返回的 JSON，兼容 ``` 代码块包裹。
func parseClassifierOutput(content string) (*classifierPayload, error) {
	trimmed := stripCodeFence(strings.TrimSpace(content))
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	payload := &classifierPayload{}
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func stripCodeFence(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl != -1 {
		// 去掉语言标记，例如 ```json
		text = text[nl+1:]
	}
	if idx := strings.LastIndex(text, "```"); idx != -1 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

func stringifyEntities(raw map[string]any) map[string]string {
	entities := make(map[string]string, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
			continue
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
			entities[key] = strings.TrimSpace(v)
		case []any:
			parts := make([]string, 0, len(v))
			for _, item := range v {
				if item != nil {
					parts = append(parts, fmt.Sprint(item))
				}
			}
			if len(parts) > 0 {
				entities[key] = strings.Join(parts, ",")
			}
		default:
			entities[key] = fmt.Sprint(v)
		}
	}
	return entities
}

func formatHistory(turns []conversation.Turn, limit int) string {
	if len(turns) == 0 {
		return "(no previous conversation)"
	}
	start := 0
	if limit > 0 && len(turns) > limit {
		start = len(turns) - limit
	}

	var builder strings.Builder
	for _, turn := range turns[start:] {
		builder.WriteString("User: ")
		builder.WriteString(strings.TrimSpace(turn.Query))
		builder.WriteString("\n")
		if answer := strings.TrimSpace(turn.Answer); answer != "" {
			builder.WriteString("Assistant: ")
			builder.WriteString(truncate(answer, 200))
			builder.WriteString("\n")
		}
	}
	return strings.TrimRight(builder.String(), "\n")
}

func truncate(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
