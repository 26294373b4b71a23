// Package event 定义对外的流式事件协议。
package event

import (
	"encoding/json"
	"time"
)

// Kind 表示协议事件类型，取值即线上的 "type" 字段。
type Kind string

const (
	KindStart             Kind = "start"
	KindIntentClassified  Kind = "intent_classified"
	KindRetrievalProgress Kind = "thinking"
	KindDocumentFound     Kind = "retrieved_document"
	KindReasoningStep     Kind = "llm_reasoning_step"
	KindContentFragment   Kind = "content"
	KindError             Kind = "error"
	KindEnd               Kind = "end"
)

// Terminal 该类型之后不允许再有事件。
func (k Kind) Terminal() bool {
	return k == KindEnd || k == KindError
}

// Event 事件流中的一个事件。
type Event struct {
	SessionID string    `json:"session_id"`
	Kind      Kind      `json:"type"`
	Content   *string   `json:"content,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// MarshalJSON 时间戳使用毫秒精度的 RFC3339。
func (e Event) MarshalJSON() ([]byte, error) {
	type wire struct {
		SessionID string  `json:"session_id"`
		Kind      Kind    `json:"type"`
		Content   *string `json:"content,omitempty"`
		Data      any     `json:"data"`
		Timestamp string  `json:"timestamp"`
	}
	return json.Marshal(wire{
		SessionID: e.SessionID,
		Kind:      e.Kind,
		Content:   e.Content,
		Data:      e.Data,
		Timestamp: e.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// StartData KindStart 的负载。
type StartData struct {
	SessionID string `json:"session_id"`
}

// IntentData KindIntentClassified 的负载。
type IntentData struct {
	Intent      string            `json:"intent"`
	Entities    map[string]string `json:"entities"`
	Description string            `json:"description"`
	Degraded    bool              `json:"degraded,omitempty"`
}

// ProgressData KindRetrievalProgress 的负载，通知分支也用它携带发送结果。
type ProgressData struct {
	StepDescription string            `json:"step_description"`
	Error           bool              `json:"error,omitempty"`
	Notification    *NotificationData `json:"notification,omitempty"`
	Failure         *ErrorData        `json:"failure,omitempty"`
}

// NotificationData 通知发送结果。
type NotificationData struct {
	Success    bool     `json:"success"`
	Partial    bool     `json:"partial"`
	Delivered  int      `json:"delivered"`
	Recipients int      `json:"recipients"`
	Failed     []string `json:"failed,omitempty"`
}

// DocumentData KindDocumentFound 的负载。
type DocumentData struct {
	DocumentID string  `json:"document_id"`
	Excerpt    string  `json:"excerpt"`
	Score      float64 `json:"score"`
	Title      string  `json:"title,omitempty"`
}

// ReasoningData KindReasoningStep 的负载。
type ReasoningData struct {
	StepNumber  int    `json:"step_number"`
	ThoughtText string `json:"thought_text"`
	ActionText  string `json:"action_text"`
}

// ErrorData KindError 的负载。
type ErrorData struct {
	Code         string `json:"code,omitempty"`
	ErrorMessage string `json:"error_message"`
	Details      string `json:"details,omitempty"`
}

// EndData KindEnd 的负载。
type EndData struct {
	Message string `json:"message"`
}

// Builder 为单个请求的事件填充会话 id 和时间戳。
type Builder struct {
	SessionID string
	Now       func() time.Time
}

func (b Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now().UTC()
}

// New 构造带负载的事件。
func (b Builder) New(kind Kind, data any) Event {
	return Event{SessionID: b.SessionID, Kind: kind, Data: data, Timestamp: b.now()}
}

// Content 构造回答片段事件，Data 为 null。
func (b Builder) Content(fragment string) Event {
	text := fragment
	return Event{SessionID: b.SessionID, Kind: KindContentFragment, Content: &text, Timestamp: b.now()}
}
