package conversation

import (
	"maps"
	"time"
)

// IntentKind 编排器能够路由的意图集合。
type IntentKind int

const (
	IntentUnknown IntentKind = iota
	IntentQnA
	IntentNotify
)

func (k IntentKind) String() string {
	switch k {
	case IntentQnA:
		return "qna"
	case IntentNotify:
		return "notify"
	default:
		return "unknown"
	}
}

// DefaultIntentLabel 分类不可用时使用的标签。
const DefaultIntentLabel = "general_query"

// Intent 表示意图分类结果。Label 保留模型给出的原始标签。
type Intent struct {
	Kind     IntentKind        `json:"-"`
	Label    string            `json:"label"`
	Entities map[string]string `json:"entities,omitempty"`
	Degraded bool              `json:"degraded,omitempty"`
}

// RetrievedDocument 检索服务返回的一个候选文档。
type RetrievedDocument struct {
	DocumentID string  `json:"document_id"`
	Score      float64 `json:"score"`
	Excerpt    string  `json:"excerpt"`
	Title      string  `json:"title,omitempty"`
	Source     string  `json:"source,omitempty"`
}

// ReasoningStep 模型公开的一步推理。
type ReasoningStep struct {
	Number  int    `json:"step_number"`
	Thought string `json:"thought_text"`
	Action  string `json:"action_text,omitempty"`
}

// NotificationResult 一次通知发送的汇总结果。
type NotificationResult struct {
	Success    bool     `json:"success"`
	Partial    bool     `json:"partial"`
	Delivered  int      `json:"delivered"`
	Failed     []string `json:"failed,omitempty"`
	Recipients int      `json:"recipients"`
	Error      string   `json:"-"`
}

// Turn 一问一答。
type Turn struct {
	ID             string              `json:"id"`
	Query          string              `json:"query"`
	Intent         Intent              `json:"intent"`
	Documents      []RetrievedDocument `json:"retrieved_documents"`
	ReasoningSteps []ReasoningStep     `json:"reasoning_steps"`
	Answer         string              `json:"answer"`
	Notification   *NotificationResult `json:"notification,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
}

// Clone 深拷贝一个 Turn。
func (t Turn) Clone() Turn {
	out := t
	out.Intent.Entities = maps.Clone(t.Intent.Entities)
	if t.Documents != nil {
		out.Documents = append([]RetrievedDocument(nil), t.Documents...)
	}
	if t.ReasoningSteps != nil {
		out.ReasoningSteps = append([]ReasoningStep(nil), t.ReasoningSteps...)
	}
	if t.Notification != nil {
		n := *t.Notification
		n.Failed = append([]string(nil), t.Notification.Failed...)
		out.Notification = &n
	}
	return out
}

// ParseIntentKind 把配置中的意图名解析为 IntentKind。
func ParseIntentKind(raw string) (IntentKind, bool) {
	switch raw {
	case "qna":
		return IntentQnA, true
	case "notify":
		return IntentNotify, true
	case "unknown":
		return IntentUnknown, true
	default:
		return IntentUnknown, false
	}
}
