package orchestrator

import (
	"context"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
	"github.com/zhouzirui/meeting-copilot/backend/internal/model/event"
)

// Exchange 交给意图处理函数的单次请求状态。处理函数填充 Turn 并输出事件，
// START、INTENT_CLASSIFIED 和终止事件由编排器负责。
type Exchange struct {
	Request   conversation.Request
	SessionID string
	Meeting   *conversation.MeetingContext
	History   []conversation.Turn
	Turn      *conversation.Turn

	em *emitter
}

// Emit 输出一个数据事件，消费方离开后返回错误。
func (x *Exchange) Emit(kind event.Kind, data any) error {
	return x.em.emit(x.em.builder.New(kind, data))
}

// EmitContent 输出一段回答片段。
func (x *Exchange) EmitContent(fragment string) error {
	return x.em.emit(x.em.builder.Content(fragment))
}

// Progress 输出一个 "thinking" 事件。
func (x *Exchange) Progress(description string, failed bool) error {
	return x.Emit(event.KindRetrievalProgress, event.ProgressData{StepDescription: description, Error: failed})
}

// Handler 执行请求中与意图相关的部分，返回的错误是致命的。
type Handler func(ctx context.Context, x *Exchange) error

// registry 按意图分发，没有注册处理函数的意图走 fallback。
type registry struct {
	handlers map[conversation.IntentKind]Handler
	fallback Handler
}

func newRegistry(fallback Handler) *registry {
	return &registry{handlers: make(map[conversation.IntentKind]Handler), fallback: fallback}
}

func (r *registry) register(kind conversation.IntentKind, h Handler) {
	r.handlers[kind] = h
}

func (r *registry) lookup(kind conversation.IntentKind) Handler {
	if h, ok := r.handlers[kind]; ok && h != nil {
		return h
	}
	return r.fallback
}
