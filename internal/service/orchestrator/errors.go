package orchestrator

import (
	"context"
	"errors"

	"github.com/zhouzirui/meeting-copilot/backend/internal/service/ai"
)

var (
	// ErrInvalidRequest 请求非法，在改动任何状态之前拒绝。
	ErrInvalidRequest = errors.New("invalid request")
	// ErrStoreUnavailable 包装会话存储的错误。
	ErrStoreUnavailable = errors.New("conversation store unavailable")

	// errStreamClosed 消费方已关闭事件流。
	errStreamClosed = errors.New("event stream closed by consumer")
)

// ERROR 事件携带的错误码。
const (
	CodeInvalidRequest        = "invalid_request"
	CodeGenerationUnavailable = "generation_unavailable"
	CodeStoreUnavailable      = "store_unavailable"
	CodeRequestCanceled       = "request_canceled"
	CodeInternal              = "internal_error"
)

// classify 把致命错误映射为错误码和对外展示的消息。
func classify(err error) (code, message string) {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest, err.Error()
	case errors.Is(err, ai.ErrGenerationUnavailable):
		return CodeGenerationUnavailable, "The answer could not be generated. Please try again later."
	case errors.Is(err, ErrStoreUnavailable):
		return CodeStoreUnavailable, "Conversation state is unavailable. Please try again later."
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeRequestCanceled, "The request was canceled."
	default:
		return CodeInternal, "An internal error occurred."
	}
}
