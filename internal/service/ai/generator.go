package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
)

// GenerateInput 描述一次回答生成所需的上下文。
type GenerateInput struct {
	Query     string
	Documents []conversation.RetrievedDocument
	History   []conversation.Turn
	Meeting   *conversation.MeetingContext
}

// Generate 打开流式生成。建流失败时在重试预算内重试，开始输出之后不再重试。
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*UnitStream, error) {
	if s.generator == nil {
		return nil, fmt.Errorf("%w: no chat model configured", ErrGenerationUnavailable)
	}

	input := map[string]any{
		"system":  buildSystemPrompt(in.Meeting),
		"history": s.buildHistoryMessages(in.History),
		"query":   buildUserPrompt(in.Query, in.Documents),
	}

	var lastErr error
	for attempt := 0; attempt <= s.retryAttempts; attempt++ {
		if attempt > 0 {
			wait := s.retryBackoff * time.Duration(attempt)
			s.logger.Warn("retrying generation stream", "attempt", attempt, "wait", wait, "error", lastErr)
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		stream, err := s.generator.Stream(ctx, input)
		if err == nil {
			return &UnitStream{reader: stream, parser: NewMarkerParser()}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrGenerationUnavailable, lastErr)
}

// UnitStream 惰性、有限的推理步骤和回答片段流。最后一个单元之后 Recv 返回 io.EOF。
// 不支持并发使用。
type UnitStream struct {
	reader  *schema.StreamReader[*schema.Message]
	parser  *MarkerParser
	pending []Unit
	done    bool
}

// Recv 返回下一个单元。
func (u *UnitStream) Recv() (Unit, error) {
	for {
		if len(u.pending) > 0 {
			next := u.pending[0]
			u.pending = u.pending[1:]
			return next, nil
		}
		if u.done {
			return Unit{}, io.EOF
		}

		msg, err := u.reader.Recv()
		if errors.Is(err, io.EOF) {
			u.done = true
			u.pending = append(u.pending, u.parser.Flush()...)
			continue
		}
		if err != nil {
			u.done = true
			return Unit{}, fmt.Errorf("%w: %v", ErrGenerationUnavailable, err)
		}
		if msg == nil {
			continue
		}
		if msg.ReasoningContent != "" {
			u.pending = append(u.pending, u.parser.Reasoning(msg.ReasoningContent)...)
		}
		if msg.Content != "" {
			u.pending = append(u.pending, u.parser.Feed(msg.Content)...)
		}
	}
}

// Close 释放底层模型流。
func (u *UnitStream) Close() {
	if u.reader != nil {
		u.reader.Close()
	}
}
