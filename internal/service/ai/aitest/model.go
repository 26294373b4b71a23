// Package aitest provides a scripted chat model for tests that drive the
// reasoning client without a real backend.
package aitest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// StreamFunc produces the model stream for one call.
type StreamFunc func(ctx context.Context, input []*schema.Message) (*schema.StreamReader[*schema.Message], error)

// ChatModel is a model.ChatModel whose answers are scripted by the test.
type ChatModel struct {
	// Classification is returned by Generate, which the classifier chain uses.
	Classification string
	GenerateErr    error
	// Streams are consumed in order by Stream calls; the last one repeats.
	Streams []StreamFunc

	mu            sync.Mutex
	generateCalls int
	streamCalls   int
	lastInput     []*schema.Message
}

var _ model.ChatModel = (*ChatModel)(nil)

// Generate implements model.ChatModel.
func (m *ChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.generateCalls++
	m.mu.Unlock()
	if m.GenerateErr != nil {
		return nil, m.GenerateErr
	}
	return schema.AssistantMessage(m.Classification, nil), nil
}

// Stream implements model.ChatModel.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	m.mu.Lock()
	idx := m.streamCalls
	m.streamCalls++
	m.lastInput = input
	m.mu.Unlock()

	if len(m.Streams) == 0 {
		return nil, errors.New("aitest: no stream scripted")
	}
	if idx >= len(m.Streams) {
		idx = len(m.Streams) - 1
	}
	return m.Streams[idx](ctx, input)
}

// BindTools implements model.ChatModel.
func (m *ChatModel) BindTools(_ []*schema.ToolInfo) error {
	return nil
}

// StreamCalls reports how many times Stream was called.
func (m *ChatModel) StreamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.streamCalls
}

// GenerateCalls reports how many times Generate was called.
func (m *ChatModel) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateCalls
}

// LastStreamInput returns the messages passed to the most recent Stream call.
func (m *ChatModel) LastStreamInput() []*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastInput
}

// Chunks streams the given content chunks and ends.
func Chunks(parts ...string) StreamFunc {
	return func(_ context.Context, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		msgs := make([]*schema.Message, len(parts))
		for i, part := range parts {
			msgs[i] = schema.AssistantMessage(part, nil)
		}
		return schema.StreamReaderFromArray(msgs), nil
	}
}

// Messages streams fully specified chunks, e.g. ones carrying ReasoningContent.
func Messages(msgs ...*schema.Message) StreamFunc {
	return func(_ context.Context, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		return schema.StreamReaderFromArray(msgs), nil
	}
}

// FailOpen refuses to open the stream.
func FailOpen(err error) StreamFunc {
	return func(_ context.Context, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		return nil, err
	}
}

// FailAfter streams the chunks and then fails with err.
func FailAfter(err error, parts ...string) StreamFunc {
	return func(_ context.Context, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		sr, sw := schema.Pipe[*schema.Message](len(parts) + 1)
		go func() {
			defer sw.Close()
			for _, part := range parts {
				if sw.Send(schema.AssistantMessage(part, nil), nil) {
					return
				}
			}
			sw.Send(nil, err)
		}()
		return sr, nil
	}
}

// Hang streams the chunks, signals started, and then blocks until ctx is done.
func Hang(started chan<- struct{}, parts ...string) StreamFunc {
	return func(ctx context.Context, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		sr, sw := schema.Pipe[*schema.Message](len(parts) + 1)
		go func() {
			defer sw.Close()
			for _, part := range parts {
				if sw.Send(schema.AssistantMessage(part, nil), nil) {
					return
				}
			}
			if started != nil {
				close(started)
			}
			<-ctx.Done()
			sw.Send(nil, ctx.Err())
		}()
		return sr, nil
	}
}

// Endless streams "Answer: " and then chunk forever through an unbuffered
// pipe, counting every chunk the consumer accepted. done is closed once the
// producer stops, which happens when the reader is closed or ctx ends.
func Endless(chunk string, produced *atomic.Int64, done chan<- struct{}) StreamFunc {
	return func(ctx context.Context, _ []*schema.Message) (*schema.StreamReader[*schema.Message], error) {
		sr, sw := schema.Pipe[*schema.Message](0)
		go func() {
			defer close(done)
			defer sw.Close()
			if sw.Send(schema.AssistantMessage("Answer: ", nil), nil) {
				return
			}
			for ctx.Err() == nil {
				if sw.Send(schema.AssistantMessage(chunk, nil), nil) {
					return
				}
				produced.Add(1)
			}
		}()
		return sr, nil
	}
}
