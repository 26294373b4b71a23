// Package ai 封装大模型，对外只提供意图分类和流式回答生成。
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/meeting-copilot/backend/internal/analysis/intent"
	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
)

var (
	// ErrClassificationUnavailable 表示意图分类失败，调用方应降级为默认意图。
	ErrClassificationUnavailable = errors.New("intent classification unavailable")
	// ErrGenerationUnavailable 表示回答生成失败，对当前请求是致命错误。
	ErrGenerationUnavailable = errors.New("answer generation unavailable")
)

// Options 控制 Service 的行为。
type Options struct {
	// Labels 分类标签到意图的映射，nil 使用 DefaultLabels。
	Labels map[string]conversation.IntentKind
	// KeywordFallback 未配置模型时使用关键词规则分类。
	KeywordFallback bool
	// RetryAttempts 建立生成流失败时的额外重试次数。
	RetryAttempts int
	RetryBackoff  time.Duration
	HistoryLimit  int
	Logger        *slog.Logger
}

// DefaultLabels 内置的标签表。
func DefaultLabels() map[string]conversation.IntentKind {
	return map[string]conversation.IntentKind{
		"qna":                  conversation.IntentQnA,
		"question":             conversation.IntentQnA,
		"general_query":        conversation.IntentQnA,
		"send_meeting_minutes": conversation.IntentNotify,
		"notify":               conversation.IntentNotify,
		"unsupported":          conversation.IntentUnknown,
	}
}

// Service 推理客户端。
type Service struct {
	chatModel  model.ChatModel
	classifier compose.Runnable[map[string]any, *schema.Message]
	generator  compose.Runnable[map[string]any, *schema.Message]

	labels          map[string]conversation.IntentKind
	keywordFallback bool
	retryAttempts   int
	retryBackoff    time.Duration
	historyLimit    int
	logger          *slog.Logger
}

// NewService 创建推理客户端。chatModel 可以为 nil，此时分类退回关键词规则（如已开启），
// 生成始终返回 ErrGenerationUnavailable。
func NewService(ctx context.Context, chatModel model.ChatModel, opts Options) (*Service, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	labels := opts.Labels
	if labels == nil {
		labels = DefaultLabels()
	}
	historyLimit := opts.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 10
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	attempts := opts.RetryAttempts
	if attempts < 0 {
		attempts = 0
	}

	svc := &Service{
		chatModel:       chatModel,
		labels:          labels,
		keywordFallback: opts.KeywordFallback,
		retryAttempts:   attempts,
		retryBackoff:    backoff,
		historyLimit:    historyLimit,
		logger:          logger.With("component", "reasoning"),
	}
	if chatModel == nil {
		svc.logger.Warn("no chat model configured, generation disabled")
		return svc, nil
	}

	classifierTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(classifierSystemPrompt),
		schema.UserMessage(classifierUserPrompt),
	)
	classifierChain := compose.NewChain[map[string]any, *schema.Message]()
	classifierChain.AppendChatTemplate(classifierTemplate)
	classifierChain.AppendChatModel(chatModel)

	classifier, err := classifierChain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile classifier chain: %w", err)
	}

	generatorTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)
	generatorChain := compose.NewChain[map[string]any, *schema.Message]()
	generatorChain.AppendChatTemplate(generatorTemplate)
	generatorChain.AppendChatModel(chatModel)

	generator, err := generatorChain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile generation chain: %w", err)
	}

	svc.classifier = classifier
	svc.generator = generator
	return svc, nil
}

// GetChatModel 返回底层的聊天模型
func (s *Service) GetChatModel() model.ChatModel {
	return s.chatModel
}

// resolveLabel 把原始标签映射到意图集合。
func (s *Service) resolveLabel(label string) conversation.IntentKind {
	if kind, ok := s.labels[label]; ok {
		return kind
	}
	return conversation.IntentUnknown
}

func (s *Service) keywordIntent(query string) conversation.Intent {
	decision := intent.Classify(query)
	label := string(decision.Label)
	return conversation.Intent{
		Kind:     s.resolveLabel(label),
		Label:    label,
		Entities: decision.Entities,
	}
}
