// Package orchestrator 编排一次问答：意图分类、可选的文档检索、
// 回答生成或纪要通知，最后提交 turn，并在过程中输出协议事件。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
	"github.com/zhouzirui/meeting-copilot/backend/internal/model/event"
	"github.com/zhouzirui/meeting-copilot/backend/internal/service/ai"
	"github.com/zhouzirui/meeting-copilot/backend/internal/service/retrieval"
)

// SessionStore 编排器依赖的会话存储接口。
type SessionStore interface {
	GetOrCreate(ctx context.Context, sessionID string) (conversation.Session, error)
	AppendTurn(ctx context.Context, sessionID string, turn conversation.Turn, meeting *conversation.MeetingContext) error
	History(ctx context.Context, sessionID string, maxTurns int) ([]conversation.Turn, error)
}

// Reasoner 负责意图分类和回答生成。
type Reasoner interface {
	Classify(ctx context.Context, query string, history []conversation.Turn) (conversation.Intent, error)
	Generate(ctx context.Context, in ai.GenerateInput) (*ai.UnitStream, error)
}

// Retriever 文档检索。
type Retriever interface {
	Search(ctx context.Context, query string, scope retrieval.Scope, limit int) ([]conversation.RetrievedDocument, error)
}

// Dispatcher 发送会议纪要，失败记录在结果中而不是返回错误。
type Dispatcher interface {
	Dispatch(ctx context.Context, meeting *conversation.MeetingContext, entities map[string]string) conversation.NotificationResult
}

// Config 控制编排器行为。
type Config struct {
	// HistoryLimit 传给模型的历史轮数上限。
	HistoryLimit int
	// EventBuffer 等待消费的事件数上限，满了生产方阻塞。
	EventBuffer int
	// RetrievalLimit 检索文档数，<= 0 使用客户端默认值。
	RetrievalLimit int
	// RetrieveAlways 请求未限定范围时也检索。
	RetrieveAlways bool
	// Debug 在 ERROR 事件中附带错误详情。
	Debug bool
}

// Orchestrator 可并发使用，每次 Handle 独立运行。
type Orchestrator struct {
	store      SessionStore
	reasoner   Reasoner
	retriever  Retriever
	dispatcher Dispatcher
	cfg        Config
	registry   *registry
	logger     *slog.Logger
	now        func() time.Time
}

// New 创建编排器，retriever 和 dispatcher 可以为 nil。
func New(store SessionStore, reasoner Reasoner, retriever Retriever, dispatcher Dispatcher, cfg Config, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 16
	}

	o := &Orchestrator{
		store:      store,
		reasoner:   reasoner,
		retriever:  retriever,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger.With("component", "orchestrator"),
		now:        func() time.Time { return time.Now().UTC() },
	}
	o.registry = newRegistry(o.answer)
	o.registry.register(conversation.IntentQnA, o.answer)
	o.registry.register(conversation.IntentNotify, o.notify)
	return o
}

// Register 替换某个意图的处理函数。
func (o *Orchestrator) Register(kind conversation.IntentKind, h Handler) {
	o.registry.register(kind, h)
}

// Handle 开始处理 req 并返回事件流。流是有界的，消费方跟不上时生产方暂停。
// 关闭 reader 会在下一个事件时中止请求，取消 ctx 则立即中止，两种情况都不会持久化。
func (o *Orchestrator) Handle(ctx context.Context, req conversation.Request) *schema.StreamReader[event.Event] {
	sr, sw := schema.Pipe[event.Event](o.cfg.EventBuffer)
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		em := &emitter{sw: sw, builder: event.Builder{SessionID: req.SessionID, Now: o.now}}
		defer cancel()
		defer sw.Close()
		defer func() {
			if r := recover(); r != nil {
				if !em.started && em.start() != nil {
					return
				}
				o.fail(em, o.logger, fmt.Errorf("panic: %v", r))
			}
		}()

		o.run(ctx, req, em)
	}()
	return sr
}

func (o *Orchestrator) run(ctx context.Context, req conversation.Request, em *emitter) {
	started := time.Now()
	logger := o.logger

	if err := validate(req); err != nil {
		if em.start() == nil {
			o.fail(em, logger, err)
		}
		return
	}

	session, err := o.store.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		if em.start() == nil {
			o.fail(em, logger, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
		}
		return
	}
	em.builder.SessionID = session.ID
	logger = logger.With("session_id", session.ID)

	if err := em.start(); err != nil {
		return
	}

	history, err := o.store.History(ctx, session.ID, o.cfg.HistoryLimit)
	if err != nil {
		o.fail(em, logger, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
		return
	}

	x := &Exchange{
		Request:   req,
		SessionID: session.ID,
		Meeting:   session.Meeting.Merge(req.MeetingContext),
		History:   history,
		Turn:      &conversation.Turn{Query: strings.TrimSpace(req.Query)},
		em:        em,
	}

	intent, err := o.classify(ctx, req.Query, history, logger)
	if err != nil {
		o.fail(em, logger, err)
		return
	}
	x.Turn.Intent = intent
	if err := x.Emit(event.KindIntentClassified, event.IntentData{
		Intent:      intent.Label,
		Entities:    intent.Entities,
		Description: describeIntent(intent),
		Degraded:    intent.Degraded,
	}); err != nil {
		return
	}

	if err := o.registry.lookup(intent.Kind)(ctx, x); err != nil {
		o.fail(em, logger, err)
		return
	}

	// 只有完整完成的 turn 才提交。
	if err := ctx.Err(); err != nil {
		o.fail(em, logger, err)
		return
	}
	if err := o.store.AppendTurn(ctx, session.ID, *x.Turn, x.Meeting); err != nil {
		o.fail(em, logger, fmt.Errorf("%w: %v", ErrStoreUnavailable, err))
		return
	}

	logger.Info("request completed",
		"intent", intent.Label,
		"documents", len(x.Turn.Documents),
		"reasoning_steps", len(x.Turn.ReasoningSteps),
		"answer_len", len(x.Turn.Answer),
		"elapsed", time.Since(started))
	_ = em.emit(em.builder.New(event.KindEnd, event.EndData{Message: "Response completed."}))
}

func validate(req conversation.Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return fmt.Errorf("%w: query is required", ErrInvalidRequest)
	}
	if req.RestrictedScope && len(req.TargetDocumentIDs) > 0 {
		return fmt.Errorf("%w: target_document_ids cannot be combined with search_in_restricted_scope", ErrInvalidRequest)
	}
	return nil
}

func (o *Orchestrator) classify(ctx context.Context, query string, history []conversation.Turn, logger *slog.Logger) (conversation.Intent, error) {
	intent, err := o.reasoner.Classify(ctx, query, history)
	if err == nil {
		if intent.Entities == nil {
			intent.Entities = map[string]string{}
		}
		return intent, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return conversation.Intent{}, ctxErr
	}
	logger.Warn("intent classification degraded", "error", err)
	return conversation.Intent{
		Kind:     conversation.IntentUnknown,
		Label:    conversation.DefaultIntentLabel,
		Entities: map[string]string{},
		Degraded: true,
	}, nil
}

func describeIntent(intent conversation.Intent) string {
	if intent.Degraded {
		return "Intent classification was unavailable; handling the request as a general query."
	}
	return fmt.Sprintf("Identified the request intent as '%s'.", intent.Label)
}

// answer 问答分支，也是未知意图的兜底分支。
func (o *Orchestrator) answer(ctx context.Context, x *Exchange) error {
	if o.shouldRetrieve(x.Request) {
		if err := o.retrieve(ctx, x); err != nil {
			return err
		}
	}

	stream, err := o.reasoner.Generate(ctx, ai.GenerateInput{
		Query:     x.Turn.Query,
		Documents: x.Turn.Documents,
		History:   x.History,
		Meeting:   x.Meeting,
	})
	if err != nil {
		return err
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		unit, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}

		if step := unit.Reasoning; step != nil {
			x.Turn.ReasoningSteps = append(x.Turn.ReasoningSteps, *step)
			if err := x.Emit(event.KindReasoningStep, event.ReasoningData{
				StepNumber:  step.Number,
				ThoughtText: step.Thought,
				ActionText:  step.Action,
			}); err != nil {
				return err
			}
			continue
		}
		if unit.Content == "" {
			continue
		}
		answer.WriteString(unit.Content)
		if err := x.EmitContent(unit.Content); err != nil {
			return err
		}
	}

	x.Turn.Answer = answer.String()
	return nil
}

func (o *Orchestrator) shouldRetrieve(req conversation.Request) bool {
	return o.retriever != nil && (req.WantsRetrieval() || o.cfg.RetrieveAlways)
}

func (o *Orchestrator) retrieve(ctx context.Context, x *Exchange) error {
	scope := retrieval.Scope{DocumentIDs: x.Request.TargetDocumentIDs}
	if x.Request.RestrictedScope {
		scope.MeetingOnly = true
		if x.Meeting != nil && x.Meeting.DocumentID != "" {
			scope.DocumentIDs = []string{x.Meeting.DocumentID}
		}
	}

	if err := x.Progress("Searching related documents.", false); err != nil {
		return err
	}

	docs, err := o.retriever.Search(ctx, x.Turn.Query, scope, o.cfg.RetrievalLimit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		o.logger.Warn("retrieval degraded", "session_id", x.SessionID, "error", err)
		return x.Progress("Document search is unavailable; answering without documents.", true)
	}

	if err := x.Progress(fmt.Sprintf("Document search finished: %d documents found.", len(docs)), false); err != nil {
		return err
	}
	for _, doc := range docs {
		x.Turn.Documents = append(x.Turn.Documents, doc)
		if err := x.Emit(event.KindDocumentFound, event.DocumentData{
			DocumentID: doc.DocumentID,
			Excerpt:    doc.Excerpt,
			Score:      doc.Score,
			Title:      doc.Title,
		}); err != nil {
			return err
		}
	}
	return nil
}

// notify 纪要通知分支。发送失败通过一个 "thinking" 事件报告，不会中止请求。
func (o *Orchestrator) notify(ctx context.Context, x *Exchange) error {
	var result conversation.NotificationResult
	if o.dispatcher == nil {
		result = conversation.NotificationResult{Error: "notifications are not configured"}
	} else {
		result = o.dispatcher.Dispatch(ctx, x.Meeting, x.Turn.Intent.Entities)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	x.Turn.Notification = &result

	data := event.ProgressData{
		StepDescription: describeNotification(result),
		Notification: &event.NotificationData{
			Success:    result.Success,
			Partial:    result.Partial,
			Delivered:  result.Delivered,
			Recipients: result.Recipients,
			Failed:     result.Failed,
		},
	}
	if !result.Success {
		data.Error = true
		data.Failure = &event.ErrorData{ErrorMessage: "Meeting minutes could not be delivered to every recipient."}
		if o.cfg.Debug {
			data.Failure.Details = result.Error
		}
	}
	return x.Emit(event.KindRetrievalProgress, data)
}

func describeNotification(result conversation.NotificationResult) string {
	switch {
	case result.Success:
		return fmt.Sprintf("Meeting minutes sent to %d recipient(s).", result.Delivered)
	case result.Partial:
		return fmt.Sprintf("Meeting minutes sent to %d of %d recipient(s).", result.Delivered, result.Recipients)
	default:
		return "Meeting minutes could not be sent."
	}
}

// fail 输出唯一的 ERROR 终止事件，消费方已离开时静默返回。
func (o *Orchestrator) fail(em *emitter, logger *slog.Logger, err error) {
	if errors.Is(err, errStreamClosed) {
		logger.Info("consumer went away, request aborted")
		return
	}

	code, message := classify(err)
	if code == CodeInternal || code == CodeGenerationUnavailable || code == CodeStoreUnavailable {
		logger.Error("request failed", "code", code, "error", err)
	} else {
		logger.Info("request rejected", "code", code, "error", err)
	}

	payload := event.ErrorData{Code: code, ErrorMessage: message}
	if o.cfg.Debug {
		payload.Details = err.Error()
	}
	_ = em.emit(em.builder.New(event.KindError, payload))
}

// emitter 保证 START 最先输出，终止事件之后不再输出任何事件。
type emitter struct {
	sw       *schema.StreamWriter[event.Event]
	builder  event.Builder
	started  bool
	terminal bool
}

func (e *emitter) start() error {
	e.started = true
	return e.emit(e.builder.New(event.KindStart, event.StartData{SessionID: e.builder.SessionID}))
}

func (e *emitter) emit(ev event.Event) error {
	if e.terminal {
		return errStreamClosed
	}
	if ev.Kind.Terminal() {
		e.terminal = true
	}
	if closed := e.sw.Send(ev, nil); closed {
		e.terminal = true
		return errStreamClosed
	}
	return nil
}
