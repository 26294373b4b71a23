package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/meeting-copilot/backend/internal/config"
	"github.com/zhouzirui/meeting-copilot/backend/internal/handler"
	"github.com/zhouzirui/meeting-copilot/backend/internal/service/ai"
	convstore "github.com/zhouzirui/meeting-copilot/backend/internal/service/conversation"
	"github.com/zhouzirui/meeting-copilot/backend/internal/service/notify"
	"github.com/zhouzirui/meeting-copilot/backend/internal/service/orchestrator"
	"github.com/zhouzirui/meeting-copilot/backend/internal/service/retrieval"
	"github.com/zhouzirui/meeting-copilot/backend/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		stop()
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logging.NewLogger(os.Stderr)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Info("no .env file loaded, using process environment", "reason", envErr)
	}

	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("meeting copilot backend stopped", "error", err)
		os.Exit(1)
	}
}

// run wires every component and serves until ctx is done. Resources opened
// here are released by its own defers before it returns.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// Reasoning client
	var chatModel model.ChatModel
	if cfg.AI.Enabled() {
		var err error
		chatModel, err = cfg.AI.NewChatModel(ctx)
		if err != nil {
			logger.Warn("failed to initialize chat model, continuing without generation", "error", err)
			chatModel = nil
		}
	} else {
		logger.Info("Ark 凭证未配置，跳过模型初始化")
	}

	aiService, err := ai.NewService(ctx, chatModel, ai.Options{
		Labels:          cfg.AI.Labels,
		KeywordFallback: cfg.AI.KeywordFallback,
		RetryAttempts:   cfg.AI.RetryAttempts,
		RetryBackoff:    cfg.AI.RetryBackoff,
		HistoryLimit:    cfg.Conversation.HistoryLimit,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("initialize reasoning service: %w", err)
	}

	// Conversation store
	sessions := convstore.NewStore()
	if cfg.Conversation.SessionTTL > 0 {
		sweeper := convstore.NewSweeper(sessions, cfg.Conversation.SessionTTL, cfg.Conversation.SweepInterval, logger)
		sweeper.Start(ctx)
		defer sweeper.Close()
	}

	// Retrieval client
	var retriever orchestrator.Retriever
	if cfg.Retrieval.Enabled() {
		retriever = retrieval.NewClient(retrieval.Config{
			BaseURL:        cfg.Retrieval.URL,
			Indices:        cfg.Retrieval.Indices,
			TopK:           cfg.Retrieval.TopK,
			ScoreThreshold: cfg.Retrieval.ScoreThreshold,
			Timeout:        cfg.Retrieval.Timeout,
		}, nil, logger)
	} else {
		logger.Info("OPENSEARCH_API_URL not set, retrieval disabled")
	}

	// Notification client
	var dispatcher orchestrator.Dispatcher
	notifier, err := newNotifier(cfg.Notify, logger)
	if err != nil {
		logger.Warn("failed to initialize notifier, minutes delivery disabled", "error", err)
	}
	if notifier != nil {
		directory, closeDirectory, err := newDirectory(cfg.Notify)
		if err != nil {
			return fmt.Errorf("open participant directory: %w", err)
		}
		defer closeDirectory()

		d, err := notify.NewDispatcher(notifier, directory, cfg.Notify.Template, logger)
		if err != nil {
			return fmt.Errorf("invalid minutes template: %w", err)
		}
		dispatcher = d
		logger.Info("minutes delivery enabled", "backend", notifier.Name())
	}

	orch := orchestrator.New(sessions, aiService, retriever, dispatcher, orchestrator.Config{
		HistoryLimit:   cfg.Conversation.HistoryLimit,
		EventBuffer:    cfg.Conversation.EventBuffer,
		RetrievalLimit: cfg.Retrieval.TopK,
		RetrieveAlways: cfg.Retrieval.Always,
		Debug:          cfg.Server.Debug,
	}, logger)

	router := handler.NewRouter(handler.Dependencies{
		Streamer:       orch,
		Sessions:       sessions,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Components: map[string]bool{
			"model":     chatModel != nil,
			"retrieval": retriever != nil,
			"notify":    dispatcher != nil,
		},
		Logger: logger,
	})

	return startServer(ctx, cfg.Server, router, logger)
}

func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) (notify.Notifier, error) {
	switch cfg.Backend {
	case "mattermost":
		return notify.NewMattermostNotifier(notify.MattermostConfig{
			BaseURL: cfg.MattermostURL,
			Token:   cfg.MattermostToken,
			Timeout: cfg.Timeout,
		}, nil, logger), nil
	case "matrix":
		return notify.NewMatrixNotifier(notify.MatrixConfig{
			Homeserver:  cfg.MatrixHomeserver,
			UserID:      cfg.MatrixUserID,
			AccessToken: cfg.MatrixToken,
		}, logger)
	default:
		logger.Info("no notification backend configured")
		return nil, nil
	}
}

// newDirectory prefers the SQLite directory and falls back to the static
// mapping from the config file.
func newDirectory(cfg config.NotifyConfig) (notify.Directory, func(), error) {
	if cfg.DirectoryPath == "" {
		return notify.NewMemoryDirectory(cfg.Directory), func() {}, nil
	}
	dir, err := store.NewSQLiteDirectory(cfg.DirectoryPath)
	if err != nil {
		return nil, nil, err
	}
	for name, id := range cfg.Directory {
		if err := dir.Upsert(context.Background(), name, id); err != nil {
			_ = dir.Close()
			return nil, nil, err
		}
	}
	return dir, func() { _ = dir.Close() }, nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, logger *slog.Logger) error {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("meeting copilot backend listening", "addr", addr)
	if err := runServer(ctx, srv); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
