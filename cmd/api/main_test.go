package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zhouzirui/meeting-copilot/backend/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunReturnsErrorOnInvalidTemplate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := &config.Config{
		Server: config.ServerConfig{Addr: "127.0.0.1:0"},
		Notify: config.NotifyConfig{
			Backend:         "mattermost",
			MattermostURL:   "http://127.0.0.1:1",
			MattermostToken: "token",
			DirectoryPath:   filepath.Join(t.TempDir(), "directory.db"),
			Directory:       map[string]string{"Kim": "u-kim"},
			Template:        "{{ .Title",
		},
		Conversation: config.ConversationConfig{SessionTTL: time.Hour, SweepInterval: time.Minute},
	}

	err := run(ctx, cfg, discardLogger())
	if err == nil {
		t.Fatal("expected error for invalid template")
	}
	if !strings.Contains(err.Error(), "template") {
		t.Fatalf("unexpected error: %v", err)
	}

	// The directory was closed by run; reopening it still sees the seeded entry.
	directory, closeDirectory, err := newDirectory(config.NotifyConfig{DirectoryPath: cfg.Notify.DirectoryPath})
	if err != nil {
		t.Fatalf("reopen directory err: %v", err)
	}
	defer closeDirectory()
	ids, err := directory.Lookup(context.Background(), []string{"Kim"})
	if err != nil {
		t.Fatalf("lookup err: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected seeded entry, got %v", ids)
	}
}

func TestRunReturnsWhenContextIsDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := &config.Config{
		Server:       config.ServerConfig{Addr: "127.0.0.1:0"},
		Conversation: config.ConversationConfig{SessionTTL: time.Hour, SweepInterval: time.Minute},
	}

	done := make(chan error, 1)
	go func() { done <- run(ctx, cfg, discardLogger()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the context was canceled")
	}
}
