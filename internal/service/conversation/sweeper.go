package conversation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sweeper 定期清理空闲超过 ttl 的会话。
type Sweeper struct {
	store    *Store
	ttl      time.Duration
	interval time.Duration
	logger   *slog.Logger

	done   chan struct{}
	once   sync.Once
	closed sync.WaitGroup
}

// NewSweeper 创建清理器，调用 Start 之前不做任何事。
func NewSweeper(store *Store, ttl, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		store:    store,
		ttl:      ttl,
		interval: interval,
		logger:   logger.With("component", "session-sweeper"),
		done:     make(chan struct{}),
	}
}

// Start 启动后台 goroutine，ctx 结束或调用 Close 时退出。
func (s *Sweeper) Start(ctx context.Context) {
	s.closed.Add(1)
	go func() {
		defer s.closed.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}()
}

// Sweep 清理所有空闲超过 ttl 的会话，返回清理数量。
func (s *Sweeper) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := s.store.now().Add(-s.ttl)
	evicted := 0
	for _, id := range s.store.idleSince(cutoff) {
		if s.store.evictIfIdle(id, cutoff) {
			evicted++
		}
	}
	if evicted > 0 {
		s.logger.Info("evicted idle sessions", "count", evicted, "ttl", s.ttl)
	}
	return evicted
}

// Close 停止后台 goroutine，可重复调用。
func (s *Sweeper) Close() {
	s.once.Do(func() { close(s.done) })
	s.closed.Wait()
}
