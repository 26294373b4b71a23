package conversation

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyTurn       = errors.New("turn query is required")
)

// entry 保护单个会话，mu 串行化该会话的所有修改，并发追加不会丢 turn。
type entry struct {
	mu       sync.Mutex
	session  conversation.Session
	lastUsed time.Time
	removed  bool
}

// Store 内存会话存储。map 锁只在查找时持有，不同会话的请求互不等待。
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	now      func() time.Time
}

// NewStore 创建空的内存存储。
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*entry),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreate 查找会话，不存在时创建。id 为空时生成新的 uuid。
func (s *Store) GetOrCreate(_ context.Context, sessionID string) (conversation.Session, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	for {
		e := s.lookup(sessionID)
		if e == nil {
			e = s.create(sessionID)
		}

		e.mu.Lock()
		if e.removed {
			// 被清理的旧条目，重新创建。
			e.mu.Unlock()
			continue
		}
		e.lastUsed = s.now()
		session := e.session.Clone()
		e.mu.Unlock()
		return session, nil
	}
}

func (s *Store) create(sessionID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.sessions[sessionID]; e != nil {
		return e
	}
	now := s.now()
	e := &entry{
		session: conversation.Session{
			ID:        sessionID,
			Turns:     make([]conversation.Turn, 0, 8),
			CreatedAt: now,
			UpdatedAt: now,
		},
		lastUsed: now,
	}
	s.sessions[sessionID] = e
	return e
}

// Get 返回已有会话的副本。
func (s *Store) Get(_ context.Context, sessionID string) (conversation.Session, error) {
	e := s.lookup(sessionID)
	if e == nil {
		return conversation.Session{}, ErrSessionNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return conversation.Session{}, ErrSessionNotFound
	}
	return e.session.Clone(), nil
}

// AppendTurn 一次性提交完成的 turn 以及（如有）合并后的会议上下文。
func (s *Store) AppendTurn(_ context.Context, sessionID string, turn conversation.Turn, meeting *conversation.MeetingContext) error {
	if strings.TrimSpace(turn.Query) == "" {
		return ErrEmptyTurn
	}
	e := s.lookup(sessionID)
	if e == nil {
		return ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// 会话可能在锁等待期间被清理。
	if e.removed {
		return ErrSessionNotFound
	}

	now := s.now()
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now
	}
	e.session.Turns = append(e.session.Turns, turn.Clone())
	if meeting != nil {
		e.session.Meeting = meeting.Clone()
	}
	e.session.UpdatedAt = now
	e.lastUsed = now
	return nil
}

// History 返回最近的至多 maxTurns 个 turn，按时间正序。maxTurns <= 0 返回全部。
func (s *Store) History(_ context.Context, sessionID string, maxTurns int) ([]conversation.Turn, error) {
	e := s.lookup(sessionID)
	if e == nil {
		return nil, ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return nil, ErrSessionNotFound
	}

	turns := e.session.Turns
	if maxTurns > 0 && len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	copied := make([]conversation.Turn, len(turns))
	for i, turn := range turns {
		copied[i] = turn.Clone()
	}
	return copied, nil
}

// Remove 删除会话，也是 Sweeper 使用的淘汰入口。
func (s *Store) Remove(_ context.Context, sessionID string) bool {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return false
	}

	e.mu.Lock()
	e.removed = true
	e.mu.Unlock()
	return true
}

// evictIfIdle 在会话自己的锁下确认仍然空闲后才删除。
func (s *Store) evictIfIdle(sessionID string, cutoff time.Time) bool {
	e := s.lookup(sessionID)
	if e == nil {
		return false
	}

	e.mu.Lock()
	if e.removed || !e.lastUsed.Before(cutoff) {
		e.mu.Unlock()
		return false
	}
	e.removed = true
	e.mu.Unlock()

	s.mu.Lock()
	if s.sessions[sessionID] == e {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()
	return true
}

// List 按创建时间返回会话 id。
func (s *Store) List(_ context.Context) []string {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	type item struct {
		id      string
		created time.Time
	}
	items := make([]item, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		items = append(items, item{id: e.session.ID, created: e.session.CreatedAt})
		e.mu.Unlock()
	}
	sort.Slice(items, func(i, j int) bool { return items[i].created.Before(items[j].created) })

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids
}

// idleSince 返回 cutoff 之后未被访问的会话 id。
func (s *Store) idleSince(cutoff time.Time) []string {
	s.mu.RLock()
	snapshot := make(map[string]*entry, len(s.sessions))
	for id, e := range s.sessions {
		snapshot[id] = e
	}
	s.mu.RUnlock()

	var ids []string
	for id, e := range snapshot {
		e.mu.Lock()
		idle := e.lastUsed.Before(cutoff)
		e.mu.Unlock()
		if idle {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Store) lookup(sessionID string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[sessionID]
}
