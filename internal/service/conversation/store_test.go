package conversation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/meeting-copilot/backend/internal/model/conversation"
)

func TestGetOrCreateGeneratesID(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	session, err := store.GetOrCreate(ctx, "")
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Empty(t, session.Turns)
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	second, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"s1"}, store.List(ctx))
}

func TestAppendTurnAndHistory(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	_, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		err := store.AppendTurn(ctx, "s1", conversation.Turn{Query: fmt.Sprintf("q%d", i), Answer: fmt.Sprintf("a%d", i)}, nil)
		require.NoError(t, err)
	}

	history, err := store.History(ctx, "s1", 3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "q2", history[0].Query)
	assert.Equal(t, "q4", history[2].Query, "most recent turn must be last")
	assert.NotEmpty(t, history[2].ID)

	all, err := store.History(ctx, "s1", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestAppendTurnStoresMeetingContext(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	_, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)

	meeting := &conversation.MeetingContext{Title: "Retro", Participants: []string{"Kim"}}
	require.NoError(t, store.AppendTurn(ctx, "s1", conversation.Turn{Query: "q"}, meeting))
	meeting.Participants[0] = "mutated"

	session, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, session.Meeting)
	assert.Equal(t, "Kim", session.Meeting.Participants[0])
}

func TestAppendTurnUnknownSession(t *testing.T) {
	store := NewStore()
	err := store.AppendTurn(context.Background(), "missing", conversation.Turn{Query: "q"}, nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestReturnedSessionIsACopy(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	_, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, store.AppendTurn(ctx, "s1", conversation.Turn{Query: "q", Answer: "a"}, nil))

	session, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	session.Turns[0].Answer = "tampered"

	again, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "a", again.Turns[0].Answer)
}

func TestConcurrentAppendsOnSameSessionAreNotLost(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	_, err := store.GetOrCreate(ctx, "shared")
	require.NoError(t, err)

	const writers = 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.AppendTurn(ctx, "shared", conversation.Turn{Query: fmt.Sprintf("q%d", i)}, nil))
		}(i)
	}
	wg.Wait()

	history, err := store.History(ctx, "shared", 0)
	require.NoError(t, err)
	assert.Len(t, history, writers)
}

func TestRemove(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	_, err := store.GetOrCreate(ctx, "s1")
	require.NoError(t, err)

	assert.True(t, store.Remove(ctx, "s1"))
	assert.False(t, store.Remove(ctx, "s1"))
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSweeperEvictsIdleSessions(t *testing.T) {
	store := NewStore()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "old")
	require.NoError(t, err)
	now = now.Add(45 * time.Minute)
	_, err = store.GetOrCreate(ctx, "fresh")
	require.NoError(t, err)

	sweeper := NewSweeper(store, 30*time.Minute, time.Minute, nil)
	assert.Equal(t, 1, sweeper.Sweep())
	assert.Equal(t, []string{"fresh"}, store.List(ctx))
	sweeper.Close()
}
