package db

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hatcher/agentcore/pkg/ormx"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestQueries(t *testing.T) (*Queries, *gorm.DB) {
	t.Helper()
	gdb, err := ormx.NewDBClient(ormx.DBConfig{
		DbType:   ormx.DbTypeSQLite,
		Database: filepath.Join(t.TempDir(), "agent.db"),
		Silent:   true,
	})
	require.NoError(t, err)
	q, err := New(gdb, RetryConfig{InitialInterval: time.Millisecond, MaxTries: 5})
	require.NoError(t, err)
	return q, gdb
}

func newTestSession(t *testing.T, q *Queries) Session {
	t.Helper()
	s, err := q.CreateSession(context.Background(), CreateSessionArgs{ID: "sess-1", Provider: "fake", Model: "m1"})
	require.NoError(t, err)
	return s
}

func TestCreateMessageDenseIndex(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueries(t)
	ctx := context.Background()
	newTestSession(t, q)

	for i, id := range []string{"m0", "m1", "m2"} {
		m, steps, err := q.CreateMessage(ctx, CreateMessageArgs{
			ID:        id,
			SessionID: "sess-1",
			Role:      "user",
			Status:    StatusCompleted,
			Steps:     []CreateStepArgs{{Status: StatusCompleted, Parts: []PartArgs{{Type: "text", Data: `{"text":"hi"}`}}}},
		})
		require.NoError(t, err)
		require.Equal(t, int64(i), m.Idx)
		require.Len(t, steps, 1)
		require.Equal(t, id+"-step-0", steps[0].ID)
	}

	msgs, err := q.ListMessagesBySession(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	require.Equal(t, "m2", msgs[2].ID)
}

func TestAppendStepIndex(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueries(t)
	ctx := context.Background()
	newTestSession(t, q)

	_, _, err := q.CreateMessage(ctx, CreateMessageArgs{
		ID: "a1", SessionID: "sess-1", Role: "assistant", Status: StatusActive,
		Steps: []CreateStepArgs{{Status: StatusActive}},
	})
	require.NoError(t, err)

	_, err = q.AppendStep(ctx, AppendStepArgs{MessageID: "a1", StepIndex: 2})
	require.ErrorIs(t, err, ErrStepIndex)

	require.NoError(t, q.CompleteStep(ctx, CompleteStepArgs{StepID: StepID("a1", 0), Status: StatusCompleted, FinishReason: "tool-calls"}))
	st, err := q.AppendStep(ctx, AppendStepArgs{MessageID: "a1", StepIndex: 1})
	require.NoError(t, err)
	require.Equal(t, "a1-step-1", st.ID)

	_, err = q.AppendStep(ctx, AppendStepArgs{MessageID: "missing", StepIndex: 0})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMessageActiveIffActiveStep(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueries(t)
	ctx := context.Background()
	newTestSession(t, q)

	status := func() string {
		m, err := q.GetMessage(ctx, "a1")
		require.NoError(t, err)
		return m.Status
	}

	_, _, err := q.CreateMessage(ctx, CreateMessageArgs{
		ID: "a1", SessionID: "sess-1", Role: "assistant", Status: StatusActive,
		Steps: []CreateStepArgs{{Status: StatusActive}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusActive, status())

	require.NoError(t, q.CompleteStep(ctx, CompleteStepArgs{
		StepID: StepID("a1", 0), Status: StatusCompleted, FinishReason: "tool-calls",
		Usage: &UsageArgs{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}))
	require.Equal(t, StatusCompleted, status())

	_, err = q.AppendStep(ctx, AppendStepArgs{MessageID: "a1", StepIndex: 1})
	require.NoError(t, err)
	require.Equal(t, StatusActive, status())

	require.NoError(t, q.UpdateMessageStatus(ctx, UpdateMessageStatusArgs{ID: "a1", Status: StatusAbort}))
	require.Equal(t, StatusAbort, status())

	steps, err := q.ListStepsByMessageIDs(ctx, []string{"a1"})
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, StatusAbort, steps[1].Status)

	err = q.UpdateMessageStatus(ctx, UpdateMessageStatusArgs{ID: "a1", Status: StatusActive})
	require.ErrorIs(t, err, ErrNoActiveStep)

	err = q.CompleteStep(ctx, CompleteStepArgs{StepID: StepID("a1", 1), Status: StatusCompleted})
	require.ErrorIs(t, err, ErrStepNotActive)
}

func TestReplaceStepPartsIdempotent(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueries(t)
	ctx := context.Background()
	newTestSession(t, q)

	_, _, err := q.CreateMessage(ctx, CreateMessageArgs{
		ID: "a1", SessionID: "sess-1", Role: "assistant", Status: StatusActive,
		Steps: []CreateStepArgs{{Status: StatusActive}},
	})
	require.NoError(t, err)

	parts := []PartArgs{{Type: "text", Data: "1"}, {Type: "tool", Data: "2"}, {Type: "text", Data: "3"}}
	for i := 0; i < 2; i++ {
		require.NoError(t, q.ReplaceStepParts(ctx, StepID("a1", 0), parts))
	}
	got, err := q.ListPartsByMessageIDs(ctx, []string{"a1"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, p := range got {
		require.Equal(t, int64(i), p.Ordinal)
		require.Equal(t, parts[i].Data, p.Data)
	}

	require.ErrorIs(t, q.ReplaceStepParts(ctx, "nope", parts), ErrNotFound)
}

func TestTransactRetriesBusy(t *testing.T) {
	t.Parallel()
	q, gdb := newTestQueries(t)
	ctx := context.Background()
	newTestSession(t, q)

	var failures atomic.Int32
	failures.Store(2)
	var attempts atomic.Int32
	err := gdb.Callback().Create().Before("gorm:create").Register("test:busy", func(tx *gorm.DB) {
		if tx.Statement.Table != "messages" {
			return
		}
		attempts.Add(1)
		if failures.Add(-1) >= 0 {
			_ = tx.AddError(errors.New("database is locked (5) (SQLITE_BUSY)"))
		}
	})
	require.NoError(t, err)

	m, _, err := q.CreateMessage(ctx, CreateMessageArgs{
		ID: "u1", SessionID: "sess-1", Role: "user", Status: StatusCompleted,
		Steps: []CreateStepArgs{{Status: StatusCompleted}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), m.Idx)
	require.Equal(t, int32(3), attempts.Load())

	var count int64
	require.NoError(t, gdb.Model(&Message{}).Where("session_id = ?", "sess-1").Count(&count).Error)
	require.Equal(t, int64(1), count)
	require.NoError(t, gdb.Model(&Step{}).Where("message_id = ?", "u1").Count(&count).Error)
	require.Equal(t, int64(1), count)
}

func TestTransactGivesUpOnPermanentError(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueries(t)
	ctx := context.Background()

	calls := 0
	boom := errors.New("boom")
	err := q.transact(ctx, func(tx *gorm.DB) error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)

	calls = 0
	err = q.transact(ctx, func(tx *gorm.DB) error {
		calls++
		return errors.New("database is locked")
	})
	require.Error(t, err)
	require.Equal(t, 5, calls)
}

func TestSessionUpdateAndUsage(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueries(t)
	ctx := context.Background()
	newTestSession(t, q)

	s, err := q.UpdateSession(ctx, "sess-1", func(s *Session) error {
		s.Title = "Listing files"
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, "Listing files", s.Title)

	require.NoError(t, q.AddSessionUsage(ctx, AddSessionUsageArgs{ID: "sess-1", PromptTokens: 100, CompletionTokens: 20, Cost: 0.5}))
	require.NoError(t, q.AddSessionUsage(ctx, AddSessionUsageArgs{ID: "sess-1", PromptTokens: 50, CompletionTokens: 10, Cost: 0.25}))
	s, err = q.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, int64(150), s.PromptTokens)
	require.Equal(t, int64(30), s.CompletionTokens)
	require.InDelta(t, 0.75, s.Cost, 1e-9)

	require.ErrorIs(t, q.AddSessionUsage(ctx, AddSessionUsageArgs{ID: "missing"}), ErrNotFound)
	_, err = q.GetSession(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSession(t *testing.T) {
	t.Parallel()
	q, _ := newTestQueries(t)
	ctx := context.Background()
	newTestSession(t, q)

	_, _, err := q.CreateMessage(ctx, CreateMessageArgs{
		ID: "u1", SessionID: "sess-1", Role: "user", Status: StatusCompleted,
		Steps: []CreateStepArgs{{Status: StatusCompleted, Parts: []PartArgs{{Type: "text", Data: "{}"}}}},
	})
	require.NoError(t, err)
	require.NoError(t, q.DeleteSession(ctx, "sess-1"))

	parts, err := q.ListPartsByMessageIDs(ctx, []string{"u1"})
	require.NoError(t, err)
	require.Empty(t, parts)
	_, err = q.GetMessage(ctx, "u1")
	require.ErrorIs(t, err, ErrNotFound)
}
