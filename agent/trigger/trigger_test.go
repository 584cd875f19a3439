package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/hatcher/agentcore/agent/session"
	"github.com/stretchr/testify/require"
)

type fixedProbe struct {
	used, limit uint64
}

func (p fixedProbe) Memory() (uint64, uint64, error) { return p.used, p.limit, nil }

func TestContextRatio(t *testing.T) {
	t.Parallel()

	tr := NewContextRatio([]int{90, 50, 70})
	tests := []struct {
		name      string
		tokens    int64
		flags     session.Flags
		wantFlags session.Flags
	}{
		{"below", 400, nil, nil},
		{"first threshold", 550, nil, session.Flags{"context-warning-50": true}},
		{"already warned", 600, session.Flags{"context-warning-50": true}, nil},
		{"next threshold", 750, session.Flags{"context-warning-50": true}, session.Flags{"context-warning-70": true}},
		{"jump over all", 950, nil, session.Flags{"context-warning-50": true, "context-warning-70": true, "context-warning-90": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := tr.Evaluate(context.Background(), State{
				Session:       session.Session{Flags: tt.flags},
				ContextTokens: tt.tokens,
				ContextWindow: 1000,
			})
			if tt.wantFlags == nil {
				require.Empty(t, r.Notices)
				require.Empty(t, r.Flags)
				return
			}
			require.Len(t, r.Notices, 1)
			require.Equal(t, NoticeContextWarning, r.Notices[0].Type)
			require.Equal(t, tt.wantFlags, r.Flags)
		})
	}

	require.Empty(t, tr.Evaluate(context.Background(), State{ContextTokens: 10}).Notices)
}

func TestTodoStaleness(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(10_000_000)
	tr := NewTodoStaleness(10 * time.Minute)
	open := []session.Todo{
		{ID: 1, Content: "write tests", Status: session.TodoStatusInProgress},
		{ID: 2, Content: "ship", Status: session.TodoStatusCompleted},
	}

	stale := session.Session{Todos: open, TodosUpdatedAt: now.Add(-11 * time.Minute).UnixMilli()}
	r := tr.Evaluate(context.Background(), State{Session: stale, StepIndex: 2, Now: now})
	require.Len(t, r.Notices, 1)
	require.Equal(t, NoticeTodoStale, r.Notices[0].Type)
	require.Contains(t, r.Notices[0].Content, "write tests")
	require.NotContains(t, r.Notices[0].Content, "ship")
	require.Equal(t, session.Flags{session.FlagTodoStaleReminded: true}, r.Flags)

	stale.Flags = r.Flags
	require.Empty(t, tr.Evaluate(context.Background(), State{Session: stale, Now: now}).Notices)

	fresh := session.Session{Todos: open, TodosUpdatedAt: now.Add(-time.Minute).UnixMilli()}
	require.Empty(t, tr.Evaluate(context.Background(), State{Session: fresh, Now: now}).Notices)

	empty := session.Session{}
	r = tr.Evaluate(context.Background(), State{Session: empty, Now: now})
	require.Len(t, r.Notices, 1)
	require.Equal(t, NoticeTodoReminder, r.Notices[0].Type)
	require.Empty(t, tr.Evaluate(context.Background(), State{Session: empty, StepIndex: 1, Now: now}).Notices)
	empty.Flags = r.Flags
	require.Empty(t, tr.Evaluate(context.Background(), State{Session: empty, Now: now}).Notices)
}

func TestResourcePressure(t *testing.T) {
	t.Parallel()

	high := NewResourcePressure(fixedProbe{used: 90, limit: 100}, 0.85)
	r := high.Evaluate(context.Background(), State{})
	require.Len(t, r.Notices, 1)
	require.Equal(t, session.Flags{FlagResourceWarning: true}, r.Flags)

	flagged := State{Session: session.Session{Flags: session.Flags{FlagResourceWarning: true}}}
	require.Empty(t, high.Evaluate(context.Background(), flagged).Notices)

	low := NewResourcePressure(fixedProbe{used: 10, limit: 100}, 0.85)
	r = low.Evaluate(context.Background(), flagged)
	require.Empty(t, r.Notices)
	require.Equal(t, session.Flags{FlagResourceWarning: false}, r.Flags)

	unlimited := NewResourcePressure(fixedProbe{used: 10}, 0.85)
	require.Empty(t, unlimited.Evaluate(context.Background(), State{}).Flags)
}

func TestEngineMergesResults(t *testing.T) {
	t.Parallel()

	e := NewEngine(
		NewContextRatio([]int{50}),
		NewResourcePressure(fixedProbe{used: 99, limit: 100}, 0.5),
	)
	r := e.Evaluate(context.Background(), State{
		Session:       session.Session{ID: "s1"},
		ContextTokens: 60,
		ContextWindow: 100,
	})
	require.Len(t, r.Notices, 2)
	require.Equal(t, NoticeContextWarning, r.Notices[0].Type)
	require.Equal(t, NoticeResourceWarning, r.Notices[1].Type)
	require.Equal(t, session.Flags{"context-warning-50": true, FlagResourceWarning: true}, r.Flags)
}
