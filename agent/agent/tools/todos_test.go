package tools

import (
	"testing"

	"github.com/hatcher/agentcore/agent/session"
	"github.com/stretchr/testify/require"
)

func TestApplyTodos(t *testing.T) {
	t.Parallel()

	previous := []session.Todo{
		{ID: 1, Content: "write parser", Status: session.TodoStatusInProgress},
		{ID: 2, Content: "write tests", Status: session.TodoStatusPending},
	}
	todos, meta := applyTodos(previous, []TodoItem{
		{Content: "write parser", Status: "completed"},
		{Content: "write tests", Status: "in_progress", ActiveForm: "Writing tests"},
		{Content: "ship", Status: "pending"},
	})

	require.Equal(t, []int64{1, 2, 0}, []int64{todos[0].ID, todos[1].ID, todos[2].ID})
	require.False(t, meta.IsNew)
	require.Equal(t, []string{"write parser"}, meta.JustCompleted)
	require.Equal(t, "Writing tests", meta.JustStarted)
	require.Equal(t, 1, meta.Completed)
	require.Equal(t, 3, meta.Total)
}

func TestTodosSummary(t *testing.T) {
	t.Parallel()

	s := todosSummary([]session.Todo{
		{Status: session.TodoStatusPending},
		{Status: session.TodoStatusCompleted},
		{Status: session.TodoStatusCompleted},
	})
	require.Contains(t, s, "1 pending, 0 in progress, 2 completed")
}
