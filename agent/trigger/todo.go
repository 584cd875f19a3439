package trigger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hatcher/agentcore/agent/message"
	"github.com/hatcher/agentcore/agent/session"
)

const (
	NoticeTodoStale    = "todo-stale"
	NoticeTodoReminder = "todo-reminder"

	FlagTodoReminder = "todo-reminder"
)

// TodoStaleness reminds the model of open todos that were not updated for a
// while, and once per session of the todo tool when the list is empty.
type TodoStaleness struct {
	staleAfter time.Duration
}

func NewTodoStaleness(staleAfter time.Duration) *TodoStaleness {
	return &TodoStaleness{staleAfter: staleAfter}
}

func (*TodoStaleness) Name() string { return "todo-staleness" }

func (t *TodoStaleness) Evaluate(_ context.Context, state State) Result {
	sess := state.Session
	if len(sess.Todos) == 0 {
		if state.StepIndex != 0 || sess.HasFlag(FlagTodoReminder) {
			return Result{}
		}
		return Result{
			Notices: []message.Notice{{
				Type:    NoticeTodoReminder,
				Content: "For multi-step work, keep a todo list with the todos tool and update it as items progress.",
			}},
			Flags: session.Flags{FlagTodoReminder: true},
		}
	}

	open := sess.OpenTodos()
	if open == 0 || sess.TodosUpdatedAt == 0 || sess.HasFlag(session.FlagTodoStaleReminded) {
		return Result{}
	}
	idle := state.Now.Sub(time.UnixMilli(sess.TodosUpdatedAt))
	if idle < t.staleAfter {
		return Result{}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "The todo list has not been updated for %s and %d item(s) are still open:\n", idle.Round(time.Second), open)
	for _, todo := range sess.Todos {
		if todo.Status == session.TodoStatusCompleted {
			continue
		}
		fmt.Fprintf(&sb, "- [%s] %s\n", todo.Status, todo.Content)
	}
	sb.WriteString("Update the list if progress was made.")
	return Result{
		Notices: []message.Notice{{Type: NoticeTodoStale, Content: sb.String()}},
		Flags:   session.Flags{session.FlagTodoStaleReminded: true},
	}
}
