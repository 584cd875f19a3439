package tools

import (
	"context"
	"fmt"

	"charm.land/fantasy"
	"github.com/hatcher/agentcore/agent/session"
)

const TodosToolName = "todos"

const todosDescription = `Create and manage a structured task list for the current session.

Use it for work with three or more distinct steps, or when the user gives a list of things to do.
Send the whole list on every call; it replaces the previous one.
Keep exactly one item in_progress while working and mark items completed as soon as they are done.
Each item needs content (imperative form) and active_form (present continuous form).`

type TodosParams struct {
	Todos []TodoItem `json:"todos" description:"The updated todo list"`
}

type TodoItem struct {
	Content    string `json:"content" description:"What needs to be done (imperative form)"`
	Status     string `json:"status" description:"Task status: pending, in_progress, or completed"`
	ActiveForm string `json:"active_form" description:"Present continuous form (e.g., 'Running tests')"`
}

type TodosResponseMetadata struct {
	IsNew         bool           `json:"is_new"`
	Todos         []session.Todo `json:"todos"`
	JustCompleted []string       `json:"just_completed,omitempty"`
	JustStarted   string         `json:"just_started,omitempty"`
	Completed     int            `json:"completed"`
	Total         int            `json:"total"`
}

func NewTodosTool(sessions session.Service) fantasy.AgentTool {
	return fantasy.NewAgentTool(
		TodosToolName,
		todosDescription,
		func(ctx context.Context, params TodosParams, _ fantasy.ToolCall) (fantasy.ToolResponse, error) {
			sessionID := GetSessionFromContext(ctx)
			if sessionID == "" {
				return fantasy.ToolResponse{}, fmt.Errorf("session ID is required for managing todos")
			}
			current, err := sessions.Get(ctx, sessionID)
			if err != nil {
				return fantasy.ToolResponse{}, fmt.Errorf("failed to get session: %w", err)
			}

			for _, item := range params.Todos {
				if !session.TodoStatus(item.Status).Valid() {
					return fantasy.NewTextErrorResponse(fmt.Sprintf("invalid status %q for todo %q", item.Status, item.Content)), nil
				}
			}

			todos, meta := applyTodos(current.Todos, params.Todos)
			updated, err := sessions.UpdateTodos(ctx, sessionID, todos)
			if err != nil {
				return fantasy.ToolResponse{}, fmt.Errorf("failed to save todos: %w", err)
			}
			meta.Todos = updated.Todos

			return fantasy.WithResponseMetadata(fantasy.NewTextResponse(todosSummary(updated.Todos)), meta), nil
		})
}

// applyTodos keeps the ids of items whose content is unchanged so the session
// counter only advances for new items.
func applyTodos(previous []session.Todo, items []TodoItem) ([]session.Todo, TodosResponseMetadata) {
	old := make(map[string]session.Todo, len(previous))
	for _, todo := range previous {
		old[todo.Content] = todo
	}

	meta := TodosResponseMetadata{IsNew: len(previous) == 0, Total: len(items)}
	todos := make([]session.Todo, len(items))
	for i, item := range items {
		status := session.TodoStatus(item.Status)
		todos[i] = session.Todo{Content: item.Content, Status: status, ActiveForm: item.ActiveForm}

		prev, existed := old[item.Content]
		if existed {
			todos[i].ID = prev.ID
		}
		switch status {
		case session.TodoStatusCompleted:
			meta.Completed++
			if existed && prev.Status != session.TodoStatusCompleted {
				meta.JustCompleted = append(meta.JustCompleted, item.Content)
			}
		case session.TodoStatusInProgress:
			if !existed || prev.Status != session.TodoStatusInProgress {
				meta.JustStarted = item.ActiveForm
				if meta.JustStarted == "" {
					meta.JustStarted = item.Content
				}
			}
		}
	}
	return todos, meta
}

func todosSummary(todos []session.Todo) string {
	var pending, inProgress, completed int
	for _, todo := range todos {
		switch todo.Status {
		case session.TodoStatusPending:
			pending++
		case session.TodoStatusInProgress:
			inProgress++
		case session.TodoStatusCompleted:
			completed++
		}
	}
	return fmt.Sprintf("Todo list updated successfully.\n\nStatus: %d pending, %d in progress, %d completed\n"+
		"Keep using the todo list to track your progress and proceed with the current tasks if applicable.",
		pending, inProgress, completed)
}
