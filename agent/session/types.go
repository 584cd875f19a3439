package session

type TodoStatus string

const (
	TodoStatusPending    TodoStatus = "pending"
	TodoStatusInProgress TodoStatus = "in_progress"
	TodoStatusCompleted  TodoStatus = "completed"
)

func (s TodoStatus) Valid() bool {
	switch s {
	case TodoStatusPending, TodoStatusInProgress, TodoStatusCompleted:
		return true
	}
	return false
}

type Todo struct {
	ID         int64      `json:"id"`
	Content    string     `json:"content"`
	Status     TodoStatus `json:"status"`
	ActiveForm string     `json:"active_form"`
}

// Flags suppress one-shot triggers. A flag is either set or absent.
type Flags map[string]bool

const (
	// FlagInterrupted is set when a turn is aborted; the next turn tells the
	// model about the interruption and clears it.
	FlagInterrupted = "turn-interrupted"
	// FlagTodoStaleReminded is cleared whenever the todo list changes.
	FlagTodoStaleReminded = "todo-stale-reminded"
)

type Session struct {
	ID               string   `json:"id"`
	Provider         string   `json:"provider"`
	Model            string   `json:"model"`
	AgentID          string   `json:"agent_id"`
	RuleIDs          []string `json:"rule_ids"`
	Title            string   `json:"title"`
	NextTodoID       int64    `json:"next_todo_id"`
	Flags            Flags    `json:"flags"`
	Todos            []Todo   `json:"todos"`
	TodosUpdatedAt   int64    `json:"todos_updated_at"`
	PromptTokens     int64    `json:"prompt_tokens"`
	CompletionTokens int64    `json:"completion_tokens"`
	Cost             float64  `json:"cost"`
	CreatedAt        int64    `json:"created_at"`
	UpdatedAt        int64    `json:"updated_at"`
}

func (s Session) HasFlag(name string) bool {
	return s.Flags[name]
}

// OpenTodos counts todos that are not completed.
func (s Session) OpenTodos() int {
	n := 0
	for _, t := range s.Todos {
		if t.Status != TodoStatusCompleted {
			n++
		}
	}
	return n
}
