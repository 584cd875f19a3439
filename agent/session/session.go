package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/hatcher/agentcore/agent/db"
	"github.com/hatcher/agentcore/pkg/logs"
)

var ErrNotFound = db.ErrNotFound

type CreateParams struct {
	ID       string
	Provider string
	Model    string
	AgentID  string
	RuleIDs  []string
	Title    string
}

type Service interface {
	Create(ctx context.Context, params CreateParams) (Session, error)
	Get(ctx context.Context, id string) (Session, error)
	List(ctx context.Context) ([]Session, error)
	UpdateTitle(ctx context.Context, id, title string) (Session, error)
	AddUsage(ctx context.Context, id string, promptTokens, completionTokens int64, cost float64) error
	// SetFlags applies the changes; a false value removes the flag.
	SetFlags(ctx context.Context, id string, changes Flags) (Session, error)
	// UpdateTodos replaces the todo list. Todos without an id get the next one
	// from the session counter.
	UpdateTodos(ctx context.Context, id string, todos []Todo) (Session, error)
	Delete(ctx context.Context, id string) error
}

type service struct {
	q   db.Querier
	now func() time.Time
}

func NewService(q db.Querier) Service {
	return &service{q: q, now: time.Now}
}

func (s *service) Create(ctx context.Context, params CreateParams) (Session, error) {
	if params.ID == "" {
		params.ID = uuid.New().String()
	}
	ruleIDs, err := json.Marshal(nonNil(params.RuleIDs))
	if err != nil {
		return Session{}, err
	}
	dbSession, err := s.q.CreateSession(ctx, db.CreateSessionArgs{
		ID:       params.ID,
		Provider: params.Provider,
		Model:    params.Model,
		AgentID:  params.AgentID,
		RuleIDs:  string(ruleIDs),
		Title:    params.Title,
	})
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	return s.fromDBItem(dbSession), nil
}

func (s *service) Get(ctx context.Context, id string) (Session, error) {
	dbSession, err := s.q.GetSession(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return s.fromDBItem(dbSession), nil
}

func (s *service) List(ctx context.Context) ([]Session, error) {
	dbSessions, err := s.q.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	sessions := make([]Session, len(dbSessions))
	for i, dbSession := range dbSessions {
		sessions[i] = s.fromDBItem(dbSession)
	}
	return sessions, nil
}

func (s *service) UpdateTitle(ctx context.Context, id, title string) (Session, error) {
	dbSession, err := s.q.UpdateSession(ctx, id, func(row *db.Session) error {
		row.Title = title
		return nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("update session title: %w", err)
	}
	return s.fromDBItem(dbSession), nil
}

func (s *service) AddUsage(ctx context.Context, id string, promptTokens, completionTokens int64, cost float64) error {
	return s.q.AddSessionUsage(ctx, db.AddSessionUsageArgs{
		ID:               id,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		Cost:             cost,
	})
}

func (s *service) SetFlags(ctx context.Context, id string, changes Flags) (Session, error) {
	dbSession, err := s.q.UpdateSession(ctx, id, func(row *db.Session) error {
		flags := decodeFlags(row.Flags)
		for k, v := range changes {
			if v {
				flags[k] = true
			} else {
				delete(flags, k)
			}
		}
		b, err := json.Marshal(flags)
		if err != nil {
			return err
		}
		row.Flags = string(b)
		return nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("set session flags: %w", err)
	}
	return s.fromDBItem(dbSession), nil
}

func (s *service) UpdateTodos(ctx context.Context, id string, todos []Todo) (Session, error) {
	dbSession, err := s.q.UpdateSession(ctx, id, func(row *db.Session) error {
		next := row.NextTodoID
		if next < 1 {
			next = 1
		}
		assigned := make([]Todo, len(todos))
		for i, t := range todos {
			if !t.Status.Valid() {
				return fmt.Errorf("invalid status %q for todo %q", t.Status, t.Content)
			}
			if t.ID == 0 {
				t.ID = next
				next++
			} else if t.ID >= next {
				next = t.ID + 1
			}
			assigned[i] = t
		}
		previous := decodeTodos(row.Todos)
		b, err := json.Marshal(assigned)
		if err != nil {
			return err
		}
		row.Todos = string(b)
		row.NextTodoID = next
		if !todosEqual(previous, assigned) {
			row.TodosUpdatedAt = s.now().UnixMilli()
			flags := decodeFlags(row.Flags)
			if flags[FlagTodoStaleReminded] {
				delete(flags, FlagTodoStaleReminded)
				fb, err := json.Marshal(flags)
				if err != nil {
					return err
				}
				row.Flags = string(fb)
			}
		}
		return nil
	})
	if err != nil {
		return Session{}, fmt.Errorf("update session todos: %w", err)
	}
	return s.fromDBItem(dbSession), nil
}

func (s *service) Delete(ctx context.Context, id string) error {
	return s.q.DeleteSession(ctx, id)
}

func (s *service) fromDBItem(item db.Session) Session {
	session := Session{
		ID:               item.ID,
		Provider:         item.Provider,
		Model:            item.Model,
		AgentID:          item.AgentID,
		Title:            item.Title,
		NextTodoID:       item.NextTodoID,
		Flags:            decodeFlags(item.Flags),
		Todos:            decodeTodos(item.Todos),
		TodosUpdatedAt:   item.TodosUpdatedAt,
		PromptTokens:     item.PromptTokens,
		CompletionTokens: item.CompletionTokens,
		Cost:             item.Cost,
	}
	if item.CreatedAt != nil {
		session.CreatedAt = item.CreatedAt.UnixMilli()
	}
	if item.UpdatedAt != nil {
		session.UpdatedAt = item.UpdatedAt.UnixMilli()
	}
	if item.RuleIDs != "" {
		if err := json.Unmarshal([]byte(item.RuleIDs), &session.RuleIDs); err != nil {
			logs.Errorf("session %s has malformed rule ids: %v", item.ID, err)
		}
	}
	return session
}

func decodeFlags(raw string) Flags {
	flags := Flags{}
	if raw == "" {
		return flags
	}
	if err := json.Unmarshal([]byte(raw), &flags); err != nil {
		logs.Errorf("malformed session flags %q: %v", raw, err)
		return Flags{}
	}
	return flags
}

func decodeTodos(raw string) []Todo {
	if raw == "" {
		return []Todo{}
	}
	var todos []Todo
	if err := json.Unmarshal([]byte(raw), &todos); err != nil {
		logs.Errorf("failed to unmarshal todos: %v", err)
		return []Todo{}
	}
	return todos
}

func todosEqual(a, b []Todo) bool {
	return slices.Equal(a, b)
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// IsNotFound reports whether err means the session does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
