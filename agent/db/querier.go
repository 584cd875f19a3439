package db

import (
	"context"
	"time"
)

type Querier interface {
	CreateSession(ctx context.Context, arg CreateSessionArgs) (Session, error)
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context) ([]Session, error)
	UpdateSession(ctx context.Context, id string, fn func(s *Session) error) (Session, error)
	AddSessionUsage(ctx context.Context, arg AddSessionUsageArgs) error
	DeleteSession(ctx context.Context, id string) error

	CreateMessage(ctx context.Context, arg CreateMessageArgs) (Message, []Step, error)
	AppendStep(ctx context.Context, arg AppendStepArgs) (Step, error)
	ReplaceStepParts(ctx context.Context, stepID string, parts []PartArgs) error
	CompleteStep(ctx context.Context, arg CompleteStepArgs) error
	UpdateMessageStatus(ctx context.Context, arg UpdateMessageStatusArgs) error
	GetMessage(ctx context.Context, id string) (Message, error)
	ListMessagesBySession(ctx context.Context, sessionID string) ([]Message, error)
	ListMessagesByIDs(ctx context.Context, ids []string) ([]Message, error)
	ListActiveMessages(ctx context.Context, updatedBefore time.Time) ([]Message, error)
	ListStepsByMessageIDs(ctx context.Context, ids []string) ([]Step, error)
	ListPartsByMessageIDs(ctx context.Context, ids []string) ([]Part, error)
	ListUsagesByMessageIDs(ctx context.Context, ids []string) ([]Usage, error)
	ListTodoSnapshotsByMessageIDs(ctx context.Context, ids []string) ([]TodoSnapshot, error)
	DeleteSessionMessages(ctx context.Context, sessionID string) error
}

var _ Querier = (*Queries)(nil)
