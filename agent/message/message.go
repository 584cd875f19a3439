package message

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hatcher/agentcore/agent/db"
)

var (
	ErrNotFound     = db.ErrNotFound
	ErrStepIndex    = db.ErrStepIndex
	ErrNoActiveStep = db.ErrNoActiveStep
)

type CreateMessageParams struct {
	// ID is generated when empty.
	ID          string
	SessionID   string
	Role        Role
	Content     string
	Attachments []Attachment
	// Status defaults to active for assistant messages and completed otherwise.
	// An active message is created together with an active step 0 carrying Notices.
	Status       Status
	FinishReason string
	Notices      []Notice
	Provider     string
	Model        string
}

type CompleteStepParams struct {
	Status       Status
	Usage        *Usage
	FinishReason string
	Provider     string
	Model        string
	// Todos is the session todo list snapshot, already encoded.
	Todos json.RawMessage
}

type Service interface {
	Create(ctx context.Context, params CreateMessageParams) (Message, error)
	AppendStep(ctx context.Context, messageID string, index int, notices []Notice) (Step, error)
	ReplaceStepParts(ctx context.Context, stepID string, parts Parts) error
	CompleteStep(ctx context.Context, stepID string, params CompleteStepParams) error
	UpdateStatus(ctx context.Context, messageID string, status Status, finishReason string) error
	Get(ctx context.Context, id string) (Message, error)
	List(ctx context.Context, sessionID string) ([]Message, error)
	ListByIDs(ctx context.Context, ids []string) ([]Message, error)
	ListActive(ctx context.Context, olderThan time.Duration) ([]Message, error)
	DeleteSessionMessages(ctx context.Context, sessionID string) error
}

type service struct {
	q db.Querier
}

func NewService(q db.Querier) Service {
	return &service{q: q}
}

func (s *service) Create(ctx context.Context, params CreateMessageParams) (Message, error) {
	if params.ID == "" {
		params.ID = uuid.New().String()
	}
	if params.Status == "" {
		params.Status = StatusCompleted
		if params.Role == Assistant {
			params.Status = StatusActive
		}
	}
	attachments, err := marshalOptional(params.Attachments)
	if err != nil {
		return Message{}, err
	}
	var steps []db.CreateStepArgs
	switch {
	case params.Status == StatusActive:
		notices, err := marshalOptional(params.Notices)
		if err != nil {
			return Message{}, err
		}
		steps = append(steps, db.CreateStepArgs{Status: string(StatusActive), Notices: notices})
	case params.Content != "":
		parts, err := toPartArgs(Parts{TextPart{Text: params.Content, Status: StatusCompleted}})
		if err != nil {
			return Message{}, err
		}
		steps = append(steps, db.CreateStepArgs{Status: string(params.Status), Parts: parts})
	}
	dbMessage, dbSteps, err := s.q.CreateMessage(ctx, db.CreateMessageArgs{
		ID:           params.ID,
		SessionID:    params.SessionID,
		Role:         string(params.Role),
		Status:       string(params.Status),
		FinishReason: params.FinishReason,
		Provider:     params.Provider,
		Model:        params.Model,
		Attachments:  attachments,
		Steps:        steps,
	})
	if err != nil {
		return Message{}, fmt.Errorf("create message: %w", err)
	}
	msg, err := fromDBMessage(dbMessage)
	if err != nil {
		return Message{}, err
	}
	for i, st := range dbSteps {
		step, err := fromDBStep(st)
		if err != nil {
			return Message{}, err
		}
		if i == 0 && params.Content != "" && params.Status != StatusActive {
			step.Parts = Parts{TextPart{Text: params.Content, Status: StatusCompleted}}
		}
		msg.Steps = append(msg.Steps, step)
	}
	return msg, nil
}

func (s *service) AppendStep(ctx context.Context, messageID string, index int, notices []Notice) (Step, error) {
	encoded, err := marshalOptional(notices)
	if err != nil {
		return Step{}, err
	}
	st, err := s.q.AppendStep(ctx, db.AppendStepArgs{
		MessageID: messageID,
		StepIndex: int64(index),
		Notices:   encoded,
	})
	if err != nil {
		return Step{}, fmt.Errorf("append step: %w", err)
	}
	return fromDBStep(st)
}

func (s *service) ReplaceStepParts(ctx context.Context, stepID string, parts Parts) error {
	args, err := toPartArgs(parts)
	if err != nil {
		return err
	}
	if err := s.q.ReplaceStepParts(ctx, stepID, args); err != nil {
		return fmt.Errorf("replace step parts: %w", err)
	}
	return nil
}

func (s *service) CompleteStep(ctx context.Context, stepID string, params CompleteStepParams) error {
	arg := db.CompleteStepArgs{
		StepID:       stepID,
		Status:       string(params.Status),
		FinishReason: params.FinishReason,
		Provider:     params.Provider,
		Model:        params.Model,
	}
	if params.Usage != nil {
		arg.Usage = &db.UsageArgs{
			PromptTokens:     params.Usage.PromptTokens,
			CompletionTokens: params.Usage.CompletionTokens,
			TotalTokens:      params.Usage.TotalTokens,
		}
	}
	if params.Todos != nil {
		todos := string(params.Todos)
		arg.Todos = &todos
	}
	if err := s.q.CompleteStep(ctx, arg); err != nil {
		return fmt.Errorf("complete step: %w", err)
	}
	return nil
}

func (s *service) UpdateStatus(ctx context.Context, messageID string, status Status, finishReason string) error {
	err := s.q.UpdateMessageStatus(ctx, db.UpdateMessageStatusArgs{
		ID:           messageID,
		Status:       string(status),
		FinishReason: finishReason,
	})
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	return nil
}

func (s *service) Get(ctx context.Context, id string) (Message, error) {
	msgs, err := s.ListByIDs(ctx, []string{id})
	if err != nil {
		return Message{}, err
	}
	if len(msgs) == 0 {
		return Message{}, ErrNotFound
	}
	return msgs[0], nil
}

func (s *service) List(ctx context.Context, sessionID string) ([]Message, error) {
	dbMessages, err := s.q.ListMessagesBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.assemble(ctx, dbMessages)
}

func (s *service) ListByIDs(ctx context.Context, ids []string) ([]Message, error) {
	dbMessages, err := s.q.ListMessagesByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return s.assemble(ctx, dbMessages)
}

func (s *service) ListActive(ctx context.Context, olderThan time.Duration) ([]Message, error) {
	dbMessages, err := s.q.ListActiveMessages(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return nil, err
	}
	return s.assemble(ctx, dbMessages)
}

func (s *service) DeleteSessionMessages(ctx context.Context, sessionID string) error {
	return s.q.DeleteSessionMessages(ctx, sessionID)
}
