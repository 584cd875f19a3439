// Package service exposes sessions and turns over HTTP with server-sent
// event streams.
package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/hatcher/agentcore/agent/agent"
	"github.com/hatcher/agentcore/agent/app"
	"github.com/hatcher/agentcore/agent/backend"
	"github.com/hatcher/agentcore/agent/event"
	"github.com/hatcher/agentcore/agent/message"
	"github.com/hatcher/agentcore/agent/session"
	"github.com/hatcher/agentcore/pkg/logs"
)

var ErrUnknownModel = errors.New("unknown model")

type Service struct {
	app *app.App
}

func NewService(app *app.App) *Service {
	return &Service{app: app}
}

// CreateSession creates an empty session for a registered model.
func (s *Service) CreateSession(ctx context.Context, req CreateSessionRequest) (session.Session, error) {
	provider, model := req.Provider, req.Model
	if provider == "" {
		var ok bool
		provider, model, ok = app.ParseModel(s.app.Backends.Models(), req.Model)
		if !ok {
			return session.Session{}, fmt.Errorf("%w: %s", ErrUnknownModel, req.Model)
		}
	}
	if _, err := s.app.Backends.Resolve(provider, model); err != nil {
		return session.Session{}, fmt.Errorf("%w: %w", ErrUnknownModel, err)
	}
	sess, err := s.app.Sessions.Create(ctx, session.CreateParams{
		Provider: provider,
		Model:    model,
		AgentID:  req.AgentID,
		RuleIDs:  req.RuleIDs,
	})
	if err != nil {
		return session.Session{}, err
	}
	s.app.Bus.Publish(ctx, sess.ID, event.SessionCreated{SessionID: sess.ID, Provider: sess.Provider, Model: sess.Model})
	return sess, nil
}

func (s *Service) GetSession(ctx context.Context, id string) (session.Session, error) {
	return s.app.Sessions.Get(ctx, id)
}

func (s *Service) ListSessions(ctx context.Context) ([]session.Session, error) {
	return s.app.Sessions.List(ctx)
}

func (s *Service) ListMessages(ctx context.Context, sessionID string) ([]message.Message, error) {
	if _, err := s.app.Sessions.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.app.Messages.List(ctx, sessionID)
}

func (s *Service) Models() []backend.ModelInfo {
	return s.app.Backends.Models()
}

// RunTurn starts a turn and passes every event of the run to handler until
// the run is terminal. A handler error stops the stream but not the turn;
// the turn is only aborted through Abort.
func (s *Service) RunTurn(ctx context.Context, sessionID string, req TurnRequest, handler func(event.Event) error) (agent.Result, error) {
	run, err := s.app.Orchestrator.RunTurn(context.WithoutCancel(ctx), agent.TurnRequest{
		Session: agent.SessionRef{ID: sessionID},
		Content: req.userContent(),
	})
	if err != nil {
		return agent.Result{}, err
	}
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for ev := range run.Events(streamCtx) {
		if err := handler(ev); err != nil {
			logs.CtxWarnf(ctx, "stop streaming run of session %s: %v", sessionID, err)
			return agent.Result{SessionID: run.SessionID(), MessageID: run.MessageID()}, err
		}
	}
	if ctx.Err() != nil {
		return agent.Result{SessionID: run.SessionID(), MessageID: run.MessageID()}, ctx.Err()
	}
	return run.Wait(), nil
}

// Subscribe follows the session channel, starting with the last replay
// events, until ctx ends or the subscriber falls behind.
func (s *Service) Subscribe(ctx context.Context, sessionID string, replay int, handler func(event.Event) error) error {
	sub := s.app.Bus.SubscribeWithReplay(ctx, sessionID, replay)
	defer sub.Close()
	for ev := range sub.C() {
		if err := handler(ev); err != nil {
			return err
		}
	}
	return sub.Err()
}

// Abort cancels the running turn of the session and reports whether one was running.
func (s *Service) Abort(sessionID string) bool {
	if !s.app.Orchestrator.IsSessionBusy(sessionID) {
		return false
	}
	s.app.Orchestrator.Cancel(sessionID)
	return true
}
