package service

import (
	"context"
	"errors"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/route"
	"github.com/hatcher/agentcore/agent/agent"
	"github.com/hatcher/agentcore/agent/event"
	"github.com/hatcher/agentcore/agent/session"
	"github.com/hatcher/agentcore/pkg/hertzx"
	"github.com/hatcher/agentcore/pkg/logs"
)

const defaultReplay = 100

// Register 注册路由
func (s *Service) Register(r *route.Engine) {
	g := r.Group("/api")
	g.GET("/models", s.handleModels)
	g.GET("/sessions", s.handleListSessions)
	g.POST("/sessions", s.handleCreateSession)
	g.GET("/sessions/:id", s.handleGetSession)
	g.GET("/sessions/:id/messages", s.handleListMessages)
	g.POST("/sessions/:id/turns", s.handleTurn)
	g.GET("/sessions/:id/events", s.handleEvents)
	g.POST("/sessions/:id/abort", s.handleAbort)
}

func (s *Service) handleModels(c context.Context, ctx *app.RequestContext) {
	hertzx.Data(ctx, s.Models())
}

func (s *Service) handleListSessions(c context.Context, ctx *app.RequestContext) {
	list, err := s.ListSessions(c)
	if err != nil {
		hertzx.Error(ctx, err.Error())
		return
	}
	hertzx.Data(ctx, list)
}

func (s *Service) handleCreateSession(c context.Context, ctx *app.RequestContext) {
	var req CreateSessionRequest
	if err := ctx.BindAndValidate(&req); err != nil {
		hertzx.Badf(ctx, "参数错误: %v", err)
		return
	}
	sess, err := s.CreateSession(c, req)
	if err != nil {
		if errors.Is(err, ErrUnknownModel) {
			hertzx.Bad(ctx, err.Error())
			return
		}
		hertzx.Error(ctx, err.Error())
		return
	}
	hertzx.Data(ctx, sess)
}

func (s *Service) handleGetSession(c context.Context, ctx *app.RequestContext) {
	id, err := hertzx.RequiredParam(ctx, "id")
	if err != nil {
		hertzx.Bad(ctx, err.Error())
		return
	}
	sess, err := s.GetSession(c, id)
	if err != nil {
		writeError(ctx, err)
		return
	}
	hertzx.Data(ctx, sess)
}

func (s *Service) handleListMessages(c context.Context, ctx *app.RequestContext) {
	id, err := hertzx.RequiredParam(ctx, "id")
	if err != nil {
		hertzx.Bad(ctx, err.Error())
		return
	}
	msgs, err := s.ListMessages(c, id)
	if err != nil {
		writeError(ctx, err)
		return
	}
	hertzx.Data(ctx, msgs)
}

// handleTurn 发起一轮对话，以 SSE 返回本轮的全部事件
func (s *Service) handleTurn(c context.Context, ctx *app.RequestContext) {
	id, err := hertzx.RequiredParam(ctx, "id")
	if err != nil {
		hertzx.Bad(ctx, err.Error())
		return
	}
	var req TurnRequest
	if err := ctx.BindAndValidate(&req); err != nil {
		hertzx.Badf(ctx, "参数错误: %v", err)
		return
	}

	var sender *hertzx.SseSender
	res, err := s.RunTurn(c, id, req, func(ev event.Event) error {
		if sender == nil {
			sender = hertzx.NewSseSender(ctx)
		}
		return sendEvent(sender, ev)
	})
	if err != nil && sender == nil {
		writeError(ctx, err)
		return
	}
	logs.CtxInfof(c, "turn stream closed, session_id: %s, message_id: %s, status: %s", id, res.MessageID, res.Status)
}

// handleEvents 订阅会话事件，replay 为先回放的历史事件数
func (s *Service) handleEvents(c context.Context, ctx *app.RequestContext) {
	id, err := hertzx.RequiredParam(ctx, "id")
	if err != nil {
		hertzx.Bad(ctx, err.Error())
		return
	}
	replay, err := hertzx.DefaultQueryInt(ctx, "replay", defaultReplay)
	if err != nil {
		hertzx.Bad(ctx, err.Error())
		return
	}
	if _, err := s.GetSession(c, id); err != nil {
		writeError(ctx, err)
		return
	}
	sender := hertzx.NewSseSender(ctx)
	if err := s.Subscribe(c, id, replay, func(ev event.Event) error {
		return sendEvent(sender, ev)
	}); err != nil {
		logs.CtxWarnf(c, "event subscription of session %s ended: %v", id, err)
	}
}

func (s *Service) handleAbort(c context.Context, ctx *app.RequestContext) {
	id, err := hertzx.RequiredParam(ctx, "id")
	if err != nil {
		hertzx.Bad(ctx, err.Error())
		return
	}
	hertzx.Data(ctx, AbortResponse{SessionID: id, Aborted: s.Abort(id)})
}

func sendEvent(sender *hertzx.SseSender, ev event.Event) error {
	data, err := event.MarshalEvent(ev)
	if err != nil {
		return err
	}
	return sender.SendJSON(string(ev.Payload.Kind()), ev.Seq, data)
}

func writeError(ctx *app.RequestContext, err error) {
	switch {
	case session.IsNotFound(err), errors.Is(err, agent.ErrSessionMissing):
		hertzx.NotFound(ctx, err.Error())
	case errors.Is(err, agent.ErrSessionBusy):
		hertzx.Conflict(ctx, err.Error())
	case errors.Is(err, agent.ErrEmptyPrompt):
		hertzx.Bad(ctx, err.Error())
	default:
		hertzx.Error(ctx, err.Error())
	}
}
