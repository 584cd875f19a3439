package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/hatcher/agentcore/agent/agent/tools"
	"github.com/hatcher/agentcore/agent/backend"
	"github.com/hatcher/agentcore/agent/event"
	"github.com/hatcher/agentcore/agent/message"
	"github.com/hatcher/agentcore/agent/session"
	"github.com/hatcher/agentcore/agent/trigger"
	"github.com/hatcher/agentcore/pkg/logs"
)

// turn owns the state of one run. Only the run goroutine touches it, except
// emit which is shared with the title goroutine.
type turn struct {
	o         *Orchestrator
	run       *Run
	req       TurnRequest
	sessionID string
	// abortCtx is cancelled by the caller; ctx outlives it so that partial
	// output can still be persisted and announced.
	abortCtx context.Context
	ctx      context.Context

	sess      session.Session
	backend   backend.Backend
	info      backend.ModelInfo
	messageID string
	usage     *message.Usage
	remoteID  string
	aborted   bool
	lastErr   error

	emitMu sync.Mutex
	titles sync.WaitGroup
}

// stepOutcome is how the stream of one step ended.
type stepOutcome struct {
	finish  *backend.Finish
	err     error
	aborted bool
}

func (t *turn) execute() Result {
	defer t.titles.Wait()

	newSession := t.req.Session.ID == ""
	if !newSession {
		sess, err := t.o.opts.Sessions.Get(t.ctx, t.sessionID)
		if err != nil {
			return t.fail(fmt.Errorf("failed to get session: %w", err))
		}
		t.sess = sess
	} else {
		t.sess = session.Session{
			ID:       t.sessionID,
			Provider: t.req.Session.Provider,
			Model:    t.req.Session.Model,
		}
	}

	b, err := t.o.opts.Backends.Resolve(t.sess.Provider, t.sess.Model)
	if err != nil {
		return t.rejectInvalid(fmt.Errorf("%w: %w", ErrInvalidSession, err), !newSession)
	}
	t.backend = b
	t.info = b.Info()

	if newSession {
		sess, err := t.o.opts.Sessions.Create(t.ctx, session.CreateParams{
			ID:       t.sessionID,
			Provider: t.req.Session.Provider,
			Model:    t.req.Session.Model,
			AgentID:  t.req.Session.AgentID,
			RuleIDs:  t.req.Session.RuleIDs,
		})
		if err != nil {
			return t.fail(fmt.Errorf("failed to create session: %w", err))
		}
		t.sess = sess
		t.emit(event.SessionCreated{SessionID: sess.ID, Provider: sess.Provider, Model: sess.Model})
	}

	if err := t.prepareHistory(); err != nil {
		return t.fail(err)
	}
	return t.loop()
}

// prepareHistory delivers the interruption notice of an aborted previous turn
// and persists the new user message.
func (t *turn) prepareHistory() error {
	if t.sess.HasFlag(session.FlagInterrupted) {
		msg, err := t.o.opts.Messages.Create(t.ctx, message.CreateMessageParams{
			SessionID: t.sessionID,
			Role:      message.System,
			Content:   interruptedNotice,
		})
		if err != nil {
			return fmt.Errorf("failed to create system message: %w", err)
		}
		t.emit(event.SystemMessageCreated{MessageID: msg.ID, Content: interruptedNotice})
		if sess, err := t.o.opts.Sessions.SetFlags(t.ctx, t.sessionID, session.Flags{session.FlagInterrupted: false}); err != nil {
			logs.CtxErrorf(t.ctx, "failed to clear interrupted flag: %v", err)
		} else {
			t.sess = sess
		}
	}

	content := t.req.Content
	if content == nil {
		return nil
	}
	first := false
	if t.o.opts.Titles != nil {
		history, err := t.o.opts.Messages.List(t.ctx, t.sessionID)
		if err != nil {
			return fmt.Errorf("failed to list messages: %w", err)
		}
		first = !hasUserMessage(history)
	}
	msg, err := t.o.opts.Messages.Create(t.ctx, message.CreateMessageParams{
		SessionID:   t.sessionID,
		Role:        message.User,
		Content:     content.Text,
		Attachments: content.Attachments,
	})
	if err != nil {
		return fmt.Errorf("failed to create user message: %w", err)
	}
	t.emit(event.UserMessageCreated{MessageID: msg.ID, Content: content.Text})
	if first {
		t.startTitle(titlePrompt(content))
	}
	return nil
}

func (t *turn) loop() Result {
	finishReason := ""
	lastStatus := message.StatusError
	for index := 0; ; index++ {
		if t.abortCtx.Err() != nil {
			t.abort(nil)
			break
		}
		if index >= t.o.opts.Config.MaxSteps {
			finishReason = message.FinishReasonMaxSteps
			logs.CtxWarnf(t.ctx, "turn stopped after %d steps", index)
			break
		}
		status, reason, err := t.step(index)
		if err != nil {
			if t.messageID == "" {
				return t.fail(err)
			}
			t.lastErr = err
			t.emit(event.Error{Error: err.Error()})
			lastStatus, finishReason = message.StatusError, message.FinishReasonError
			break
		}
		lastStatus, finishReason = status, reason
		if t.aborted || status != message.StatusCompleted || reason != message.FinishReasonToolCalls {
			break
		}
	}
	return t.finalize(lastStatus, finishReason)
}

// step runs one model call. The returned error reports a failure to set the
// step up; stream failures end the step with an error status instead.
func (t *turn) step(index int) (message.Status, string, error) {
	if sess, err := t.o.opts.Sessions.Get(t.ctx, t.sessionID); err != nil {
		logs.CtxWarnf(t.ctx, "failed to reload session: %v", err)
	} else {
		t.sess = sess
	}
	history, err := t.o.opts.Messages.List(t.ctx, t.sessionID)
	if err != nil {
		return "", "", fmt.Errorf("failed to list messages: %w", err)
	}

	var notices []message.Notice
	if t.o.opts.Triggers != nil {
		res := t.o.opts.Triggers.Evaluate(t.ctx, trigger.State{
			Session:       t.sess,
			ContextTokens: contextTokens(history),
			ContextWindow: t.info.ContextWindow,
			StepIndex:     index,
		})
		notices = res.Notices
		if len(res.Flags) > 0 {
			if sess, err := t.o.opts.Sessions.SetFlags(t.ctx, t.sessionID, res.Flags); err != nil {
				logs.CtxErrorf(t.ctx, "failed to persist trigger flags: %v", err)
			} else {
				t.sess = sess
			}
		}
	}

	step, err := t.createStep(index, notices)
	if err != nil {
		return "", "", err
	}
	t.emit(event.StepStart{StepID: step.ID, StepIndex: index, SystemMessages: notices})

	buf := newPartBuffer(t.nowMilli, t.emit)
	buf.addNotices(notices)

	base := withoutMessage(history, t.messageID)
	req := backend.Request{
		SessionID:    t.sessionID,
		Messages:     spliceNotices(history, notices),
		SystemPrompt: t.o.opts.Config.SystemPrompt,
	}
	t.planResume(&req, base)

	var out stepOutcome
	chunks, err := t.backend.Stream(tools.WithRun(t.abortCtx, t.sessionID, t.messageID), req)
	switch {
	case err != nil && t.abortCtx.Err() != nil:
		out = stepOutcome{aborted: true}
	case err != nil:
		out = stepOutcome{err: err}
	default:
		out = t.consume(chunks, buf)
	}

	status, reason, usage := t.settle(out, buf)
	t.completeStep(step, buf, status, reason, usage, out.finish)
	if out.finish != nil && out.finish.RemoteSessionID != "" {
		t.remoteID = out.finish.RemoteSessionID
		t.o.tracker.Commit(t.sessionID, t.remoteID, base)
	}
	return status, reason, nil
}

func (t *turn) createStep(index int, notices []message.Notice) (message.Step, error) {
	if index == 0 {
		msg, err := t.o.opts.Messages.Create(t.ctx, message.CreateMessageParams{
			SessionID: t.sessionID,
			Role:      message.Assistant,
			Notices:   notices,
			Provider:  t.info.Provider,
			Model:     t.info.Model,
		})
		if err != nil {
			return message.Step{}, fmt.Errorf("failed to create assistant message: %w", err)
		}
		t.messageID = msg.ID
		t.run.setMessageID(msg.ID)
		t.emit(event.AssistantMessageCreated{MessageID: msg.ID})
		if len(msg.Steps) == 0 {
			return message.Step{}, fmt.Errorf("assistant message %s has no step", msg.ID)
		}
		return msg.Steps[0], nil
	}
	step, err := t.o.opts.Messages.AppendStep(t.ctx, t.messageID, index, notices)
	if err != nil {
		return message.Step{}, fmt.Errorf("failed to append step %d: %w", index, err)
	}
	return step, nil
}

// planResume points the request at the remote session when the backend keeps
// one and the local history still matches what it has seen.
func (t *turn) planResume(req *backend.Request, base []message.Message) {
	r, ok := t.backend.(backend.Resumer)
	if !ok {
		return
	}
	plan := t.o.tracker.Plan(t.sessionID, base)
	if plan.Inconsistent {
		logs.CtxWarnf(t.ctx, "history changed since the remote session was used, starting fresh")
		t.emit(event.Warning{Message: "conversation history changed; the model session was restarted with the full history"})
		return
	}
	if plan.RemoteSessionID == "" {
		return
	}
	id, err := r.Resume(t.abortCtx, plan.RemoteSessionID, plan.Skip)
	if err != nil {
		logs.CtxWarnf(t.ctx, "failed to resume remote session %s: %v", plan.RemoteSessionID, err)
		t.o.tracker.Forget(t.sessionID)
		return
	}
	req.RemoteSessionID = id
	req.SkipMessages = plan.Skip
}

// consume applies chunks until a terminal one arrives, the stream closes or
// the turn is aborted. Abort is checked before every chunk.
func (t *turn) consume(chunks <-chan backend.Chunk, buf *partBuffer) stepOutcome {
	for {
		if t.abortCtx.Err() != nil {
			go drain(chunks)
			return stepOutcome{aborted: true}
		}
		select {
		case <-t.abortCtx.Done():
			go drain(chunks)
			return stepOutcome{aborted: true}
		case c, ok := <-chunks:
			if !ok {
				return stepOutcome{err: ErrStreamTruncated}
			}
			switch c := c.(type) {
			case backend.Finish:
				return stepOutcome{finish: &c}
			case backend.Error:
				if t.abortCtx.Err() != nil || errors.Is(c.Err, context.Canceled) {
					go drain(chunks)
					return stepOutcome{aborted: true}
				}
				return stepOutcome{err: c.Err}
			default:
				buf.apply(c)
			}
		}
	}
}

func drain(chunks <-chan backend.Chunk) {
	for range chunks {
	}
}

// settle closes the open parts of the step and decides its status.
func (t *turn) settle(out stepOutcome, buf *partBuffer) (message.Status, string, *message.Usage) {
	switch {
	case out.aborted:
		t.abort(buf)
		return message.StatusAbort, message.FinishReasonAbort, nil
	case out.err != nil:
		logs.CtxErrorf(t.ctx, "model stream failed: %v", out.err)
		buf.closeAll(message.StatusError)
		buf.appendError(out.err.Error())
		t.lastErr = out.err
		t.emit(event.Error{Error: out.err.Error()})
		return message.StatusError, message.FinishReasonError, nil
	default:
		buf.closeAll(message.StatusCompleted)
		reason := out.finish.FinishReason
		if reason == "" {
			reason = message.FinishReasonUnknown
		}
		if out.finish.Usage == nil {
			t.lastErr = ErrMissingUsage
			return message.StatusError, reason, nil
		}
		return message.StatusCompleted, reason, out.finish.Usage
	}
}

// abort closes the open parts and announces the abort. It runs at most once
// per turn.
func (t *turn) abort(buf *partBuffer) {
	if t.aborted {
		return
	}
	t.aborted = true
	if buf != nil {
		buf.closeAll(message.StatusAbort)
	}
	t.emit(event.Abort{})
	if _, err := t.o.opts.Sessions.SetFlags(t.ctx, t.sessionID, session.Flags{session.FlagInterrupted: true}); err != nil {
		logs.CtxErrorf(t.ctx, "failed to set interrupted flag: %v", err)
	}
}

// completeStep persists the step. Failures are logged; the turn goes on.
func (t *turn) completeStep(step message.Step, buf *partBuffer, status message.Status, reason string, usage *message.Usage, finish *backend.Finish) {
	if err := t.o.opts.Messages.ReplaceStepParts(t.ctx, step.ID, buf.snapshot()); err != nil {
		logs.CtxErrorf(t.ctx, "failed to persist parts of step %s: %v", step.ID, err)
	}
	err := t.o.opts.Messages.CompleteStep(t.ctx, step.ID, message.CompleteStepParams{
		Status:       status,
		Usage:        usage,
		FinishReason: reason,
		Provider:     t.info.Provider,
		Model:        t.info.Model,
		Todos:        t.todoSnapshot(),
	})
	if err != nil {
		logs.CtxErrorf(t.ctx, "failed to complete step %s: %v", step.ID, err)
	}

	if usage != nil {
		cost := t.info.Cost(*usage)
		if finish != nil && finish.Cost != nil {
			cost = *finish.Cost
		}
		if err := t.o.opts.Sessions.AddUsage(t.ctx, t.sessionID, usage.PromptTokens, usage.CompletionTokens, cost); err != nil {
			logs.CtxErrorf(t.ctx, "failed to add session usage: %v", err)
		}
		total := usage.Add(message.Usage{})
		if t.usage != nil {
			total = t.usage.Add(*usage)
		}
		t.usage = &total
	}
	t.emit(event.StepComplete{
		StepID:       step.ID,
		Usage:        usage,
		Duration:     t.nowMilli() - step.StartedAt,
		FinishReason: reason,
	})
}

func (t *turn) todoSnapshot() json.RawMessage {
	sess, err := t.o.opts.Sessions.Get(t.ctx, t.sessionID)
	if err != nil {
		logs.CtxWarnf(t.ctx, "failed to load todos: %v", err)
		return nil
	}
	todos := sess.Todos
	if todos == nil {
		todos = []session.Todo{}
	}
	b, err := json.Marshal(todos)
	if err != nil {
		return nil
	}
	return b
}

func (t *turn) finalize(lastStatus message.Status, finishReason string) Result {
	status := lastStatus
	var err error
	switch {
	case t.aborted:
		status, finishReason, err = message.StatusAbort, message.FinishReasonAbort, ErrRequestCancelled
	case finishReason == message.FinishReasonMaxSteps:
	case status != message.StatusCompleted:
		status, err = message.StatusError, t.lastErr
		if err == nil {
			err = fmt.Errorf("step ended with status %s", lastStatus)
		}
		if finishReason == "" {
			finishReason = message.FinishReasonError
		}
	}
	res := Result{SessionID: t.sessionID, MessageID: t.messageID, Status: status, FinishReason: finishReason, Usage: t.usage, Err: err}
	if t.messageID == "" {
		return res
	}

	if err := t.o.opts.Messages.UpdateStatus(t.ctx, t.messageID, status, finishReason); err != nil {
		logs.CtxErrorf(t.ctx, "failed to update message status: %v", err)
	}
	// Title events belong to the run, so they go out before the terminal one.
	t.titles.Wait()
	t.emit(event.MessageStatusUpdated{MessageID: t.messageID, Status: status, Usage: t.usage, FinishReason: finishReason})

	if t.remoteID != "" {
		history, err := t.o.opts.Messages.List(t.ctx, t.sessionID)
		if err != nil {
			t.o.tracker.Forget(t.sessionID)
		} else {
			t.o.tracker.Commit(t.sessionID, t.remoteID, history)
		}
	}
	logs.CtxInfof(t.ctx, "turn finished, message_id: %s, status: %s, finish_reason: %s", t.messageID, status, finishReason)
	return res
}

// rejectInvalid reports a session whose provider or model cannot be served.
// The placeholder message is only stored for a session that already exists.
func (t *turn) rejectInvalid(err error, persist bool) Result {
	logs.CtxWarnf(t.ctx, "rejecting turn: %v", err)
	id := uuid.New().String()
	if persist {
		msg, cerr := t.o.opts.Messages.Create(t.ctx, message.CreateMessageParams{
			ID:           id,
			SessionID:    t.sessionID,
			Role:         message.Assistant,
			Status:       message.StatusError,
			FinishReason: message.FinishReasonError,
			Provider:     t.sess.Provider,
			Model:        t.sess.Model,
		})
		if cerr != nil {
			logs.CtxErrorf(t.ctx, "failed to persist placeholder message: %v", cerr)
		} else {
			id = msg.ID
		}
	}
	t.run.setMessageID(id)
	t.emit(event.AssistantMessageCreated{MessageID: id})
	t.emit(event.Error{Error: err.Error()})
	t.emit(event.MessageStatusUpdated{MessageID: id, Status: message.StatusError, FinishReason: message.FinishReasonError})
	return Result{
		SessionID:    t.sessionID,
		MessageID:    id,
		Status:       message.StatusError,
		FinishReason: message.FinishReasonError,
		Err:          err,
	}
}

// fail ends a turn that broke before an assistant message existed.
func (t *turn) fail(err error) Result {
	logs.CtxErrorf(t.ctx, "turn failed: %v", err)
	t.emit(event.Error{Error: err.Error()})
	return Result{SessionID: t.sessionID, Status: message.StatusError, FinishReason: message.FinishReasonError, Err: err}
}

func (t *turn) emit(p event.Payload) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()
	var ev event.Event
	if t.o.opts.Bus != nil {
		ev = t.o.opts.Bus.Publish(t.ctx, t.sessionID, p)
	}
	if ev.Payload == nil {
		ev = event.Event{Channel: t.sessionID, Time: t.nowMilli(), Payload: p}
	}
	t.run.append(ev)
}

func (t *turn) nowMilli() int64 {
	return t.o.now().UnixMilli()
}

func hasUserMessage(msgs []message.Message) bool {
	for _, m := range msgs {
		if m.Role == message.User {
			return true
		}
	}
	return false
}

// contextTokens is the size of the latest step that reported usage.
func contextTokens(history []message.Message) int64 {
	for i := len(history) - 1; i >= 0; i-- {
		steps := history[i].Steps
		for j := len(steps) - 1; j >= 0; j-- {
			if u := steps[j].Usage; u != nil {
				return u.PromptTokens + u.CompletionTokens
			}
		}
	}
	return 0
}

func withoutMessage(msgs []message.Message, id string) []message.Message {
	if id == "" {
		return msgs
	}
	out := make([]message.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.ID != id {
			out = append(out, m)
		}
	}
	return out
}
