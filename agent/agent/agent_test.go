package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hatcher/agentcore/agent/backend"
	"github.com/hatcher/agentcore/agent/backend/backendtest"
	"github.com/hatcher/agentcore/agent/db"
	"github.com/hatcher/agentcore/agent/event"
	"github.com/hatcher/agentcore/agent/fingerprint"
	"github.com/hatcher/agentcore/agent/message"
	"github.com/hatcher/agentcore/agent/pubsub"
	"github.com/hatcher/agentcore/agent/session"
	"github.com/hatcher/agentcore/agent/trigger"
	"github.com/hatcher/agentcore/pkg/ormx"
	"github.com/hatcher/agentcore/pkg/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var testModel = backend.ModelInfo{Provider: "fake", Model: "m1", ContextWindow: 1000, CostPer1MIn: 1, CostPer1MOut: 2}

type harness struct {
	o        *Orchestrator
	sessions session.Service
	messages message.Service
	tracker  *fingerprint.Tracker
}

func newHarness(t *testing.T, be backend.Backend, configure ...func(*Options)) *harness {
	t.Helper()
	gdb, err := ormx.NewDBClient(ormx.DBConfig{
		DbType:   ormx.DbTypeSQLite,
		Database: filepath.Join(t.TempDir(), "agent.db"),
		Silent:   true,
	})
	require.NoError(t, err)
	q, err := db.New(gdb, db.RetryConfig{InitialInterval: time.Millisecond})
	require.NoError(t, err)

	h := &harness{
		sessions: session.NewService(q),
		messages: message.NewService(q),
		tracker:  fingerprint.NewTracker(),
	}
	opts := Options{
		Sessions: h.sessions,
		Messages: h.messages,
		Bus:      pubsub.NewBus[event.Payload](pubsub.NewMemoryTail[event.Payload](0)),
		Backends: backend.NewRegistry(be),
		Tracker:  h.tracker,
	}
	for _, c := range configure {
		c(&opts)
	}
	h.o = New(opts)
	return h
}

func (h *harness) newSession(t *testing.T) string {
	t.Helper()
	s, err := h.sessions.Create(context.Background(), session.CreateParams{Provider: testModel.Provider, Model: testModel.Model})
	require.NoError(t, err)
	return s.ID
}

func collect(t *testing.T, run *Run) []event.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var evs []event.Event
	for ev := range run.Events(ctx) {
		evs = append(evs, ev)
	}
	require.NoError(t, ctx.Err())
	return evs
}

func kinds(evs []event.Event) []event.Kind {
	out := make([]event.Kind, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Payload.Kind())
	}
	return out
}

func count(evs []event.Event, k event.Kind) int {
	n := 0
	for _, ev := range evs {
		if ev.Payload.Kind() == k {
			n++
		}
	}
	return n
}

func newTurn(text string) TurnRequest {
	return TurnRequest{
		Session: SessionRef{Provider: testModel.Provider, Model: testModel.Model},
		Content: &UserContent{Text: text},
	}
}

func continueTurn(sessionID, text string) TurnRequest {
	return TurnRequest{Session: SessionRef{ID: sessionID}, Content: &UserContent{Text: text}}
}

func TestRunTurnListFiles(t *testing.T) {
	t.Parallel()

	fake := backendtest.New(testModel, backendtest.Script{Chunks: backendtest.Finished(
		message.FinishReasonStop,
		message.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		backend.TextStart{},
		backend.TextDelta{Text: "Sure, "},
		backend.ToolCall{ToolCallID: "c1", ToolName: "ls", Args: []byte(`{"path":"."}`)},
		backend.ToolResult{ToolCallID: "c1", ToolName: "ls", Result: []byte(`["a.txt"]`)},
		backend.TextDelta{Text: "Found 1 file."},
		backend.TextEnd{},
	)})
	h := newHarness(t, fake)
	ctx := context.Background()

	run, err := h.o.RunTurn(ctx, newTurn("list files"))
	require.NoError(t, err)
	evs := collect(t, run)
	res := run.Wait()

	require.NoError(t, res.Err)
	require.Equal(t, message.StatusCompleted, res.Status)
	require.Equal(t, message.FinishReasonStop, res.FinishReason)
	require.Equal(t, []event.Kind{
		event.KindSessionCreated,
		event.KindUserMessageCreated,
		event.KindAssistantMessageCreated,
		event.KindStepStart,
		event.KindTextStart,
		event.KindTextDelta,
		event.KindToolCall,
		event.KindToolResult,
		event.KindTextDelta,
		event.KindTextEnd,
		event.KindStepComplete,
		event.KindMessageStatusUpdated,
	}, kinds(evs))
	for i := 1; i < len(evs); i++ {
		require.Greater(t, evs[i].Seq, evs[i-1].Seq)
	}

	msg, err := h.messages.Get(ctx, run.MessageID())
	require.NoError(t, err)
	require.Equal(t, message.StatusCompleted, msg.Status)
	require.Len(t, msg.Steps, 1)
	parts := msg.Steps[0].Parts
	require.Len(t, parts, 2)
	require.Equal(t, message.TextPart{Text: "Sure, Found 1 file.", Status: message.StatusCompleted}, parts[0])
	tool, ok := parts[1].(message.ToolPart)
	require.True(t, ok)
	require.Equal(t, "ls", tool.Name)
	require.Equal(t, message.StatusCompleted, tool.Status)
	require.JSONEq(t, `["a.txt"]`, string(tool.Result))
	require.Equal(t, &message.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}, msg.Usage())

	sess, err := h.sessions.Get(ctx, run.SessionID())
	require.NoError(t, err)
	require.Equal(t, int64(10), sess.PromptTokens)
	require.Equal(t, int64(5), sess.CompletionTokens)
	require.InDelta(t, 20e-6, sess.Cost, 1e-12)
	require.False(t, h.o.IsSessionBusy(run.SessionID()))
}

func TestRunTurnEventsRestartable(t *testing.T) {
	t.Parallel()

	fake := backendtest.New(testModel, backendtest.Script{Chunks: backendtest.Finished(
		message.FinishReasonStop, message.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
		backend.TextDelta{Text: "hi"},
	)})
	h := newHarness(t, fake)

	run, err := h.o.RunTurn(context.Background(), newTurn("hello"))
	require.NoError(t, err)
	first := collect(t, run)
	second := collect(t, run)
	require.Equal(t, first, second)
	require.True(t, event.Terminal(first[len(first)-1].Payload))
}

func TestRunTurnAbort(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	defer close(hold)
	fake := backendtest.New(testModel, backendtest.Script{
		Chunks: backendtest.Finished(
			message.FinishReasonStop, message.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
			backend.TextStart{},
			backend.TextDelta{Text: "partial"},
			backend.ToolCall{ToolCallID: "c1", ToolName: "ls"},
		),
		Hold:   hold,
		HoldAt: 3,
	})
	h := newHarness(t, fake)
	ctx := context.Background()

	run, err := h.o.RunTurn(ctx, newTurn("list files"))
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var evs []event.Event
	for ev := range run.Events(waitCtx) {
		evs = append(evs, ev)
		if ev.Payload.Kind() == event.KindToolCall {
			run.Cancel()
			run.Cancel()
			h.o.Cancel(run.SessionID())
		}
	}
	res := run.Wait()

	require.ErrorIs(t, res.Err, ErrRequestCancelled)
	require.Equal(t, message.StatusAbort, res.Status)
	require.Equal(t, 1, count(evs, event.KindAbort))
	require.Zero(t, count(evs, event.KindTextEnd))
	require.Len(t, fake.Requests(), 1)

	last := evs[len(evs)-1].Payload.(event.MessageStatusUpdated)
	require.Equal(t, message.StatusAbort, last.Status)
	require.Equal(t, message.FinishReasonAbort, last.FinishReason)

	msg, err := h.messages.Get(ctx, run.MessageID())
	require.NoError(t, err)
	require.Equal(t, message.StatusAbort, msg.Status)
	require.Equal(t, message.StatusAbort, msg.Steps[0].Status)
	require.Len(t, msg.Steps[0].Parts, 2)
	require.Equal(t, message.TextPart{Text: "partial", Status: message.StatusAbort}, msg.Steps[0].Parts[0])
	require.Equal(t, message.StatusAbort, msg.Steps[0].Parts[1].(message.ToolPart).Status)

	sess, err := h.sessions.Get(ctx, run.SessionID())
	require.NoError(t, err)
	require.True(t, sess.HasFlag(session.FlagInterrupted))

	// The next turn tells the model about the interruption first.
	fake.Push(backendtest.Script{Chunks: backendtest.Finished(
		message.FinishReasonStop, message.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
		backend.TextDelta{Text: "ok"},
	)})
	next, err := h.o.RunTurn(ctx, continueTurn(run.SessionID(), "go on"))
	require.NoError(t, err)
	nextEvs := collect(t, next)
	require.NoError(t, next.Wait().Err)
	require.Equal(t, []event.Kind{event.KindSystemMessageCreated, event.KindUserMessageCreated}, kinds(nextEvs)[:2])

	req := fake.Requests()[1]
	roles := make([]message.Role, 0, len(req.Messages))
	for _, m := range req.Messages {
		roles = append(roles, m.Role)
	}
	require.Equal(t, []message.Role{message.User, message.Assistant, message.System, message.User}, roles)

	sess, err = h.sessions.Get(ctx, run.SessionID())
	require.NoError(t, err)
	require.False(t, sess.HasFlag(session.FlagInterrupted))
}

func TestRunTurnInvalidModel(t *testing.T) {
	t.Parallel()

	t.Run("new session", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, backendtest.New(testModel))
		ctx := context.Background()

		run, err := h.o.RunTurn(ctx, TurnRequest{
			Session: SessionRef{Provider: "fake", Model: "missing"},
			Content: &UserContent{Text: "hi"},
		})
		require.NoError(t, err)
		evs := collect(t, run)
		res := run.Wait()

		require.ErrorIs(t, res.Err, ErrInvalidSession)
		require.ErrorIs(t, res.Err, backend.ErrUnknownModel)
		require.Equal(t, []event.Kind{event.KindAssistantMessageCreated, event.KindError, event.KindMessageStatusUpdated}, kinds(evs))
		require.NotEmpty(t, run.MessageID())

		_, err = h.sessions.Get(ctx, run.SessionID())
		require.True(t, session.IsNotFound(err))
		_, err = h.messages.Get(ctx, run.MessageID())
		require.Error(t, err)
	})

	t.Run("existing session", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, backendtest.New(testModel))
		ctx := context.Background()
		s, err := h.sessions.Create(ctx, session.CreateParams{Provider: "fake", Model: "retired"})
		require.NoError(t, err)

		run, err := h.o.RunTurn(ctx, continueTurn(s.ID, "hi"))
		require.NoError(t, err)
		evs := collect(t, run)
		require.ErrorIs(t, run.Wait().Err, backend.ErrUnknownModel)
		require.Equal(t, 1, count(evs, event.KindError))

		msgs, err := h.messages.List(ctx, s.ID)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		require.Equal(t, run.MessageID(), msgs[0].ID)
		require.Equal(t, message.Assistant, msgs[0].Role)
		require.Equal(t, message.StatusError, msgs[0].Status)
		require.Empty(t, msgs[0].Steps)
	})

	t.Run("blank provider", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, backendtest.New(testModel))

		run, err := h.o.RunTurn(context.Background(), TurnRequest{Content: &UserContent{Text: "hi"}})
		require.NoError(t, err)
		require.ErrorIs(t, run.Wait().Err, backend.ErrMissingProvider)
	})
}

func TestRunTurnRejectsSynchronously(t *testing.T) {
	t.Parallel()
	h := newHarness(t, backendtest.New(testModel))
	ctx := context.Background()

	_, err := h.o.RunTurn(ctx, TurnRequest{Session: SessionRef{ID: "nope"}, Content: &UserContent{Text: "hi"}})
	require.ErrorIs(t, err, ErrSessionMissing)

	_, err = h.o.RunTurn(ctx, TurnRequest{Session: SessionRef{Provider: "fake", Model: "m1"}, Content: &UserContent{}})
	require.ErrorIs(t, err, ErrEmptyPrompt)

	_, err = h.o.RunTurn(ctx, TurnRequest{Session: SessionRef{Provider: "fake", Model: "m1"}})
	require.ErrorIs(t, err, ErrEmptyPrompt)
}

func TestRunTurnSessionBusy(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	fake := backendtest.New(testModel, backendtest.Script{
		Chunks: backendtest.Finished(message.FinishReasonStop, message.Usage{TotalTokens: 1}, backend.TextDelta{Text: "x"}),
		Hold:   hold,
	})
	h := newHarness(t, fake)
	sessionID := h.newSession(t)
	ctx := context.Background()

	run, err := h.o.RunTurn(ctx, continueTurn(sessionID, "one"))
	require.NoError(t, err)
	require.True(t, h.o.IsSessionBusy(sessionID))
	require.True(t, h.o.IsBusy())

	_, err = h.o.RunTurn(ctx, continueTurn(sessionID, "two"))
	require.ErrorIs(t, err, ErrSessionBusy)

	close(hold)
	require.Equal(t, message.StatusCompleted, run.Wait().Status)
	require.False(t, h.o.IsSessionBusy(sessionID))
}

func TestRunTurnToolLoop(t *testing.T) {
	t.Parallel()

	fake := backendtest.New(testModel,
		backendtest.Script{Chunks: backendtest.Finished(
			message.FinishReasonToolCalls, message.Usage{PromptTokens: 10, CompletionTokens: 2, TotalTokens: 12},
			backend.ToolCall{ToolCallID: "c1", ToolName: "ls"},
			backend.ToolResult{ToolCallID: "c1", ToolName: "ls", Result: []byte(`"a.txt"`)},
		)},
		backendtest.Script{Chunks: backendtest.Finished(
			message.FinishReasonStop, message.Usage{PromptTokens: 20, CompletionTokens: 3, TotalTokens: 23},
			backend.TextDelta{Text: "done"},
		)},
	)
	h := newHarness(t, fake)
	ctx := context.Background()

	run, err := h.o.RunTurn(ctx, newTurn("list files"))
	require.NoError(t, err)
	evs := collect(t, run)
	res := run.Wait()

	require.Equal(t, message.StatusCompleted, res.Status)
	require.Equal(t, &message.Usage{PromptTokens: 30, CompletionTokens: 5, TotalTokens: 35}, res.Usage)
	require.Equal(t, 2, count(evs, event.KindStepStart))
	require.Equal(t, 2, count(evs, event.KindStepComplete))
	require.Equal(t, 1, count(evs, event.KindAssistantMessageCreated))

	msg, err := h.messages.Get(ctx, run.MessageID())
	require.NoError(t, err)
	require.Len(t, msg.Steps, 2)
	require.Equal(t, message.FinishReasonToolCalls, msg.Steps[0].FinishReason)
	require.Equal(t, message.FinishReasonStop, msg.Steps[1].FinishReason)
	require.JSONEq(t, `[]`, string(msg.Steps[1].Todos))

	// The second call sees the first step of the message being built.
	second := fake.Requests()[1].Messages
	require.Equal(t, message.Assistant, second[len(second)-1].Role)
}

func TestRunTurnMaxSteps(t *testing.T) {
	t.Parallel()

	loop := func() backendtest.Script {
		return backendtest.Script{Chunks: backendtest.Finished(
			message.FinishReasonToolCalls, message.Usage{TotalTokens: 1},
			backend.ToolCall{ToolCallID: "c", ToolName: "ls"},
			backend.ToolResult{ToolCallID: "c", ToolName: "ls", Result: []byte(`1`)},
		)}
	}
	fake := backendtest.New(testModel, loop(), loop(), loop())
	h := newHarness(t, fake, func(o *Options) { o.Config.MaxSteps = 2 })

	run, err := h.o.RunTurn(context.Background(), newTurn("loop"))
	require.NoError(t, err)
	res := run.Wait()
	require.Equal(t, message.FinishReasonMaxSteps, res.FinishReason)
	require.Len(t, fake.Requests(), 2)
}

func TestRunTurnBackendFailure(t *testing.T) {
	t.Parallel()

	fake := backendtest.New(testModel,
		backendtest.Script{StreamErr: errors.New("upstream unavailable")},
		backendtest.Script{Chunks: []backend.Chunk{backend.TextDelta{Text: "cut"}}},
		backendtest.Script{Chunks: backendtest.Finished(message.FinishReasonStop, message.Usage{TotalTokens: 1}, backend.TextDelta{Text: "fine"})},
	)
	h := newHarness(t, fake)
	ctx := context.Background()
	sessionID := h.newSession(t)

	run, err := h.o.RunTurn(ctx, continueTurn(sessionID, "one"))
	require.NoError(t, err)
	evs := collect(t, run)
	res := run.Wait()
	require.Equal(t, message.StatusError, res.Status)
	require.EqualError(t, res.Err, "upstream unavailable")
	require.Equal(t, 1, count(evs, event.KindError))
	msg, err := h.messages.Get(ctx, run.MessageID())
	require.NoError(t, err)
	require.Equal(t, message.StatusError, msg.Status)
	require.Equal(t, message.Parts{message.ErrorPart{Message: "upstream unavailable"}}, msg.Steps[0].Parts)

	run, err = h.o.RunTurn(ctx, continueTurn(sessionID, "two"))
	require.NoError(t, err)
	res = run.Wait()
	require.ErrorIs(t, res.Err, ErrStreamTruncated)
	msg, err = h.messages.Get(ctx, run.MessageID())
	require.NoError(t, err)
	require.Equal(t, message.TextPart{Text: "cut", Status: message.StatusError}, msg.Steps[0].Parts[0])

	run, err = h.o.RunTurn(ctx, continueTurn(sessionID, "three"))
	require.NoError(t, err)
	require.Equal(t, message.StatusCompleted, run.Wait().Status)
}

func TestRunTurnInterleavedParts(t *testing.T) {
	t.Parallel()

	fake := backendtest.New(testModel, backendtest.Script{Chunks: backendtest.Finished(
		message.FinishReasonStop, message.Usage{PromptTokens: 4, CompletionTokens: 4, TotalTokens: 8},
		backend.TextStart{},
		backend.ReasoningStart{},
		backend.TextDelta{Text: "A"},
		backend.ToolCall{ToolCallID: "c1", ToolName: "ls", Args: []byte(`{}`)},
		backend.ReasoningDelta{Text: "R"},
		backend.ToolError{ToolCallID: "c1", ToolName: "ls", Error: "boom"},
		backend.File{MediaType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}},
		backend.TextDelta{Text: "B"},
		backend.ReasoningEnd{},
		backend.TextEnd{},
	)})
	h := newHarness(t, fake)
	ctx := context.Background()

	run, err := h.o.RunTurn(ctx, newTurn("mix it up"))
	require.NoError(t, err)
	evs := collect(t, run)
	res := run.Wait()
	require.NoError(t, res.Err)
	require.Equal(t, message.StatusCompleted, res.Status)
	require.Equal(t, 1, count(evs, event.KindTextEnd))
	require.Equal(t, 1, count(evs, event.KindReasoningEnd))

	msg, err := h.messages.Get(ctx, run.MessageID())
	require.NoError(t, err)
	require.Equal(t, message.StatusCompleted, msg.Status)
	parts := msg.Steps[0].Parts
	require.Len(t, parts, 4)
	require.Equal(t, message.TextPart{Text: "AB", Status: message.StatusCompleted}, parts[0])
	reasoning, ok := parts[1].(message.ReasoningPart)
	require.True(t, ok, "got %#v", parts[1])
	require.Equal(t, "R", reasoning.Text)
	require.Equal(t, message.StatusCompleted, reasoning.Status)
	tool, ok := parts[2].(message.ToolPart)
	require.True(t, ok, "got %#v", parts[2])
	require.Equal(t, message.StatusError, tool.Status)
	require.Equal(t, "boom", tool.Error)
	require.Equal(t, message.FilePart{MediaType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}, parts[3])
}

func TestRunTurnMissingUsage(t *testing.T) {
	t.Parallel()

	fake := backendtest.New(testModel, backendtest.Script{Chunks: []backend.Chunk{
		backend.TextDelta{Text: "done"},
		backend.Finish{FinishReason: message.FinishReasonStop},
	}})
	h := newHarness(t, fake)
	ctx := context.Background()

	run, err := h.o.RunTurn(ctx, newTurn("hi"))
	require.NoError(t, err)
	collect(t, run)
	res := run.Wait()

	require.Equal(t, message.StatusError, res.Status)
	require.ErrorIs(t, res.Err, ErrMissingUsage)
	msg, err := h.messages.Get(ctx, run.MessageID())
	require.NoError(t, err)
	require.Equal(t, message.StatusError, msg.Status)
}

type stepNotice struct{}

func (stepNotice) Name() string { return "step-notice" }

func (stepNotice) Evaluate(_ context.Context, s trigger.State) trigger.Result {
	return trigger.Result{Notices: []message.Notice{{Type: "test", Content: fmt.Sprintf("step %d", s.StepIndex)}}}
}

func TestRunTurnSplicesNotices(t *testing.T) {
	t.Parallel()

	fake := backendtest.New(testModel,
		backendtest.Script{Chunks: backendtest.Finished(
			message.FinishReasonToolCalls, message.Usage{TotalTokens: 1},
			backend.ToolCall{ToolCallID: "c1", ToolName: "ls"},
			backend.ToolResult{ToolCallID: "c1", ToolName: "ls", Result: []byte(`1`)},
		)},
		backendtest.Script{Chunks: backendtest.Finished(message.FinishReasonStop, message.Usage{TotalTokens: 1}, backend.TextDelta{Text: "done"})},
	)
	h := newHarness(t, fake, func(o *Options) { o.Triggers = trigger.NewEngine(stepNotice{}) })
	ctx := context.Background()

	run, err := h.o.RunTurn(ctx, newTurn("list files"))
	require.NoError(t, err)
	evs := collect(t, run)
	require.Equal(t, message.StatusCompleted, run.Wait().Status)

	var starts []event.StepStart
	for _, ev := range evs {
		if s, ok := ev.Payload.(event.StepStart); ok {
			starts = append(starts, s)
		}
	}
	require.Len(t, starts, 2)
	require.Equal(t, []message.Notice{{Type: "test", Content: "step 1"}}, starts[1].SystemMessages)

	reqs := fake.Requests()
	first := reqs[0].Messages[len(reqs[0].Messages)-1]
	require.Equal(t, message.User, first.Role)
	require.True(t, strings.HasPrefix(first.Text(), "list files"))
	require.Contains(t, first.Text(), "<system_reminder>step 0</system_reminder>")

	second := reqs[1].Messages[len(reqs[1].Messages)-1]
	require.Equal(t, message.User, second.Role)
	require.Equal(t, "<system_reminder>step 1</system_reminder>", second.Text())

	// Notices are recorded on the step, never in the user message.
	msgs, err := h.messages.List(ctx, run.SessionID())
	require.NoError(t, err)
	require.Equal(t, "list files", msgs[0].Text())
	assistant := msgs[len(msgs)-1]
	require.Equal(t, []message.Notice{{Type: "test", Content: "step 0"}}, assistant.Steps[0].Notices)
	notice, ok := assistant.Steps[0].Parts[0].(message.NoticePart)
	require.True(t, ok)
	require.Equal(t, "step 0", notice.Content)
}

func TestRunTurnTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		titler backendtest.Titler
		want   string
		deltas int
	}{
		{"generated", backendtest.Titler{Deltas: []string{"Listing ", "files"}}, "Listing files", 2},
		{"fallback", backendtest.Titler{Err: errors.New("no model")}, defaultSessionName, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fake := backendtest.New(testModel, backendtest.Script{Chunks: backendtest.Finished(
				message.FinishReasonStop, message.Usage{TotalTokens: 1}, backend.TextDelta{Text: "ok"},
			)})
			h := newHarness(t, fake, func(o *Options) { o.Titles = tt.titler })
			ctx := context.Background()

			run, err := h.o.RunTurn(ctx, newTurn("list files"))
			require.NoError(t, err)
			evs := collect(t, run)

			require.Equal(t, 1, count(evs, event.KindSessionTitleStart))
			require.Equal(t, tt.deltas, count(evs, event.KindSessionTitleDelta))
			require.Equal(t, 1, count(evs, event.KindSessionUpdated))
			require.Equal(t, event.KindMessageStatusUpdated, evs[len(evs)-1].Payload.Kind())
			for _, ev := range evs {
				if end, ok := ev.Payload.(event.SessionTitleEnd); ok {
					require.Equal(t, tt.want, end.Title)
				}
			}

			sess, err := h.sessions.Get(ctx, run.SessionID())
			require.NoError(t, err)
			require.Equal(t, tt.want, sess.Title)

			// Only the first user message names the session.
			fake.Push(backendtest.Script{Chunks: backendtest.Finished(message.FinishReasonStop, message.Usage{TotalTokens: 1})})
			next, err := h.o.RunTurn(ctx, continueTurn(run.SessionID(), "more"))
			require.NoError(t, err)
			require.Zero(t, count(collect(t, next), event.KindSessionTitleStart))
		})
	}
}

func TestRunTurnResumption(t *testing.T) {
	t.Parallel()

	finish := func() backendtest.Script {
		return backendtest.Script{Chunks: []backend.Chunk{
			backend.TextDelta{Text: "reply"},
			backend.Finish{Usage: &message.Usage{TotalTokens: 1}, FinishReason: message.FinishReasonStop, RemoteSessionID: "remote-1"},
		}}
	}
	fake := backendtest.NewResumable(testModel, finish(), finish(), finish())
	h := newHarness(t, fake)
	ctx := context.Background()

	run, err := h.o.RunTurn(ctx, newTurn("hi"))
	require.NoError(t, err)
	require.NoError(t, run.Wait().Err)
	sessionID := run.SessionID()
	require.Empty(t, fake.Resumed())

	run, err = h.o.RunTurn(ctx, continueTurn(sessionID, "again"))
	require.NoError(t, err)
	require.NoError(t, run.Wait().Err)
	require.Equal(t, []string{"remote-1@2"}, fake.Resumed())
	req := fake.Requests()[1]
	require.Equal(t, "remote-1", req.RemoteSessionID)
	require.Equal(t, 2, req.SkipMessages)

	// A record that no longer matches the stored history starts fresh.
	h.tracker.Commit(sessionID, "remote-1", []message.Message{{
		Role:  message.User,
		Steps: []message.Step{{Parts: message.Parts{message.TextPart{Text: "edited"}}}},
	}})
	run, err = h.o.RunTurn(ctx, continueTurn(sessionID, "third"))
	require.NoError(t, err)
	evs := collect(t, run)
	require.Equal(t, 1, count(evs, event.KindWarning))
	require.Len(t, fake.Resumed(), 1)
	require.Empty(t, fake.Requests()[2].RemoteSessionID)
}

func TestCancelAll(t *testing.T) {
	t.Parallel()

	hold := make(chan struct{})
	defer close(hold)
	fake := backendtest.New(testModel, backendtest.Script{
		Chunks: backendtest.Finished(message.FinishReasonStop, message.Usage{TotalTokens: 1}, backend.TextDelta{Text: "x"}),
		Hold:   hold,
	})
	h := newHarness(t, fake)

	run, err := h.o.RunTurn(context.Background(), newTurn("wait"))
	require.NoError(t, err)
	h.o.CancelAll()
	require.Equal(t, message.StatusAbort, run.Wait().Status)
	require.False(t, h.o.IsBusy())
}

func TestAbortAcrossProcesses(t *testing.T) {
	t.Parallel()

	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hold := make(chan struct{})
	defer close(hold)
	fake := backendtest.New(testModel, backendtest.Script{
		Chunks: backendtest.Finished(
			message.FinishReasonStop, message.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
			backend.TextDelta{Text: "working"},
			backend.TextDelta{Text: " more"},
		),
		Hold:   hold,
		HoldAt: 1,
	})
	var shared Options
	h := newHarness(t, fake, func(o *Options) {
		o.Locker = redisx.NewKeyedLocker(client, "test", time.Minute)
		o.Aborts = redisx.NewBroadcaster(client, "test:abort")
		shared = *o
	})
	shared.Bus = pubsub.NewBus[event.Payload](pubsub.NewMemoryTail[event.Payload](0))
	other := New(shared)
	require.NoError(t, h.o.ListenAborts(ctx))
	require.NoError(t, other.ListenAborts(ctx))

	run, err := h.o.RunTurn(ctx, newTurn("long job"))
	require.NoError(t, err)

	waitCtx, stop := context.WithTimeout(ctx, 10*time.Second)
	defer stop()
	forwarded := false
	for ev := range run.Events(waitCtx) {
		if ev.Payload.Kind() != event.KindTextDelta || forwarded {
			continue
		}
		forwarded = true
		require.True(t, other.IsSessionBusy(run.SessionID()))
		_, err := other.RunTurn(ctx, continueTurn(run.SessionID(), "me too"))
		require.ErrorIs(t, err, ErrSessionBusy)
		other.Cancel(run.SessionID())
	}
	res := run.Wait()

	require.True(t, forwarded)
	require.ErrorIs(t, res.Err, ErrRequestCancelled)
	require.Equal(t, message.StatusAbort, res.Status)
	require.False(t, other.IsSessionBusy(run.SessionID()))
	require.False(t, h.o.IsSessionBusy(run.SessionID()))
}
