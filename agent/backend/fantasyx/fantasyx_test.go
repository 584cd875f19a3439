package fantasyx

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"charm.land/fantasy"
	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/hatcher/agentcore/agent/backend"
	"github.com/hatcher/agentcore/agent/message"
	"github.com/stretchr/testify/require"
)

// scriptedModel replays fixed stream parts and records every call.
type scriptedModel struct {
	fantasy.LanguageModel
	parts []fantasy.StreamPart

	mu    sync.Mutex
	calls []fantasy.Call
}

func (m *scriptedModel) Stream(_ context.Context, call fantasy.Call) (fantasy.StreamResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, call)
	m.mu.Unlock()
	return func(yield func(fantasy.StreamPart) bool) {
		for _, p := range m.parts {
			if !yield(p) {
				return
			}
		}
	}, nil
}

func (m *scriptedModel) Provider() string { return "fake" }
func (m *scriptedModel) Model() string    { return "m1" }

func drain(t *testing.T, ch <-chan backend.Chunk) []backend.Chunk {
	t.Helper()
	var out []backend.Chunk
	timeout := time.After(5 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

type echoParams struct {
	Text string `json:"text"`
}

func echoTool() fantasy.AgentTool {
	return fantasy.NewAgentTool("echo", "Echo the text back",
		func(_ context.Context, p echoParams, _ fantasy.ToolCall) (fantasy.ToolResponse, error) {
			return fantasy.NewTextResponse(p.Text), nil
		})
}

func textMessage(role message.Role, text string) message.Message {
	return message.Message{
		Role:  role,
		Steps: []message.Step{{Parts: message.Parts{message.TextPart{Text: text, Status: message.StatusCompleted}}}},
	}
}

func TestSplitHistory(t *testing.T) {
	t.Parallel()

	assistant := message.Message{
		Role: message.Assistant,
		Steps: []message.Step{
			{Parts: message.Parts{
				message.TextPart{Text: "Sure, "},
				message.ToolPart{ToolCallID: "c1", Name: "ls", Args: json.RawMessage(`{"path":"."}`), Result: json.RawMessage(`["a.txt"]`)},
				message.ToolPart{ToolCallID: "c2", Name: "ls", Status: message.StatusActive},
			}},
			{Parts: message.Parts{message.TextPart{Text: "Found 1 file."}}},
		},
	}
	user := textMessage(message.User, "and now?")
	user.Attachments = []message.Attachment{
		{FileName: "notes.txt", MediaType: "text/plain", Data: []byte("remember")},
		{FileName: "shot.png", MediaType: "image/png", Data: []byte{1, 2}},
	}
	msgs := []message.Message{
		textMessage(message.User, "list files"),
		assistant,
		textMessage(message.System, "The previous turn was interrupted."),
		user,
	}

	history, p := splitHistory(msgs)
	require.Contains(t, p.text, "and now?")
	require.Contains(t, p.text, "remember")
	require.Len(t, p.files, 1)
	require.Equal(t, "shot.png", p.files[0].Filename)

	// user, assistant step 0, tool results, assistant step 1, system reminder
	require.Len(t, history, 5)
	require.Equal(t, fantasy.MessageRoleUser, history[0].Role)
	require.Equal(t, fantasy.MessageRoleAssistant, history[1].Role)
	require.Len(t, history[1].Content, 2)
	require.Equal(t, fantasy.MessageRoleTool, history[2].Role)
	require.Len(t, history[2].Content, 1)
	require.Equal(t, fantasy.MessageRoleAssistant, history[3].Role)
	require.Equal(t, fantasy.MessageRoleUser, history[4].Role)
}

func TestSplitHistoryWithoutTrailingUser(t *testing.T) {
	t.Parallel()

	history, p := splitHistory([]message.Message{
		textMessage(message.User, "hi"),
		textMessage(message.Assistant, "hello"),
	})
	require.Empty(t, p.text)
	require.Len(t, history, 2)
}

func TestResultJSON(t *testing.T) {
	t.Parallel()

	require.JSONEq(t, `["a.txt"]`, string(resultJSON(`["a.txt"]`)))
	require.JSONEq(t, `"plain output"`, string(resultJSON("plain output")))
	require.JSONEq(t, `"42"`, string(resultJSON("42")))
	require.Equal(t, "plain output", resultText(resultJSON("plain output")))
	require.Equal(t, `["a.txt"]`, resultText(json.RawMessage(`["a.txt"]`)))
}

func TestCleanTitle(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want string
	}{
		{"List files\nin repo", "List files in repo"},
		{"<think>hmm</think> Fix login bug ", "Fix login bug"},
		{"  ", DefaultSessionName},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, CleanTitle(tt.raw))
	}
}

func TestUsageAndFinishReason(t *testing.T) {
	t.Parallel()

	u := toUsage(fantasy.Usage{InputTokens: 10, CacheCreationTokens: 5, OutputTokens: 7})
	require.Equal(t, message.Usage{PromptTokens: 15, CompletionTokens: 7, TotalTokens: 22}, u)

	require.Equal(t, message.FinishReasonToolCalls, finishReason(fantasy.FinishReasonToolCalls))
	require.Equal(t, message.FinishReasonStop, finishReason(fantasy.FinishReasonStop))
	require.Equal(t, message.FinishReasonUnknown, finishReason(fantasy.FinishReason("weird")))
}

func TestBuildProviderUnsupported(t *testing.T) {
	t.Parallel()

	_, err := BuildProvider(ProviderConfig{ID: "x", Type: "carrier-pigeon"})
	require.ErrorContains(t, err, "provider type not supported")
}

func TestResolve(t *testing.T) {
	t.Setenv("FANTASYX_TEST_KEY", "sk-123")
	require.Equal(t, "sk-123", resolve("$FANTASYX_TEST_KEY"))
	require.Equal(t, "literal", resolve("literal"))
}

func TestWithCatalog(t *testing.T) {
	t.Parallel()

	configured := ModelConfig{ID: "custom", ContextWindow: 4096, CostPer1MIn: 1}
	require.Equal(t, configured, withCatalog("local", configured))

	unknown := ModelConfig{ID: "no-such-model-in-any-catalog"}
	require.Equal(t, unknown, withCatalog("local", unknown))
}

func TestStreamAfterToolStep(t *testing.T) {
	t.Parallel()

	usage := fantasy.Usage{InputTokens: 10, OutputTokens: 3}
	lm := &scriptedModel{parts: []fantasy.StreamPart{
		{Type: fantasy.StreamPartTypeTextStart, ID: "t1"},
		{Type: fantasy.StreamPartTypeTextDelta, ID: "t1", Delta: "Found a.txt"},
		{Type: fantasy.StreamPartTypeTextEnd, ID: "t1"},
		{Type: fantasy.StreamPartTypeFinish, Usage: usage, FinishReason: fantasy.FinishReasonStop},
	}}
	b := NewBackend(Model{Provider: "fake", Model: lm, CatwalkCfg: catwalk.Model{ID: "m1"}}, 0)

	history := []message.Message{
		textMessage(message.User, "list files"),
		{Role: message.Assistant, Steps: []message.Step{{Parts: message.Parts{
			message.TextPart{Text: "Sure"},
			message.ToolPart{ToolCallID: "c1", Name: "ls", Args: json.RawMessage(`{"path":"."}`), Result: json.RawMessage(`["a.txt"]`), Status: message.StatusCompleted},
		}}}},
	}
	ch, err := b.Stream(context.Background(), backend.Request{Messages: history, SystemPrompt: "be brief"})
	require.NoError(t, err)
	chunks := drain(t, ch)

	require.Len(t, chunks, 4)
	require.Equal(t, backend.TextStart{ID: "t1"}, chunks[0])
	require.Equal(t, backend.TextDelta{ID: "t1", Text: "Found a.txt"}, chunks[1])
	require.Equal(t, backend.TextEnd{ID: "t1"}, chunks[2])
	finish, ok := chunks[3].(backend.Finish)
	require.True(t, ok, "got %#v", chunks[3])
	require.Equal(t, message.FinishReasonStop, finish.FinishReason)
	require.Equal(t, int64(13), finish.Usage.TotalTokens)

	require.Len(t, lm.calls, 1)
	prompt := lm.calls[0].Prompt
	require.Len(t, prompt, 4)
	require.Equal(t, fantasy.MessageRoleSystem, prompt[0].Role)
	require.Equal(t, fantasy.MessageRoleUser, prompt[1].Role)
	require.Equal(t, fantasy.MessageRoleAssistant, prompt[2].Role)
	require.Equal(t, fantasy.MessageRoleTool, prompt[3].Role)
}

func TestStreamRunsToolsWithoutPrompt(t *testing.T) {
	t.Parallel()

	lm := &scriptedModel{parts: []fantasy.StreamPart{
		{Type: fantasy.StreamPartTypeToolCall, ID: "c2", ToolCallName: "echo", ToolCallInput: `{"text":"hi"}`},
		{Type: fantasy.StreamPartTypeToolCall, ID: "c3", ToolCallName: "missing", ToolCallInput: `{}`},
		{Type: fantasy.StreamPartTypeFinish, FinishReason: fantasy.FinishReasonToolCalls},
	}}
	b := NewBackend(Model{Provider: "fake", Model: lm, CatwalkCfg: catwalk.Model{ID: "m1"}}, 0, echoTool())

	ch, err := b.Stream(context.Background(), backend.Request{Messages: []message.Message{
		textMessage(message.User, "say hi"),
		textMessage(message.Assistant, "calling echo"),
	}})
	require.NoError(t, err)
	chunks := drain(t, ch)

	require.Len(t, chunks, 5)
	require.Equal(t, backend.ToolCall{ToolCallID: "c2", ToolName: "echo", Args: json.RawMessage(`{"text":"hi"}`)}, chunks[0])
	require.Equal(t, backend.ToolCall{ToolCallID: "c3", ToolName: "missing", Args: json.RawMessage(`{}`)}, chunks[1])
	require.Equal(t, backend.ToolResult{ToolCallID: "c2", ToolName: "echo", Result: json.RawMessage(`"hi"`)}, chunks[2])
	toolErr, ok := chunks[3].(backend.ToolError)
	require.True(t, ok, "got %#v", chunks[3])
	require.Contains(t, toolErr.Error, "tool not found")
	finish, ok := chunks[4].(backend.Finish)
	require.True(t, ok)
	require.Equal(t, message.FinishReasonToolCalls, finish.FinishReason)

	require.Len(t, lm.calls[0].Tools, 1)
	require.Equal(t, "echo", lm.calls[0].Tools[0].GetName())
}

func TestStreamErrorPart(t *testing.T) {
	t.Parallel()

	lm := &scriptedModel{parts: []fantasy.StreamPart{
		{Type: fantasy.StreamPartTypeTextDelta, ID: "t1", Delta: "par"},
		{Type: fantasy.StreamPartTypeError, Error: errors.New("overloaded")},
	}}
	b := NewBackend(Model{Provider: "fake", Model: lm, CatwalkCfg: catwalk.Model{ID: "m1"}}, 0)

	ch, err := b.Stream(context.Background(), backend.Request{Messages: []message.Message{
		textMessage(message.User, "hi"),
		textMessage(message.Assistant, "hello"),
	}})
	require.NoError(t, err)
	chunks := drain(t, ch)

	last, ok := chunks[len(chunks)-1].(backend.Error)
	require.True(t, ok, "got %#v", chunks[len(chunks)-1])
	require.ErrorContains(t, last.Err, "overloaded")
}
