package event

import (
	"encoding/json"

	"github.com/hatcher/agentcore/agent/message"
	"github.com/hatcher/agentcore/agent/pubsub"
)

type Kind string

const (
	KindSessionCreated          Kind = "session-created"
	KindSessionUpdated          Kind = "session-updated"
	KindSessionTitleStart       Kind = "session-title-start"
	KindSessionTitleDelta       Kind = "session-title-delta"
	KindSessionTitleEnd         Kind = "session-title-end"
	KindUserMessageCreated      Kind = "user-message-created"
	KindAssistantMessageCreated Kind = "assistant-message-created"
	KindSystemMessageCreated    Kind = "system-message-created"
	KindMessageStatusUpdated    Kind = "message-status-updated"
	KindStepStart               Kind = "step-start"
	KindStepComplete            Kind = "step-complete"
	KindTextStart               Kind = "text-start"
	KindTextDelta               Kind = "text-delta"
	KindTextEnd                 Kind = "text-end"
	KindReasoningStart          Kind = "reasoning-start"
	KindReasoningDelta          Kind = "reasoning-delta"
	KindReasoningEnd            Kind = "reasoning-end"
	KindToolCall                Kind = "tool-call"
	KindToolResult              Kind = "tool-result"
	KindToolError               Kind = "tool-error"
	KindFile                    Kind = "file"
	KindError                   Kind = "error"
	KindAbort                   Kind = "abort"
	KindWarning                 Kind = "warning"
)

// Payload is the closed set of domain events published on a session channel.
type Payload interface {
	Kind() Kind
	isPayload()
}

// Event is a payload as stored on the bus.
type Event = pubsub.Event[Payload]

type SessionCreated struct {
	SessionID string `json:"sessionId"`
	Provider  string `json:"provider"`
	Model     string `json:"model"`
}

type SessionUpdated struct {
	SessionID string `json:"sessionId"`
	Title     string `json:"title"`
}

type SessionTitleStart struct{}

type SessionTitleDelta struct {
	Text string `json:"text"`
}

type SessionTitleEnd struct {
	Title string `json:"title"`
}

type UserMessageCreated struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type AssistantMessageCreated struct {
	MessageID string `json:"messageId"`
}

type SystemMessageCreated struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

type MessageStatusUpdated struct {
	MessageID    string         `json:"messageId"`
	Status       message.Status `json:"status"`
	Usage        *message.Usage `json:"usage,omitempty"`
	FinishReason string         `json:"finishReason,omitempty"`
}

type StepStart struct {
	StepID         string           `json:"stepId"`
	StepIndex      int              `json:"stepIndex"`
	SystemMessages []message.Notice `json:"systemMessages,omitempty"`
}

type StepComplete struct {
	StepID       string         `json:"stepId"`
	Usage        *message.Usage `json:"usage,omitempty"`
	Duration     int64          `json:"duration"`
	FinishReason string         `json:"finishReason"`
}

type TextStart struct{}

type TextDelta struct {
	Text string `json:"text"`
}

type TextEnd struct{}

type ReasoningStart struct{}

type ReasoningDelta struct {
	Text string `json:"text"`
}

type ReasoningEnd struct {
	Duration int64 `json:"duration"`
}

type ToolCall struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Args       json.RawMessage `json:"args,omitempty"`
}

type ToolResult struct {
	ToolCallID string          `json:"toolCallId"`
	ToolName   string          `json:"toolName"`
	Result     json.RawMessage `json:"result,omitempty"`
	Duration   int64           `json:"duration"`
}

type ToolError struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Error      string `json:"error"`
	Duration   int64  `json:"duration"`
}

type File struct {
	MediaType string `json:"mediaType"`
	Base64    string `json:"base64"`
}

type Error struct {
	Error string `json:"error"`
}

type Abort struct{}

type Warning struct {
	Message string `json:"message"`
}

func (SessionCreated) Kind() Kind          { return KindSessionCreated }
func (SessionUpdated) Kind() Kind          { return KindSessionUpdated }
func (SessionTitleStart) Kind() Kind       { return KindSessionTitleStart }
func (SessionTitleDelta) Kind() Kind       { return KindSessionTitleDelta }
func (SessionTitleEnd) Kind() Kind         { return KindSessionTitleEnd }
func (UserMessageCreated) Kind() Kind      { return KindUserMessageCreated }
func (AssistantMessageCreated) Kind() Kind { return KindAssistantMessageCreated }
func (SystemMessageCreated) Kind() Kind    { return KindSystemMessageCreated }
func (MessageStatusUpdated) Kind() Kind    { return KindMessageStatusUpdated }
func (StepStart) Kind() Kind               { return KindStepStart }
func (StepComplete) Kind() Kind            { return KindStepComplete }
func (TextStart) Kind() Kind               { return KindTextStart }
func (TextDelta) Kind() Kind               { return KindTextDelta }
func (TextEnd) Kind() Kind                 { return KindTextEnd }
func (ReasoningStart) Kind() Kind          { return KindReasoningStart }
func (ReasoningDelta) Kind() Kind          { return KindReasoningDelta }
func (ReasoningEnd) Kind() Kind            { return KindReasoningEnd }
func (ToolCall) Kind() Kind                { return KindToolCall }
func (ToolResult) Kind() Kind              { return KindToolResult }
func (ToolError) Kind() Kind               { return KindToolError }
func (File) Kind() Kind                    { return KindFile }
func (Error) Kind() Kind                   { return KindError }
func (Abort) Kind() Kind                   { return KindAbort }
func (Warning) Kind() Kind                 { return KindWarning }

func (SessionCreated) isPayload()          {}
func (SessionUpdated) isPayload()          {}
func (SessionTitleStart) isPayload()       {}
func (SessionTitleDelta) isPayload()       {}
func (SessionTitleEnd) isPayload()         {}
func (UserMessageCreated) isPayload()      {}
func (AssistantMessageCreated) isPayload() {}
func (SystemMessageCreated) isPayload()    {}
func (MessageStatusUpdated) isPayload()    {}
func (StepStart) isPayload()               {}
func (StepComplete) isPayload()            {}
func (TextStart) isPayload()               {}
func (TextDelta) isPayload()               {}
func (TextEnd) isPayload()                 {}
func (ReasoningStart) isPayload()          {}
func (ReasoningDelta) isPayload()          {}
func (ReasoningEnd) isPayload()            {}
func (ToolCall) isPayload()                {}
func (ToolResult) isPayload()              {}
func (ToolError) isPayload()               {}
func (File) isPayload()                    {}
func (Error) isPayload()                   {}
func (Abort) isPayload()                   {}
func (Warning) isPayload()                 {}

// Terminal reports whether p ends a run's event stream.
func Terminal(p Payload) bool {
	_, ok := p.(MessageStatusUpdated)
	if !ok {
		return false
	}
	return p.(MessageStatusUpdated).Status.Terminal()
}
