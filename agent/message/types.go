package message

import (
	"encoding/json"
	"strings"
)

type Role string

const (
	User      Role = "user"
	Assistant Role = "assistant"
	System    Role = "system"
)

// Status is shared by messages, steps and parts.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusAbort     Status = "abort"
)

// Terminal reports whether no further transition is expected.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusAbort
}

const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool-calls"
	FinishReasonLength    = "length"
	FinishReasonMaxSteps  = "max-steps"
	FinishReasonError     = "error"
	FinishReasonAbort     = "abort"
	FinishReasonUnknown   = "unknown"
)

type Usage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
	TotalTokens      int64 `json:"totalTokens"`
}

func (u Usage) Add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Notice is a system notice produced before a step and injected into the
// model call for that step.
type Notice struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type Attachment struct {
	FileName  string `json:"fileName"`
	MediaType string `json:"mediaType"`
	Data      []byte `json:"data"`
}

func (a Attachment) IsText() bool {
	return strings.HasPrefix(a.MediaType, "text/")
}

type Step struct {
	ID           string   `json:"id"`
	MessageID    string   `json:"messageId"`
	Index        int      `json:"index"`
	Status       Status   `json:"status"`
	Provider     string   `json:"provider,omitempty"`
	Model        string   `json:"model,omitempty"`
	FinishReason string   `json:"finishReason,omitempty"`
	Notices      []Notice `json:"notices,omitempty"`
	Parts        Parts    `json:"parts"`
	Usage        *Usage   `json:"usage,omitempty"`
	// Todos is the session todo list as it was when the step completed.
	Todos     json.RawMessage `json:"todos,omitempty"`
	StartedAt int64           `json:"startedAt"`
	EndedAt   int64           `json:"endedAt,omitempty"`
	Duration  int64           `json:"duration"`
}

type Message struct {
	ID           string       `json:"id"`
	SessionID    string       `json:"sessionId"`
	Role         Role         `json:"role"`
	Index        int          `json:"index"`
	Status       Status       `json:"status"`
	FinishReason string       `json:"finishReason,omitempty"`
	Provider     string       `json:"provider,omitempty"`
	Model        string       `json:"model,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	Steps        []Step       `json:"steps"`
	CreatedAt    int64        `json:"createdAt"`
	FinishedAt   int64        `json:"finishedAt,omitempty"`
}

// Usage is the sum of the step usages.
func (m Message) Usage() *Usage {
	var total *Usage
	for _, st := range m.Steps {
		if st.Usage == nil {
			continue
		}
		if total == nil {
			total = &Usage{}
		}
		*total = total.Add(*st.Usage)
	}
	return total
}

// Text concatenates the text parts of every step.
func (m Message) Text() string {
	var sb strings.Builder
	for _, st := range m.Steps {
		for _, p := range st.Parts {
			if t, ok := p.(TextPart); ok {
				sb.WriteString(t.Text)
			}
		}
	}
	return sb.String()
}

// Parts flattens the parts of every step in order.
func (m Message) Parts() Parts {
	var parts Parts
	for _, st := range m.Steps {
		parts = append(parts, st.Parts...)
	}
	return parts
}

func (m Message) Clone() Message {
	clone := m
	clone.Attachments = append([]Attachment(nil), m.Attachments...)
	clone.Steps = make([]Step, len(m.Steps))
	for i, st := range m.Steps {
		st.Parts = append(Parts(nil), st.Parts...)
		st.Notices = append([]Notice(nil), st.Notices...)
		if st.Usage != nil {
			u := *st.Usage
			st.Usage = &u
		}
		clone.Steps[i] = st
	}
	return clone
}
