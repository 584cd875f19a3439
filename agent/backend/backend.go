// Package backend defines the contract between the orchestrator and a model
// backend: one Stream call per step, producing an ordered chunk sequence.
package backend

import (
	"context"

	"github.com/hatcher/agentcore/agent/message"
)

type Request struct {
	SessionID string
	// Messages is the history to send, notices already spliced in.
	Messages     []message.Message
	SystemPrompt string
	// RemoteSessionID resumes a stateful backend session; empty starts a fresh one.
	RemoteSessionID string
	// SkipMessages is how many leading messages the remote session already holds.
	SkipMessages int
}

// ModelInfo describes the model a backend talks to.
type ModelInfo struct {
	Provider      string
	Model         string
	ContextWindow int64
	CostPer1MIn   float64
	CostPer1MOut  float64
}

// Cost prices token usage with the per-million rates.
func (m ModelInfo) Cost(u message.Usage) float64 {
	return m.CostPer1MIn/1e6*float64(u.PromptTokens) + m.CostPer1MOut/1e6*float64(u.CompletionTokens)
}

// Backend streams one step. The returned channel yields exactly one terminal
// chunk (Finish or Error) and is then closed. Cancelling ctx aborts the step.
type Backend interface {
	Info() ModelInfo
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Resumer is implemented by backends that keep server-side session state.
type Resumer interface {
	Resume(ctx context.Context, remoteSessionID string, skip int) (string, error)
}

// TitleGenerator produces a short session title, reporting partial text to onDelta.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, prompt string, onDelta func(text string)) (string, error)
}
