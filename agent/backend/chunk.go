package backend

import (
	"encoding/json"

	"github.com/hatcher/agentcore/agent/message"
)

// Chunk is one unit of incremental backend output.
type Chunk interface {
	isChunk()
}

type TextStart struct{ ID string }

type TextDelta struct {
	ID   string
	Text string
}

type TextEnd struct{ ID string }

type ReasoningStart struct{ ID string }

type ReasoningDelta struct {
	ID   string
	Text string
}

type ReasoningEnd struct{ ID string }

type ToolCall struct {
	ToolCallID string
	ToolName   string
	Args       json.RawMessage
}

type ToolResult struct {
	ToolCallID string
	ToolName   string
	Result     json.RawMessage
}

type ToolError struct {
	ToolCallID string
	ToolName   string
	Error      string
}

type File struct {
	MediaType string
	Data      []byte
}

// Finish ends a successful step.
type Finish struct {
	Usage        *message.Usage
	FinishReason string
	// Cost overrides the price computed from ModelInfo when the provider reports one.
	Cost            *float64
	RemoteSessionID string
}

// Error ends a failed step.
type Error struct {
	Err error
}

func (TextStart) isChunk()      {}
func (TextDelta) isChunk()      {}
func (TextEnd) isChunk()        {}
func (ReasoningStart) isChunk() {}
func (ReasoningDelta) isChunk() {}
func (ReasoningEnd) isChunk()   {}
func (ToolCall) isChunk()       {}
func (ToolResult) isChunk()     {}
func (ToolError) isChunk()      {}
func (File) isChunk()           {}
func (Finish) isChunk()         {}
func (Error) isChunk()          {}
