package agent

import (
	"encoding/base64"

	"github.com/hatcher/agentcore/agent/backend"
	"github.com/hatcher/agentcore/agent/event"
	"github.com/hatcher/agentcore/agent/message"
	"github.com/hatcher/agentcore/pkg/logs"
)

// partBuffer accumulates the parts of one step. A part takes its position
// when its start is observed; later deltas and ends only mutate it in place.
// At most one text and one reasoning part are open at a time.
type partBuffer struct {
	parts         message.Parts
	openText      int
	openReasoning int
	now           func() int64
	emit          func(event.Payload)
}

func newPartBuffer(now func() int64, emit func(event.Payload)) *partBuffer {
	return &partBuffer{openText: -1, openReasoning: -1, now: now, emit: emit}
}

func (b *partBuffer) addNotices(notices []message.Notice) {
	at := b.now()
	for _, n := range notices {
		b.parts = append(b.parts, message.NoticePart{NoticeType: n.Type, Content: n.Content, Time: at})
	}
}

// apply handles every non-terminal chunk.
func (b *partBuffer) apply(c backend.Chunk) {
	switch c := c.(type) {
	case backend.TextStart:
		b.startText()
	case backend.TextDelta:
		if b.openText < 0 {
			b.startText()
		}
		p := b.parts[b.openText].(message.TextPart)
		p.Text += c.Text
		b.parts[b.openText] = p
		b.emit(event.TextDelta{Text: c.Text})
	case backend.TextEnd:
		b.endText(message.StatusCompleted)
	case backend.ReasoningStart:
		b.startReasoning()
	case backend.ReasoningDelta:
		if b.openReasoning < 0 {
			b.startReasoning()
		}
		p := b.parts[b.openReasoning].(message.ReasoningPart)
		p.Text += c.Text
		b.parts[b.openReasoning] = p
		b.emit(event.ReasoningDelta{Text: c.Text})
	case backend.ReasoningEnd:
		b.endReasoning(message.StatusCompleted)
	case backend.ToolCall:
		b.parts = append(b.parts, message.ToolPart{
			ToolCallID: c.ToolCallID,
			Name:       c.ToolName,
			Args:       c.Args,
			Status:     message.StatusActive,
			StartedAt:  b.now(),
		})
		b.emit(event.ToolCall{ToolCallID: c.ToolCallID, ToolName: c.ToolName, Args: c.Args})
	case backend.ToolResult:
		p := b.closeTool(c.ToolCallID, c.ToolName, message.StatusCompleted, func(p *message.ToolPart) { p.Result = c.Result })
		b.emit(event.ToolResult{ToolCallID: c.ToolCallID, ToolName: p.Name, Result: c.Result, Duration: p.Duration})
	case backend.ToolError:
		p := b.closeTool(c.ToolCallID, c.ToolName, message.StatusError, func(p *message.ToolPart) { p.Error = c.Error })
		b.emit(event.ToolError{ToolCallID: c.ToolCallID, ToolName: p.Name, Error: c.Error, Duration: p.Duration})
	case backend.File:
		b.parts = append(b.parts, message.FilePart{MediaType: c.MediaType, Data: c.Data})
		b.emit(event.File{MediaType: c.MediaType, Base64: base64.StdEncoding.EncodeToString(c.Data)})
	}
}

func (b *partBuffer) startText() {
	b.endText(message.StatusCompleted)
	b.parts = append(b.parts, message.TextPart{Status: message.StatusActive})
	b.openText = len(b.parts) - 1
	b.emit(event.TextStart{})
}

func (b *partBuffer) endText(status message.Status) {
	if b.openText < 0 {
		return
	}
	p := b.parts[b.openText].(message.TextPart)
	p.Status = status
	b.parts[b.openText] = p
	b.openText = -1
	b.emit(event.TextEnd{})
}

func (b *partBuffer) startReasoning() {
	b.endReasoning(message.StatusCompleted)
	b.parts = append(b.parts, message.ReasoningPart{Status: message.StatusActive, StartedAt: b.now()})
	b.openReasoning = len(b.parts) - 1
	b.emit(event.ReasoningStart{})
}

func (b *partBuffer) endReasoning(status message.Status) {
	if b.openReasoning < 0 {
		return
	}
	p := b.parts[b.openReasoning].(message.ReasoningPart)
	p.Status = status
	p.Duration = b.now() - p.StartedAt
	b.parts[b.openReasoning] = p
	b.openReasoning = -1
	b.emit(event.ReasoningEnd{Duration: p.Duration})
}

// closeTool closes the most recent active tool part with the id. A result
// for an unknown call is kept as an already closed part.
func (b *partBuffer) closeTool(id, name string, status message.Status, set func(*message.ToolPart)) message.ToolPart {
	end := b.now()
	for i := len(b.parts) - 1; i >= 0; i-- {
		p, ok := b.parts[i].(message.ToolPart)
		if !ok || p.ToolCallID != id || p.Status != message.StatusActive {
			continue
		}
		p.Status = status
		p.Duration = end - p.StartedAt
		set(&p)
		b.parts[i] = p
		return p
	}
	logs.Warnf("tool result without an active call, tool_call_id: %s", id)
	p := message.ToolPart{ToolCallID: id, Name: name, Status: status, StartedAt: end}
	set(&p)
	b.parts = append(b.parts, p)
	return p
}

func (b *partBuffer) appendError(msg string) {
	b.parts = append(b.parts, message.ErrorPart{Message: msg})
}

// closeAll closes whatever is still open. Text and reasoning end events are
// emitted only for a normal close; an abort is announced by its own event.
func (b *partBuffer) closeAll(status message.Status) int {
	if status == message.StatusCompleted {
		b.endText(status)
		b.endReasoning(status)
	}
	b.openText, b.openReasoning = -1, -1
	return b.parts.CloseActive(status, b.now())
}

func (b *partBuffer) snapshot() message.Parts {
	return append(message.Parts(nil), b.parts...)
}
