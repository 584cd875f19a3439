package fantasyx

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"charm.land/fantasy"
	"github.com/hatcher/agentcore/agent/message"
)

// prompt is the trailing user turn, sent as the call prompt.
type prompt struct {
	text  string
	files []fantasy.FilePart
}

func (p prompt) empty() bool {
	return p.text == "" && len(p.files) == 0
}

// splitHistory converts domain messages to fantasy history and lifts a
// trailing user message out as the prompt.
func splitHistory(msgs []message.Message) ([]fantasy.Message, prompt) {
	var p prompt
	if n := len(msgs); n > 0 && msgs[n-1].Role == message.User {
		p = userPrompt(msgs[n-1])
		msgs = msgs[:n-1]
	}
	return toFantasyMessages(msgs), p
}

func toFantasyMessages(msgs []message.Message) []fantasy.Message {
	var history []fantasy.Message
	for _, m := range msgs {
		switch m.Role {
		case message.User:
			p := userPrompt(m)
			if p.text == "" && len(p.files) == 0 {
				continue
			}
			history = append(history, fantasy.NewUserMessage(p.text, p.files...))
		case message.System:
			text := m.Text()
			if text == "" {
				continue
			}
			history = append(history, fantasy.NewUserMessage(systemReminder(text)))
		case message.Assistant:
			for _, st := range m.Steps {
				history = append(history, stepMessages(st)...)
			}
		}
	}
	return history
}

func systemReminder(text string) string {
	return fmt.Sprintf("<system_reminder>%s</system_reminder>", text)
}

// userPrompt inlines text attachments into the prompt and passes the rest as files.
func userPrompt(m message.Message) prompt {
	var sb strings.Builder
	sb.WriteString(m.Text())
	var files []fantasy.FilePart
	for _, a := range m.Attachments {
		if a.IsText() {
			fmt.Fprintf(&sb, "\n<file path='%s'>\n%s\n</file>\n", a.FileName, a.Data)
			continue
		}
		files = append(files, fantasy.FilePart{
			Filename:  a.FileName,
			Data:      a.Data,
			MediaType: a.MediaType,
		})
	}
	return prompt{text: sb.String(), files: files}
}

// stepMessages renders one step as an assistant message followed by a tool
// message with the results. Tool calls that never got a result are dropped,
// since providers reject calls without responses.
func stepMessages(st message.Step) []fantasy.Message {
	var content []fantasy.MessagePart
	var results []fantasy.MessagePart
	for _, part := range st.Parts {
		switch p := part.(type) {
		case message.TextPart:
			if p.Text != "" {
				content = append(content, fantasy.TextPart{Text: p.Text})
			}
		case message.ReasoningPart:
			if p.Text != "" {
				content = append(content, fantasy.ReasoningPart{Text: p.Text})
			}
		case message.ToolPart:
			output, ok := toolOutput(p)
			if !ok {
				continue
			}
			args := string(p.Args)
			if args == "" {
				args = "{}"
			}
			content = append(content, fantasy.ToolCallPart{
				ToolCallID: p.ToolCallID,
				ToolName:   p.Name,
				Input:      args,
			})
			results = append(results, fantasy.ToolResultPart{
				ToolCallID: p.ToolCallID,
				Output:     output,
			})
		}
	}
	if len(content) == 0 {
		return nil
	}
	out := []fantasy.Message{{Role: fantasy.MessageRoleAssistant, Content: content}}
	if len(results) > 0 {
		out = append(out, fantasy.Message{Role: fantasy.MessageRoleTool, Content: results})
	}
	return out
}

func toolOutput(p message.ToolPart) (fantasy.ToolResultOutputContent, bool) {
	switch {
	case p.Error != "":
		return fantasy.ToolResultOutputContentError{Error: errors.New(p.Error)}, true
	case p.Result != nil:
		return fantasy.ToolResultOutputContentText{Text: resultText(p.Result)}, true
	case p.Status == message.StatusAbort:
		return fantasy.ToolResultOutputContentError{Error: errors.New("Tool execution canceled by user")}, true
	}
	return nil, false
}

// resultText unwraps JSON strings; any other JSON value is sent verbatim.
func resultText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// resultJSON is the inverse of resultText.
func resultJSON(text string) json.RawMessage {
	trimmed := strings.TrimSpace(text)
	if trimmed != "" && json.Valid([]byte(trimmed)) && (trimmed[0] == '[' || trimmed[0] == '{') {
		return json.RawMessage(trimmed)
	}
	b, _ := json.Marshal(text)
	return b
}
