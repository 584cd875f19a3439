package fantasyx

import (
	"context"
	"errors"
	"fmt"

	"charm.land/fantasy"
)

// streamHistory runs one step straight against the language model. The
// fantasy agent needs a trailing user prompt; after a tool step or on a bare
// continuation the history ends with an assistant or system turn instead.
func (b *Backend) streamHistory(ctx context.Context, system string, history []fantasy.Message, maxTokens int64, s *stepStream) error {
	prompt := make(fantasy.Prompt, 0, len(history)+1)
	if system != "" {
		prompt = append(prompt, fantasy.NewSystemMessage(system))
	}
	prompt = append(prompt, history...)
	call := fantasy.Call{Prompt: prompt, Tools: functionTools(b.tools)}
	if maxTokens > 0 {
		call.MaxOutputTokens = &maxTokens
	}

	parts, err := b.model.Model.Stream(ctx, call)
	if err != nil {
		return err
	}
	var (
		calls    []fantasy.ToolCallContent
		finished bool
		usage    fantasy.Usage
		reason   fantasy.FinishReason
		metadata fantasy.ProviderMetadata
	)
	for part := range parts {
		var err error
		switch part.Type {
		case fantasy.StreamPartTypeTextDelta:
			err = s.onTextDelta(part.ID, part.Delta)
		case fantasy.StreamPartTypeTextEnd:
			err = s.closeText()
		case fantasy.StreamPartTypeReasoningStart:
			err = s.onReasoningStart(part.ID, fantasy.ReasoningContent{Text: part.Delta})
		case fantasy.StreamPartTypeReasoningDelta:
			err = s.onReasoningDelta(part.ID, part.Delta)
		case fantasy.StreamPartTypeReasoningEnd:
			err = s.onReasoningEnd(part.ID, fantasy.ReasoningContent{})
		case fantasy.StreamPartTypeToolCall:
			if part.ProviderExecuted {
				continue
			}
			tc := fantasy.ToolCallContent{ToolCallID: part.ID, ToolName: part.ToolCallName, Input: part.ToolCallInput}
			calls = append(calls, tc)
			err = s.onToolCall(tc)
		case fantasy.StreamPartTypeFinish:
			finished = true
			usage, reason, metadata = part.Usage, part.FinishReason, part.ProviderMetadata
		case fantasy.StreamPartTypeError:
			err = part.Error
			if err == nil {
				err = errors.New("model stream failed")
			}
		}
		if err != nil {
			return err
		}
	}
	if !finished {
		return errors.New("model stream ended without finish")
	}
	if err := s.closeText(); err != nil {
		return err
	}

	for _, tc := range calls {
		result, runErr := runTool(ctx, b.tools, tc)
		if err := s.onToolResult(result); err != nil {
			return err
		}
		if runErr != nil {
			return runErr
		}
	}
	return s.finishStep(usage, reason, metadata)
}

func functionTools(tools []fantasy.AgentTool) []fantasy.Tool {
	out := make([]fantasy.Tool, 0, len(tools))
	for _, t := range tools {
		info := t.Info()
		out = append(out, fantasy.FunctionTool{
			Name:        info.Name,
			Description: info.Description,
			InputSchema: map[string]any{
				"type":       "object",
				"properties": info.Parameters,
				"required":   info.Required,
			},
			ProviderOptions: t.ProviderOptions(),
		})
	}
	return out
}

// runTool executes one call the same way the fantasy agent does. A returned
// error means the tool itself failed and the step cannot continue.
func runTool(ctx context.Context, tools []fantasy.AgentTool, tc fantasy.ToolCallContent) (fantasy.ToolResultContent, error) {
	result := fantasy.ToolResultContent{ToolCallID: tc.ToolCallID, ToolName: tc.ToolName}
	var tool fantasy.AgentTool
	for _, t := range tools {
		if t.Info().Name == tc.ToolName {
			tool = t
			break
		}
	}
	if tool == nil {
		result.Result = fantasy.ToolResultOutputContentError{Error: fmt.Errorf("tool not found: %s", tc.ToolName)}
		return result, nil
	}

	resp, err := tool.Run(ctx, fantasy.ToolCall{ID: tc.ToolCallID, Name: tc.ToolName, Input: tc.Input})
	result.ClientMetadata = resp.Metadata
	switch {
	case err != nil:
		result.Result = fantasy.ToolResultOutputContentError{Error: err}
		return result, err
	case resp.IsError:
		result.Result = fantasy.ToolResultOutputContentError{Error: errors.New(resp.Content)}
	case resp.Type == "image" || resp.Type == "media":
		result.Result = fantasy.ToolResultOutputContentMedia{Data: string(resp.Data), MediaType: resp.MediaType, Text: resp.Content}
	default:
		result.Result = fantasy.ToolResultOutputContentText{Text: resp.Content}
	}
	return result, nil
}
