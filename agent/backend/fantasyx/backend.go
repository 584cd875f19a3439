// Package fantasyx adapts charm.land/fantasy language models to the
// backend contract.
package fantasyx

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"charm.land/fantasy"
	"charm.land/fantasy/providers/openrouter"
	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/hatcher/agentcore/agent/backend"
	"github.com/hatcher/agentcore/agent/message"
	"github.com/hatcher/agentcore/pkg/logs"
	"github.com/hatcher/agentcore/pkg/safego"
)

// Model is a language model with its catalog metadata.
type Model struct {
	Provider   string
	Model      fantasy.LanguageModel
	CatwalkCfg catwalk.Model
}

func (m Model) Info() backend.ModelInfo {
	return backend.ModelInfo{
		Provider:      m.Provider,
		Model:         m.CatwalkCfg.ID,
		ContextWindow: m.CatwalkCfg.ContextWindow,
		CostPer1MIn:   m.CatwalkCfg.CostPer1MIn,
		CostPer1MOut:  m.CatwalkCfg.CostPer1MOut,
	}
}

// Backend runs exactly one fantasy step per Stream call. Tools execute
// inside the step; the orchestrator decides whether to continue.
type Backend struct {
	model           Model
	tools           []fantasy.AgentTool
	maxOutputTokens int64
}

var _ backend.Backend = (*Backend)(nil)

func NewBackend(model Model, maxOutputTokens int64, tools ...fantasy.AgentTool) *Backend {
	return &Backend{model: model, tools: tools, maxOutputTokens: maxOutputTokens}
}

func (b *Backend) Info() backend.ModelInfo {
	return b.model.Info()
}

func (b *Backend) Stream(ctx context.Context, req backend.Request) (<-chan backend.Chunk, error) {
	opts := []fantasy.AgentOption{
		fantasy.WithSystemPrompt(req.SystemPrompt),
		fantasy.WithTools(b.tools...),
	}
	maxTokens := b.maxOutputTokens
	if maxTokens == 0 {
		maxTokens = b.model.CatwalkCfg.DefaultMaxTokens
	}
	if maxTokens > 0 {
		opts = append(opts, fantasy.WithMaxOutputTokens(maxTokens))
	}
	history, p := splitHistory(req.Messages)

	out := make(chan backend.Chunk)
	s := &stepStream{ctx: ctx, out: out, model: b.model}
	if p.empty() {
		safego.Go(ctx, func() {
			defer close(out)
			s.finish(b.streamHistory(ctx, req.SystemPrompt, history, maxTokens, s))
		})
		return out, nil
	}

	agent := fantasy.NewAgent(b.model.Model, opts...)
	safego.Go(ctx, func() {
		defer close(out)
		_, err := agent.Stream(ctx, fantasy.AgentStreamCall{
			Prompt:           p.text,
			Files:            p.files,
			Messages:         history,
			OnReasoningStart: s.onReasoningStart,
			OnReasoningDelta: s.onReasoningDelta,
			OnReasoningEnd:   s.onReasoningEnd,
			OnTextDelta:      s.onTextDelta,
			OnToolCall:       s.onToolCall,
			OnToolResult:     s.onToolResult,
			OnStepFinish:     s.onStepFinish,
			OnRetry: func(err *fantasy.ProviderError, delay time.Duration) {
				logs.CtxWarnf(ctx, "provider retry in %s: %v", delay, err)
			},
			StopWhen: []fantasy.StopCondition{
				func(steps []fantasy.StepResult) bool { return len(steps) >= 1 },
			},
		})
		s.finish(err)
	})
	return out, nil
}

// stepStream turns fantasy callbacks into chunks. Callbacks arrive on a
// single goroutine.
type stepStream struct {
	ctx      context.Context
	out      chan<- backend.Chunk
	model    Model
	textID   string
	finished *backend.Finish
}

func (s *stepStream) send(c backend.Chunk) error {
	select {
	case s.out <- c:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *stepStream) closeText() error {
	if s.textID == "" {
		return nil
	}
	id := s.textID
	s.textID = ""
	return s.send(backend.TextEnd{ID: id})
}

func (s *stepStream) onTextDelta(id, text string) error {
	if s.textID != id {
		if err := s.closeText(); err != nil {
			return err
		}
		s.textID = id
		if err := s.send(backend.TextStart{ID: id}); err != nil {
			return err
		}
	}
	return s.send(backend.TextDelta{ID: id, Text: text})
}

func (s *stepStream) onReasoningStart(id string, reasoning fantasy.ReasoningContent) error {
	if err := s.closeText(); err != nil {
		return err
	}
	if err := s.send(backend.ReasoningStart{ID: id}); err != nil {
		return err
	}
	if reasoning.Text != "" {
		return s.send(backend.ReasoningDelta{ID: id, Text: reasoning.Text})
	}
	return nil
}

func (s *stepStream) onReasoningDelta(id, text string) error {
	return s.send(backend.ReasoningDelta{ID: id, Text: text})
}

func (s *stepStream) onReasoningEnd(id string, _ fantasy.ReasoningContent) error {
	return s.send(backend.ReasoningEnd{ID: id})
}

func (s *stepStream) onToolCall(tc fantasy.ToolCallContent) error {
	args := tc.Input
	if args == "" {
		args = "{}"
	}
	return s.send(backend.ToolCall{
		ToolCallID: tc.ToolCallID,
		ToolName:   tc.ToolName,
		Args:       resultJSON(args),
	})
}

func (s *stepStream) onToolResult(result fantasy.ToolResultContent) error {
	switch result.Result.GetType() {
	case fantasy.ToolResultContentTypeError:
		msg := "There was an error while executing the tool"
		if r, ok := fantasy.AsToolResultOutputType[fantasy.ToolResultOutputContentError](result.Result); ok && r.Error != nil {
			msg = r.Error.Error()
		}
		return s.send(backend.ToolError{ToolCallID: result.ToolCallID, ToolName: result.ToolName, Error: msg})
	case fantasy.ToolResultContentTypeMedia:
		r, ok := fantasy.AsToolResultOutputType[fantasy.ToolResultOutputContentMedia](result.Result)
		if !ok {
			break
		}
		text := r.Text
		if text == "" {
			text = fmt.Sprintf("Loaded %s content", r.MediaType)
		}
		if err := s.send(backend.ToolResult{ToolCallID: result.ToolCallID, ToolName: result.ToolName, Result: resultJSON(text)}); err != nil {
			return err
		}
		data, err := base64.StdEncoding.DecodeString(r.Data)
		if err != nil {
			logs.CtxWarnf(s.ctx, "failed to decode media data，error：%v", err)
			return nil
		}
		return s.send(backend.File{MediaType: r.MediaType, Data: data})
	}
	var text string
	if r, ok := fantasy.AsToolResultOutputType[fantasy.ToolResultOutputContentText](result.Result); ok {
		text = r.Text
	}
	return s.send(backend.ToolResult{ToolCallID: result.ToolCallID, ToolName: result.ToolName, Result: resultJSON(text)})
}

func (s *stepStream) onStepFinish(step fantasy.StepResult) error {
	return s.finishStep(step.Usage, step.FinishReason, step.ProviderMetadata)
}

func (s *stepStream) finishStep(u fantasy.Usage, reason fantasy.FinishReason, metadata fantasy.ProviderMetadata) error {
	if err := s.closeText(); err != nil {
		return err
	}
	usage := toUsage(u)
	cost := stepCost(s.model.CatwalkCfg, u)
	if override := openrouterCost(metadata); override != nil {
		cost = *override
	}
	s.finished = &backend.Finish{
		Usage:        &usage,
		FinishReason: finishReason(reason),
		Cost:         &cost,
	}
	return nil
}

func (s *stepStream) finish(err error) {
	if cerr := s.closeText(); cerr != nil && err == nil {
		err = cerr
	}
	switch {
	case err != nil:
		_ = s.send(backend.Error{Err: describeError(err)})
	case s.finished != nil:
		_ = s.send(*s.finished)
	default:
		_ = s.send(backend.Error{Err: errors.New("model returned no step")})
	}
}

func describeError(err error) error {
	var providerErr *fantasy.ProviderError
	if errors.As(err, &providerErr) && providerErr.Message != "" {
		return fmt.Errorf("%s: %w", providerErr.Message, err)
	}
	return err
}

func toUsage(u fantasy.Usage) message.Usage {
	prompt := u.InputTokens + u.CacheCreationTokens
	total := u.TotalTokens
	if total == 0 {
		total = prompt + u.OutputTokens
	}
	return message.Usage{PromptTokens: prompt, CompletionTokens: u.OutputTokens, TotalTokens: total}
}

func stepCost(m catwalk.Model, u fantasy.Usage) float64 {
	return m.CostPer1MInCached/1e6*float64(u.CacheCreationTokens) +
		m.CostPer1MOutCached/1e6*float64(u.CacheReadTokens) +
		m.CostPer1MIn/1e6*float64(u.InputTokens) +
		m.CostPer1MOut/1e6*float64(u.OutputTokens)
}

func openrouterCost(metadata fantasy.ProviderMetadata) *float64 {
	openrouterMetadata, ok := metadata[openrouter.Name]
	if !ok {
		return nil
	}
	opts, ok := openrouterMetadata.(*openrouter.ProviderMetadata)
	if !ok {
		return nil
	}
	return &opts.Usage.Cost
}

func finishReason(r fantasy.FinishReason) string {
	switch r {
	case fantasy.FinishReasonStop:
		return message.FinishReasonStop
	case fantasy.FinishReasonToolCalls:
		return message.FinishReasonToolCalls
	case fantasy.FinishReasonLength:
		return message.FinishReasonLength
	case fantasy.FinishReasonError:
		return message.FinishReasonError
	default:
		return message.FinishReasonUnknown
	}
}
