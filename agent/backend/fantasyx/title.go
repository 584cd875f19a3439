package fantasyx

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"charm.land/fantasy"
	"github.com/hatcher/agentcore/agent/backend"
	"github.com/hatcher/agentcore/pkg/logs"
)

const DefaultSessionName = "Untitled Session"

const titlePrompt = `You will generate a short title based on the first message a user begins a conversation with.
- the title should be no more than 50 characters
- summarize the user's message in a single line
- do not use quotes or colons
- the entire text you return will be used as the title
- never return anything that is more than one sentence (one line) long`

var thinkTagRegex = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Titler generates session titles with the small model and falls back to the
// large one.
type Titler struct {
	small Model
	large Model
}

var _ backend.TitleGenerator = (*Titler)(nil)

func NewTitler(small, large Model) *Titler {
	return &Titler{small: small, large: large}
}

func (t *Titler) GenerateTitle(ctx context.Context, userPrompt string, onDelta func(string)) (string, error) {
	if strings.TrimSpace(userPrompt) == "" {
		return DefaultSessionName, nil
	}
	text, err := t.generate(ctx, t.small, userPrompt, onDelta)
	if err != nil {
		logs.CtxErrorf(ctx, "error generating title with small model; trying big model，error：%v", err)
		text, err = t.generate(ctx, t.large, userPrompt, onDelta)
		if err != nil {
			return DefaultSessionName, fmt.Errorf("generate title: %w", err)
		}
	}
	return CleanTitle(text), nil
}

func (t *Titler) generate(ctx context.Context, m Model, userPrompt string, onDelta func(string)) (string, error) {
	var maxOutputTokens int64 = 40
	if m.CatwalkCfg.CanReason {
		maxOutputTokens = m.CatwalkCfg.DefaultMaxTokens
	}
	agent := fantasy.NewAgent(m.Model,
		fantasy.WithSystemPrompt(titlePrompt+"\n /no_think"),
		fantasy.WithMaxOutputTokens(maxOutputTokens),
	)
	resp, err := agent.Stream(ctx, fantasy.AgentStreamCall{
		Prompt: fmt.Sprintf("Generate a concise title for the following content:\n\n%s\n <think>\n\n</think>", userPrompt),
		OnTextDelta: func(_ string, text string) error {
			if onDelta != nil {
				onDelta(text)
			}
			return nil
		},
	})
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", fmt.Errorf("response is nil")
	}
	return resp.Response.Content.Text(), nil
}

// CleanTitle flattens the model output to one line without think tags.
func CleanTitle(raw string) string {
	title := strings.ReplaceAll(raw, "\n", " ")
	title = thinkTagRegex.ReplaceAllString(title, "")
	title = strings.TrimSpace(title)
	if title == "" {
		return DefaultSessionName
	}
	return title
}
