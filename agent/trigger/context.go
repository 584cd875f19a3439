package trigger

import (
	"context"
	"fmt"
	"slices"

	"github.com/hatcher/agentcore/agent/message"
	"github.com/hatcher/agentcore/agent/session"
)

const NoticeContextWarning = "context-warning"

func contextFlag(pct int) string {
	return fmt.Sprintf("context-warning-%d", pct)
}

// ContextRatio warns once per threshold as the context window fills up.
type ContextRatio struct {
	thresholds []int
}

func NewContextRatio(thresholds []int) *ContextRatio {
	sorted := slices.Clone(thresholds)
	slices.Sort(sorted)
	return &ContextRatio{thresholds: slices.Compact(sorted)}
}

func (*ContextRatio) Name() string { return "context-ratio" }

func (c *ContextRatio) Evaluate(_ context.Context, state State) Result {
	if state.ContextWindow <= 0 || state.ContextTokens <= 0 {
		return Result{}
	}
	pct := float64(state.ContextTokens) * 100 / float64(state.ContextWindow)

	flags := session.Flags{}
	fired := 0
	for _, threshold := range c.thresholds {
		if pct < float64(threshold) {
			break
		}
		flag := contextFlag(threshold)
		if state.Session.HasFlag(flag) {
			continue
		}
		flags[flag] = true
		fired = threshold
	}
	if fired == 0 {
		return Result{}
	}
	// crossing several thresholds at once produces a single notice for the highest
	return Result{
		Notices: []message.Notice{{
			Type: NoticeContextWarning,
			Content: fmt.Sprintf(
				"The conversation now uses %.0f%% of the context window (%d of %d tokens, threshold %d%%). Be concise and avoid re-reading large content.",
				pct, state.ContextTokens, state.ContextWindow, fired),
		}},
		Flags: flags,
	}
}
