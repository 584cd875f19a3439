package trigger

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"runtime/debug"

	"github.com/hatcher/agentcore/agent/message"
	"github.com/hatcher/agentcore/agent/session"
	"github.com/hatcher/agentcore/pkg/logs"
)

const (
	NoticeResourceWarning = "resource-warning"
	FlagResourceWarning   = "resource-warning"
)

// Probe reports memory in use and the limit it is measured against. A zero
// limit disables the check.
type Probe interface {
	Memory() (used, limit uint64, err error)
}

// RuntimeProbe measures the Go heap against the runtime soft memory limit.
type RuntimeProbe struct {
	// FallbackLimit is used when no GOMEMLIMIT is configured.
	FallbackLimit uint64
}

func (p RuntimeProbe) Memory() (uint64, uint64, error) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	limit := p.FallbackLimit
	if l := debug.SetMemoryLimit(-1); l > 0 && l != math.MaxInt64 {
		limit = uint64(l)
	}
	return ms.HeapAlloc, limit, nil
}

// ResourcePressure warns when memory use crosses the threshold and re-arms
// once it drops back below.
type ResourcePressure struct {
	probe     Probe
	threshold float64
}

func NewResourcePressure(probe Probe, threshold float64) *ResourcePressure {
	return &ResourcePressure{probe: probe, threshold: threshold}
}

func (*ResourcePressure) Name() string { return "resource-pressure" }

func (r *ResourcePressure) Evaluate(ctx context.Context, state State) Result {
	used, limit, err := r.probe.Memory()
	if err != nil {
		logs.CtxWarnf(ctx, "resource probe failed: %v", err)
		return Result{}
	}
	if limit == 0 {
		return Result{}
	}
	ratio := float64(used) / float64(limit)
	flagged := state.Session.HasFlag(FlagResourceWarning)
	switch {
	case ratio >= r.threshold && !flagged:
		return Result{
			Notices: []message.Notice{{
				Type: NoticeResourceWarning,
				Content: fmt.Sprintf(
					"The host is under memory pressure (%.0f%% of %d MiB in use). Prefer small outputs and avoid loading large files.",
					ratio*100, limit>>20),
			}},
			Flags: session.Flags{FlagResourceWarning: true},
		}
	case ratio < r.threshold && flagged:
		return Result{Flags: session.Flags{FlagResourceWarning: false}}
	}
	return Result{}
}
