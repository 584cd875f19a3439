// Package trigger evaluates session state before each step and produces the
// system notices injected into the next model call.
package trigger

import (
	"context"
	"maps"
	"time"

	"github.com/hatcher/agentcore/agent/message"
	"github.com/hatcher/agentcore/agent/session"
	"github.com/hatcher/agentcore/pkg/logs"
)

// State is what a trigger sees before a step.
type State struct {
	Session session.Session
	// ContextTokens is the prompt size of the latest completed step, 0 when unknown.
	ContextTokens int64
	ContextWindow int64
	StepIndex     int
	Now           time.Time
}

// Result holds the notices to inject and the flag changes to persist. A false
// flag value removes the flag.
type Result struct {
	Notices []message.Notice
	Flags   session.Flags
}

func (r *Result) merge(o Result) {
	r.Notices = append(r.Notices, o.Notices...)
	if len(o.Flags) == 0 {
		return
	}
	if r.Flags == nil {
		r.Flags = session.Flags{}
	}
	maps.Copy(r.Flags, o.Flags)
}

// Trigger never touches messages; it only returns text and flags.
type Trigger interface {
	Name() string
	Evaluate(ctx context.Context, state State) Result
}

type Engine struct {
	triggers []Trigger
}

func NewEngine(triggers ...Trigger) *Engine {
	return &Engine{triggers: triggers}
}

// NewDefaultEngine builds the engine with every built-in trigger.
func NewDefaultEngine(cfg Config) *Engine {
	cfg.Prepare()
	return NewEngine(
		NewContextRatio(cfg.ContextThresholds),
		NewTodoStaleness(time.Duration(cfg.TodoStaleAfter)*time.Second),
		NewResourcePressure(RuntimeProbe{FallbackLimit: cfg.MemoryLimitBytes}, cfg.MemoryThreshold),
	)
}

func (e *Engine) Evaluate(ctx context.Context, state State) Result {
	if state.Now.IsZero() {
		state.Now = time.Now()
	}
	var out Result
	for _, t := range e.triggers {
		r := t.Evaluate(ctx, state)
		if len(r.Notices) > 0 {
			logs.CtxInfof(ctx, "trigger %s fired for session %s: %d notice(s)", t.Name(), state.Session.ID, len(r.Notices))
		}
		out.merge(r)
	}
	return out
}

// Config 触发器配置
type Config struct {
	// ContextThresholds 上下文占比阈值（百分比）
	ContextThresholds []int `json:"contextThresholds" mapstructure:"context-thresholds" yaml:"context-thresholds"`
	// TodoStaleAfter 待办多久未更新视为过期，单位秒
	TodoStaleAfter int `json:"todoStaleAfter" mapstructure:"todo-stale-after" yaml:"todo-stale-after"`
	// MemoryThreshold 内存占比告警阈值，0-1
	MemoryThreshold float64 `json:"memoryThreshold" mapstructure:"memory-threshold" yaml:"memory-threshold"`
	// MemoryLimitBytes 未设置 GOMEMLIMIT 时使用的内存上限，0 表示不检测
	MemoryLimitBytes uint64 `json:"memoryLimitBytes" mapstructure:"memory-limit-bytes" yaml:"memory-limit-bytes"`
}

func (c *Config) Prepare() {
	if len(c.ContextThresholds) == 0 {
		c.ContextThresholds = []int{50, 70, 90}
	}
	if c.TodoStaleAfter <= 0 {
		c.TodoStaleAfter = 600
	}
	if c.MemoryThreshold <= 0 || c.MemoryThreshold > 1 {
		c.MemoryThreshold = 0.85
	}
}
