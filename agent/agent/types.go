package agent

import (
	"context"
	"time"

	"github.com/hatcher/agentcore/agent/backend"
	"github.com/hatcher/agentcore/agent/event"
	"github.com/hatcher/agentcore/agent/fingerprint"
	"github.com/hatcher/agentcore/agent/message"
	"github.com/hatcher/agentcore/agent/pubsub"
	"github.com/hatcher/agentcore/agent/session"
	"github.com/hatcher/agentcore/agent/trigger"
)

const (
	defaultSessionName  = "Untitled Session"
	defaultMaxSteps     = 25
	defaultTitleTimeout = 30
	remoteTimeout       = 3 * time.Second
)

const defaultSystemPrompt = `You are a helpful assistant working inside a multi-step, tool-using session.
Be concise. Use the available tools when they help and keep the todo list current for multi-step work.`

const interruptedNotice = "The previous assistant turn was interrupted by the user before it finished. " +
	"Its output may be incomplete; do not assume the interrupted work was completed."

// Config 编排器配置
type Config struct {
	// MaxSteps 单轮最多步数，防止工具调用死循环
	MaxSteps     int    `json:"maxSteps" mapstructure:"max-steps" yaml:"max-steps"`
	SystemPrompt string `json:"systemPrompt" mapstructure:"system-prompt" yaml:"system-prompt"`
	// TitleTimeout 标题生成超时，单位秒
	TitleTimeout int `json:"titleTimeout" mapstructure:"title-timeout" yaml:"title-timeout"`
}

func (c *Config) Prepare() {
	if c.MaxSteps <= 0 {
		c.MaxSteps = defaultMaxSteps
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}
	if c.TitleTimeout <= 0 {
		c.TitleTimeout = defaultTitleTimeout
	}
}

// Locker serializes turns of one session across processes. Held reports
// whether any process holds the key.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
	Held(ctx context.Context, key string) (bool, error)
}

// AbortRelay forwards cancellations to the process running the turn.
type AbortRelay interface {
	Publish(ctx context.Context, sessionID string) error
	Listen(ctx context.Context, handle func(sessionID string)) error
}

type Options struct {
	Sessions session.Service
	Messages message.Service
	Bus      *pubsub.Bus[event.Payload]
	Backends *backend.Registry
	// Triggers, Titles, Locker, Aborts and Tracker are optional.
	Triggers *trigger.Engine
	Titles   backend.TitleGenerator
	Locker   Locker
	Aborts   AbortRelay
	Tracker  *fingerprint.Tracker
	Config   Config
}

// SessionRef names an existing session, or describes the one to create when ID is empty.
type SessionRef struct {
	ID       string
	Provider string
	Model    string
	AgentID  string
	RuleIDs  []string
}

type UserContent struct {
	Text        string
	Attachments []message.Attachment
}

func (c *UserContent) empty() bool {
	if c == nil {
		return true
	}
	if c.Text != "" {
		return false
	}
	for _, a := range c.Attachments {
		if len(a.Data) > 0 {
			return false
		}
	}
	return true
}

type TurnRequest struct {
	Session SessionRef
	// Content is nil to continue the session without a new user message.
	Content *UserContent
}

// Result is the settled outcome of a run.
type Result struct {
	SessionID    string
	MessageID    string
	Status       message.Status
	FinishReason string
	Usage        *message.Usage
	Err          error
}
