// Package janitor periodically settles messages orphaned by a crashed
// process and evicts idle event channels.
package janitor

import (
	"context"
	"time"

	"github.com/hatcher/agentcore/agent/message"
	"github.com/hatcher/agentcore/pkg/cronx"
	"github.com/hatcher/agentcore/pkg/logs"
	"github.com/pkg/errors"
)

// Config 清理任务配置
type Config struct {
	Enable bool `json:"enable" mapstructure:"enable" yaml:"enable"`
	// Schedule cron 表达式，支持秒级和 @every
	Schedule string `json:"schedule" mapstructure:"schedule" yaml:"schedule"`
	// StaleAfter 消息保持 active 超过该秒数且没有运行中的轮次时标记为 error
	StaleAfter int `json:"staleAfter" mapstructure:"stale-after" yaml:"stale-after"`
	// ChannelIdleAfter 事件通道空闲超过该秒数时回收
	ChannelIdleAfter int `json:"channelIdleAfter" mapstructure:"channel-idle-after" yaml:"channel-idle-after"`
}

func (c *Config) Prepare() {
	if c.Schedule == "" {
		c.Schedule = "@every 1m"
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 600
	}
	if c.ChannelIdleAfter <= 0 {
		c.ChannelIdleAfter = 1800
	}
}

// Evicter drops idle channels and reports how many went away.
type Evicter interface {
	Evict(ctx context.Context, idleFor time.Duration) int
}

type Janitor struct {
	cfg      Config
	messages message.Service
	channels Evicter
	busy     func(sessionID string) bool
	cron     *cronx.StoppableCron
}

// New validates the schedule. busy reports sessions with a turn running in
// any process sharing the session lock; their messages are never touched.
func New(cfg Config, messages message.Service, channels Evicter, busy func(sessionID string) bool) (*Janitor, error) {
	cfg.Prepare()
	if err := cronx.DefaultCronParser.ValidateExpression(cfg.Schedule); err != nil {
		return nil, errors.WithMessagef(err, "invalid janitor schedule %q", cfg.Schedule)
	}
	if busy == nil {
		busy = func(string) bool { return false }
	}
	return &Janitor{
		cfg:      cfg,
		messages: messages,
		channels: channels,
		busy:     busy,
		cron:     cronx.NewStoppableCron(),
	}, nil
}

func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.cfg.Schedule, func(ctx context.Context) { j.Sweep(ctx) }); err != nil {
		return errors.WithMessage(err, "schedule janitor")
	}
	j.cron.Start()
	logs.Infof("janitor started, schedule: %s", j.cfg.Schedule)
	return nil
}

// Stop returns a context that is done once a running sweep has finished.
func (j *Janitor) Stop() context.Context {
	return j.cron.Stop()
}

// Sweep runs one pass and reports how many messages were settled and how
// many channels were evicted.
func (j *Janitor) Sweep(ctx context.Context) (settled, evicted int) {
	stale, err := j.messages.ListActive(ctx, time.Duration(j.cfg.StaleAfter)*time.Second)
	if err != nil {
		logs.CtxErrorf(ctx, "list active messages failed: %v", err)
	}
	for _, msg := range stale {
		if j.busy(msg.SessionID) {
			continue
		}
		if err := j.messages.UpdateStatus(ctx, msg.ID, message.StatusError, message.FinishReasonError); err != nil {
			logs.CtxErrorf(ctx, "settle message %s failed: %v", msg.ID, err)
			continue
		}
		settled++
	}
	if j.channels != nil {
		evicted = j.channels.Evict(ctx, time.Duration(j.cfg.ChannelIdleAfter)*time.Second)
	}
	if settled > 0 || evicted > 0 {
		logs.CtxInfof(ctx, "janitor settled %d message(s), evicted %d channel(s)", settled, evicted)
	}
	return settled, evicted
}
