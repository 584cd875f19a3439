// Package config loads the service configuration.
package config

import (
	"github.com/hatcher/agentcore/agent/agent"
	"github.com/hatcher/agentcore/agent/backend/fantasyx"
	"github.com/hatcher/agentcore/agent/db"
	"github.com/hatcher/agentcore/agent/janitor"
	"github.com/hatcher/agentcore/agent/trigger"
	"github.com/hatcher/agentcore/pkg/hertzx"
	"github.com/hatcher/agentcore/pkg/logs"
	"github.com/hatcher/agentcore/pkg/ormx"
	"github.com/hatcher/agentcore/pkg/redisx"
	"gopkg.in/yaml.v3"
)

const (
	appName   = "agentcore"
	EnvPrefix = "AGENTCORE"
)

// BusConfig 事件总线配置
type BusConfig struct {
	// ReplaySize 每个会话通道保留的事件数
	ReplaySize int `json:"replaySize" mapstructure:"replay-size" yaml:"replay-size"`
	// SubscriberBuffer 订阅者缓冲区，写满时断开该订阅者
	SubscriberBuffer int `json:"subscriberBuffer" mapstructure:"subscriber-buffer" yaml:"subscriber-buffer"`
	// TTL redis 中事件日志的过期时间，单位秒
	TTL int `json:"ttl" mapstructure:"ttl" yaml:"ttl"`
}

func (c *BusConfig) Prepare() {
	if c.ReplaySize <= 0 {
		c.ReplaySize = 512
	}
	if c.SubscriberBuffer <= 0 {
		c.SubscriberBuffer = 256
	}
	if c.TTL <= 0 {
		c.TTL = 24 * 60 * 60
	}
}

// LockConfig 跨进程会话锁，仅在启用 redis 时生效
type LockConfig struct {
	// Expiration 锁过期时间，单位秒，持有期间自动续期
	Expiration int `json:"expiration" mapstructure:"expiration" yaml:"expiration"`
}

func (c *LockConfig) Prepare() {
	if c.Expiration <= 0 {
		c.Expiration = 30
	}
}

type Config struct {
	Log      logs.LogConfig     `json:"log" mapstructure:"log" yaml:"log"`
	Web      hertzx.WebConfig   `json:"web" mapstructure:"web" yaml:"web"`
	DB       ormx.DBConfig      `json:"db" mapstructure:"db" yaml:"db"`
	Retry    db.RetryConfig     `json:"retry" mapstructure:"retry" yaml:"retry"`
	Redis    redisx.RedisConfig `json:"redis" mapstructure:"redis" yaml:"redis"`
	Bus      BusConfig          `json:"bus" mapstructure:"bus" yaml:"bus"`
	Lock     LockConfig         `json:"lock" mapstructure:"lock" yaml:"lock"`
	Models   fantasyx.Config    `json:"models" mapstructure:"models" yaml:"models"`
	Agent    agent.Config       `json:"agent" mapstructure:"agent" yaml:"agent"`
	Triggers trigger.Config     `json:"triggers" mapstructure:"triggers" yaml:"triggers"`
	Janitor  janitor.Config     `json:"janitor" mapstructure:"janitor" yaml:"janitor"`
}

// Prepare 填充所有默认值
func (c *Config) Prepare() {
	c.Log.Prepare()
	c.Web.Prepare()
	c.DB.Prepare()
	c.Retry.Prepare()
	c.Redis.Prepare()
	c.Bus.Prepare()
	c.Lock.Prepare()
	c.Models.Prepare()
	c.Agent.Prepare()
	c.Triggers.Prepare()
	c.Janitor.Prepare()
}

// Default 默认配置，sqlite 存储、进程内事件总线、一个 openai 兼容的本地模型
func Default() *Config {
	c := &Config{
		DB: ormx.DBConfig{DbType: ormx.DbTypeSQLite, Database: appName + ".db"},
		Models: fantasyx.Config{
			Providers: []fantasyx.ProviderConfig{{
				ID:      "local",
				Type:    "openai-compat",
				BaseURL: "http://127.0.0.1:11434/v1",
				APIKey:  "$LOCAL_API_KEY",
				Models:  []fantasyx.ModelConfig{{ID: "qwen3:8b", ContextWindow: 32768, DefaultMaxTokens: 4096}},
			}},
			LargeModel: fantasyx.SelectedModel{Provider: "local", Model: "qwen3:8b"},
		},
		Janitor: janitor.Config{Enable: true},
	}
	c.Prepare()
	return c
}

// YAML 渲染为配置文件内容
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
