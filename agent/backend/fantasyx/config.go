package fantasyx

import (
	"os"
	"strings"

	"github.com/charmbracelet/catwalk/pkg/catwalk"
)

// ProviderConfig 模型供应商配置
type ProviderConfig struct {
	// ID 供应商标识，会话中的 provider 字段即此值
	ID string `json:"id" mapstructure:"id" yaml:"id"`
	// Type openai、anthropic、openai-compat、openrouter、google、azure、bedrock、google-vertex
	Type    string `json:"type" mapstructure:"type" yaml:"type"`
	BaseURL string `json:"baseUrl" mapstructure:"base-url" yaml:"base-url"`
	// APIKey 支持 $ENV 形式引用环境变量
	APIKey       string            `json:"apiKey" mapstructure:"api-key" yaml:"api-key"`
	ExtraHeaders map[string]string `json:"extraHeaders" mapstructure:"extra-headers" yaml:"extra-headers,omitempty"`
	// ExtraBody 仅 openai-compat 生效
	ExtraBody map[string]any `json:"extraBody" mapstructure:"extra-body" yaml:"extra-body,omitempty"`
	// ExtraParams azure 的 apiVersion，vertex 的 project、location
	ExtraParams map[string]string `json:"extraParams" mapstructure:"extra-params" yaml:"extra-params,omitempty"`
	Disable     bool              `json:"disable" mapstructure:"disable" yaml:"disable"`
	Models      []ModelConfig     `json:"models" mapstructure:"models" yaml:"models"`
}

// ModelConfig 模型元数据
type ModelConfig struct {
	ID                 string  `json:"id" mapstructure:"id" yaml:"id"`
	Name               string  `json:"name" mapstructure:"name" yaml:"name,omitempty"`
	ContextWindow      int64   `json:"contextWindow" mapstructure:"context-window" yaml:"context-window"`
	DefaultMaxTokens   int64   `json:"defaultMaxTokens" mapstructure:"default-max-tokens" yaml:"default-max-tokens"`
	CostPer1MIn        float64 `json:"costPer1mIn" mapstructure:"cost-per-1m-in" yaml:"cost-per-1m-in"`
	CostPer1MOut       float64 `json:"costPer1mOut" mapstructure:"cost-per-1m-out" yaml:"cost-per-1m-out"`
	CostPer1MInCached  float64 `json:"costPer1mInCached" mapstructure:"cost-per-1m-in-cached" yaml:"cost-per-1m-in-cached"`
	CostPer1MOutCached float64 `json:"costPer1mOutCached" mapstructure:"cost-per-1m-out-cached" yaml:"cost-per-1m-out-cached"`
	CanReason          bool    `json:"canReason" mapstructure:"can-reason" yaml:"can-reason"`
	SupportsImages     bool    `json:"supportsImages" mapstructure:"supports-images" yaml:"supports-images"`
}

func (m ModelConfig) Catwalk() catwalk.Model {
	name := m.Name
	if name == "" {
		name = m.ID
	}
	return catwalk.Model{
		ID:                 m.ID,
		Name:               name,
		ContextWindow:      m.ContextWindow,
		DefaultMaxTokens:   m.DefaultMaxTokens,
		CostPer1MIn:        m.CostPer1MIn,
		CostPer1MOut:       m.CostPer1MOut,
		CostPer1MInCached:  m.CostPer1MInCached,
		CostPer1MOutCached: m.CostPer1MOutCached,
		CanReason:          m.CanReason,
		SupportsImages:     m.SupportsImages,
	}
}

// SelectedModel 指向某个供应商下的模型
type SelectedModel struct {
	Provider string `json:"provider" mapstructure:"provider" yaml:"provider"`
	Model    string `json:"model" mapstructure:"model" yaml:"model"`
}

func (s SelectedModel) IsZero() bool {
	return s.Provider == "" || s.Model == ""
}

// Config 模型后端配置
type Config struct {
	Providers []ProviderConfig `json:"providers" mapstructure:"providers" yaml:"providers"`
	// MaxOutputTokens 单步最大输出 token，0 表示使用模型默认值
	MaxOutputTokens int64 `json:"maxOutputTokens" mapstructure:"max-output-tokens" yaml:"max-output-tokens"`
	// SmallModel 用于生成标题，失败时回退到 LargeModel
	SmallModel SelectedModel `json:"smallModel" mapstructure:"small-model" yaml:"small-model"`
	LargeModel SelectedModel `json:"largeModel" mapstructure:"large-model" yaml:"large-model"`
}

func (c *Config) Prepare() {
	for i := range c.Providers {
		if c.Providers[i].Type == "" {
			c.Providers[i].Type = "openai"
		}
	}
	if c.SmallModel.IsZero() {
		c.SmallModel = c.LargeModel
	}
}

// resolve expands $VAR and ${VAR} references.
func resolve(v string) string {
	if !strings.Contains(v, "$") {
		return v
	}
	return os.ExpandEnv(v)
}
