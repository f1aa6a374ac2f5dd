// Package llm provides LLM provider configuration options.
package llm

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sage/pkg/options"
)

var _ options.IOptions = (*ProviderOptions)(nil)

// 各供应商的默认模型。
var defaultModels = map[string]struct{ embed, chat string }{
	"ollama": {embed: "nomic-embed-text", chat: "llama3.1:8b"},
	"gemini": {embed: "embedding-001", chat: "gemini-2.0-flash"},
	"openai": {embed: "text-embedding-3-small", chat: "gpt-4o-mini"},
}

// 需要 API key 的供应商。
var requiresAPIKey = map[string]bool{
	"gemini": true,
	"openai": true,
}

// ProviderOptions 定义 LLM 供应商配置。
type ProviderOptions struct {
	// Provider 供应商名称（ollama, gemini, openai）。
	Provider string `json:"provider" mapstructure:"provider"`

	// BaseURL API 基础地址，为空时使用供应商默认地址。
	BaseURL string `json:"base-url" mapstructure:"base-url"`

	// APIKey API 密钥。
	APIKey string `json:"-" mapstructure:"api-key"`

	// Model 使用的模型名称，为空时使用供应商默认模型。
	Model string `json:"model" mapstructure:"model"`

	// Temperature 生成温度，仅对 chat 有效。
	Temperature float64 `json:"temperature" mapstructure:"temperature"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`

	// Organization 组织 ID（OpenAI 可选）。
	Organization string `json:"organization" mapstructure:"organization"`

	embedding bool
}

// NewEmbeddingOptions 创建默认 Embedding 供应商配置。
func NewEmbeddingOptions() *ProviderOptions {
	return &ProviderOptions{
		Provider:  "ollama",
		Timeout:   60 * time.Second,
		embedding: true,
	}
}

// NewChatOptions 创建默认 Chat 供应商配置。
func NewChatOptions() *ProviderOptions {
	return &ProviderOptions{
		Provider:    "ollama",
		Temperature: 0.2,
		Timeout:     120 * time.Second,
	}
}

// ToConfigMap 转换为配置 map，用于供应商工厂。
func (o *ProviderOptions) ToConfigMap() map[string]any {
	cfg := map[string]any{
		"base_url":     o.BaseURL,
		"api_key":      o.APIKey,
		"organization": o.Organization,
		"timeout":      o.Timeout,
		"temperature":  o.Temperature,
	}
	if o.embedding {
		cfg["embed_model"] = o.Model
	} else {
		cfg["chat_model"] = o.Model
	}
	return cfg
}

// AddFlags adds flags for LLM provider options to the specified FlagSet.
func (o *ProviderOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...)
	fs.StringVar(&o.Provider, p+"provider", o.Provider, "LLM provider (ollama, gemini, openai).")
	fs.StringVar(&o.BaseURL, p+"base-url", o.BaseURL, "LLM API base URL. Empty uses the provider default.")
	fs.StringVar(&o.APIKey, p+"api-key", o.APIKey, "LLM API key.")
	fs.StringVar(&o.Model, p+"model", o.Model, "Model name. Empty uses the provider default.")
	fs.DurationVar(&o.Timeout, p+"timeout", o.Timeout, "LLM request timeout.")
	fs.StringVar(&o.Organization, p+"organization", o.Organization, "Organization ID (openai only).")
	if !o.embedding {
		fs.Float64Var(&o.Temperature, p+"temperature", o.Temperature, "Sampling temperature.")
	}
}

// Validate validates the LLM provider options.
func (o *ProviderOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if _, ok := defaultModels[o.Provider]; !ok {
		errs = append(errs, fmt.Errorf("unsupported provider %q (ollama, gemini, openai)", o.Provider))
	}
	if requiresAPIKey[o.Provider] && o.APIKey == "" {
		errs = append(errs, fmt.Errorf("api-key is required for %s provider", o.Provider))
	}
	if o.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive"))
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be in [0, 2]"))
	}
	return errs
}

// Complete 补全默认模型。
func (o *ProviderOptions) Complete() error {
	if o.Model != "" {
		return nil
	}
	if d, ok := defaultModels[o.Provider]; ok {
		if o.embedding {
			o.Model = d.embed
		} else {
			o.Model = d.chat
		}
	}
	return nil
}

// IsEmbedding 是否为 Embedding 配置。
func (o *ProviderOptions) IsEmbedding() bool {
	return o.embedding
}
