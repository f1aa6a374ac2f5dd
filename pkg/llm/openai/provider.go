// Package openai 基于 go-openai 提供 OpenAI 及兼容接口（Azure OpenAI、LocalAI、vLLM 等）的供应商实现。
//
//	import _ "github.com/kart-io/sage/pkg/llm/openai"
//
//	provider, err := llm.NewProvider("openai", map[string]any{
//	    "api_key":     "sk-...",
//	    "embed_model": "text-embedding-3-small",
//	})
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/kart-io/sage/pkg/llm"
)

// ProviderName 供应商名称。
const ProviderName = "openai"

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
}

// Config OpenAI 供应商配置。
type Config struct {
	// BaseURL API 基础地址，可指向兼容服务。
	BaseURL string `json:"base_url" mapstructure:"base_url"`

	// APIKey API 密钥。
	APIKey string `json:"api_key" mapstructure:"api_key"`

	// Organization 组织 ID（可选）。
	Organization string `json:"organization" mapstructure:"organization"`

	// EmbedModel 用于生成嵌入的模型。
	EmbedModel string `json:"embed_model" mapstructure:"embed_model"`

	// ChatModel 用于对话的模型。
	ChatModel string `json:"chat_model" mapstructure:"chat_model"`

	// Temperature 生成温度。
	Temperature float64 `json:"temperature" mapstructure:"temperature"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://api.openai.com/v1",
		EmbedModel:  string(goopenai.SmallEmbedding3),
		ChatModel:   goopenai.GPT4oMini,
		Temperature: 0.2,
		Timeout:     120 * time.Second,
	}
}

// Provider OpenAI 供应商实现。
type Provider struct {
	config *Config
	client *goopenai.Client
}

// NewProvider 从配置 map 创建 OpenAI 供应商。
func NewProvider(configMap map[string]any) (llm.Provider, error) {
	def := DefaultConfig()
	cfg := &Config{
		BaseURL:      strings.TrimRight(llm.ConfigString(configMap, "base_url", def.BaseURL), "/"),
		APIKey:       llm.ConfigString(configMap, "api_key", ""),
		Organization: llm.ConfigString(configMap, "organization", ""),
		EmbedModel:   llm.ConfigString(configMap, "embed_model", def.EmbedModel),
		ChatModel:    llm.ConfigString(configMap, "chat_model", def.ChatModel),
		Temperature:  llm.ConfigFloat(configMap, "temperature", def.Temperature),
		Timeout:      llm.ConfigDuration(configMap, "timeout", def.Timeout),
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: api_key 是必需的")
	}
	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 使用结构化配置创建 OpenAI 供应商。
func NewProviderWithConfig(cfg *Config) *Provider {
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	clientCfg.OrgID = cfg.Organization
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &Provider{
		config: cfg,
		client: goopenai.NewClientWithConfig(clientCfg),
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return ProviderName
}

// Embed 为多个文本生成向量嵌入，按响应中的 index 还原顺序。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := p.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input: texts,
		Model: goopenai.EmbeddingModel(p.config.EmbedModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index >= 0 && d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}
	for i, e := range embeddings {
		if len(e) == 0 {
			return nil, fmt.Errorf("openai embeddings: 缺少第 %d 个向量", i)
		}
	}
	return embeddings, nil
}

// EmbedSingle 为单个文本生成向量嵌入。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return llm.EmbedSingle(ctx, p, text)
}

// Chat 进行多轮对话。
func (p *Provider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	msgs := make([]goopenai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msgs[i] = goopenai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content}
	}

	resp, err := p.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:       p.config.ChatModel,
		Messages:    msgs,
		Temperature: float32(p.config.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("未返回响应内容")
	}
	return resp.Choices[0].Message.Content, nil
}

// Generate 根据提示生成文本。
func (p *Provider) Generate(ctx context.Context, prompt string, systemPrompt string) (string, error) {
	return p.Chat(ctx, llm.GenerateMessages(prompt, systemPrompt))
}
