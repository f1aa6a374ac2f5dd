// Package gemini 提供 Google Gemini 供应商实现。
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kart-io/sage/pkg/llm"
)

// ProviderName 供应商名称。
const ProviderName = "gemini"

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
}

// Config Gemini 供应商配置。
type Config struct {
	// BaseURL API 基础地址。
	BaseURL string `json:"base_url" mapstructure:"base_url"`

	// APIKey Google AI API 密钥。
	APIKey string `json:"api_key" mapstructure:"api_key"`

	// EmbedModel 用于生成嵌入的模型。
	EmbedModel string `json:"embed_model" mapstructure:"embed_model"`

	// ChatModel 用于对话的模型。
	ChatModel string `json:"chat_model" mapstructure:"chat_model"`

	// Temperature 生成温度，低值让回答更贴近检索上下文。
	Temperature float64 `json:"temperature" mapstructure:"temperature"`

	// Timeout 请求超时时间。
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
		EmbedModel:  "embedding-001",
		ChatModel:   "gemini-2.0-flash",
		Temperature: 0.2,
		Timeout:     120 * time.Second,
	}
}

// Provider Gemini 供应商实现。
type Provider struct {
	config     *Config
	httpClient *http.Client
}

// NewProvider 从配置 map 创建 Gemini 供应商。
func NewProvider(configMap map[string]any) (llm.Provider, error) {
	def := DefaultConfig()
	cfg := &Config{
		BaseURL:     strings.TrimRight(llm.ConfigString(configMap, "base_url", def.BaseURL), "/"),
		APIKey:      llm.ConfigString(configMap, "api_key", ""),
		EmbedModel:  strings.TrimPrefix(llm.ConfigString(configMap, "embed_model", def.EmbedModel), "models/"),
		ChatModel:   strings.TrimPrefix(llm.ConfigString(configMap, "chat_model", def.ChatModel), "models/"),
		Temperature: llm.ConfigFloat(configMap, "temperature", def.Temperature),
		Timeout:     llm.ConfigDuration(configMap, "timeout", def.Timeout),
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: api_key 是必需的")
	}
	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 使用结构化配置创建 Gemini 供应商。
func NewProviderWithConfig(cfg *Config) *Provider {
	return &Provider{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name 返回供应商名称。
func (p *Provider) Name() string {
	return ProviderName
}

func (p *Provider) headers() map[string]string {
	return map[string]string{"x-goog-api-key": p.config.APIKey}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type embedContentRequest struct {
	Model   string  `json:"model"`
	Content content `json:"content"`
}

type batchEmbedRequest struct {
	Requests []embedContentRequest `json:"requests"`
}

type batchEmbedResponse struct {
	Embeddings []struct {
		Values []float32 `json:"values"`
	} `json:"embeddings"`
}

// Embed 使用 batchEmbedContents 为多个文本生成向量嵌入。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	model := "models/" + p.config.EmbedModel
	requests := make([]embedContentRequest, len(texts))
	for i, text := range texts {
		requests[i] = embedContentRequest{Model: model, Content: content{Parts: []part{{Text: text}}}}
	}

	var resp batchEmbedResponse
	url := fmt.Sprintf("%s/%s:batchEmbedContents", p.config.BaseURL, model)
	if err := llm.PostJSON(ctx, p.httpClient, url, p.headers(), batchEmbedRequest{Requests: requests}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("向量数量不匹配: 期望 %d，实际 %d", len(texts), len(resp.Embeddings))
	}

	embeddings := make([][]float32, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		embeddings[i] = emb.Values
	}
	return embeddings, nil
}

// EmbedSingle 为单个文本生成向量嵌入。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return llm.EmbedSingle(ctx, p, text)
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

type generateRequest struct {
	Contents          []content         `json:"contents"`
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []part `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
}

// Chat 进行多轮对话。assistant 角色映射为 Gemini 的 model 角色。
func (p *Provider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	req := generateRequest{GenerationConfig: &generationConfig{Temperature: p.config.Temperature}}
	var system []part
	for _, msg := range messages {
		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, part{Text: msg.Content})
		case llm.RoleAssistant:
			req.Contents = append(req.Contents, content{Role: "model", Parts: []part{{Text: msg.Content}}})
		default:
			req.Contents = append(req.Contents, content{Role: "user", Parts: []part{{Text: msg.Content}}})
		}
	}
	if len(system) > 0 {
		req.SystemInstruction = &content{Parts: system}
	}

	var resp generateResponse
	url := fmt.Sprintf("%s/models/%s:generateContent", p.config.BaseURL, p.config.ChatModel)
	if err := llm.PostJSON(ctx, p.httpClient, url, p.headers(), req, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("未返回响应内容")
	}

	var b strings.Builder
	for _, pt := range resp.Candidates[0].Content.Parts {
		b.WriteString(pt.Text)
	}
	return b.String(), nil
}

// Generate 根据提示生成文本。
func (p *Provider) Generate(ctx context.Context, prompt string, systemPrompt string) (string, error) {
	return p.Chat(ctx, llm.GenerateMessages(prompt, systemPrompt))
}
