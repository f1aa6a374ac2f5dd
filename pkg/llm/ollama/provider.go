// Package ollama 提供 Ollama 本地模型供应商实现。
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kart-io/sage/pkg/llm"
)

// ProviderName 供应商名称。
const ProviderName = "ollama"

func init() {
	llm.RegisterProvider(ProviderName, NewProvider)
}

// Config Ollama 供应商配置。
type Config struct {
	BaseURL     string        `json:"base_url" mapstructure:"base_url"`
	EmbedModel  string        `json:"embed_model" mapstructure:"embed_model"`
	ChatModel   string        `json:"chat_model" mapstructure:"chat_model"`
	Temperature float64       `json:"temperature" mapstructure:"temperature"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	return &Config{
		BaseURL:     "http://localhost:11434",
		EmbedModel:  "nomic-embed-text",
		ChatModel:   "llama3.1:8b",
		Temperature: 0.2,
		Timeout:     120 * time.Second,
	}
}

// Provider Ollama 供应商实现。
type Provider struct {
	config     *Config
	httpClient *http.Client
}

// NewProvider 从配置 map 创建 Ollama 供应商。
func NewProvider(configMap map[string]any) (llm.Provider, error) {
	def := DefaultConfig()
	cfg := &Config{
		BaseURL:     strings.TrimRight(llm.ConfigString(configMap, "base_url", def.BaseURL), "/"),
		EmbedModel:  llm.ConfigString(configMap, "embed_model", def.EmbedModel),
		ChatModel:   llm.ConfigString(configMap, "chat_model", def.ChatModel),
		Temperature: llm.ConfigFloat(configMap, "temperature", def.Temperature),
		Timeout:     llm.ConfigDuration(configMap, "timeout", def.Timeout),
	}
	return NewProviderWithConfig(cfg), nil
}

// NewProviderWithConfig 使用结构化配置创建 Ollama 供应商。
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

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed 为多个文本生成向量嵌入。
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var resp embedResponse
	err := llm.PostJSON(ctx, p.httpClient, p.config.BaseURL+"/api/embed", nil,
		embedRequest{Model: p.config.EmbedModel, Input: texts}, &resp)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("向量数量不匹配: 期望 %d，实际 %d", len(texts), len(resp.Embeddings))
	}
	return resp.Embeddings, nil
}

// EmbedSingle 为单个文本生成向量嵌入。
func (p *Provider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return llm.EmbedSingle(ctx, p, text)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float64 `json:"temperature"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  chatOptions   `json:"options"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

// Chat 进行多轮对话。
func (p *Provider) Chat(ctx context.Context, messages []llm.Message) (string, error) {
	chatMessages := make([]chatMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = chatMessage{Role: string(msg.Role), Content: msg.Content}
	}

	var resp chatResponse
	err := llm.PostJSON(ctx, p.httpClient, p.config.BaseURL+"/api/chat", nil, chatRequest{
		Model:    p.config.ChatModel,
		Messages: chatMessages,
		Options:  chatOptions{Temperature: p.config.Temperature},
	}, &resp)
	if err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// Generate 根据提示生成文本。
func (p *Provider) Generate(ctx context.Context, prompt string, systemPrompt string) (string, error) {
	return p.Chat(ctx, llm.GenerateMessages(prompt, systemPrompt))
}
