package biz

import (
	"context"
	"fmt"
	"strings"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/pkg/llm"
	"github.com/kart-io/sage/pkg/utils/errors"
)

// Generator 负责所有文本生成调用。
type Generator struct {
	chat         llm.ChatProvider
	systemPrompt string
}

// NewGenerator 创建生成器。
func NewGenerator(chat llm.ChatProvider, systemPrompt string) *Generator {
	if systemPrompt == "" {
		systemPrompt = strings.ReplaceAll(DefaultSystemPrompt, fewShotPlaceholder, noExamples)
	}
	return &Generator{chat: chat, systemPrompt: systemPrompt}
}

// Recontextualize 结合对话历史把追问改写为独立问题。无历史时原样返回。
func (g *Generator) Recontextualize(ctx context.Context, query string, history []model.ChatMessage) (string, error) {
	if len(history) == 0 {
		return query, nil
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: recontextualizePrompt})
	messages = appendHistory(messages, history)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})

	rewritten, err := g.chat.Chat(ctx, messages)
	if err != nil {
		return "", errors.ErrUpstreamGeneration.WithCause(err)
	}
	if rewritten = strings.TrimSpace(rewritten); rewritten == "" {
		return query, nil
	}
	return rewritten, nil
}

// Answer 基于检索到的父块上下文生成答案。
func (g *Generator) Answer(ctx context.Context, query string, history []model.ChatMessage, contexts []model.Chunk) (string, error) {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: g.systemPrompt})
	messages = appendHistory(messages, history)
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: fmt.Sprintf("User's Question: %s\n\nRetrieved Context:\n%s", query, FormatContext(contexts)),
	})

	answer, err := g.chat.Chat(ctx, messages)
	if err != nil {
		return "", errors.ErrUpstreamGeneration.WithCause(err)
	}
	return answer, nil
}

// Suggest 根据可用主题生成示例问题，每行以连字符开头。
func (g *Generator) Suggest(ctx context.Context, topics []string) (string, error) {
	list := "- " + strings.Join(topics, "\n- ")
	out, err := g.chat.Generate(ctx, fmt.Sprintf(suggestionPrompt, list), "")
	if err != nil {
		return "", errors.ErrUpstreamGeneration.WithCause(err)
	}
	return strings.TrimSpace(out), nil
}

// Summarize 生成主题全文摘要。
func (g *Generator) Summarize(ctx context.Context, topicID, content string) (string, error) {
	out, err := g.chat.Generate(ctx, fmt.Sprintf(summaryPrompt, topicID, content), "")
	if err != nil {
		return "", errors.ErrUpstreamGeneration.WithCause(err)
	}
	return strings.TrimSpace(out), nil
}

// FormatContext 以空行拼接父块内容。
func FormatContext(chunks []model.Chunk) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Content
	}
	return strings.Join(parts, "\n\n")
}

func appendHistory(messages []llm.Message, history []model.ChatMessage) []llm.Message {
	for _, m := range history {
		role := llm.RoleUser
		if m.Role == model.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: m.Content})
	}
	return messages
}

// IsInsufficient 判断答案是否包含"信息不足"标记。
func IsInsufficient(answer string) bool {
	return strings.Contains(answer, InsufficientInfoMarker)
}
