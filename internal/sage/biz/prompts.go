package biz

import (
	"fmt"
	"os"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/sage/pkg/utils/json"
)

// InsufficientInfoMarker 生成层在上下文不足以回答时输出的固定标记。
const InsufficientInfoMarker = "I'm sorry, I don't have enough information to answer that question"

// SuggestionLead 追加在建议问题之前的引导语。
const SuggestionLead = "\n\nTo give you an idea of what I can answer, you could ask me something like:\n"

const fewShotPlaceholder = "{rag_examples}"

const noExamples = "*(No examples loaded)*"

// DefaultSystemPrompt 内置系统提示词，{rag_examples} 处注入示例。
const DefaultSystemPrompt = `You are a technical assistant answering questions strictly from a fixed knowledge base.

Rules:
- Use only the retrieved context. Do not rely on outside knowledge.
- Cite the concepts you use in plain language and keep the answer focused on the question.
- If the context does not contain the answer, reply exactly with: "` + InsufficientInfoMarker + `." and nothing else.

Examples of good answers:

{rag_examples}`

const recontextualizePrompt = "Given a chat history and a follow-up question, rephrase the follow-up question to be a standalone question that captures all relevant context. Return only the question."

const suggestionPrompt = `A user asked a question I could not answer. My knowledge is limited to a specific list of technical documents. Based on the following list of available document topics, generate 3-4 example questions a user could ask that you *would* be able to answer. **Rule:** Your response MUST ONLY be the list of questions. Each question must start with a hyphen. **Rule:** Do NOT include any introduction, conclusion, or conversational text.

AVAILABLE TOPICS:
%s

Example Questions:`

const summaryPrompt = `You are an AI assistant. A user has requested information about '%s'. Below is the full text of the relevant document. Provide a comprehensive summary of this document, capturing the key points clearly and in a friendly, helpful tone.

Document Content:
---
%s
---

Summary:`

// FewShotExample 一条问答示例。
type FewShotExample struct {
	UserQuery       string `json:"user_query"`
	ContextSummary  string `json:"context_summary"`
	AssistantAnswer string `json:"assistant_answer"`
}

type fewShotFile struct {
	RAGExamples []FewShotExample `json:"rag_examples"`
}

// LoadSystemPrompt 读取系统提示词并注入示例。
// promptFile 为空时使用内置提示词；示例文件缺失或无法解析时记录告警并注入占位文本。
func LoadSystemPrompt(promptFile, fewShotPath string) (string, error) {
	prompt := DefaultSystemPrompt
	if promptFile != "" {
		data, err := os.ReadFile(promptFile)
		if err != nil {
			return "", fmt.Errorf("读取系统提示词失败: %w", err)
		}
		prompt = string(data)
	}

	examples := noExamples
	if fewShotPath != "" {
		formatted, err := loadFewShot(fewShotPath)
		if err != nil {
			logger.Warnw("Few-shot examples not loaded", "path", fewShotPath, "error", err.Error())
		} else {
			examples = formatted
		}
	}
	return strings.ReplaceAll(prompt, fewShotPlaceholder, examples), nil
}

func loadFewShot(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	var f fewShotFile
	if err := json.Unmarshal(data, &f); err != nil {
		return "", err
	}
	if len(f.RAGExamples) == 0 {
		return noExamples, nil
	}
	return FormatFewShot(f.RAGExamples), nil
}

// FormatFewShot 将示例格式化为提示词片段。
func FormatFewShot(examples []FewShotExample) string {
	parts := make([]string, len(examples))
	for i, ex := range examples {
		parts[i] = fmt.Sprintf("## EXAMPLE %d\n\n**User's Question:**\n%s\n\n**Retrieved Context Summary (for illustration):**\n%s\n\n**Your Ideal Answer:**\n%s",
			i+1, ex.UserQuery, ex.ContextSummary, ex.AssistantAnswer)
	}
	return strings.Join(parts, "\n\n")
}
