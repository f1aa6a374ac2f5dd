package biz_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kart-io/sage/internal/sage/store"
	"github.com/kart-io/sage/pkg/llm"
)

var keywords = []string{"alpha", "beta", "gamma", "delta"}

// keywordEmbedder 按关键词出现次数生成向量，结果确定。
// extra 个附加维度用于模拟更换向量模型。
type keywordEmbedder struct {
	texts atomic.Int64
	fail  atomic.Bool
	extra int
}

func (e *keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if e.fail.Load() {
		return nil, errors.New("embedding backend down")
	}
	e.texts.Add(int64(len(texts)))
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = keywordVector(t)
		for j := 0; j < e.extra; j++ {
			out[i] = append(out[i], 0.01)
		}
	}
	return out, nil
}

func (e *keywordEmbedder) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	return llm.EmbedSingle(ctx, e, text)
}

func (e *keywordEmbedder) Name() string { return "keyword" }

func keywordVector(text string) []float32 {
	lower := strings.ToLower(text)
	v := make([]float32, len(keywords))
	for i, k := range keywords {
		v[i] = float32(strings.Count(lower, k)) + 0.01
	}
	return v
}

// scriptedChat 按消息内容返回预设结果。
type scriptedChat struct {
	mu        sync.Mutex
	answer    string
	rewrite   string
	fail      error
	rewrites  []string
	answers   []string
	generated []string
}

func (c *scriptedChat) Chat(_ context.Context, messages []llm.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return "", c.fail
	}
	last := messages[len(messages)-1].Content
	if strings.HasPrefix(last, "User's Question:") {
		c.answers = append(c.answers, last)
		return c.answer, nil
	}
	c.rewrites = append(c.rewrites, last)
	return c.rewrite, nil
}

func (c *scriptedChat) Generate(_ context.Context, prompt, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return "", c.fail
	}
	c.generated = append(c.generated, prompt)
	if strings.Contains(prompt, "AVAILABLE TOPICS") {
		return "- What is alpha?\n- How does gamma work?", nil
	}
	return "A friendly summary.", nil
}

func (c *scriptedChat) Name() string { return "scripted" }

// panicIndex 加载时 panic 的索引。
type panicIndex struct {
	store.VectorIndex
}

func (panicIndex) Load(context.Context) error {
	panic("corrupted index state")
}
