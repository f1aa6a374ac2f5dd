package biz

import (
	"context"
	"fmt"
	"strings"

	"github.com/kart-io/logger"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/internal/pkg/rag/textutil"
	"github.com/kart-io/sage/internal/sage/store"
)

// TopicCache 主题 ID 到全文与主题向量的只读映射，迭代顺序固定。
type TopicCache struct {
	order   []string
	entries map[string]model.CacheEntry
}

// NewTopicCache 由条目构建缓存。重复的主题 ID 以后写入者为准，位置保持首次出现处。
func NewTopicCache(entries []model.CacheEntry) *TopicCache {
	c := &TopicCache{entries: make(map[string]model.CacheEntry, len(entries))}
	for _, e := range entries {
		if _, dup := c.entries[e.TopicID]; dup {
			logger.Warnw("Duplicate topic id in cache, keeping the later entry", "topic_id", e.TopicID)
		} else {
			c.order = append(c.order, e.TopicID)
		}
		c.entries[e.TopicID] = e
	}
	return c
}

// BuildTopicCache 为文档库中的每个主题生成缓存条目。
// 每个父块只向量化一次；主题内容为其父块以空行拼接，主题向量为父块向量的逐元素均值。
func BuildTopicCache(ctx context.Context, docs *store.DocStore, embedder *BatchEmbedder) (*TopicCache, error) {
	parents := docs.All()
	texts := make([]string, len(parents))
	for i, p := range parents {
		texts[i] = p.Content
	}

	vectors, err := embedder.EmbedAll(ctx, texts)
	if err != nil {
		return nil, err
	}

	var (
		order    []string
		contents = make(map[string][]string)
		grouped  = make(map[string][][]float32)
	)
	for i, p := range parents {
		if _, seen := contents[p.TopicID]; !seen {
			order = append(order, p.TopicID)
		}
		contents[p.TopicID] = append(contents[p.TopicID], p.Content)
		grouped[p.TopicID] = append(grouped[p.TopicID], vectors[i])
	}

	entries := make([]model.CacheEntry, 0, len(order))
	for _, id := range order {
		mean, err := textutil.Mean(grouped[id])
		if err != nil {
			return nil, fmt.Errorf("topic %s: %w", id, err)
		}
		entries = append(entries, model.CacheEntry{
			TopicID:   id,
			Content:   strings.Join(contents[id], "\n\n"),
			Embedding: mean,
		})
	}
	return NewTopicCache(entries), nil
}

// Get 返回主题条目。
func (c *TopicCache) Get(topicID string) (model.CacheEntry, bool) {
	e, ok := c.entries[topicID]
	return e, ok
}

// Entries 按迭代顺序返回全部条目。
func (c *TopicCache) Entries() []model.CacheEntry {
	out := make([]model.CacheEntry, len(c.order))
	for i, id := range c.order {
		out[i] = c.entries[id]
	}
	return out
}

// IDs 按迭代顺序返回全部主题 ID。
func (c *TopicCache) IDs() []string {
	return append([]string(nil), c.order...)
}

// Dim 返回主题向量维度，空缓存返回 0。
func (c *TopicCache) Dim() int {
	if len(c.order) == 0 {
		return 0
	}
	return len(c.entries[c.order[0]].Embedding)
}

// Len 返回主题数。
func (c *TopicCache) Len() int {
	return len(c.order)
}
