package biz

import (
	"context"
	"fmt"

	"github.com/kart-io/sage/pkg/infra/pool"
	"github.com/kart-io/sage/pkg/llm"
)

// BatchEmbedder 将大量文本分批并发向量化，结果顺序与输入一致。
type BatchEmbedder struct {
	provider  llm.EmbeddingProvider
	pool      *pool.Pool
	batchSize int
}

// NewBatchEmbedder 创建批量向量化器。p 为空时每批使用独立 goroutine。
func NewBatchEmbedder(provider llm.EmbeddingProvider, p *pool.Pool, batchSize int) *BatchEmbedder {
	if batchSize <= 0 {
		batchSize = 32
	}
	return &BatchEmbedder{provider: provider, pool: p, batchSize: batchSize}
}

// EmbedAll 向量化全部文本，任一批失败即返回错误。
func (b *BatchEmbedder) EmbedAll(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	batches := (len(texts) + b.batchSize - 1) / b.batchSize

	err := pool.Map(ctx, b.pool, batches, func(ctx context.Context, i int) error {
		start := i * b.batchSize
		end := min(start+b.batchSize, len(texts))

		vectors, err := b.provider.Embed(ctx, texts[start:end])
		if err != nil {
			return fmt.Errorf("embed batch %d: %w", i, err)
		}
		if len(vectors) != end-start {
			return fmt.Errorf("embed batch %d: %s returned %d vectors for %d texts", i, b.provider.Name(), len(vectors), end-start)
		}
		copy(out[start:end], vectors)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
