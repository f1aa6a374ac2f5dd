package biz

import (
	"context"

	"github.com/kart-io/logger"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/internal/sage/store"
	"github.com/kart-io/sage/pkg/llm"
	"github.com/kart-io/sage/pkg/utils/errors"
)

// Retriever 以子块匹配、父块返回的方式检索上下文。
type Retriever struct {
	index    store.VectorIndex
	docs     *store.DocStore
	embedder llm.EmbeddingProvider
	topK     int
	childK   int
}

// NewRetriever 创建检索器。childK 为检索的子块数，topK 为返回的父块上限。
func NewRetriever(index store.VectorIndex, docs *store.DocStore, embedder llm.EmbeddingProvider, topK, childK int) *Retriever {
	if childK < topK {
		childK = topK
	}
	return &Retriever{index: index, docs: docs, embedder: embedder, topK: topK, childK: childK}
}

// Retrieve 返回与查询最相关的父块，按最佳子块得分排序且不重复。
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]model.Chunk, error) {
	vector, err := r.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, errors.ErrUpstreamEmbedding.WithCause(err)
	}

	hits, err := r.index.Query(ctx, vector, r.childK)
	if err != nil {
		return nil, errors.ErrInternal.WithCause(err)
	}

	seen := make(map[string]bool, len(hits))
	out := make([]model.Chunk, 0, r.topK)
	for _, h := range hits {
		if len(out) >= r.topK {
			break
		}
		if seen[h.ParentKey] {
			continue
		}
		seen[h.ParentKey] = true

		parent, ok := r.docs.Get(h.ParentKey)
		if !ok {
			logger.Warnw("Index hit references a missing parent chunk", "parent_key", h.ParentKey)
			continue
		}
		out = append(out, parent)
	}
	return out, nil
}
