package biz

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/internal/pkg/rag/chunker"
	"github.com/kart-io/sage/internal/pkg/rag/docutil"
	"github.com/kart-io/sage/internal/pkg/rag/topic"
	"github.com/kart-io/sage/internal/sage/metrics"
	"github.com/kart-io/sage/internal/sage/store"
	"github.com/kart-io/sage/pkg/infra/pool"
	"github.com/kart-io/sage/pkg/llm"
)

// Corpus 初始化完成后的只读检索状态。
type Corpus struct {
	Docs      *store.DocStore
	Topics    *TopicCache
	Retriever *Retriever
}

// Initializer 加载或构建索引与文档库，并生成主题缓存。
type Initializer struct {
	cfg      *Config
	index    store.VectorIndex
	provider llm.EmbeddingProvider
	embedder *BatchEmbedder
	metrics  *metrics.SageMetrics
}

// NewInitializer 创建初始化器。p 为向量化批次使用的协程池。
func NewInitializer(cfg *Config, index store.VectorIndex, provider llm.EmbeddingProvider, p *pool.Pool, m *metrics.SageMetrics) *Initializer {
	return &Initializer{
		cfg:      cfg,
		index:    index,
		provider: provider,
		embedder: NewBatchEmbedder(provider, p, cfg.EmbedBatchSize),
		metrics:  m,
	}
}

// Run 执行一次完整初始化。
// 已持久化的索引和文档库都可用时直接加载，否则全量构建并持久化。
// 加载的索引与当前向量模型的维度不一致时同样重建。
func (i *Initializer) Run(ctx context.Context) (*Corpus, error) {
	start := time.Now()

	docs, err := i.load(ctx)
	if err != nil {
		return nil, err
	}

	var topics *TopicCache
	if docs != nil {
		if topics, err = BuildTopicCache(ctx, docs, i.embedder); err != nil {
			return nil, fmt.Errorf("构建主题缓存失败: %w", err)
		}
		if dim, indexed := topics.Dim(), i.index.Meta().Dim; dim != indexed {
			logger.Warnw("Embedding dimension changed, rebuilding", "index_dim", indexed, "embedding_dim", dim)
			docs = nil
		}
	}

	if docs == nil {
		if docs, err = i.build(ctx); err != nil {
			i.metrics.RecordIndexing(0, 0, err)
			return nil, err
		}
		if topics, err = BuildTopicCache(ctx, docs, i.embedder); err != nil {
			return nil, fmt.Errorf("构建主题缓存失败: %w", err)
		}
	}

	logger.Infow("Knowledge base ready",
		"parents", docs.Len(),
		"children", i.index.Len(),
		"topics", topics.Len(),
		"elapsed", time.Since(start).String(),
	)
	return &Corpus{Docs: docs, Topics: topics, Retriever: NewRetriever(i.index, docs, i.provider, i.cfg.RetrievalTopK, i.cfg.RetrievalChildK)}, nil
}

// indexMeta 当前配置对应的索引元数据，Dim 由构建时的向量决定。
func (i *Initializer) indexMeta() store.IndexMeta {
	return store.IndexMeta{Provider: i.cfg.EmbeddingProvider, Model: i.cfg.EmbeddingModel}
}

// load 返回已持久化的文档库；需要重建时返回 nil。
func (i *Initializer) load(ctx context.Context) (*store.DocStore, error) {
	if i.cfg.RebuildIndex {
		logger.Infow("Rebuild requested, ignoring persisted index")
		return nil, nil
	}

	err := i.index.Load(ctx)
	switch {
	case stderrors.Is(err, store.ErrIndexNotFound):
		logger.Infow("No persisted index found, building")
		return nil, nil
	case err != nil:
		logger.Warnw("Persisted index unusable, rebuilding", "error", err.Error())
		return nil, nil
	}
	if got, want := i.index.Meta(), i.indexMeta(); !got.SameModel(want) {
		logger.Warnw("Persisted index built with another embedding model, rebuilding",
			"index_provider", got.Provider,
			"index_model", got.Model,
			"provider", want.Provider,
			"model", want.Model,
		)
		return nil, nil
	}

	if !docutil.FileExists(i.cfg.DocstorePath) {
		logger.Warnw("Document store missing for persisted index, rebuilding", "path", i.cfg.DocstorePath)
		return nil, nil
	}
	docs, err := store.LoadDocStore(i.cfg.DocstorePath)
	if err != nil {
		logger.Warnw("Document store unusable, rebuilding", "path", i.cfg.DocstorePath, "error", err.Error())
		return nil, nil
	}
	if docs.Len() == 0 || i.index.Len() == 0 {
		logger.Warnw("Persisted index is empty, rebuilding")
		return nil, nil
	}

	logger.Infow("Loaded persisted index", "parents", docs.Len(), "children", i.index.Len())
	return docs, nil
}

// build 切分全部源文档、向量化子块并持久化索引与文档库。
func (i *Initializer) build(ctx context.Context) (*store.DocStore, error) {
	ck, err := chunker.New(i.cfg.Chunk)
	if err != nil {
		return nil, err
	}

	documents, err := i.readDocuments()
	if err != nil {
		return nil, err
	}

	var parents, children []model.Chunk
	for _, doc := range documents {
		p, c := ck.Split(doc)
		parents = append(parents, p...)
		children = append(children, c...)
	}
	if len(children) == 0 {
		return nil, fmt.Errorf("知识库 %s 没有可索引的内容", i.cfg.KnowledgeBasePath)
	}
	logger.Infow("Chunked knowledge base", "documents", len(documents), "parents", len(parents), "children", len(children))

	texts := make([]string, len(children))
	for n, c := range children {
		texts[n] = c.Content
	}
	vectors, err := i.embedder.EmbedAll(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("子块向量化失败: %w", err)
	}

	entries := make([]store.IndexEntry, len(children))
	for n, c := range children {
		entries[n] = store.IndexEntry{ChunkKey: c.Key, ParentKey: c.ParentKey, Vector: vectors[n]}
	}
	if err := i.index.Build(ctx, i.indexMeta(), entries); err != nil {
		return nil, fmt.Errorf("构建向量索引失败: %w", err)
	}

	docs, err := store.NewDocStore(parents)
	if err != nil {
		return nil, err
	}
	if err := i.index.Save(ctx); err != nil {
		return nil, fmt.Errorf("保存向量索引失败: %w", err)
	}
	if err := docs.Save(i.cfg.DocstorePath); err != nil {
		return nil, fmt.Errorf("保存文档库失败: %w", err)
	}

	i.metrics.RecordIndexing(len(documents), len(children), nil)
	return docs, nil
}

// readDocuments 读取知识库文件并分配唯一主题 ID，跳过空文件。
func (i *Initializer) readDocuments() ([]model.Document, error) {
	paths, err := docutil.FindFiles(i.cfg.KnowledgeBasePath, i.cfg.KnowledgeBaseExts)
	if err != nil {
		return nil, fmt.Errorf("扫描知识库失败: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("知识库 %s 中没有匹配 %v 的文件", i.cfg.KnowledgeBasePath, i.cfg.KnowledgeBaseExts)
	}

	ids, renamed := topic.Assign(paths)
	for _, p := range renamed {
		logger.Warnw("Duplicate topic id, suffixed", "path", p, "topic_id", ids[p])
	}

	documents := make([]model.Document, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("读取 %s 失败: %w", p, err)
		}
		if strings.TrimSpace(string(data)) == "" {
			logger.Warnw("Skipping empty document", "path", p)
			continue
		}
		documents = append(documents, model.Document{SourcePath: p, TopicID: ids[p], Content: string(data)})
	}
	return documents, nil
}
