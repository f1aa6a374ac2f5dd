package biz

import (
	"github.com/kart-io/sage/internal/pkg/rag/chunker"
	sageopts "github.com/kart-io/sage/pkg/options/sage"
)

// Config 引擎配置。
type Config struct {
	// KnowledgeBasePath 知识库目录。
	KnowledgeBasePath string
	// KnowledgeBaseExts 纳入索引的文件扩展名。
	KnowledgeBaseExts []string
	// DocstorePath 父块文档库持久化路径。
	DocstorePath string
	// EmbeddingProvider 与 EmbeddingModel 随索引持久化，变化后已有索引作废。
	EmbeddingProvider string
	EmbeddingModel    string
	// Chunk 两级切分参数。
	Chunk chunker.Options
	// RetrievalTopK 每次查询返回的父块上限。
	RetrievalTopK int
	// RetrievalChildK 父块去重前检索的子块数量。
	RetrievalChildK int
	// MaxRecommendations 推荐条数上限。
	MaxRecommendations int
	// Bands 相似度分档，仅用于日志。
	Bands SimilarityBands
	// EmbedBatchSize 构建索引时每次向量化请求的文本数。
	EmbedBatchSize int
	// RebuildIndex 忽略已持久化的索引，强制重建。
	RebuildIndex bool
	// RecentQueries 指标汇总中的最近查询条数。
	RecentQueries int
}

// NewConfig 由命令行选项生成引擎配置。
func NewConfig(o *sageopts.Options) *Config {
	return &Config{
		KnowledgeBasePath: o.KnowledgeBasePath,
		KnowledgeBaseExts: o.KnowledgeBaseExts,
		DocstorePath:      o.DocstorePath,
		Chunk: chunker.Options{
			ParentSize:    o.ParentChunkSize,
			ParentOverlap: o.ParentChunkOverlap,
			ChildSize:     o.ChildChunkSize,
			ChildOverlap:  o.ChildChunkOverlap,
		},
		RetrievalTopK:      o.RetrievalTopK,
		RetrievalChildK:    o.RetrievalChildK,
		MaxRecommendations: o.MaxRecommendations,
		Bands:              SimilarityBands{High: o.RecommendationThresholdHigh, Low: o.RecommendationThresholdLow},
		EmbedBatchSize:     o.EmbedBatchSize,
		RebuildIndex:       o.RebuildIndex,
		RecentQueries:      o.RecentQueries,
	}
}

// DefaultConfig 返回默认配置。
func DefaultConfig() *Config {
	o := sageopts.NewOptions()
	_ = o.Complete()
	return NewConfig(o)
}
