// Package sage provides configuration options for the retrieval and recommendation engine.
package sage

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/kart-io/sage/pkg/options"
)

var _ options.IOptions = (*Options)(nil)

// Vector index backends.
const (
	VectorBackendFlat   = "flat"
	VectorBackendMilvus = "milvus"
)

// Profile store backends.
const (
	ProfileBackendFile   = "file"
	ProfileBackendRedis  = "redis"
	ProfileBackendSQLite = "sqlite"
)

// Options contains engine configuration.
type Options struct {
	// KnowledgeBasePath is the directory scanned for source documents.
	KnowledgeBasePath string `json:"knowledge-base-path" mapstructure:"knowledge-base-path"`
	// KnowledgeBaseExts lists the file extensions ingested.
	KnowledgeBaseExts []string `json:"knowledge-base-exts" mapstructure:"knowledge-base-exts"`

	// CacheDir holds the persisted index and document store.
	CacheDir     string `json:"cache-dir" mapstructure:"cache-dir"`
	IndexPath    string `json:"index-path" mapstructure:"index-path"`
	DocstorePath string `json:"docstore-path" mapstructure:"docstore-path"`

	ProfilePath     string `json:"profile-path" mapstructure:"profile-path"`
	ProfileDBPath   string `json:"profile-db-path" mapstructure:"profile-db-path"`
	QueryLogPath    string `json:"query-log-path" mapstructure:"query-log-path"`
	FeedbackLogPath string `json:"feedback-log-path" mapstructure:"feedback-log-path"`

	// SystemPromptFile overrides the built-in answer prompt.
	SystemPromptFile string `json:"system-prompt-file" mapstructure:"system-prompt-file"`
	// FewShotFile is injected at {rag_examples} in the system prompt.
	FewShotFile string `json:"few-shot-file" mapstructure:"few-shot-file"`

	ParentChunkSize    int `json:"parent-chunk-size" mapstructure:"parent-chunk-size"`
	ParentChunkOverlap int `json:"parent-chunk-overlap" mapstructure:"parent-chunk-overlap"`
	ChildChunkSize     int `json:"child-chunk-size" mapstructure:"child-chunk-size"`
	ChildChunkOverlap  int `json:"child-chunk-overlap" mapstructure:"child-chunk-overlap"`

	// RetrievalTopK is the number of parent contexts returned per query.
	RetrievalTopK int `json:"retrieval-top-k" mapstructure:"retrieval-top-k"`
	// RetrievalChildK is the number of child hits searched before parent dedup.
	// Zero or anything below RetrievalTopK means the same as RetrievalTopK.
	RetrievalChildK int `json:"retrieval-child-k" mapstructure:"retrieval-child-k"`

	MaxRecommendations int `json:"max-recommendations" mapstructure:"max-recommendations"`
	// Similarity bands from the earlier threshold-based ranking. Logged only.
	RecommendationThresholdHigh float64 `json:"recommendation-threshold-high" mapstructure:"recommendation-threshold-high"`
	RecommendationThresholdLow  float64 `json:"recommendation-threshold-low" mapstructure:"recommendation-threshold-low"`

	// RecentQueries is the number of recent queries returned by the metrics summary.
	RecentQueries int `json:"recent-queries" mapstructure:"recent-queries"`

	VectorBackend  string `json:"vector-backend" mapstructure:"vector-backend"`
	ProfileBackend string `json:"profile-backend" mapstructure:"profile-backend"`

	EmbedBatchSize   int  `json:"embed-batch-size" mapstructure:"embed-batch-size"`
	EmbedConcurrency int  `json:"embed-concurrency" mapstructure:"embed-concurrency"`
	RebuildIndex     bool `json:"rebuild-index" mapstructure:"rebuild-index"`

	// EmbeddingCache enables the redis embedding cache.
	EmbeddingCache    bool          `json:"embedding-cache" mapstructure:"embedding-cache"`
	EmbeddingCacheTTL time.Duration `json:"embedding-cache-ttl" mapstructure:"embedding-cache-ttl"`
}

// NewOptions creates new Options with defaults.
func NewOptions() *Options {
	return &Options{
		KnowledgeBasePath:           "knowledge_base",
		KnowledgeBaseExts:           []string{".md", ".txt"},
		CacheDir:                    "_output/cache",
		ProfilePath:                 "_output/user_profiles.json",
		ProfileDBPath:               "_output/sage.db",
		QueryLogPath:                "_output/logs/queries.jsonl",
		FeedbackLogPath:             "_output/logs/feedback.jsonl",
		ParentChunkSize:             2000,
		ParentChunkOverlap:          200,
		ChildChunkSize:              400,
		ChildChunkOverlap:           50,
		RetrievalTopK:               4,
		MaxRecommendations:          3,
		RecommendationThresholdHigh: 0.45,
		RecommendationThresholdLow:  0.35,
		RecentQueries:               10,
		VectorBackend:               VectorBackendFlat,
		ProfileBackend:              ProfileBackendFile,
		EmbedBatchSize:              32,
		EmbedConcurrency:            4,
		EmbeddingCacheTTL:           7 * 24 * time.Hour,
	}
}

// AddFlags adds flags for engine options to the specified FlagSet.
func (o *Options) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	p := options.Join(prefixes...) + "sage."
	fs.StringVar(&o.KnowledgeBasePath, p+"knowledge-base-path", o.KnowledgeBasePath, "Directory containing the source documents.")
	fs.StringSliceVar(&o.KnowledgeBaseExts, p+"knowledge-base-exts", o.KnowledgeBaseExts, "File extensions to ingest.")
	fs.StringVar(&o.CacheDir, p+"cache-dir", o.CacheDir, "Directory for the persisted index and document store.")
	fs.StringVar(&o.IndexPath, p+"index-path", o.IndexPath, "Vector index file. Defaults to <cache-dir>/index.gob.")
	fs.StringVar(&o.DocstorePath, p+"docstore-path", o.DocstorePath, "Document store file. Defaults to <cache-dir>/docstore.json.")
	fs.StringVar(&o.ProfilePath, p+"profile-path", o.ProfilePath, "User profile JSON file (file backend).")
	fs.StringVar(&o.ProfileDBPath, p+"profile-db-path", o.ProfileDBPath, "SQLite database file (sqlite backend).")
	fs.StringVar(&o.QueryLogPath, p+"query-log-path", o.QueryLogPath, "Query log (JSON lines).")
	fs.StringVar(&o.FeedbackLogPath, p+"feedback-log-path", o.FeedbackLogPath, "Feedback log (JSON lines).")
	fs.StringVar(&o.SystemPromptFile, p+"system-prompt-file", o.SystemPromptFile, "File overriding the built-in system prompt.")
	fs.StringVar(&o.FewShotFile, p+"few-shot-file", o.FewShotFile, "Few-shot examples injected into the system prompt.")
	fs.IntVar(&o.ParentChunkSize, p+"parent-chunk-size", o.ParentChunkSize, "Parent chunk size in characters.")
	fs.IntVar(&o.ParentChunkOverlap, p+"parent-chunk-overlap", o.ParentChunkOverlap, "Parent chunk overlap in characters.")
	fs.IntVar(&o.ChildChunkSize, p+"child-chunk-size", o.ChildChunkSize, "Child chunk size in characters.")
	fs.IntVar(&o.ChildChunkOverlap, p+"child-chunk-overlap", o.ChildChunkOverlap, "Child chunk overlap in characters.")
	fs.IntVar(&o.RetrievalTopK, p+"retrieval-top-k", o.RetrievalTopK, "Maximum parent contexts per query.")
	fs.IntVar(&o.RetrievalChildK, p+"retrieval-child-k", o.RetrievalChildK, "Child chunks searched per query. Defaults to retrieval-top-k.")
	fs.IntVar(&o.MaxRecommendations, p+"max-recommendations", o.MaxRecommendations, "Maximum recommendations per request.")
	fs.Float64Var(&o.RecommendationThresholdHigh, p+"recommendation-threshold-high", o.RecommendationThresholdHigh, "High similarity band (informational).")
	fs.Float64Var(&o.RecommendationThresholdLow, p+"recommendation-threshold-low", o.RecommendationThresholdLow, "Low similarity band (informational).")
	fs.IntVar(&o.RecentQueries, p+"recent-queries", o.RecentQueries, "Recent queries included in the metrics summary.")
	fs.StringVar(&o.VectorBackend, p+"vector-backend", o.VectorBackend, "Vector index backend (flat|milvus).")
	fs.StringVar(&o.ProfileBackend, p+"profile-backend", o.ProfileBackend, "Profile store backend (file|redis|sqlite).")
	fs.IntVar(&o.EmbedBatchSize, p+"embed-batch-size", o.EmbedBatchSize, "Texts per embedding request during ingestion.")
	fs.IntVar(&o.EmbedConcurrency, p+"embed-concurrency", o.EmbedConcurrency, "Concurrent embedding requests during ingestion.")
	fs.BoolVar(&o.RebuildIndex, p+"rebuild-index", o.RebuildIndex, "Ignore the persisted index and rebuild it.")
	fs.BoolVar(&o.EmbeddingCache, p+"embedding-cache", o.EmbeddingCache, "Cache embeddings in redis.")
	fs.DurationVar(&o.EmbeddingCacheTTL, p+"embedding-cache-ttl", o.EmbeddingCacheTTL, "Embedding cache TTL.")
}

// Complete fills derived paths.
func (o *Options) Complete() error {
	if o.IndexPath == "" {
		o.IndexPath = filepath.Join(o.CacheDir, "index.gob")
	}
	if o.DocstorePath == "" {
		o.DocstorePath = filepath.Join(o.CacheDir, "docstore.json")
	}
	if o.RetrievalChildK < o.RetrievalTopK {
		o.RetrievalChildK = o.RetrievalTopK
	}
	return nil
}

// Validate validates the engine options.
func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.KnowledgeBasePath == "" {
		errs = append(errs, fmt.Errorf("sage.knowledge-base-path is required"))
	}
	if len(o.KnowledgeBaseExts) == 0 {
		errs = append(errs, fmt.Errorf("sage.knowledge-base-exts must not be empty"))
	}
	errs = append(errs, validateChunk("parent", o.ParentChunkSize, o.ParentChunkOverlap)...)
	errs = append(errs, validateChunk("child", o.ChildChunkSize, o.ChildChunkOverlap)...)
	if o.ChildChunkSize > o.ParentChunkSize {
		errs = append(errs, fmt.Errorf("sage.child-chunk-size must not exceed sage.parent-chunk-size"))
	}
	if o.RetrievalTopK <= 0 {
		errs = append(errs, fmt.Errorf("sage.retrieval-top-k must be positive"))
	}
	if o.MaxRecommendations <= 0 {
		errs = append(errs, fmt.Errorf("sage.max-recommendations must be positive"))
	}
	if o.RecommendationThresholdLow > o.RecommendationThresholdHigh {
		errs = append(errs, fmt.Errorf("sage.recommendation-threshold-low must not exceed sage.recommendation-threshold-high"))
	}
	if o.EmbedBatchSize <= 0 || o.EmbedConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("sage.embed-batch-size and sage.embed-concurrency must be positive"))
	}
	switch o.VectorBackend {
	case VectorBackendFlat, VectorBackendMilvus:
	default:
		errs = append(errs, fmt.Errorf("sage.vector-backend must be flat or milvus, got %q", o.VectorBackend))
	}
	switch o.ProfileBackend {
	case ProfileBackendFile, ProfileBackendRedis, ProfileBackendSQLite:
	default:
		errs = append(errs, fmt.Errorf("sage.profile-backend must be file, redis or sqlite, got %q", o.ProfileBackend))
	}
	return errs
}

func validateChunk(level string, size, overlap int) []error {
	var errs []error
	if size <= 0 {
		errs = append(errs, fmt.Errorf("sage.%s-chunk-size must be positive", level))
	}
	if overlap < 0 || overlap >= size {
		errs = append(errs, fmt.Errorf("sage.%s-chunk-overlap must be in [0, %s-chunk-size)", level, level))
	}
	return errs
}

// NeedsRedis reports whether any component uses redis.
func (o *Options) NeedsRedis() bool {
	return o.EmbeddingCache || o.ProfileBackend == ProfileBackendRedis
}
