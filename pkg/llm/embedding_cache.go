package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/kart-io/logger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/sage/pkg/utils/json"
)

// EmbeddingCacheConfig Embedding 缓存配置。
type EmbeddingCacheConfig struct {
	// TTL 缓存过期时间。
	TTL time.Duration
	// KeyPrefix 缓存键前缀，键中包含模型名以免换模型后读到旧向量。
	KeyPrefix string
}

// DefaultEmbeddingCacheConfig 返回默认的 Embedding 缓存配置。
func DefaultEmbeddingCacheConfig() *EmbeddingCacheConfig {
	return &EmbeddingCacheConfig{
		TTL:       7 * 24 * time.Hour,
		KeyPrefix: "sage:emb:",
	}
}

// RedisKV 缓存所需的 redis 命令子集，*goredis.Client 直接满足。
type RedisKV interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
}

// CachedEmbeddingProvider 为 EmbeddingProvider 增加 redis 缓存。
// 缓存故障只记录日志并回落到底层供应商，不影响结果。
type CachedEmbeddingProvider struct {
	provider EmbeddingProvider
	redis    RedisKV
	model    string
	config   *EmbeddingCacheConfig
}

// NewCachedEmbeddingProvider 创建带缓存的 Embedding Provider。
func NewCachedEmbeddingProvider(provider EmbeddingProvider, redis RedisKV, model string, config *EmbeddingCacheConfig) *CachedEmbeddingProvider {
	if config == nil {
		config = DefaultEmbeddingCacheConfig()
	}
	return &CachedEmbeddingProvider{
		provider: provider,
		redis:    redis,
		model:    model,
		config:   config,
	}
}

// cacheKey 基于供应商、模型和文本生成缓存键（SHA256）。
func (c *CachedEmbeddingProvider) cacheKey(text string) string {
	hash := sha256.Sum256([]byte(c.provider.Name() + "\x00" + c.model + "\x00" + text))
	return c.config.KeyPrefix + hex.EncodeToString(hash[:])
}

func (c *CachedEmbeddingProvider) lookup(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			logger.Warnw("redis get error, falling back to provider", "error", err.Error())
		}
		return nil, false
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil || len(embedding) == 0 {
		logger.Warnw("corrupt cached embedding, deleting", "key", key)
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return embedding, true
}

func (c *CachedEmbeddingProvider) store(ctx context.Context, key string, embedding []float32) {
	data, err := json.Marshal(embedding)
	if err != nil {
		logger.Warnw("failed to marshal embedding for caching", "error", err.Error())
		return
	}
	if err := c.redis.Set(ctx, key, data, c.config.TTL).Err(); err != nil {
		logger.Warnw("failed to cache embedding", "error", err.Error(), "key", key)
	}
}

// EmbedSingle 生成单个文本的 Embedding（带缓存）。
func (c *CachedEmbeddingProvider) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if embedding, ok := c.lookup(ctx, key); ok {
		return embedding, nil
	}

	embedding, err := c.provider.EmbedSingle(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, embedding)
	return embedding, nil
}

// Embed 批量生成 Embedding，仅对未命中的文本调用底层供应商。
func (c *CachedEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if embedding, ok := c.lookup(ctx, c.cacheKey(text)); ok {
			embeddings[i] = embedding
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		logger.Debugw("all embeddings from cache", "total", len(texts))
		return embeddings, nil
	}

	logger.Debugw("embedding cache miss (batch)", "total", len(texts), "uncached", len(missTexts))
	fresh, err := c.provider.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fresh) != len(missTexts) {
		return nil, errors.New("底层供应商返回的向量数量与输入不一致")
	}
	for i, idx := range missIdx {
		embeddings[idx] = fresh[i]
		c.store(ctx, c.cacheKey(missTexts[i]), fresh[i])
	}
	return embeddings, nil
}

// Name 返回底层 provider 的名称。
func (c *CachedEmbeddingProvider) Name() string {
	return c.provider.Name() + "-cached"
}

var _ EmbeddingProvider = (*CachedEmbeddingProvider)(nil)
