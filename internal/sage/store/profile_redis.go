package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/pkg/utils/json"
)

// RedisClient RedisProfileStore 使用的 redis 命令子集，*goredis.Client 实现了该接口。
type RedisClient interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
	Del(ctx context.Context, keys ...string) *goredis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *goredis.ScanCmd
}

const defaultProfileKeyPrefix = "sage:profile:"

// RedisProfileStore 每个画像以 JSON 字符串存于 <prefix><user_id>。
// 更新仅在本进程内按用户串行化。
type RedisProfileStore struct {
	client RedisClient
	prefix string
	locks  *keyedMutex
	closer func() error
}

// NewRedisProfileStore 创建画像存储，closer 非空时由 Close 调用。
func NewRedisProfileStore(client RedisClient, closer func() error) *RedisProfileStore {
	return &RedisProfileStore{
		client: client,
		prefix: defaultProfileKeyPrefix,
		locks:  newKeyedMutex(),
		closer: closer,
	}
}

func (s *RedisProfileStore) key(userID string) string {
	return s.prefix + userID
}

// Load 返回已存储的画像，不存在时返回空画像。
func (s *RedisProfileStore) Load(ctx context.Context, userID string) (*model.Profile, error) {
	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return &model.Profile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get profile: %w", err)
	}

	p := &model.Profile{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("decode profile %s: %w", userID, err)
	}
	return p, nil
}

// Save 覆盖写入画像。
func (s *RedisProfileStore) Save(ctx context.Context, userID string, p *model.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(userID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set profile: %w", err)
	}
	return nil
}

// Update 持有用户锁完成加载、修改与保存。
func (s *RedisProfileStore) Update(ctx context.Context, userID string, fn func(p *model.Profile) error) (*model.Profile, error) {
	unlock := s.locks.Lock(userID)
	defer unlock()

	p, err := s.Load(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := fn(p); err != nil {
		return nil, err
	}
	if err := s.Save(ctx, userID, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Reset 删除画像前缀下的全部 key。
func (s *RedisProfileStore) Reset(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 500).Result()
		if err != nil {
			return fmt.Errorf("redis scan profiles: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis delete profiles: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Close 在提供了 closer 时释放客户端。
func (s *RedisProfileStore) Close() error {
	if s.closer != nil {
		return s.closer()
	}
	return nil
}

var _ ProfileStore = (*RedisProfileStore)(nil)
