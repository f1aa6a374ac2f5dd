package biz

import (
	"context"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/internal/pkg/rag/textutil"
	"github.com/kart-io/sage/internal/sage/store"
	"github.com/kart-io/sage/pkg/llm"
	"github.com/kart-io/sage/pkg/utils/errors"
)

// ProfileEMAWeight 新查询向量在画像向量指数移动平均中的权重。
const ProfileEMAWeight = 0.2

// ProfileUpdater 在成功回答后更新用户画像。
type ProfileUpdater struct {
	store    store.ProfileStore
	embedder llm.EmbeddingProvider
	now      func() time.Time
}

// NewProfileUpdater 创建画像更新器。
func NewProfileUpdater(profiles store.ProfileStore, embedder llm.EmbeddingProvider) *ProfileUpdater {
	return &ProfileUpdater{store: profiles, embedder: embedder, now: time.Now}
}

// Update 记录查询、合并兴趣主题并混合查询向量。
// 向量化在加锁之前完成，失败时画像保持不变；画像向量维度与当前模型不同时以查询向量重新起始。
func (u *ProfileUpdater) Update(ctx context.Context, userID, query string, topics []string) (*model.Profile, error) {
	vector, err := u.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, errors.ErrUpstreamEmbedding.WithCause(err)
	}

	at := u.now()
	p, err := u.store.Update(ctx, userID, func(p *model.Profile) error {
		prev := p.ProfileVector
		if len(prev) != 0 && len(prev) != len(vector) {
			logger.Warnw("Profile vector dimension changed, reseeding",
				"user_id", userID,
				"profile_dim", len(prev),
				"embedding_dim", len(vector),
			)
			prev = nil
		}
		blended, err := textutil.Blend(prev, vector, ProfileEMAWeight)
		if err != nil {
			return err
		}
		p.RecordQuery(query, at)
		p.AddInterests(topics)
		p.ProfileVector = blended
		return nil
	})
	if err != nil {
		return nil, errors.ErrProfileStore.WithCause(err)
	}
	return p, nil
}
