package biz

import (
	"sort"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/internal/pkg/rag/textutil"
	"github.com/kart-io/sage/internal/pkg/rag/topic"
)

// 推荐说明文案。
const (
	ExplanationDiverse = "relevant to your interests, not yet explored."
	ExplanationRelated = "related topic, may also interest you."
)

// RankedTopic 带相似度的推荐结果。
type RankedTopic struct {
	model.Recommendation
	Score float64
}

// SimilarityBands 早期按阈值分档的相似度区间，现仅用于日志。
type SimilarityBands struct {
	High float64
	Low  float64
}

// Band 返回相似度所在的档位。
func (b SimilarityBands) Band(score float64) string {
	switch {
	case score >= b.High:
		return "high"
	case score >= b.Low:
		return "low"
	default:
		return "below"
	}
}

// Rank 根据画像向量为主题打分并返回至多 k 条推荐。
//
// 第一轮按相似度降序挑选未咨询过的主题，每个父主题分组至多一条；
// 不足 k 条时第二轮忽略分组限制补齐。已咨询过的主题任何时候都不会被推荐。
// 画像向量与主题向量维度不同时视为没有画像向量。
func Rank(profile *model.Profile, entries []model.CacheEntry, k int) []RankedTopic {
	if profile == nil || !profile.HasVector() || k <= 0 {
		return nil
	}
	if len(entries) > 0 && len(entries[0].Embedding) != len(profile.ProfileVector) {
		return nil
	}

	type scored struct {
		topicID string
		score   float64
	}
	ranked := make([]scored, len(entries))
	for i, e := range entries {
		ranked[i] = scored{topicID: e.TopicID, score: textutil.CosineSimilarity(profile.ProfileVector, e.Embedding)}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]RankedTopic, 0, k)
	picked := make(map[string]bool, k)
	groups := make(map[string]bool, k)
	add := func(s scored, explanation string) {
		out = append(out, RankedTopic{
			Recommendation: model.Recommendation{
				TopicID:     s.topicID,
				Title:       topic.Title(s.topicID),
				Explanation: explanation,
			},
			Score: s.score,
		})
		picked[s.topicID] = true
	}

	for _, s := range ranked {
		if len(out) >= k {
			break
		}
		if profile.HasConsulted(s.topicID) || picked[s.topicID] {
			continue
		}
		g := topic.Group(s.topicID)
		if groups[g] {
			continue
		}
		groups[g] = true
		add(s, ExplanationDiverse)
	}

	for _, s := range ranked {
		if len(out) >= k {
			break
		}
		if profile.HasConsulted(s.topicID) || picked[s.topicID] {
			continue
		}
		add(s, ExplanationRelated)
	}
	return out
}
