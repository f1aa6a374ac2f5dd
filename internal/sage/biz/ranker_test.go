package biz_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/internal/pkg/rag/topic"
	"github.com/kart-io/sage/internal/sage/biz"
)

func scenarioEntries() []model.CacheEntry {
	return []model.CacheEntry{
		{TopicID: "02-alpha", Embedding: []float32{0.5, 0.8, 0}},
		{TopicID: "01-beta", Embedding: []float32{0.99, 0.1, 0}},
		{TopicID: "01-gamma", Embedding: []float32{0.9, 0.4, 0}},
	}
}

func topicIDs(recs []biz.RankedTopic) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.TopicID
	}
	return ids
}

func TestRankTwoPassScenario(t *testing.T) {
	p := &model.Profile{ProfileVector: []float32{1, 0, 0}}

	recs := biz.Rank(p, scenarioEntries(), 3)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"01-beta", "02-alpha", "01-gamma"}, topicIDs(recs))

	assert.Equal(t, biz.ExplanationDiverse, recs[0].Explanation)
	assert.Equal(t, biz.ExplanationDiverse, recs[1].Explanation)
	assert.Equal(t, biz.ExplanationRelated, recs[2].Explanation)
	assert.Equal(t, "Beta", recs[0].Title)
	assert.Greater(t, recs[0].Score, recs[2].Score)
}

func TestRankEdgeCases(t *testing.T) {
	entries := scenarioEntries()

	tests := []struct {
		name    string
		profile *model.Profile
		k       int
		want    []string
	}{
		{"无画像返回空", nil, 3, nil},
		{"画像向量为空返回空", &model.Profile{InferredInterests: []string{"01-beta"}}, 3, nil},
		{"k 为 0 返回空", &model.Profile{ProfileVector: []float32{1, 0, 0}}, 0, nil},
		{"不超过 k 条", &model.Profile{ProfileVector: []float32{1, 0, 0}}, 1, []string{"01-beta"}},
		{"画像向量维度不同视为空", &model.Profile{ProfileVector: []float32{1, 0, 0, 0}}, 3, nil},
		{
			"已咨询主题不推荐",
			&model.Profile{ProfileVector: []float32{1, 0, 0}, InferredInterests: []string{"01-beta"}},
			3,
			[]string{"01-gamma", "02-alpha"},
		},
		{
			"全部已咨询时返回空",
			&model.Profile{ProfileVector: []float32{1, 0, 0}, InferredInterests: []string{"01-beta", "01-gamma", "02-alpha"}},
			3,
			[]string{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs := biz.Rank(tt.profile, entries, tt.k)
			if tt.want == nil {
				assert.Empty(t, recs)
				return
			}
			assert.Equal(t, tt.want, topicIDs(recs))
		})
	}
}

func TestRankFirstPassDiversity(t *testing.T) {
	entries := []model.CacheEntry{
		{TopicID: "01-a", Embedding: []float32{1, 0}},
		{TopicID: "01-b", Embedding: []float32{0.95, 0.05}},
		{TopicID: "01-c", Embedding: []float32{0.9, 0.1}},
		{TopicID: "02-a", Embedding: []float32{0.5, 0.5}},
		{TopicID: "03-a", Embedding: []float32{0, 1}},
	}
	p := &model.Profile{ProfileVector: []float32{1, 0}}

	recs := biz.Rank(p, entries, 3)
	require.Len(t, recs, 3)

	groups := map[string]bool{}
	for _, r := range recs {
		assert.Equal(t, biz.ExplanationDiverse, r.Explanation)
		g := topic.Group(r.TopicID)
		assert.False(t, groups[g], "group %s repeated", g)
		groups[g] = true
	}
}

func TestRankTiesKeepCacheOrder(t *testing.T) {
	entries := []model.CacheEntry{
		{TopicID: "x", Embedding: []float32{1, 0}},
		{TopicID: "y", Embedding: []float32{1, 0}},
		{TopicID: "z", Embedding: []float32{1, 0}},
	}
	p := &model.Profile{ProfileVector: []float32{1, 0}}
	assert.Equal(t, []string{"x", "y", "z"}, topicIDs(biz.Rank(p, entries, 3)))
}

func TestSimilarityBands(t *testing.T) {
	b := biz.SimilarityBands{High: 0.45, Low: 0.35}
	assert.Equal(t, "high", b.Band(0.5))
	assert.Equal(t, "low", b.Band(0.4))
	assert.Equal(t, "below", b.Band(0.1))
}
