package biz_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/internal/pkg/rag/chunker"
	"github.com/kart-io/sage/internal/sage/biz"
	"github.com/kart-io/sage/internal/sage/store"
	sageerrors "github.com/kart-io/sage/pkg/utils/errors"
)

type env struct {
	dir      string
	cfg      *biz.Config
	embedder *keywordEmbedder
	chat     *scriptedChat
	profiles store.ProfileStore
	svc      *biz.Service
}

func writeKnowledgeBase(t *testing.T, dir string) string {
	t.Helper()
	kb := filepath.Join(dir, "kb")
	docs := map[string]string{
		"01-alpha.md": strings.Repeat("Alpha systems start here. Alpha matters.\n\n", 8),
		"01-beta.md":  strings.Repeat("Beta covers the next step. Beta is useful.\n\n", 6),
		"02-gamma.md": strings.Repeat("Gamma is a different section. Gamma works.\n\n", 6),
		"03-delta.md": strings.Repeat("Delta closes the book. Delta ends it.\n\n", 4),
		"notes.txt":   "   \n",
	}
	require.NoError(t, os.MkdirAll(kb, 0o755))
	for name, content := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(kb, name), []byte(content), 0o644))
	}
	return kb
}

func newEnv(t *testing.T, dir string) *env {
	t.Helper()

	cfg := biz.DefaultConfig()
	cfg.KnowledgeBasePath = filepath.Join(dir, "kb")
	cfg.DocstorePath = filepath.Join(dir, "cache", "docstore.json")
	cfg.Chunk = chunker.Options{ParentSize: 200, ParentOverlap: 20, ChildSize: 60, ChildOverlap: 10}
	cfg.RetrievalTopK = 1
	cfg.RetrievalChildK = 3
	cfg.EmbedBatchSize = 4

	profiles, err := store.OpenFileProfileStore(filepath.Join(dir, "profiles.json"))
	require.NoError(t, err)

	e := &env{
		dir:      dir,
		cfg:      cfg,
		embedder: &keywordEmbedder{},
		chat:     &scriptedChat{answer: "Alpha is where it starts.", rewrite: "What is alpha in detail?"},
		profiles: profiles,
	}
	e.svc = biz.NewService(cfg, biz.Deps{
		Index:       store.NewFlatIndex(filepath.Join(dir, "cache", "index.gob")),
		Embedder:    e.embedder,
		Chat:        e.chat,
		Profiles:    profiles,
		QueryLog:    store.NewEventLog[model.QueryLog](filepath.Join(dir, "logs", "queries.jsonl")),
		FeedbackLog: store.NewEventLog[model.FeedbackLog](filepath.Join(dir, "logs", "feedback.jsonl")),
	})
	return e
}

func readyEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	writeKnowledgeBase(t, dir)
	e := newEnv(t, dir)
	require.NoError(t, e.svc.Initialize(context.Background()))
	return e
}

func TestServiceNotReady(t *testing.T) {
	e := newEnv(t, t.TempDir())
	ctx := context.Background()

	assert.False(t, e.svc.Ready())
	assert.Equal(t, biz.StatusInitializing, e.svc.Status())

	_, err := e.svc.Query(ctx, "u1", "what is alpha?", nil)
	assert.ErrorIs(t, err, sageerrors.ErrSageNotReady)
	_, err = e.svc.Recommend(ctx, "u1")
	assert.ErrorIs(t, err, sageerrors.ErrSageNotReady)
	_, err = e.svc.GetTopicDocument(ctx, "u1", "01-alpha")
	assert.ErrorIs(t, err, sageerrors.ErrSageNotReady)
	_, err = e.svc.RetrieveForQuery(ctx, "alpha", nil)
	assert.ErrorIs(t, err, sageerrors.ErrSageNotReady)

	assert.NoError(t, e.svc.Feedback(ctx, model.FeedbackLog{UserID: "u1", Score: 4}))
}

func TestServiceInitializeFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "kb"), 0o755))
	e := newEnv(t, dir)

	err := e.svc.Initialize(context.Background())
	assert.ErrorIs(t, err, sageerrors.ErrIndexBuild)
	assert.False(t, e.svc.Ready())
	assert.Equal(t, biz.StatusFailed, e.svc.Status())

	// 一次性初始化，重复调用返回同一结果
	assert.Equal(t, err, e.svc.Initialize(context.Background()))
}

func TestServiceBuildThenLoad(t *testing.T) {
	dir := t.TempDir()
	writeKnowledgeBase(t, dir)

	first := newEnv(t, dir)
	require.NoError(t, first.svc.Initialize(context.Background()))
	assert.True(t, first.svc.Ready())
	assert.FileExists(t, filepath.Join(dir, "cache", "index.gob"))
	assert.FileExists(t, first.cfg.DocstorePath)
	built := first.embedder.texts.Load()

	second := newEnv(t, dir)
	require.NoError(t, second.svc.Initialize(context.Background()))
	assert.True(t, second.svc.Ready())
	// 加载路径只为主题缓存向量化父块
	assert.Less(t, second.embedder.texts.Load(), built)

	doc, err := second.svc.TopicDocument("kb/02-gamma.md")
	require.NoError(t, err)
	assert.Equal(t, "02-gamma", doc.TopicID)
	assert.Contains(t, doc.Content, "Gamma")
}

func TestServiceRebuildsWhenEmbeddingModelChanges(t *testing.T) {
	tests := []struct {
		name        string
		change      func(e *env)
		fullRebuild bool
	}{
		{
			name:        "模型名称变化",
			change:      func(e *env) { e.cfg.EmbeddingModel = "mxbai-embed-large" },
			fullRebuild: false,
		},
		{
			name:        "向量维度变化",
			change:      func(e *env) { e.embedder.extra = 1 },
			fullRebuild: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeKnowledgeBase(t, dir)
			ctx := context.Background()

			first := newEnv(t, dir)
			first.cfg.EmbeddingProvider = "ollama"
			first.cfg.EmbeddingModel = "nomic-embed-text"
			require.NoError(t, first.svc.Initialize(ctx))
			built := first.embedder.texts.Load()

			second := newEnv(t, dir)
			second.cfg.EmbeddingProvider = "ollama"
			second.cfg.EmbeddingModel = "nomic-embed-text"
			tt.change(second)
			require.NoError(t, second.svc.Initialize(ctx))
			require.True(t, second.svc.Ready())

			if tt.fullRebuild {
				// 先按已加载索引生成主题缓存，发现维度不同后全量重建
				assert.Greater(t, second.embedder.texts.Load(), built)
			} else {
				assert.Equal(t, built, second.embedder.texts.Load())
			}

			res, err := second.svc.Query(ctx, "u1", "What is gamma?", nil)
			require.NoError(t, err)
			assert.Equal(t, []string{"02-gamma"}, res.Sources)

			third := newEnv(t, dir)
			third.cfg.EmbeddingProvider = "ollama"
			third.cfg.EmbeddingModel = second.cfg.EmbeddingModel
			third.embedder.extra = second.embedder.extra
			require.NoError(t, third.svc.Initialize(ctx))
			assert.Less(t, third.embedder.texts.Load(), built, "重建后的索引可直接加载")
		})
	}
}

func TestServiceProfileReseedsOnDimensionChange(t *testing.T) {
	e := readyEnv(t)
	ctx := context.Background()

	stale := &model.Profile{ProfileVector: []float32{0.3, 0.3, 0.3}, InferredInterests: []string{"03-delta"}}
	require.NoError(t, e.profiles.Save(ctx, "u1", stale))

	recs, err := e.svc.Recommend(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, recs)

	_, err = e.svc.Query(ctx, "u1", "What is alpha?", nil)
	require.NoError(t, err)

	p, err := e.profiles.Load(ctx, "u1")
	require.NoError(t, err)
	assert.InDeltaSlice(t, keywordVector("What is alpha?"), p.ProfileVector, 1e-6)
	assert.Equal(t, []string{"03-delta", "01-alpha"}, p.InferredInterests)

	recs, err = e.svc.Recommend(ctx, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, recs)
}

func TestServiceInitializePanicMarksFailed(t *testing.T) {
	dir := t.TempDir()
	writeKnowledgeBase(t, dir)
	e := newEnv(t, dir)

	svc := biz.NewService(e.cfg, biz.Deps{
		Index:       panicIndex{},
		Embedder:    e.embedder,
		Chat:        e.chat,
		Profiles:    e.profiles,
		QueryLog:    store.NewEventLog[model.QueryLog](filepath.Join(dir, "logs", "queries.jsonl")),
		FeedbackLog: store.NewEventLog[model.FeedbackLog](filepath.Join(dir, "logs", "feedback.jsonl")),
	})

	err := svc.Initialize(context.Background())
	assert.ErrorIs(t, err, sageerrors.ErrIndexBuild)
	assert.Contains(t, err.Error(), "corrupted index state")
	assert.Equal(t, biz.StatusFailed, svc.Status())
	assert.False(t, svc.Ready())
}

func TestServiceRetrieveForQuery(t *testing.T) {
	e := readyEnv(t)
	ctx := context.Background()

	rr, err := e.svc.RetrieveForQuery(ctx, "tell me about gamma", nil)
	require.NoError(t, err)
	assert.True(t, rr.AnswerContextReady)
	assert.Equal(t, "tell me about gamma", rr.Query)
	require.Len(t, rr.Context, 1)
	assert.Equal(t, "02-gamma", rr.Context[0].TopicID)
	assert.True(t, rr.Context[0].IsParent())

	history := []model.ChatMessage{{Role: model.RoleUser, Content: "hi"}, {Role: model.RoleAssistant, Content: "hello"}}
	rr, err = e.svc.RetrieveForQuery(ctx, "and that?", history)
	require.NoError(t, err)
	assert.Equal(t, "What is alpha in detail?", rr.Query)
	assert.Equal(t, "01-alpha", rr.Context[0].TopicID)
}

func TestServiceQuerySuccess(t *testing.T) {
	e := readyEnv(t)
	ctx := context.Background()

	res, err := e.svc.Query(ctx, "u1", "What is alpha?", nil)
	require.NoError(t, err)
	assert.Equal(t, "Alpha is where it starts.", res.Answer)
	assert.Equal(t, []string{"01-alpha"}, res.Sources)

	p, err := e.profiles.Load(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, p.QueryHistory, 1)
	assert.Equal(t, "What is alpha?", p.QueryHistory[0].Query)
	assert.Equal(t, []string{"01-alpha"}, p.InferredInterests)
	assert.InDeltaSlice(t, keywordVector("What is alpha?"), p.ProfileVector, 1e-6)

	// 第二次查询按 0.8/0.2 混合
	_, err = e.svc.Query(ctx, "u1", "What is alpha beta?", nil)
	require.NoError(t, err)
	p, err = e.profiles.Load(ctx, "u1")
	require.NoError(t, err)
	v0, v1 := keywordVector("What is alpha?"), keywordVector("What is alpha beta?")
	for i := range v0 {
		assert.InDelta(t, 0.8*v0[i]+0.2*v1[i], p.ProfileVector[i], 1e-5)
	}

	summary, err := e.svc.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalQueries)
	assert.Equal(t, "What is alpha beta?", summary.RecentQueries[0].Query)
	assert.Equal(t, "ready", summary.Status)
	assert.Equal(t, uint64(2), summary.Counters.ProfileUpdates)
}

func TestServiceQueryWithHistoryRecordsOriginalQuery(t *testing.T) {
	e := readyEnv(t)
	ctx := context.Background()

	history := []model.ChatMessage{{Role: model.RoleUser, Content: "tell me about alpha"}, {Role: model.RoleAssistant, Content: "sure"}}
	_, err := e.svc.Query(ctx, "u1", "more?", history)
	require.NoError(t, err)

	require.Len(t, e.chat.rewrites, 1)
	require.Len(t, e.chat.answers, 1)
	assert.True(t, strings.HasPrefix(e.chat.answers[0], "User's Question: more?"))

	p, err := e.profiles.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "more?", p.QueryHistory[0].Query)
}

func TestServiceQueryInsufficientInformation(t *testing.T) {
	e := readyEnv(t)
	e.chat.answer = biz.InsufficientInfoMarker + "."
	ctx := context.Background()

	res, err := e.svc.Query(ctx, "u1", "What is omega?", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{model.NoSources}, res.Sources)
	assert.True(t, strings.HasPrefix(res.Answer, biz.InsufficientInfoMarker))
	assert.Contains(t, res.Answer, biz.SuggestionLead+"- What is alpha?")

	p, err := e.profiles.Load(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, p.HasVector())
	assert.Empty(t, p.QueryHistory)

	recs, err := e.svc.Recommend(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, recs)

	summary, err := e.svc.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalQueries)
	assert.Equal(t, 0, summary.DistinctTopics)
	assert.Equal(t, uint64(1), summary.Counters.InsufficientAnswers)
}

func TestServiceQueryUpstreamFailure(t *testing.T) {
	e := readyEnv(t)
	ctx := context.Background()

	e.chat.fail = errors.New("model overloaded")
	_, err := e.svc.Query(ctx, "u1", "What is alpha?", nil)
	assert.ErrorIs(t, err, sageerrors.ErrUpstreamGeneration)

	e.chat.fail = nil
	e.embedder.fail.Store(true)
	_, err = e.svc.Query(ctx, "u1", "What is alpha?", nil)
	assert.ErrorIs(t, err, sageerrors.ErrUpstreamEmbedding)

	p, err := e.profiles.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, p.QueryHistory)
}

func TestServiceQueryValidation(t *testing.T) {
	e := readyEnv(t)
	_, err := e.svc.Query(context.Background(), "u1", "   ", nil)
	assert.ErrorIs(t, err, sageerrors.ErrInvalidQuery)
	_, err = e.svc.Query(context.Background(), "", "alpha", nil)
	assert.ErrorIs(t, err, sageerrors.ErrInvalidQuery)
}

func TestServiceRecommendAfterQuery(t *testing.T) {
	e := readyEnv(t)
	ctx := context.Background()

	_, err := e.svc.Query(ctx, "u1", "What is alpha?", nil)
	require.NoError(t, err)

	recs, err := e.svc.Recommend(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, recs, 3)
	groups := map[string]bool{}
	for _, r := range recs {
		assert.NotEqual(t, "01-alpha", r.TopicID)
		assert.Equal(t, biz.ExplanationDiverse, r.Explanation)
		assert.False(t, groups[r.TopicID[:2]])
		groups[r.TopicID[:2]] = true
	}

	unknown, err := e.svc.Recommend(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, unknown)
}

func TestServiceGetTopicDocument(t *testing.T) {
	e := readyEnv(t)
	ctx := context.Background()

	res, err := e.svc.GetTopicDocument(ctx, "u2", "docs/missing.md")
	assert.ErrorIs(t, err, sageerrors.ErrTopicNotFound)
	require.NotNil(t, res)
	assert.Equal(t, "Sorry, I could not find a document for the topic: missing.", res.Answer)

	res, err = e.svc.GetTopicDocument(ctx, "u2", "kb/02-gamma.md")
	require.NoError(t, err)
	assert.Equal(t, "A friendly summary.\n\n**Source:** 02-gamma", res.Answer)
	assert.Equal(t, []string{"02-gamma"}, res.Sources)

	p, err := e.profiles.Load(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, p.QueryHistory, 1)
	assert.Equal(t, "Please explain more about 'Gamma'", p.QueryHistory[0].Query)
	assert.Equal(t, []string{"02-gamma"}, p.InferredInterests)
	assert.True(t, p.HasVector())

	summary, err := e.svc.Metrics(ctx)
	require.NoError(t, err)
	require.Len(t, summary.RecentQueries, 1)
	assert.Equal(t, "Please explain more about 'Gamma'", summary.RecentQueries[0].Query)
}

func TestServiceFeedbackAndReset(t *testing.T) {
	e := readyEnv(t)
	ctx := context.Background()

	require.NoError(t, e.svc.Feedback(ctx, model.FeedbackLog{UserID: "u1", Query: "q", Answer: "a", Score: 5}))
	require.NoError(t, e.svc.Feedback(ctx, model.FeedbackLog{UserID: "u1", Query: "q", Answer: "a", Score: 2}))

	summary, err := e.svc.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.FeedbackCount)
	assert.InDelta(t, 3.5, summary.AvgFeedbackScore, 1e-9)

	_, err = e.svc.Query(ctx, "u1", "What is alpha?", nil)
	require.NoError(t, err)
	require.NoError(t, e.svc.ResetProfiles(ctx))
	p, err := e.profiles.Load(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, p.HasVector())
}

func TestNormalizeTopic(t *testing.T) {
	e := newEnv(t, t.TempDir())
	for _, raw := range []string{"kb/01-alpha.md", `C:\kb\01-alpha.md`, "01-alpha"} {
		once := e.svc.NormalizeTopic(raw)
		assert.Equal(t, "01-alpha", once)
		assert.Equal(t, once, e.svc.NormalizeTopic(once))
	}
}

func TestServiceConcurrentQueriesKeepEveryUpdate(t *testing.T) {
	e := readyEnv(t)
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.svc.Query(ctx, "busy", "What is gamma?", nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := e.profiles.Load(ctx, "busy")
	require.NoError(t, err)
	assert.Len(t, p.QueryHistory, n)
	assert.Equal(t, []string{"02-gamma"}, p.InferredInterests)
}
