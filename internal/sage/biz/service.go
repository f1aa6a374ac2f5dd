package biz

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/internal/pkg/rag/topic"
	"github.com/kart-io/sage/internal/sage/metrics"
	"github.com/kart-io/sage/internal/sage/store"
	"github.com/kart-io/sage/pkg/infra/pool"
	"github.com/kart-io/sage/pkg/llm"
	"github.com/kart-io/sage/pkg/utils/errors"
)

// Status 引擎初始化状态。
type Status int32

const (
	StatusInitializing Status = iota
	StatusReady
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "ready"
	case StatusFailed:
		return "failed"
	default:
		return "initializing"
	}
}

// Deps 引擎依赖。
type Deps struct {
	Index       store.VectorIndex
	Embedder    llm.EmbeddingProvider
	Chat        llm.ChatProvider
	Profiles    store.ProfileStore
	QueryLog    *store.QueryLog
	FeedbackLog *store.FeedbackLog
	Metrics     *metrics.SageMetrics
	// EmbedPool 构建索引时并发向量化使用的协程池，可为空。
	EmbedPool *pool.Pool
	// SystemPrompt 已注入示例的系统提示词，为空时使用内置提示词。
	SystemPrompt string
}

// RetrievalResult 查询检索结果。
type RetrievalResult struct {
	// Query 结合历史改写后的独立问题。
	Query string
	// Context 父块上下文。
	Context []model.Chunk
	// AnswerContextReady 是否检索到可用于作答的上下文。
	AnswerContextReady bool
}

// Service 检索与推荐引擎，进程内唯一实例，由服务启动时显式构建。
type Service struct {
	cfg         *Config
	initializer *Initializer
	generator   *Generator
	profiles    store.ProfileStore
	updater     *ProfileUpdater
	queryLog    *store.QueryLog
	feedbackLog *store.FeedbackLog
	metrics     *metrics.SageMetrics

	initOnce sync.Once
	initErr  error
	status   atomic.Int32
	corpus   atomic.Pointer[Corpus]

	now func() time.Time
}

// NewService 创建引擎，调用 Start 或 Initialize 之前不可查询。
func NewService(cfg *Config, deps Deps) *Service {
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return &Service{
		cfg:         cfg,
		initializer: NewInitializer(cfg, deps.Index, deps.Embedder, deps.EmbedPool, deps.Metrics),
		generator:   NewGenerator(deps.Chat, deps.SystemPrompt),
		profiles:    deps.Profiles,
		updater:     NewProfileUpdater(deps.Profiles, deps.Embedder),
		queryLog:    deps.QueryLog,
		feedbackLog: deps.FeedbackLog,
		metrics:     deps.Metrics,
		now:         time.Now,
	}
}

// Start 在后台池中执行初始化并立即返回。
func (s *Service) Start(ctx context.Context, bg *pool.Pool) {
	bg.Go(func() {
		if err := s.Initialize(ctx); err != nil {
			logger.Errorw("Knowledge base initialization failed", "error", err.Error())
		}
	})
}

// Initialize 同步执行一次性初始化，重复调用返回首次的结果。
// 初始化过程中的 panic 同样记为失败。
func (s *Service) Initialize(ctx context.Context) error {
	s.initOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorw("Knowledge base initialization panicked",
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
				s.initErr = errors.ErrIndexBuild.WithCause(fmt.Errorf("panic: %v", r))
				s.status.Store(int32(StatusFailed))
			}
		}()

		corpus, err := s.initializer.Run(ctx)
		if err != nil {
			s.initErr = errors.ErrIndexBuild.WithCause(err)
			s.status.Store(int32(StatusFailed))
			return
		}
		s.corpus.Store(corpus)
		s.status.Store(int32(StatusReady))
	})
	return s.initErr
}

// Ready 报告引擎是否可以处理检索与推荐请求。
func (s *Service) Ready() bool {
	return s.corpus.Load() != nil
}

// Status 返回初始化状态。
func (s *Service) Status() Status {
	return Status(s.status.Load())
}

func (s *Service) ready() (*Corpus, error) {
	c := s.corpus.Load()
	if c == nil {
		return nil, errors.ErrSageNotReady
	}
	return c, nil
}

// NormalizeTopic 规范化外部传入的主题标识。
func (s *Service) NormalizeTopic(raw string) string {
	return topic.Normalize(raw)
}

// RetrieveForQuery 改写追问并检索父块上下文。
func (s *Service) RetrieveForQuery(ctx context.Context, query string, history []model.ChatMessage) (*RetrievalResult, error) {
	c, err := s.ready()
	if err != nil {
		return nil, err
	}
	return s.retrieve(ctx, c, query, history)
}

func (s *Service) retrieve(ctx context.Context, c *Corpus, query string, history []model.ChatMessage) (*RetrievalResult, error) {
	start := time.Now()

	resolved, err := s.generator.Recontextualize(ctx, query, history)
	if err != nil {
		s.metrics.RecordRetrieval(time.Since(start), err)
		return nil, err
	}

	chunks, err := c.Retriever.Retrieve(ctx, resolved)
	s.metrics.RecordRetrieval(time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return &RetrievalResult{Query: resolved, Context: chunks, AnswerContextReady: len(chunks) > 0}, nil
}

// UpdateProfileOnSuccess 在回答成功后更新用户画像。
func (s *Service) UpdateProfileOnSuccess(ctx context.Context, userID, query string, topics []string) error {
	_, err := s.updater.Update(ctx, userID, query, topics)
	s.metrics.RecordProfileUpdate(err)
	return err
}

// Query 回答用户问题。
//
// 答案包含"信息不足"标记时追加示例问题，来源记为 "None"，不更新画像；
// 否则来源为上下文主题的有序去重集合，并以原始问题更新画像。
func (s *Service) Query(ctx context.Context, userID, query string, history []model.ChatMessage) (*model.QueryResult, error) {
	start := s.now()

	c, err := s.ready()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" || strings.TrimSpace(userID) == "" {
		return nil, errors.ErrInvalidQuery
	}

	result, err := s.answer(ctx, c, userID, query, history)
	if err != nil {
		s.metrics.RecordQuery(false, err)
		logger.Errorw("Query failed", "user_id", userID, "query", query, "error", err.Error())
		return nil, err
	}

	insufficient := len(result.Sources) == 1 && result.Sources[0] == model.NoSources
	s.metrics.RecordQuery(insufficient, nil)
	s.logQuery(userID, query, result, start)
	return result, nil
}

func (s *Service) answer(ctx context.Context, c *Corpus, userID, query string, history []model.ChatMessage) (*model.QueryResult, error) {
	rr, err := s.retrieve(ctx, c, query, history)
	if err != nil {
		return nil, err
	}

	genStart := time.Now()
	answer, err := s.generator.Answer(ctx, query, history, rr.Context)
	s.metrics.RecordGeneration(time.Since(genStart), err)
	if err != nil {
		return nil, err
	}

	if IsInsufficient(answer) {
		suggestions, err := s.generator.Suggest(ctx, c.Topics.IDs())
		if err != nil {
			logger.Warnw("Suggestion generation failed", "user_id", userID, "error", err.Error())
		} else if suggestions != "" {
			answer = answer + SuggestionLead + suggestions
		}
		return &model.QueryResult{Answer: answer, Sources: []string{model.NoSources}}, nil
	}

	sources := contextTopics(rr.Context)
	if err := s.UpdateProfileOnSuccess(ctx, userID, query, sources); err != nil {
		logger.Errorw("Profile update failed", "user_id", userID, "query", query, "error", err.Error())
	}
	return &model.QueryResult{Answer: answer, Sources: sources}, nil
}

// contextTopics 返回上下文主题的有序去重集合。
func contextTopics(chunks []model.Chunk) []string {
	set := make(map[string]bool, len(chunks))
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if !set[c.TopicID] {
			set[c.TopicID] = true
			out = append(out, c.TopicID)
		}
	}
	sort.Strings(out)
	return out
}

// Recommend 返回用户的推荐主题，画像向量为空时返回空列表。
func (s *Service) Recommend(ctx context.Context, userID string) ([]model.Recommendation, error) {
	c, err := s.ready()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, errors.ErrInvalidQuery
	}
	s.metrics.RecordRecommendation()

	p, err := s.profiles.Load(ctx, userID)
	if err != nil {
		return nil, errors.ErrProfileStore.WithCause(err)
	}

	ranked := Rank(p, c.Topics.Entries(), s.cfg.MaxRecommendations)
	out := make([]model.Recommendation, len(ranked))
	for i, r := range ranked {
		out[i] = r.Recommendation
		logger.Debugw("Recommendation",
			"user_id", userID,
			"topic_id", r.TopicID,
			"score", r.Score,
			"band", s.cfg.Bands.Band(r.Score),
		)
	}
	return out, nil
}

// TopicDocument 按外部主题标识查找缓存中的主题全文。
func (s *Service) TopicDocument(raw string) (*model.TopicDocument, error) {
	c, err := s.ready()
	if err != nil {
		return nil, err
	}
	id := topic.Normalize(raw)
	e, ok := c.Topics.Get(id)
	if !ok {
		return nil, errors.ErrTopicNotFound.WithMessagef("topic %q not found", id)
	}
	return &model.TopicDocument{TopicID: id, Content: e.Content}, nil
}

// NotFoundAnswer 主题不存在时返回给用户的答案。
func NotFoundAnswer(topicID string) string {
	return fmt.Sprintf("Sorry, I could not find a document for the topic: %s.", topicID)
}

// GetTopicDocument 生成主题摘要并把该主题计入用户画像。
// 主题不存在时同时返回带提示答案的结果和 ErrTopicNotFound。
func (s *Service) GetTopicDocument(ctx context.Context, userID, rawTopic string) (*model.QueryResult, error) {
	start := s.now()

	if _, err := s.ready(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(rawTopic) == "" {
		return nil, errors.ErrInvalidQuery
	}

	doc, err := s.TopicDocument(rawTopic)
	if err != nil {
		id := topic.Normalize(rawTopic)
		return &model.QueryResult{Answer: NotFoundAnswer(id)}, err
	}
	s.metrics.RecordDocument()

	genStart := time.Now()
	summary, err := s.generator.Summarize(ctx, doc.TopicID, doc.Content)
	s.metrics.RecordGeneration(time.Since(genStart), err)
	if err != nil {
		logger.Errorw("Topic summary failed", "user_id", userID, "topic_id", doc.TopicID, "error", err.Error())
		return nil, err
	}

	result := &model.QueryResult{
		Answer:  fmt.Sprintf("%s\n\n**Source:** %s", summary, doc.TopicID),
		Sources: []string{doc.TopicID},
	}

	query := fmt.Sprintf("Please explain more about '%s'", topic.Title(doc.TopicID))
	if err := s.UpdateProfileOnSuccess(ctx, userID, query, result.Sources); err != nil {
		logger.Errorw("Profile update failed", "user_id", userID, "query", query, "error", err.Error())
	}
	s.logQuery(userID, query, result, start)
	return result, nil
}

func (s *Service) logQuery(userID, query string, r *model.QueryResult, start time.Time) {
	if s.queryLog == nil {
		return
	}
	rec := model.QueryLog{
		ID:        store.NewEventID(),
		Timestamp: start.UTC(),
		UserID:    userID,
		Query:     query,
		Answer:    r.Answer,
		Sources:   r.Sources,
		LatencyMS: s.now().Sub(start).Milliseconds(),
	}
	if err := s.queryLog.Append(rec); err != nil {
		logger.Errorw("Query log append failed", "path", s.queryLog.Path(), "error", err.Error())
	}
}

// Feedback 记录用户反馈，不受初始化状态限制。
func (s *Service) Feedback(_ context.Context, fb model.FeedbackLog) error {
	if s.feedbackLog == nil {
		return nil
	}
	if fb.ID == "" {
		fb.ID = store.NewEventID()
	}
	if fb.Timestamp.IsZero() {
		fb.Timestamp = s.now().UTC()
	}
	if err := s.feedbackLog.Append(fb); err != nil {
		logger.Errorw("Feedback log append failed", "path", s.feedbackLog.Path(), "error", err.Error())
		return errors.ErrEventLog.WithCause(err)
	}
	s.metrics.RecordFeedback()
	return nil
}

// ResetProfiles 删除全部用户画像。
func (s *Service) ResetProfiles(ctx context.Context) error {
	if err := s.profiles.Reset(ctx); err != nil {
		return errors.ErrProfileStore.WithCause(err)
	}
	logger.Infow("All user profiles removed")
	return nil
}
