// Package metrics 提供检索与推荐引擎的进程内业务指标。
package metrics

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

// SageMetrics 引擎业务指标，所有计数器均为原子操作。
type SageMetrics struct {
	// 查询指标
	queriesTotal        atomic.Uint64 // 总查询次数
	queriesErrors       atomic.Uint64 // 查询失败次数
	queriesInsufficient atomic.Uint64 // 命中"信息不足"的次数
	documentsServed     atomic.Uint64 // 主题文档请求次数

	// 检索与生成耗时
	retrievalTotal      atomic.Uint64
	retrievalErrors     atomic.Uint64
	retrievalDurationNs atomic.Int64
	generationTotal     atomic.Uint64
	generationErrors    atomic.Uint64
	generationDurNs     atomic.Int64

	// 画像与推荐
	profileUpdates   atomic.Uint64
	profileErrors    atomic.Uint64
	recommendations  atomic.Uint64
	feedbackReceived atomic.Uint64

	// 索引
	documentsIndexed atomic.Uint64
	chunksIndexed    atomic.Uint64
	indexErrors      atomic.Uint64

	startTime time.Time
}

// New 创建指标实例。
func New() *SageMetrics {
	return &SageMetrics{startTime: time.Now()}
}

// RecordQuery 记录一次查询结果，insufficient 表示回答命中"信息不足"标记。
func (m *SageMetrics) RecordQuery(insufficient bool, err error) {
	m.queriesTotal.Add(1)
	if err != nil {
		m.queriesErrors.Add(1)
		return
	}
	if insufficient {
		m.queriesInsufficient.Add(1)
	}
}

// RecordDocument 记录一次主题文档请求。
func (m *SageMetrics) RecordDocument() {
	m.documentsServed.Add(1)
}

// RecordRetrieval 记录检索耗时。
func (m *SageMetrics) RecordRetrieval(d time.Duration, err error) {
	m.retrievalTotal.Add(1)
	if err != nil {
		m.retrievalErrors.Add(1)
		return
	}
	m.retrievalDurationNs.Add(int64(d))
}

// RecordGeneration 记录生成调用耗时。
func (m *SageMetrics) RecordGeneration(d time.Duration, err error) {
	m.generationTotal.Add(1)
	if err != nil {
		m.generationErrors.Add(1)
		return
	}
	m.generationDurNs.Add(int64(d))
}

// RecordProfileUpdate 记录画像更新。
func (m *SageMetrics) RecordProfileUpdate(err error) {
	if err != nil {
		m.profileErrors.Add(1)
		return
	}
	m.profileUpdates.Add(1)
}

// RecordRecommendation 记录推荐请求。
func (m *SageMetrics) RecordRecommendation() {
	m.recommendations.Add(1)
}

// RecordFeedback 记录反馈。
func (m *SageMetrics) RecordFeedback() {
	m.feedbackReceived.Add(1)
}

// RecordIndexing 记录索引构建结果。
func (m *SageMetrics) RecordIndexing(documents, chunks int, err error) {
	if err != nil {
		m.indexErrors.Add(1)
		return
	}
	m.documentsIndexed.Add(uint64(documents))
	m.chunksIndexed.Add(uint64(chunks))
}

// Counters 指标快照。
type Counters struct {
	Uptime              float64 `json:"uptime_seconds"`
	Queries             uint64  `json:"queries"`
	QueryErrors         uint64  `json:"query_errors"`
	InsufficientAnswers uint64  `json:"insufficient_answers"`
	DocumentsServed     uint64  `json:"documents_served"`
	Retrievals          uint64  `json:"retrievals"`
	RetrievalErrors     uint64  `json:"retrieval_errors"`
	RetrievalAvgMS      float64 `json:"retrieval_avg_ms"`
	Generations         uint64  `json:"generations"`
	GenerationErrors    uint64  `json:"generation_errors"`
	GenerationAvgMS     float64 `json:"generation_avg_ms"`
	ProfileUpdates      uint64  `json:"profile_updates"`
	ProfileUpdateErrors uint64  `json:"profile_update_errors"`
	RecommendationCalls uint64  `json:"recommendation_calls"`
	FeedbackReceived    uint64  `json:"feedback_received"`
	DocumentsIndexed    uint64  `json:"documents_indexed"`
	ChunksIndexed       uint64  `json:"chunks_indexed"`
	IndexErrors         uint64  `json:"index_errors"`
}

// Snapshot 返回当前指标快照。
func (m *SageMetrics) Snapshot() Counters {
	retrievals := m.retrievalTotal.Load()
	retrievalErrs := m.retrievalErrors.Load()
	generations := m.generationTotal.Load()
	generationErrs := m.generationErrors.Load()

	return Counters{
		Uptime:              time.Since(m.startTime).Seconds(),
		Queries:             m.queriesTotal.Load(),
		QueryErrors:         m.queriesErrors.Load(),
		InsufficientAnswers: m.queriesInsufficient.Load(),
		DocumentsServed:     m.documentsServed.Load(),
		Retrievals:          retrievals,
		RetrievalErrors:     retrievalErrs,
		RetrievalAvgMS:      avgMS(m.retrievalDurationNs.Load(), retrievals-retrievalErrs),
		Generations:         generations,
		GenerationErrors:    generationErrs,
		GenerationAvgMS:     avgMS(m.generationDurNs.Load(), generations-generationErrs),
		ProfileUpdates:      m.profileUpdates.Load(),
		ProfileUpdateErrors: m.profileErrors.Load(),
		RecommendationCalls: m.recommendations.Load(),
		FeedbackReceived:    m.feedbackReceived.Load(),
		DocumentsIndexed:    m.documentsIndexed.Load(),
		ChunksIndexed:       m.chunksIndexed.Load(),
		IndexErrors:         m.indexErrors.Load(),
	}
}

func avgMS(totalNs int64, n uint64) float64 {
	if n == 0 {
		return 0
	}
	return float64(totalNs) / float64(n) / float64(time.Millisecond)
}

// Export 导出 Prometheus 文本格式指标。
func (m *SageMetrics) Export(namespace string) string {
	c := m.Snapshot()

	var sb strings.Builder
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(&sb, "# HELP %s_%s %s\n", namespace, name, help)
		fmt.Fprintf(&sb, "# TYPE %s_%s counter\n", namespace, name)
		fmt.Fprintf(&sb, "%s_%s %d\n", namespace, name, v)
	}
	gauge := func(name, help string, v float64) {
		fmt.Fprintf(&sb, "# HELP %s_%s %s\n", namespace, name, help)
		fmt.Fprintf(&sb, "# TYPE %s_%s gauge\n", namespace, name)
		fmt.Fprintf(&sb, "%s_%s %g\n", namespace, name, v)
	}

	gauge("uptime_seconds", "Seconds since the process started.", c.Uptime)
	counter("queries_total", "Total number of queries.", c.Queries)
	counter("queries_errors_total", "Queries that failed.", c.QueryErrors)
	counter("queries_insufficient_total", "Queries answered with the insufficient-information marker.", c.InsufficientAnswers)
	counter("documents_served_total", "Topic document requests.", c.DocumentsServed)
	counter("retrieval_total", "Retrieval calls.", c.Retrievals)
	counter("retrieval_errors_total", "Retrieval calls that failed.", c.RetrievalErrors)
	gauge("retrieval_avg_milliseconds", "Mean successful retrieval latency.", c.RetrievalAvgMS)
	counter("generation_total", "Generation calls.", c.Generations)
	counter("generation_errors_total", "Generation calls that failed.", c.GenerationErrors)
	gauge("generation_avg_milliseconds", "Mean successful generation latency.", c.GenerationAvgMS)
	counter("profile_updates_total", "Successful profile updates.", c.ProfileUpdates)
	counter("profile_update_errors_total", "Failed profile updates.", c.ProfileUpdateErrors)
	counter("recommendation_requests_total", "Recommendation requests.", c.RecommendationCalls)
	counter("feedback_total", "Feedback records received.", c.FeedbackReceived)
	counter("documents_indexed_total", "Documents ingested.", c.DocumentsIndexed)
	counter("chunks_indexed_total", "Child chunks indexed.", c.ChunksIndexed)
	counter("index_errors_total", "Index builds that failed.", c.IndexErrors)
	return sb.String()
}
