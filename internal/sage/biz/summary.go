package biz

import (
	"context"
	"sort"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/internal/sage/metrics"
	"github.com/kart-io/sage/pkg/utils/errors"
)

// MetricsSummary 由查询日志和反馈日志汇总的运行指标。
type MetricsSummary struct {
	TotalQueries     int              `json:"total_queries"`
	AvgLatencyMS     float64          `json:"avg_latency_ms"`
	DistinctTopics   int              `json:"distinct_topics"`
	RecentQueries    []model.QueryLog `json:"recent_queries"`
	FeedbackCount    int              `json:"feedback_count"`
	AvgFeedbackScore float64          `json:"avg_feedback_score"`
	Status           string           `json:"status"`
	Counters         metrics.Counters `json:"counters"`
}

// Metrics 读取日志并汇总指标。
func (s *Service) Metrics(_ context.Context) (*MetricsSummary, error) {
	var (
		queries  []model.QueryLog
		feedback []model.FeedbackLog
		err      error
	)
	if s.queryLog != nil {
		if queries, err = s.queryLog.ReadAll(); err != nil {
			return nil, errors.ErrEventLog.WithCause(err)
		}
	}
	if s.feedbackLog != nil {
		if feedback, err = s.feedbackLog.ReadAll(); err != nil {
			return nil, errors.ErrEventLog.WithCause(err)
		}
	}

	summary := SummarizeLogs(queries, feedback, s.cfg.RecentQueries)
	summary.Status = s.Status().String()
	summary.Counters = s.metrics.Snapshot()
	return summary, nil
}

// SummarizeLogs 计算查询数、平均延迟、来源主题数、最近查询（新的在前）与反馈均分。
func SummarizeLogs(queries []model.QueryLog, feedback []model.FeedbackLog, recent int) *MetricsSummary {
	out := &MetricsSummary{
		TotalQueries:  len(queries),
		FeedbackCount: len(feedback),
		RecentQueries: []model.QueryLog{},
	}

	topics := make(map[string]bool)
	var latency int64
	for _, q := range queries {
		latency += q.LatencyMS
		for _, t := range q.Sources {
			if t != model.NoSources && t != "" {
				topics[t] = true
			}
		}
	}
	if len(queries) > 0 {
		out.AvgLatencyMS = float64(latency) / float64(len(queries))
	}
	out.DistinctTopics = len(topics)

	sorted := append([]model.QueryLog(nil), queries...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })
	if recent > len(sorted) {
		recent = len(sorted)
	}
	if recent > 0 {
		out.RecentQueries = sorted[:recent]
	}

	if len(feedback) > 0 {
		total := 0
		for _, f := range feedback {
			total += f.Score
		}
		out.AvgFeedbackScore = float64(total) / float64(len(feedback))
	}
	return out
}
