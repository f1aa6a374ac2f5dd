// Package handler provides HTTP handlers for the sage service.
package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/internal/sage/biz"
	"github.com/kart-io/sage/pkg/infra/app"
	"github.com/kart-io/sage/pkg/utils/errors"
	"github.com/kart-io/sage/pkg/utils/response"
)

// Engine is the part of biz.Service the handlers call.
type Engine interface {
	Query(ctx context.Context, userID, query string, history []model.ChatMessage) (*model.QueryResult, error)
	Recommend(ctx context.Context, userID string) ([]model.Recommendation, error)
	GetTopicDocument(ctx context.Context, userID, rawTopic string) (*model.QueryResult, error)
	Feedback(ctx context.Context, fb model.FeedbackLog) error
	Metrics(ctx context.Context) (*biz.MetricsSummary, error)
	ResetProfiles(ctx context.Context) error
	Status() biz.Status
}

var _ Engine = (*biz.Service)(nil)

// Exporter renders in-process counters in the Prometheus text format.
type Exporter interface {
	Export(namespace string) string
}

// SageHandler handles sage HTTP requests.
type SageHandler struct {
	engine    Engine
	exporter  Exporter
	namespace string
}

// NewSageHandler creates a new SageHandler.
func NewSageHandler(engine Engine, exporter Exporter, namespace string) *SageHandler {
	return &SageHandler{
		engine:    engine,
		exporter:  exporter,
		namespace: namespace,
	}
}

// QueryRequest represents a question with optional chat history.
type QueryRequest struct {
	UserID      string              `json:"user_id" binding:"required"`
	Query       string              `json:"query" binding:"required"`
	ChatHistory []model.ChatMessage `json:"chat_history" binding:"omitempty,dive"`
}

// RecommendationRequest represents a recommendation request.
type RecommendationRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// RecommendationResponse wraps the ranked topics.
type RecommendationResponse struct {
	Recommendations []model.Recommendation `json:"recommendations"`
}

// DocumentRequest asks for the summary of one topic.
type DocumentRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Topic  string `json:"topic" binding:"required"`
}

// FeedbackRequest represents a user's rating of an answer.
type FeedbackRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Query  string `json:"query" binding:"required"`
	Answer string `json:"answer"`
	Score  *int   `json:"score" binding:"required"`
}

// ReadinessResponse reports the engine status.
type ReadinessResponse struct {
	Status string `json:"status"`
}

// bind decodes the JSON body, writing ErrBadRequest on failure.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Fail(c, errors.ErrBadRequest.WithMessagef("invalid request: %v", err))
		return false
	}
	return true
}

// Query answers a question from the knowledge base.
func (h *SageHandler) Query(c *gin.Context) {
	var req QueryRequest
	if !bind(c, &req) {
		return
	}

	result, err := h.engine.Query(c.Request.Context(), req.UserID, req.Query, req.ChatHistory)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, result)
}

// Recommendations returns topics the user has not explored yet.
func (h *SageHandler) Recommendations(c *gin.Context) {
	var req RecommendationRequest
	if !bind(c, &req) {
		return
	}

	recs, err := h.engine.Recommend(c.Request.Context(), req.UserID)
	if err != nil {
		response.Fail(c, err)
		return
	}
	if recs == nil {
		recs = []model.Recommendation{}
	}
	response.OK(c, RecommendationResponse{Recommendations: recs})
}

// Documents summarizes one topic. Unknown topics still carry the apology answer.
func (h *SageHandler) Documents(c *gin.Context) {
	var req DocumentRequest
	if !bind(c, &req) {
		return
	}

	result, err := h.engine.GetTopicDocument(c.Request.Context(), req.UserID, req.Topic)
	if err != nil {
		if result != nil && errors.IsCode(err, errors.ErrTopicNotFound.Code) {
			response.FailWithData(c, err, result)
			return
		}
		response.Fail(c, err)
		return
	}
	response.OK(c, result)
}

// Feedback appends a rating to the feedback log.
func (h *SageHandler) Feedback(c *gin.Context) {
	var req FeedbackRequest
	if !bind(c, &req) {
		return
	}

	err := h.engine.Feedback(c.Request.Context(), model.FeedbackLog{
		UserID: req.UserID,
		Query:  req.Query,
		Answer: req.Answer,
		Score:  *req.Score,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, nil)
}

// Metrics returns the query and feedback summary.
func (h *SageHandler) Metrics(c *gin.Context) {
	summary, err := h.engine.Metrics(c.Request.Context())
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, summary)
}

// ResetProfiles removes every stored user profile.
func (h *SageHandler) ResetProfiles(c *gin.Context) {
	if err := h.engine.ResetProfiles(c.Request.Context()); err != nil {
		response.Fail(c, err)
		return
	}
	logger.Warnw("User profiles reset", "remote_addr", c.ClientIP())
	response.OK(c, nil)
}

// Healthz reports liveness.
func (h *SageHandler) Healthz(c *gin.Context) {
	response.OK(c, ReadinessResponse{Status: "ok"})
}

// Readyz reports whether the knowledge base finished loading.
func (h *SageHandler) Readyz(c *gin.Context) {
	status := h.engine.Status()
	if status != biz.StatusReady {
		response.FailWithData(c, errors.ErrSageNotReady, ReadinessResponse{Status: status.String()})
		return
	}
	response.OK(c, ReadinessResponse{Status: status.String()})
}

// Version returns the build information.
func (h *SageHandler) Version(c *gin.Context) {
	response.OK(c, app.GetVersionInfo())
}

// PrometheusMetrics exposes the in-process counters for scraping.
func (h *SageHandler) PrometheusMetrics(c *gin.Context) {
	if h.exporter == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.Data(http.StatusOK, "text/plain; version=0.0.4; charset=utf-8", []byte(h.exporter.Export(h.namespace)))
}
