package handler_test

import (
	"bytes"
	"context"
	stdjson "encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sage/internal/model"
	"github.com/kart-io/sage/internal/sage/biz"
	"github.com/kart-io/sage/internal/sage/handler"
	"github.com/kart-io/sage/internal/sage/metrics"
	"github.com/kart-io/sage/internal/sage/router"
	"github.com/kart-io/sage/pkg/utils/errors"
	"github.com/kart-io/sage/pkg/utils/json"
)

type stubEngine struct {
	status   biz.Status
	result   *model.QueryResult
	recs     []model.Recommendation
	summary  *biz.MetricsSummary
	err      error
	feedback []model.FeedbackLog
	history  []model.ChatMessage
	resets   int
}

func (s *stubEngine) Query(_ context.Context, _, _ string, history []model.ChatMessage) (*model.QueryResult, error) {
	s.history = history
	return s.result, s.err
}

func (s *stubEngine) Recommend(context.Context, string) ([]model.Recommendation, error) {
	return s.recs, s.err
}

func (s *stubEngine) GetTopicDocument(context.Context, string, string) (*model.QueryResult, error) {
	return s.result, s.err
}

func (s *stubEngine) Feedback(_ context.Context, fb model.FeedbackLog) error {
	s.feedback = append(s.feedback, fb)
	return s.err
}

func (s *stubEngine) Metrics(context.Context) (*biz.MetricsSummary, error) {
	return s.summary, s.err
}

func (s *stubEngine) ResetProfiles(context.Context) error {
	s.resets++
	return s.err
}

func (s *stubEngine) Status() biz.Status {
	return s.status
}

type envelope struct {
	Code      int                `json:"code"`
	Message   string             `json:"message"`
	Data      stdjson.RawMessage `json:"data"`
	RequestID string             `json:"request_id"`
}

func serve(t *testing.T, eng *stubEngine, method, path, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	r := router.NewEngine(gin.TestMode)
	router.Register(r, handler.NewSageHandler(eng, metrics.New(), "sage"))

	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestQuery(t *testing.T) {
	eng := &stubEngine{status: biz.StatusReady, result: &model.QueryResult{Answer: "Alpha is first.", Sources: []string{"01-alpha"}}}

	w, env := serve(t, eng, http.MethodPost, "/v1/query",
		`{"user_id":"u1","query":"what is alpha","chat_history":[{"role":"user","content":"hi"}]}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
	assert.NotEmpty(t, env.RequestID)

	var got model.QueryResult
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, *eng.result, got)
	assert.Equal(t, []model.ChatMessage{{Role: "user", Content: "hi"}}, eng.history)
}

func TestQueryValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"缺少用户", `{"query":"q"}`},
		{"缺少问题", `{"user_id":"u1"}`},
		{"非法角色", `{"user_id":"u1","query":"q","chat_history":[{"role":"system","content":"x"}]}`},
		{"非法JSON", `{"user_id":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &stubEngine{status: biz.StatusReady}
			w, env := serve(t, eng, http.MethodPost, "/v1/query", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, errors.ErrBadRequest.Code, env.Code)
		})
	}
}

func TestEngineErrorsMapToStatus(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"初始化中", errors.ErrSageNotReady, http.StatusServiceUnavailable},
		{"嵌入失败", errors.ErrUpstreamEmbedding.WithCause(assert.AnError), http.StatusBadGateway},
		{"生成失败", errors.ErrUpstreamGeneration.WithCause(assert.AnError), http.StatusBadGateway},
		{"未知错误", assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &stubEngine{err: tt.err}
			w, env := serve(t, eng, http.MethodPost, "/v1/query", `{"user_id":"u1","query":"q"}`)
			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, errors.FromError(tt.err).Code, env.Code)
			assert.NotContains(t, w.Body.String(), assert.AnError.Error())
		})
	}
}

func TestRecommendations(t *testing.T) {
	t.Run("有推荐", func(t *testing.T) {
		eng := &stubEngine{recs: []model.Recommendation{{TopicID: "02-beta", Title: "Beta", Explanation: biz.ExplanationDiverse}}}
		w, env := serve(t, eng, http.MethodPost, "/v1/recommendations", `{"user_id":"u1"}`)
		require.Equal(t, http.StatusOK, w.Code)

		var got handler.RecommendationResponse
		require.NoError(t, json.Unmarshal(env.Data, &got))
		assert.Equal(t, eng.recs, got.Recommendations)
	})

	t.Run("空列表", func(t *testing.T) {
		w, env := serve(t, &stubEngine{}, http.MethodPost, "/v1/recommendations", `{"user_id":"u1"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"recommendations":[]}`, string(env.Data))
	})
}

func TestDocumentsNotFoundCarriesAnswer(t *testing.T) {
	eng := &stubEngine{
		result: &model.QueryResult{Answer: biz.NotFoundAnswer("09-missing")},
		err:    errors.ErrTopicNotFound,
	}
	w, env := serve(t, eng, http.MethodPost, "/v1/documents", `{"user_id":"u1","topic":"09-missing.md"}`)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errors.ErrTopicNotFound.Code, env.Code)

	var got model.QueryResult
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "Sorry, I could not find a document for the topic: 09-missing.", got.Answer)
}

func TestFeedback(t *testing.T) {
	eng := &stubEngine{status: biz.StatusInitializing}
	w, _ := serve(t, eng, http.MethodPost, "/v1/feedback", `{"user_id":"u1","query":"q","answer":"a","score":0}`)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, eng.feedback, 1)
	assert.Equal(t, model.FeedbackLog{UserID: "u1", Query: "q", Answer: "a", Score: 0}, eng.feedback[0])

	w, _ = serve(t, eng, http.MethodPost, "/v1/feedback", `{"user_id":"u1","query":"q"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsAndReset(t *testing.T) {
	eng := &stubEngine{summary: &biz.MetricsSummary{TotalQueries: 3, Status: "ready", RecentQueries: []model.QueryLog{}}}

	w, env := serve(t, eng, http.MethodGet, "/v1/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	var got biz.MetricsSummary
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, 3, got.TotalQueries)

	w, _ = serve(t, eng, http.MethodDelete, "/v1/profiles", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, eng.resets)
}

func TestProbes(t *testing.T) {
	w, _ := serve(t, &stubEngine{status: biz.StatusInitializing}, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, env := serve(t, &stubEngine{status: biz.StatusInitializing}, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"initializing"}`, string(env.Data))

	w, _ = serve(t, &stubEngine{status: biz.StatusReady}, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = serve(t, &stubEngine{}, http.MethodGet, "/version", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = serve(t, &stubEngine{}, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sage_queries_total")
}

func TestUnknownRoute(t *testing.T) {
	w, env := serve(t, &stubEngine{}, http.MethodGet, "/v1/unknown", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errors.ErrRouteNotFound.Code, env.Code)
}
