package errors_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/kart-io/sage/pkg/utils/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

func TestMakeAndParseCode(t *testing.T) {
	code := errors.MakeCode(errors.ServiceSage, errors.CategoryResource, 1)
	assert.Equal(t, 2004001, code)

	svc, cat, seq := errors.ParseCode(code)
	assert.Equal(t, errors.ServiceSage, svc)
	assert.Equal(t, errors.CategoryResource, cat)
	assert.Equal(t, 1, seq)
	assert.True(t, errors.IsClientError(code))
	assert.False(t, errors.IsServerError(code))
}

func TestSageCodes(t *testing.T) {
	tests := []struct {
		name      string
		err       *errors.Errno
		http      int
		grpc      codes.Code
		retryable bool
	}{
		{"未就绪", errors.ErrSageNotReady, http.StatusServiceUnavailable, codes.Unavailable, true},
		{"主题不存在", errors.ErrTopicNotFound, http.StatusNotFound, codes.NotFound, false},
		{"向量化失败", errors.ErrUpstreamEmbedding, http.StatusBadGateway, codes.Unavailable, false},
		{"生成失败", errors.ErrUpstreamGeneration, http.StatusBadGateway, codes.Unavailable, false},
		{"参数错误", errors.ErrInvalidQuery, http.StatusBadRequest, codes.InvalidArgument, false},
		{"画像存储失败", errors.ErrProfileStore, http.StatusInternalServerError, codes.Internal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.http, tt.err.HTTPStatus())
			assert.Equal(t, tt.grpc, tt.err.GRPCStatus())
			assert.Equal(t, tt.retryable, tt.err.Retryable())

			registered, ok := errors.Lookup(tt.err.Code)
			require.True(t, ok)
			assert.Same(t, tt.err, registered)
		})
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	assert.Panics(t, func() {
		errors.Register(errors.New(errors.ErrTopicNotFound.Code, http.StatusNotFound, codes.NotFound, "dup", "重复"))
	})
}

func TestWithCauseKeepsIdentity(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := errors.ErrUpstreamEmbedding.WithCause(cause)

	assert.True(t, stderrors.Is(err, errors.ErrUpstreamEmbedding))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, err.Cause())
	assert.Contains(t, err.Error(), "connection refused")
	assert.Nil(t, errors.ErrUpstreamEmbedding.Cause())
}

func TestFromError(t *testing.T) {
	assert.Nil(t, errors.FromError(nil))

	plain := stderrors.New("boom")
	got := errors.FromError(plain)
	assert.Equal(t, errors.ErrInternal.Code, got.Code)
	assert.Equal(t, plain, got.Cause())

	wrapped := fmt.Errorf("query: %w", errors.ErrSageNotReady)
	assert.Equal(t, errors.ErrSageNotReady.Code, errors.FromError(wrapped).Code)
	assert.True(t, errors.IsCode(wrapped, errors.ErrSageNotReady.Code))
	assert.Equal(t, -1, errors.GetCode(plain))
}

func TestErrorString(t *testing.T) {
	err := errors.ErrTopicNotFound.WithMessagef("topic %q not found", "x")
	assert.Equal(t, `errno 2004001: topic "x" not found`, err.Error())
	assert.Equal(t, "Topic not found", errors.ErrTopicNotFound.MessageEN)
}

func TestFromErrorDeadline(t *testing.T) {
	err := fmt.Errorf("embed: %w", context.DeadlineExceeded)
	got := errors.FromError(err)
	assert.Equal(t, errors.ErrRequestTimeout.Code, got.Code)
	assert.False(t, got.Retryable())
	assert.ErrorIs(t, got, context.DeadlineExceeded)

	wrapped := errors.ErrUpstreamGeneration.WithCause(context.DeadlineExceeded)
	assert.Equal(t, errors.ErrUpstreamGeneration.Code, errors.FromError(wrapped).Code)
}
