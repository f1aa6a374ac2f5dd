// Package response provides the JSON envelope returned by every HTTP endpoint.
package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kart-io/sage/pkg/utils/errors"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// retryAfterSeconds is advertised on retryable failures such as an index still loading.
const retryAfterSeconds = "5"

// Response is the unified API response structure.
type Response struct {
	// Code is the business error code (0 = success)
	Code int `json:"code"`

	// Message is a human-readable message
	Message string `json:"message"`

	// Data contains the response payload
	Data any `json:"data,omitempty"`

	// RequestID is the unique request identifier for tracing
	RequestID string `json:"request_id,omitempty"`

	// Timestamp is the response timestamp (Unix milliseconds)
	Timestamp int64 `json:"timestamp"`
}

// Success creates a successful response with data.
func Success(data any) *Response {
	return &Response{
		Code:      0,
		Message:   "success",
		Data:      data,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Err creates an error response from an Errno. The cause is never included.
func Err(e *errors.Errno) *Response {
	if e == nil {
		return Success(nil)
	}
	return &Response{
		Code:      e.Code,
		Message:   e.MessageEN,
		Timestamp: time.Now().UnixMilli(),
	}
}

// WithData attaches a payload, used when an error still carries a body (e.g. a not-found answer).
func (r *Response) WithData(data any) *Response {
	r.Data = data
	return r
}

// HTTPStatus returns the HTTP status for this response.
func (r *Response) HTTPStatus() int {
	if r.Code == 0 {
		return http.StatusOK
	}
	if e, ok := errors.Lookup(r.Code); ok {
		return e.HTTPStatus()
	}
	switch errors.GetCategory(r.Code) {
	case errors.CategoryRequest:
		return http.StatusBadRequest
	case errors.CategoryResource:
		return http.StatusNotFound
	case errors.CategoryNetwork:
		return http.StatusServiceUnavailable
	case errors.CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// OK writes a success envelope.
func OK(c *gin.Context, data any) {
	write(c, http.StatusOK, Success(data))
}

// Fail writes an error envelope. Unknown errors are reported as ErrInternal.
func Fail(c *gin.Context, err error) {
	FailWithData(c, err, nil)
}

// FailWithData writes an error envelope that still carries a payload.
func FailWithData(c *gin.Context, err error, data any) {
	e := errors.FromError(err)
	if e.Retryable() {
		c.Header("Retry-After", retryAfterSeconds)
	}
	r := Err(e).WithData(data)
	write(c, e.HTTPStatus(), r)
}

func write(c *gin.Context, status int, r *Response) {
	if id, ok := c.Get(RequestIDKey); ok {
		if s, ok := id.(string); ok {
			r.RequestID = s
		}
	}
	c.JSON(status, r)
}
