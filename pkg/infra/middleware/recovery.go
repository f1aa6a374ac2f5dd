package middleware

import (
	"fmt"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/sage/pkg/utils/errors"
	"github.com/kart-io/sage/pkg/utils/response"
)

// PanicHandler 定义 panic 处理器类型。
type PanicHandler func(ctx *gin.Context, err interface{}, stack []byte)

// Recovery returns a middleware that recovers from panics.
// The full stack is logged; the client only sees ErrPanic.
func Recovery(onPanic PanicHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			stack := debug.Stack()

			logger.Errorw("panic recovered",
				"panic", fmt.Sprint(r),
				"stack_trace", string(stack),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"request_id", GetRequestID(c.Request.Context()),
			)

			if onPanic != nil {
				onPanic(c, r, stack)
			}

			response.Fail(c, errors.ErrPanic)
			c.Abort()
		}()
		c.Next()
	}
}
