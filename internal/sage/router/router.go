// Package router provides sage service routing.
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/kart-io/logger"

	"github.com/kart-io/sage/internal/sage/handler"
	"github.com/kart-io/sage/pkg/infra/middleware"
	"github.com/kart-io/sage/pkg/utils/errors"
	"github.com/kart-io/sage/pkg/utils/response"
)

// probePaths are not written to the access log.
var probePaths = []string{"/healthz", "/readyz", "/metrics"}

// NewEngine creates a gin engine with the standard middleware chain.
func NewEngine(mode string) *gin.Engine {
	gin.SetMode(mode)
	engine := gin.New()
	engine.Use(
		middleware.RequestID(),
		middleware.Logger(probePaths...),
		middleware.Recovery(nil),
	)
	engine.NoRoute(func(c *gin.Context) {
		response.Fail(c, errors.ErrRouteNotFound)
	})
	return engine
}

// Register registers the sage service routes.
func Register(engine *gin.Engine, h *handler.SageHandler) {
	logger.Info("Registering sage routes...")

	engine.GET("/healthz", h.Healthz)
	engine.GET("/readyz", h.Readyz)
	engine.GET("/version", h.Version)
	engine.GET("/metrics", h.PrometheusMetrics)

	v1 := engine.Group("/v1")
	{
		v1.POST("/query", h.Query)
		v1.POST("/recommendations", h.Recommendations)
		v1.POST("/documents", h.Documents)
		v1.POST("/feedback", h.Feedback)
		v1.GET("/metrics", h.Metrics)
		v1.DELETE("/profiles", h.ResetProfiles)
	}

	logger.Info("HTTP routes registered")
}
