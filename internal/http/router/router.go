package router

import (
	"github.com/gin-gonic/gin"

	"storepulse.app/analysis/internal/http/handler"
	"storepulse.app/analysis/internal/http/middleware"
	"storepulse.app/analysis/internal/service"
)

type RouterConfig struct {
	TraceHeaderName string
	APIKey          string

	// Checks back /ready, keyed by dependency name. /health never consults them.
	Checks map[string]handler.HealthCheck
}

func SetupRoutes(router *gin.Engine, analysis service.AnalysisService, cfg RouterConfig) {
	health := handler.NewHealthHandler(cfg.Checks, 0)
	router.GET("/health", health.Live)
	router.GET("/ready", health.Ready)

	v1 := router.Group("/api/v1", middleware.RequireAPIKey(cfg.APIKey))
	{
		analysisHandler := handler.NewAnalysisHandler(analysis, cfg.TraceHeaderName)
		AnalysisRouter(v1, analysisHandler)
	}
}
