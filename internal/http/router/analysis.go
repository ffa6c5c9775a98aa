package router

import (
	"github.com/gin-gonic/gin"

	"storepulse.app/analysis/internal/http/handler"
)

func AnalysisRouter(router *gin.RouterGroup, handler *handler.AnalysisHandler) {
	router.POST("/reviews/:id/analyze", handler.AnalyzeReview)
	router.POST("/reviews/reanalyze", handler.Reanalyze)
	router.POST("/apps/:id/analyze", handler.AnalyzeApp)
	router.POST("/events/review-created", handler.ReviewCreated)
}
