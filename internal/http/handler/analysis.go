package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"storepulse.app/analysis/common/logger"
	"storepulse.app/analysis/internal/http/dto"
	"storepulse.app/analysis/internal/pipeline"
	"storepulse.app/analysis/internal/queue"
	"storepulse.app/analysis/internal/service"
)

type AnalysisHandler struct {
	service     service.AnalysisService
	traceHeader string
}

func NewAnalysisHandler(service service.AnalysisService, traceHeader string) *AnalysisHandler {
	return &AnalysisHandler{
		service:     service,
		traceHeader: traceHeader,
	}
}

// AnalyzeReview enqueues a run, or runs synchronously with ?sync=true.
func (h *AnalysisHandler) AnalyzeReview(c *gin.Context) {
	reviewID, ok := idParam(c)
	if !ok {
		return
	}

	span := h.startSpan(c, "http.analyze_review")
	defer span.End()
	ctx := logger.WithLogFields(span.Context(), logger.LogFields{ReviewID: &reviewID})

	if sync, _ := strconv.ParseBool(c.Query("sync")); sync {
		summary, err := h.service.RunPipeline(ctx, reviewID)
		c.JSON(runStatus(err), summary)
		return
	}

	if err := h.service.Enqueue(ctx, reviewID, queue.SourceManual); err != nil {
		h.enqueueError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, dto.EnqueueResponse{ReviewID: reviewID, Enqueued: true})
}

func (h *AnalysisHandler) Reanalyze(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ReanalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid reanalyze request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span := h.startSpan(c, "http.reanalyze")
	defer span.End()

	batch, err := h.service.Reanalyze(span.Context(), req.ReviewIDs)
	if err != nil {
		slog.ErrorContext(ctx, "reanalysis aborted", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reanalysis aborted", "summary": batch})
		return
	}
	c.JSON(http.StatusOK, batch)
}

func (h *AnalysisHandler) AnalyzeApp(c *gin.Context) {
	appID, ok := idParam(c)
	if !ok {
		return
	}

	var query dto.AnalyzeAppQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span := h.startSpan(c, "http.analyze_app")
	defer span.End()
	ctx := span.Context()

	result, err := h.service.AnalyzeApp(ctx, appID, query.Limit)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, result)
	case errors.Is(err, service.ErrAppNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "app not found"})
	case errors.Is(err, service.ErrInvalidLimit):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.enqueueError(c, err)
	}
}

// ReviewCreated is called by ingestion for each new review.
func (h *AnalysisHandler) ReviewCreated(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.ReviewCreatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid review-created event", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	span := h.startSpan(c, "http.review_created")
	defer span.End()
	ctx = logger.WithLogFields(span.Context(), logger.LogFields{ReviewID: &req.ReviewID})

	enqueued, err := h.service.ReviewCreated(ctx, req.ReviewID)
	if err != nil {
		if errors.Is(err, pipeline.ErrReviewNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "review not found"})
			return
		}
		h.enqueueError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dto.ReviewCreatedResponse{
		ReviewID:   req.ReviewID,
		Enqueued:   enqueued,
		Duplicated: !enqueued,
	})
}

// startSpan joins the caller's trace when it sends one in the trace header.
func (h *AnalysisHandler) startSpan(c *gin.Context, name string) *logger.SpanContext {
	return logger.StartSpanFromTraceID(c.Request.Context(), c.GetHeader(h.traceHeader), name)
}

func (h *AnalysisHandler) enqueueError(c *gin.Context, err error) {
	ctx := c.Request.Context()
	if errors.Is(err, service.ErrQueueDisabled) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "analysis queue unavailable"})
		return
	}
	slog.ErrorContext(ctx, "failed to enqueue analysis", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue analysis"})
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func runStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, pipeline.ErrReviewNotFound):
		return http.StatusNotFound
	case pipeline.IsRetryable(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
