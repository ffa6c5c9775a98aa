package router_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"storepulse.app/analysis/internal/http/handler"
	"storepulse.app/analysis/internal/http/router"
	"storepulse.app/analysis/internal/pipeline"
	"storepulse.app/analysis/internal/queue"
	"storepulse.app/analysis/internal/service"
)

type stubAnalysisService struct {
	enqueued []int64
}

func (s *stubAnalysisService) RunPipeline(_ context.Context, reviewID int64) (*pipeline.RunSummary, error) {
	return &pipeline.RunSummary{Success: true, ReviewID: reviewID}, nil
}

func (s *stubAnalysisService) Enqueue(_ context.Context, reviewID int64, _ queue.Source) error {
	s.enqueued = append(s.enqueued, reviewID)
	return nil
}

func (s *stubAnalysisService) Reanalyze(_ context.Context, ids []int64) (*service.BatchSummary, error) {
	return &service.BatchSummary{Total: len(ids), Successful: len(ids), Errors: []service.BatchError{}}, nil
}

func (s *stubAnalysisService) AnalyzeApp(_ context.Context, appID int64, _ int) (*service.BacklogResult, error) {
	return &service.BacklogResult{AppID: appID, ReviewIDs: []int64{}}, nil
}

func (s *stubAnalysisService) ReviewCreated(context.Context, int64) (bool, error) {
	return true, nil
}

var _ = Describe("SetupRoutes", func() {
	var (
		engine *gin.Engine
		svc    *stubAnalysisService
	)

	send := func(method, path, body string, headers map[string]string) int {
		req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		engine.ServeHTTP(w, req)
		return w.Code
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		engine = gin.New()
		svc = &stubAnalysisService{}
		router.SetupRoutes(engine, svc, router.RouterConfig{TraceHeaderName: "X-Trace-Id", APIKey: "secret"})
	})

	It("serves health without a key", func() {
		Expect(send(http.MethodGet, "/health", "", nil)).To(Equal(http.StatusOK))
	})

	It("serves readiness without a key", func() {
		engine = gin.New()
		router.SetupRoutes(engine, svc, router.RouterConfig{
			APIKey: "secret",
			Checks: map[string]handler.HealthCheck{
				"redis": func(context.Context) error { return errors.New("down") },
			},
		})

		Expect(send(http.MethodGet, "/ready", "", nil)).To(Equal(http.StatusServiceUnavailable))
		Expect(send(http.MethodGet, "/health", "", nil)).To(Equal(http.StatusOK))
	})

	It("rejects api calls without the key", func() {
		Expect(send(http.MethodPost, "/api/v1/reviews/1/analyze", "", nil)).To(Equal(http.StatusUnauthorized))
		Expect(svc.enqueued).To(BeEmpty())
	})

	It("accepts the key as a header or bearer token", func() {
		Expect(send(http.MethodPost, "/api/v1/reviews/1/analyze", "", map[string]string{"X-API-Key": "secret"})).
			To(Equal(http.StatusAccepted))
		Expect(send(http.MethodPost, "/api/v1/reviews/2/analyze", "", map[string]string{"Authorization": "Bearer secret"})).
			To(Equal(http.StatusAccepted))
		Expect(svc.enqueued).To(Equal([]int64{1, 2}))
	})

	It("routes every analysis endpoint", func() {
		auth := map[string]string{"X-API-Key": "secret"}

		Expect(send(http.MethodPost, "/api/v1/reviews/reanalyze", `{"review_ids":[1]}`, auth)).To(Equal(http.StatusOK))
		Expect(send(http.MethodPost, "/api/v1/apps/4/analyze", "", auth)).To(Equal(http.StatusAccepted))
		Expect(send(http.MethodPost, "/api/v1/events/review-created", `{"review_id":3}`, auth)).To(Equal(http.StatusAccepted))
	})

	It("leaves the api open when no key is configured", func() {
		engine = gin.New()
		router.SetupRoutes(engine, svc, router.RouterConfig{})

		Expect(send(http.MethodPost, "/api/v1/reviews/1/analyze", "", nil)).To(Equal(http.StatusAccepted))
	})
})
