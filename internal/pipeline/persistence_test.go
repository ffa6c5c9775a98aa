package pipeline_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"storepulse.app/analysis/common/nlp"
	"storepulse.app/analysis/internal/model"
	"storepulse.app/analysis/internal/pipeline"
	"storepulse.app/analysis/internal/store"
)

var _ = Describe("Persistence step", func() {
	var (
		ctx     context.Context
		results *mockAnalysisResultStore
		tickets *mockTicketStore
		tx      *mockTxRunner
		review  *model.Review
		run     *pipeline.RunContext
	)

	newStep := func(params map[string]any) pipeline.Step {
		step, err := pipeline.NewPersistenceStep(pipeline.Deps{Tx: tx}, pipeline.NewParams(params))
		Expect(err).NotTo(HaveOccurred())
		return step
	}

	BeforeEach(func() {
		ctx = context.Background()
		results = newMockAnalysisResultStore()
		tickets = newMockTicketStore()
		tx = &mockTxRunner{stores: &mockTxStores{results: results, tickets: tickets}}
		review = &model.Review{ID: 42, AppID: 7, Rating: 2, Content: "This app keeps crashing"}
		run = pipeline.NewRunContext(review)
	})

	Describe("BuildResult", func() {
		It("fills defaults for fields no step wrote", func() {
			result := pipeline.BuildResult(run)

			Expect(result.ReviewID).To(Equal(int64(42)))
			Expect(result.Tone).To(Equal(model.ToneNeutral))
			Expect(result.RawPolarity).To(Equal(0.0))
			Expect(result.RawSubjectivity).To(Equal(0.5))
			Expect(result.Confidence).To(Equal(1.0))
			Expect(result.AnalysisSource).To(Equal(model.AnalysisSourceLocal))
			Expect(result.Issues).To(BeEmpty())
			Expect(result.FlagSupport).To(BeNil())
			Expect(result.FullPayload).To(HaveKeyWithValue("vader_scores", map[string]any{}))
			Expect(result.FullPayload).To(HaveKeyWithValue("executed_steps", []string{"persistence"}))
			Expect(result.FullPayload).To(HaveKey("gpt_cost"))
			Expect(result.FullPayload).To(HaveKey("skip_gpt"))
			Expect(result.FullPayload["context_keys"]).To(ContainElements("review_id", "executed_steps"))
		})

		It("copies the accumulated analysis", func() {
			run.Tone = model.ToneNegative
			run.RawPolarity = ptrTo(-0.35)
			run.Issues = []string{"Problem: crash (high severity)"}
			run.VaderScores = &nlp.Scores{Compound: -0.35}
			run.ExecutedSteps = []string{"tone_detection", "issue_detection"}

			result := pipeline.BuildResult(run)
			Expect(result.Tone).To(Equal(model.ToneNegative))
			Expect(result.RawPolarity).To(Equal(-0.35))
			Expect(result.FullPayload["vader_scores"]).To(Equal(nlp.Scores{Compound: -0.35}))
			Expect(result.FullPayload["executed_steps"]).To(Equal([]string{"tone_detection", "issue_detection", "persistence"}))
			Expect(run.ExecutedSteps).To(HaveLen(2))
		})

		It("flags hidden problems in well-rated reviews", func() {
			run.Rating = 5
			run.Issues = []string{"Problem: battery (low severity)"}
			Expect(pipeline.BuildResult(run).FlagSupport).To(HaveValue(Equal(pipeline.FlagSupportHiddenIssue)))
		})

		It("is deterministic for the same run", func() {
			run.Tone = model.TonePositive
			run.Issues = []string{pipeline.NoIssueDetected}
			Expect(pipeline.BuildResult(run)).To(Equal(pipeline.BuildResult(run)))
		})
	})

	It("saves the result and opens a ticket for problems", func() {
		run.Tone = model.ToneNegative
		run.Issues = []string{"Problem: crash (high severity)", "Request: multiplayer (feature)"}

		Expect(newStep(nil).Process(ctx, review, run)).To(Succeed())

		Expect(run.AnalysisResultID).NotTo(BeNil())
		Expect(run.AnalysisCreated).To(HaveValue(BeTrue()))
		Expect(tickets.created).To(HaveLen(1))
		ticket := tickets.created[0]
		Expect(ticket.ReviewID).To(Equal(int64(42)))
		Expect(ticket.AnalysisResultID).To(Equal(*run.AnalysisResultID))
		Expect(ticket.Priority).To(Equal(5))
		Expect(ticket.Status).To(Equal(model.TicketStatusOpen))
		Expect(run.TicketID).To(HaveValue(Equal(ticket.ID)))
	})

	It("re-points an active ticket instead of opening another", func() {
		tickets.created = []*model.ReviewTicket{{ID: 900, ReviewID: 42, AnalysisResultID: 1, Status: model.TicketStatusInProgress}}
		run.Issues = []string{"Problem: crash (high severity)"}

		Expect(newStep(nil).Process(ctx, review, run)).To(Succeed())

		Expect(tickets.created).To(HaveLen(1))
		Expect(tickets.repointed).To(HaveKeyWithValue(int64(900), *run.AnalysisResultID))
		Expect(run.TicketID).To(HaveValue(Equal(int64(900))))
	})

	It("re-points the winner when a concurrent insert opens the ticket first", func() {
		winner := &model.ReviewTicket{ID: 901, ReviewID: 42, Status: model.TicketStatusOpen}
		lookups := 0
		tickets.findActiveFn = func(_ context.Context, _ int64) (*model.ReviewTicket, error) {
			lookups++
			if lookups == 1 {
				return nil, store.ErrNotFound
			}
			return winner, nil
		}
		tickets.createFn = func(_ context.Context, _ *model.ReviewTicket) error {
			return store.ErrActiveTicketExists
		}
		run.Issues = []string{"Problem: crash (high severity)"}

		Expect(newStep(nil).Process(ctx, review, run)).To(Succeed())

		Expect(tickets.repointed).To(HaveKey(int64(901)))
		Expect(run.TicketID).To(HaveValue(Equal(int64(901))))
		Expect(run.TicketError).To(BeNil())
	})

	It("keeps the result when the ticket cannot be written", func() {
		tickets.createFn = func(_ context.Context, _ *model.ReviewTicket) error {
			return errors.New("deadlock detected")
		}
		run.Issues = []string{"Problem: crash (high severity)"}

		Expect(newStep(nil).Process(ctx, review, run)).To(Succeed())

		Expect(results.saved).To(HaveKey(int64(42)))
		Expect(run.TicketID).To(BeNil())
		Expect(run.TicketError).To(HaveValue(ContainSubstring("deadlock detected")))
	})

	It("does not open a ticket when nothing warrants one", func() {
		run.Rating = 5
		run.Tone = model.ToneVeryPositive
		run.Issues = []string{pipeline.NoIssueDetected}
		run.SetComplexReview(nil)

		Expect(newStep(nil).Process(ctx, review, run)).To(Succeed())
		Expect(tickets.created).To(BeEmpty())
		Expect(run.TicketID).To(BeNil())
	})

	It("honours the negative-only gate", func() {
		review.Rating = 5
		run.Rating = 5
		run.Tone = model.TonePositive
		run.Issues = []string{"Request: multiplayer (feature)", "Problem: crash (high severity)"}

		Expect(newStep(map[string]any{"ticket_only_for_negative": true, "auto_ticket_for_complex": false}).
			Process(ctx, review, run)).To(Succeed())

		// the support flag still opens one
		Expect(tickets.created).To(HaveLen(1))
		Expect(tickets.created[0].Notes).To(HavePrefix("Support: "))
	})

	It("fails the step when the result cannot be saved", func() {
		results.upsertFn = func(_ context.Context, _ *model.AnalysisResult) (int64, bool, error) {
			return 0, false, errors.New("connection refused")
		}
		Expect(newStep(nil).Process(ctx, review, run)).To(MatchError(ContainSubstring("connection refused")))
		Expect(run.AnalysisResultID).To(BeNil())
	})

	It("requires a transaction runner", func() {
		_, err := pipeline.NewPersistenceStep(pipeline.Deps{}, pipeline.NewParams(nil))
		Expect(err).To(HaveOccurred())
	})
})
