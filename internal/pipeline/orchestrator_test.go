package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"storepulse.app/analysis/common/llm"
	"storepulse.app/analysis/common/nlp"
	"storepulse.app/analysis/internal/model"
	"storepulse.app/analysis/internal/pipeline"
)

func defaultConfigs() []model.StepConfig {
	labels := map[string]string{}
	for _, st := range pipeline.BuiltinStepTypes() {
		labels[st.Key] = st.Label
	}
	configs := pipeline.DefaultStepConfigs()
	for i := range configs {
		configs[i].StepLabel = labels[configs[i].StepKey]
	}
	return configs
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx      context.Context
		reviews  *mockReviewStore
		configs  *mockPipelineConfigStore
		results  *mockAnalysisResultStore
		tickets  *mockTicketStore
		client   *mockLLMClient
		registry *pipeline.Registry
		review   *model.Review
		orch     *pipeline.Orchestrator
	)

	build := func() *pipeline.Orchestrator {
		deps := pipeline.Deps{
			LLM:     client,
			Prompts: &mockPromptStore{},
			Tx:      &mockTxRunner{stores: &mockTxStores{results: results, tickets: tickets}},
		}
		return pipeline.NewOrchestrator(reviews, configs, results, registry, deps)
	}

	BeforeEach(func() {
		ctx = context.Background()
		results = newMockAnalysisResultStore()
		tickets = newMockTicketStore()
		client = &mockLLMClient{}
		registry = pipeline.NewBuiltinRegistry()
		review = &model.Review{
			ID: 42, AppID: 7, AppName: "Sky Runner", Platform: model.PlatformAppStore,
			Rating: 2, Title: "Ugh", Content: "This app keeps crashing, please add multiplayer",
		}
		reviews = &mockReviewStore{getByIDFn: func(_ context.Context, id int64) (*model.Review, error) {
			if id != review.ID {
				return nil, errors.New("unexpected id")
			}
			return review, nil
		}}
		configs = &mockPipelineConfigStore{listEnabledFn: func(_ context.Context) ([]model.StepConfig, error) {
			return defaultConfigs(), nil
		}}
		orch = build()
	})

	It("analyzes a crash report with a feature request end to end", func() {
		summary, err := orch.Run(ctx, 42)
		Expect(err).NotTo(HaveOccurred())

		Expect(summary.Success).To(BeTrue())
		Expect(summary.ExecutedSteps).To(Equal([]string{
			"tone_detection", "issue_detection", "complexity_check", "gpt_analysis", "persistence",
		}))
		Expect(summary.Tone).To(HaveValue(Equal(model.ToneNegative)))
		Expect(summary.IssuesCount).To(Equal(2))
		Expect(summary.AnalysisSource).To(Equal(model.AnalysisSourceLocal))
		Expect(summary.AnalysisResultID).NotTo(BeNil())
		Expect(summary.TicketID).NotTo(BeNil())

		saved := results.saved[42]
		Expect(saved.Issues).To(Equal([]string{"Problem: crash (high severity)", "Request: multiplayer (feature)"}))
		Expect(tickets.created).To(HaveLen(1))
		Expect(tickets.created[0].Priority).To(BeNumerically(">=", 5))
		Expect(client.requests).To(BeEmpty())
	})

	It("keeps short glowing reviews local and ticket-free", func() {
		review.Rating = 5
		review.Content = "Great game!"

		summary, err := orch.Run(ctx, 42)
		Expect(err).NotTo(HaveOccurred())

		Expect(client.requests).To(BeEmpty())
		Expect(summary.AnalysisSource).To(Equal(model.AnalysisSourceLocal))
		Expect(summary.TicketID).To(BeNil())
		Expect(tickets.created).To(BeEmpty())
		Expect(results.saved[42].FullPayload).To(HaveKeyWithValue("skip_gpt", HaveValue(BeTrue())))
	})

	It("escalates ambiguous reviews to the LLM", func() {
		review.Rating = 3
		review.Content = "Fun levels. Odd ending."
		client.completeFn = func(_ context.Context, _ llm.Request) (*llm.Completion, error) {
			return &llm.Completion{
				Content: `{"tone": "Negative", "issues": ["Problem: rushed ending"], "complex_review": "Need review: Mixed sentiments",
					"raw_polarity": -0.2, "notes": null, "confidence": 0.7}`,
				PromptTokens:     300,
				CompletionTokens: 80,
			}, nil
		}

		summary, err := orch.Run(ctx, 42)
		Expect(err).NotTo(HaveOccurred())

		Expect(client.requests).To(HaveLen(1))
		Expect(summary.AnalysisSource).To(Equal(model.AnalysisSourceGPT))
		Expect(summary.GPTCost).NotTo(BeNil())
		saved := results.saved[42]
		Expect(saved.Tone).To(Equal(model.ToneNegative))
		Expect(saved.ComplexReview).To(HaveValue(Equal("Need review: Mixed sentiments")))
		Expect(saved.Confidence).To(Equal(0.7))
		Expect(summary.TicketID).NotTo(BeNil())
	})

	It("saves a placeholder result when no steps are enabled", func() {
		configs.listEnabledFn = func(_ context.Context) ([]model.StepConfig, error) {
			return nil, nil
		}

		summary, err := orch.Run(ctx, 42)
		Expect(err).NotTo(HaveOccurred())

		Expect(summary.Success).To(BeTrue())
		Expect(summary.Warning).To(Equal("No enabled pipeline steps configured"))
		Expect(summary.ExecutedSteps).To(BeEmpty())
		saved := results.saved[42]
		Expect(saved.AnalysisSource).To(Equal(model.AnalysisSourceNone))
		Expect(saved.Confidence).To(Equal(0.0))
		Expect(saved.Tone).To(Equal(model.ToneNeutral))
		Expect(saved.Issues).To(Equal([]string{"No analysis performed - all steps disabled"}))
		Expect(saved.FullPayload).To(HaveKeyWithValue("warning", "No pipeline steps were enabled"))
		Expect(tickets.created).To(BeEmpty())
	})

	It("isolates failing and panicking steps", func() {
		Expect(registry.Register("broken", func(_ pipeline.Deps, _ *pipeline.Params) (pipeline.Step, error) {
			return pipeline.StepFunc(func(_ context.Context, _ *model.Review, _ *pipeline.RunContext) error {
				return errors.New("lexicon unavailable")
			}), nil
		})).To(Succeed())
		Expect(registry.Register("exploding", func(_ pipeline.Deps, _ *pipeline.Params) (pipeline.Step, error) {
			return pipeline.StepFunc(func(_ context.Context, _ *model.Review, _ *pipeline.RunContext) error {
				panic("boom")
			}), nil
		})).To(Succeed())
		configs.listEnabledFn = func(_ context.Context) ([]model.StepConfig, error) {
			return []model.StepConfig{
				{StepKey: "tone_detection", StepLabel: "Tone Detection", Order: 10},
				{StepKey: "broken", StepLabel: "Broken", Order: 15},
				{StepKey: "exploding", StepLabel: "Exploding", Order: 16},
				{StepKey: "persistence", StepLabel: "Persistence", Order: 50},
			}, nil
		}

		summary, err := orch.Run(ctx, 42)
		Expect(err).NotTo(HaveOccurred())

		Expect(summary.Success).To(BeTrue())
		Expect(summary.ExecutedSteps).To(Equal([]string{
			"tone_detection", "broken (error)", "exploding (error)", "persistence",
		}))
		saved := results.saved[42]
		Expect(saved.Tone).To(Equal(model.ToneNegative))
		Expect(saved.FullPayload["context_keys"]).To(ContainElements("broken_error", "exploding_error"))
	})

	It("skips configured keys with no registered step", func() {
		configs.listEnabledFn = func(_ context.Context) ([]model.StepConfig, error) {
			return append(defaultConfigs(), model.StepConfig{StepKey: "mystery", StepLabel: "Mystery", Order: 5}), nil
		}

		summary, err := orch.Run(ctx, 42)
		Expect(err).NotTo(HaveOccurred())
		Expect(summary.ExecutedSteps).NotTo(ContainElement(ContainSubstring("mystery")))
		Expect(summary.ExecutedSteps).To(HaveLen(5))
	})

	It("runs steps by order, breaking ties on the label", func() {
		var seen []string
		record := func(name string) pipeline.Constructor {
			return func(_ pipeline.Deps, _ *pipeline.Params) (pipeline.Step, error) {
				return pipeline.StepFunc(func(_ context.Context, _ *model.Review, _ *pipeline.RunContext) error {
					seen = append(seen, name)
					return nil
				}), nil
			}
		}
		for _, k := range []string{"record_a", "record_b", "record_z"} {
			Expect(registry.Register(k, record(k))).To(Succeed())
		}
		configs.listEnabledFn = func(_ context.Context) ([]model.StepConfig, error) {
			return []model.StepConfig{
				{StepKey: "record_b", StepLabel: "B step", Order: 20},
				{StepKey: "record_a", StepLabel: "A step", Order: 20},
				{StepKey: "record_z", StepLabel: "Z step", Order: 10},
			}, nil
		}

		summary, err := orch.Run(ctx, 42)
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(Equal([]string{"record_z", "record_a", "record_b"}))
		Expect(summary.Warning).NotTo(BeEmpty())
		Expect(results.upserts).To(BeZero())
	})

	It("runs every configured instance of the same step", func() {
		var seen []string
		Expect(registry.Register("tagger", func(_ pipeline.Deps, params *pipeline.Params) (pipeline.Step, error) {
			label := params.String("label", "")
			return pipeline.StepFunc(func(_ context.Context, _ *model.Review, _ *pipeline.RunContext) error {
				seen = append(seen, label)
				return nil
			}), nil
		})).To(Succeed())
		configs.listEnabledFn = func(_ context.Context) ([]model.StepConfig, error) {
			return []model.StepConfig{
				{ID: 2, StepKey: "tagger", StepLabel: "Tagger", Order: 20, Params: json.RawMessage(`{"label": "second"}`)},
				{ID: 1, StepKey: "tagger", StepLabel: "Tagger", Order: 10, Params: json.RawMessage(`{"label": "first"}`)},
			}, nil
		}

		summary, err := orch.Run(ctx, 42)
		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(Equal([]string{"first", "second"}))
		Expect(summary.ExecutedSteps).To(Equal([]string{"tagger", "tagger"}))
	})

	It("fails fatally for a missing review", func() {
		reviews.getByIDFn = nil

		summary, err := orch.Run(ctx, 404)
		Expect(err).To(HaveOccurred())
		Expect(errors.Is(err, pipeline.ErrReviewNotFound)).To(BeTrue())
		Expect(pipeline.IsRetryable(err)).To(BeFalse())
		Expect(summary).NotTo(BeNil())
		Expect(summary.Success).To(BeFalse())
		Expect(summary.ReviewID).To(Equal(int64(404)))
		Expect(summary.Error).To(ContainSubstring("review not found"))
	})

	It("reports config load failures as retryable", func() {
		configs.listEnabledFn = func(_ context.Context) ([]model.StepConfig, error) {
			return nil, errors.New("connection reset")
		}

		summary, err := orch.Run(ctx, 42)
		Expect(pipeline.IsRetryable(err)).To(BeTrue())
		Expect(summary.Success).To(BeFalse())
	})

	It("stops at a step boundary once cancelled", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		summary, err := orch.Run(cancelled, 42)
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(pipeline.IsRetryable(err)).To(BeTrue())
		Expect(summary.Success).To(BeFalse())
		Expect(summary.ExecutedSteps).To(BeEmpty())
		Expect(results.upserts).To(BeZero())
	})

	It("produces the same analysis on re-run and reuses the ticket", func() {
		_, err := orch.Run(ctx, 42)
		Expect(err).NotTo(HaveOccurred())
		first := *results.saved[42]

		summary, err := orch.Run(ctx, 42)
		Expect(err).NotTo(HaveOccurred())
		second := *results.saved[42]

		Expect(second).To(Equal(first))
		Expect(tickets.created).To(HaveLen(1))
		Expect(tickets.repointed).To(HaveKeyWithValue(tickets.created[0].ID, first.ID))
		Expect(summary.TicketID).To(HaveValue(Equal(tickets.created[0].ID)))
	})

	Context("with the VADER scorer and prose parser", func() {
		BeforeEach(func() {
			parser, err := nlp.NewProseParser()
			Expect(err).NotTo(HaveOccurred())

			client.completeFn = func(context.Context, llm.Request) (*llm.Completion, error) {
				return nil, errors.New("connection reset by peer")
			}
			deps := pipeline.Deps{
				Scorer:  nlp.NewVaderScorer(),
				Parser:  parser,
				LLM:     client,
				Prompts: &mockPromptStore{},
				Tx:      &mockTxRunner{stores: &mockTxStores{results: results, tickets: tickets}},
			}
			orch = pipeline.NewOrchestrator(reviews, configs, results, registry, deps)
		})

		It("flags a polite low-rated crash report for review", func() {
			summary, err := orch.Run(ctx, 42)
			Expect(err).NotTo(HaveOccurred())

			Expect(summary.Success).To(BeTrue())
			Expect(summary.Tone).To(HaveValue(Equal(model.TonePositive)))
			Expect(client.requests).To(HaveLen(1))
			Expect(summary.AnalysisSource).To(Equal(model.AnalysisSourceLocal))

			saved := results.saved[42]
			Expect(saved.ComplexReview).To(HaveValue(Equal("Need review: Low rating but positive sentiment")))
			Expect(saved.Issues).To(ContainElements("Problem: crash (high severity)", "Request: multiplayer (feature)"))
			Expect(tickets.created).To(HaveLen(1))
		})

		It("produces identical results on re-run and repoints the one ticket", func() {
			_, err := orch.Run(ctx, 42)
			Expect(err).NotTo(HaveOccurred())
			first := *results.saved[42]

			_, err = orch.Run(ctx, 42)
			Expect(err).NotTo(HaveOccurred())

			Expect(*results.saved[42]).To(Equal(first))
			Expect(tickets.created).To(HaveLen(1))
			Expect(tickets.repointed).To(HaveKeyWithValue(tickets.created[0].ID, first.ID))
		})

		It("keeps short glowing reviews away from the LLM", func() {
			review.Rating = 5
			review.Content = "Great game!"

			summary, err := orch.Run(ctx, 42)
			Expect(err).NotTo(HaveOccurred())

			Expect(client.requests).To(BeEmpty())
			Expect(summary.Tone).To(HaveValue(Equal(model.ToneVeryPositive)))
			Expect(summary.TicketID).To(BeNil())
			Expect(results.saved[42].ComplexReview).To(BeNil())
		})
	})
})
