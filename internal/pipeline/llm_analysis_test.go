package pipeline_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"storepulse.app/analysis/common/llm"
	"storepulse.app/analysis/internal/model"
	"storepulse.app/analysis/internal/pipeline"
)

var _ = Describe("LLM analysis step", func() {
	var (
		ctx     context.Context
		client  *mockLLMClient
		prompts *mockPromptStore
		review  *model.Review
		run     *pipeline.RunContext
	)

	newStep := func(params map[string]any) pipeline.Step {
		step, err := pipeline.NewLLMAnalysisStep(pipeline.Deps{LLM: client, Prompts: prompts}, pipeline.NewParams(params))
		Expect(err).NotTo(HaveOccurred())
		return step
	}

	BeforeEach(func() {
		ctx = context.Background()
		client = &mockLLMClient{}
		prompts = &mockPromptStore{}
		review = &model.Review{ID: 11, Rating: 3, Title: "Hmm", Content: "Fun at first but the ending felt rushed."}
		run = pipeline.NewRunContext(review)
		run.Tone = model.ToneNeutral
		run.RawPolarity = ptrTo(0.05)
		run.Issues = []string{"Problem: bug/glitch (medium severity)"}
		run.SetComplexReview(ptrTo("Need review: Mixed or ambiguous sentiment"))
	})

	It("overwrites the local analysis with the model verdict", func() {
		client.completeFn = func(_ context.Context, _ llm.Request) (*llm.Completion, error) {
			return &llm.Completion{
				Content: "```json\n" + `{"tone": "Very Negative", "issues": ["Problem: rushed ending"], "complex_review": null,
					"raw_polarity": -0.7, "notes": "Compares to the sequel", "confidence": 0.9}` + "\n```",
				PromptTokens:     1000,
				CompletionTokens: 500,
			}, nil
		}

		Expect(newStep(nil).Process(ctx, review, run)).To(Succeed())

		Expect(run.Tone).To(Equal(model.ToneVeryNegative))
		Expect(run.Issues).To(Equal([]string{"Problem: rushed ending"}))
		Expect(run.ComplexReviewSet()).To(BeTrue())
		Expect(run.ComplexReview()).To(BeNil())
		Expect(*run.RawPolarity).To(Equal(-0.7))
		Expect(run.Notes).To(HaveValue(Equal("Compares to the sequel")))
		Expect(*run.Confidence).To(Equal(0.9))
		Expect(run.AnalysisSource).To(Equal(model.AnalysisSourceGPT))
		Expect(*run.GPTCost).To(BeNumerically("~", 0.0003, 1e-12))
		Expect(run.GPTError).To(BeNil())
	})

	It("sends the rating, title and content with the configured parameters", func() {
		Expect(newStep(map[string]any{"model": "gpt-4.1-mini", "temperature": 0.1, "max_tokens": 200}).
			Process(ctx, review, run)).To(Succeed())

		Expect(client.requests).To(HaveLen(1))
		req := client.requests[0]
		Expect(req.UserPrompt).To(Equal("Review rating: 3\nTitle: Hmm\nContent: Fun at first but the ending felt rushed."))
		Expect(req.SystemPrompt).To(Equal(pipeline.DefaultPromptText))
		Expect(req.Model).To(Equal("gpt-4.1-mini"))
		Expect(req.MaxTokens).To(Equal(200))
		Expect(req.Temperature).To(HaveValue(Equal(0.1)))
	})

	It("keeps prior issues and polarity when the verdict omits them", func() {
		client.completeFn = func(_ context.Context, _ llm.Request) (*llm.Completion, error) {
			return &llm.Completion{Content: `{"tone": "positive"}`}, nil
		}

		Expect(newStep(nil).Process(ctx, review, run)).To(Succeed())

		Expect(run.Tone).To(Equal(model.TonePositive))
		Expect(run.Issues).To(Equal([]string{"Problem: bug/glitch (medium severity)"}))
		Expect(*run.RawPolarity).To(Equal(0.05))
		Expect(*run.Confidence).To(Equal(0.8))
		Expect(*run.GPTCost).To(BeNumerically("~", 0.00006, 1e-12))
	})

	It("maps an unknown tone to neutral", func() {
		client.completeFn = func(_ context.Context, _ llm.Request) (*llm.Completion, error) {
			return &llm.Completion{Content: `{"tone": "ecstatic"}`}, nil
		}
		run.Tone = model.ToneNegative

		Expect(newStep(nil).Process(ctx, review, run)).To(Succeed())
		Expect(run.Tone).To(Equal(model.ToneNeutral))
	})

	It("keeps the local analysis when the call fails", func() {
		client.completeFn = func(_ context.Context, _ llm.Request) (*llm.Completion, error) {
			return nil, errors.New("upstream unavailable")
		}

		Expect(newStep(nil).Process(ctx, review, run)).To(Succeed())

		Expect(run.GPTError).To(HaveValue(ContainSubstring("upstream unavailable")))
		Expect(run.AnalysisSource).To(Equal(model.AnalysisSourceLocal))
		Expect(run.Tone).To(Equal(model.ToneNeutral))
		Expect(run.Issues).To(Equal([]string{"Problem: bug/glitch (medium severity)"}))
		Expect(run.GPTCost).To(BeNil())
	})

	It("records a malformed response as an error", func() {
		client.completeFn = func(_ context.Context, _ llm.Request) (*llm.Completion, error) {
			return &llm.Completion{Content: "I think this review is mixed."}, nil
		}

		Expect(newStep(nil).Process(ctx, review, run)).To(Succeed())
		Expect(run.GPTError).NotTo(BeNil())
		Expect(run.AnalysisSource).To(Equal(model.AnalysisSourceLocal))
	})

	Describe("skipping", func() {
		It("skips reviews marked simple", func() {
			run.SkipGPT = ptrTo(true)
			Expect(newStep(nil).Process(ctx, review, run)).To(Succeed())
			Expect(client.requests).To(BeEmpty())
		})

		It("skips reviews checked and found not complex", func() {
			run.SetComplexReview(nil)
			Expect(newStep(nil).Process(ctx, review, run)).To(Succeed())
			Expect(client.requests).To(BeEmpty())
			Expect(run.AnalysisSource).To(BeEmpty())
		})

		It("runs when complexity was never checked", func() {
			run = pipeline.NewRunContext(review)
			Expect(newStep(nil).Process(ctx, review, run)).To(Succeed())
			Expect(client.requests).To(HaveLen(1))
		})

		It("runs regardless when skip_if_simple is off", func() {
			run.SkipGPT = ptrTo(true)
			Expect(newStep(map[string]any{"skip_if_simple": false}).Process(ctx, review, run)).To(Succeed())
			Expect(client.requests).To(HaveLen(1))
		})

		It("does nothing without a client", func() {
			step, err := pipeline.NewLLMAnalysisStep(pipeline.Deps{}, pipeline.NewParams(nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(step.Process(ctx, review, run)).To(Succeed())
			Expect(run.AnalysisSource).To(BeEmpty())
			Expect(run.GPTError).To(BeNil())
		})
	})

	Describe("system prompt", func() {
		It("uses the active template for the configured prompt id", func() {
			prompts.getActiveFn = func(_ context.Context, promptID string) (*model.PromptTemplate, error) {
				Expect(promptID).To(Equal("custom"))
				return &model.PromptTemplate{PromptID: "custom", Text: "Be terse."}, nil
			}
			Expect(newStep(map[string]any{"prompt_id": "custom"}).Process(ctx, review, run)).To(Succeed())
			Expect(client.requests[0].SystemPrompt).To(Equal("Be terse."))
		})

		It("falls back to the built-in prompt when the template is missing", func() {
			Expect(newStep(map[string]any{"prompt_id": "missing"}).Process(ctx, review, run)).To(Succeed())
			Expect(client.requests[0].SystemPrompt).To(Equal(pipeline.DefaultPromptText))
		})
	})

	It("rejects a non-positive max_tokens", func() {
		_, err := pipeline.NewLLMAnalysisStep(pipeline.Deps{LLM: client}, pipeline.NewParams(map[string]any{"max_tokens": 0}))
		Expect(err).To(HaveOccurred())
	})
})
