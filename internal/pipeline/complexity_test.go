package pipeline_test

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"storepulse.app/analysis/common/nlp"
	"storepulse.app/analysis/internal/model"
	"storepulse.app/analysis/internal/pipeline"
)

var _ = Describe("Complexity check", func() {
	DescribeTable("ComplexReason triggers",
		func(in pipeline.ComplexityInput, expected string) {
			reason := pipeline.ComplexReason(in)
			if expected == "" {
				Expect(reason).To(BeNil())
				return
			}
			Expect(reason).NotTo(BeNil())
			Expect(*reason).To(Equal("Need review: " + expected))
		},
		Entry("mixed sentiment over several sentences",
			pipeline.ComplexityInput{Content: "Fine game. Odd ending.", Rating: 3, Polarity: 0.1, Subjectivity: 0.6},
			"Mixed or ambiguous sentiment"),
		Entry("high rating with negative sentiment",
			pipeline.ComplexityInput{Content: "Just wonderful, it deleted everything", Rating: 4, Polarity: -0.5, Subjectivity: 0.5},
			"High rating but negative sentiment - possible sarcasm"),
		Entry("low rating with positive sentiment",
			pipeline.ComplexityInput{Content: "Lovely art, shame about the rest", Rating: 2, Polarity: 0.5, Subjectivity: 0.5},
			"Low rating but positive sentiment"),
		Entry("rating far from sentiment",
			pipeline.ComplexityInput{Content: "Nice", Rating: 5, Polarity: 0.2, Subjectivity: 0.6},
			"Significant mismatch between rating and sentiment"),
		Entry("very short review with an extreme rating",
			pipeline.ComplexityInput{Content: "Awful", Rating: 1, Polarity: -0.8, Subjectivity: 0.5},
			"Very short review with extreme rating"),
		Entry("short glowing review is not complex",
			pipeline.ComplexityInput{Content: "Great game!", Rating: 5, Polarity: 0.73, Subjectivity: 0.5},
			""),
		Entry("single-sentence neutral review is not complex",
			pipeline.ComplexityInput{Content: "It is an okay puzzle game for the commute", Rating: 3, Polarity: 0.05, Subjectivity: 0.6},
			""),
	)

	It("flags conflicting sentiment across sentences", func() {
		scorer := &fakeScorer{byText: map[string]nlp.Scores{
			"Love it":      {Compound: 0.8},
			"Hate the ads": {Compound: -0.7},
		}}
		doc := document(
			sentence(tok("Love", "VBP"), tok("it", "PRP")),
			sentence(tok("Hate", "VBP"), tok("the", "DT"), tok("ads", "NNS")),
		)
		reason := pipeline.ComplexReason(pipeline.ComplexityInput{
			Content: "Love it. Hate the ads.", Rating: 4, Polarity: 0.5, Subjectivity: 0.3,
			Doc: doc, Scorer: scorer,
		})
		Expect(reason).NotTo(BeNil())
		Expect(*reason).To(Equal("Need review: Conflicting sentiments across sentences"))
	})

	DescribeTable("ShouldSkipLLM",
		func(in pipeline.ComplexityInput, expected bool) {
			Expect(pipeline.ShouldSkipLLM(in)).To(Equal(expected))
		},
		Entry("very short review agreeing with a high rating",
			pipeline.ComplexityInput{Content: "Great game!", Rating: 5, Polarity: 0.73}, true),
		Entry("very short review agreeing with a low rating",
			pipeline.ComplexityInput{Content: "Total garbage", Rating: 1, Polarity: -0.6}, true),
		Entry("very short review disagreeing with its rating",
			pipeline.ComplexityInput{Content: "Total garbage", Rating: 5, Polarity: -0.6}, false),
		Entry("one word repeated through a long review",
			pipeline.ComplexityInput{Content: "good good good good good good bad fine ok game now yes", Rating: 3}, true),
		Entry("mostly symbols",
			pipeline.ComplexityInput{Content: "!!!???", Rating: 3}, true),
		Entry("ordinary mixed review",
			pipeline.ComplexityInput{Content: "The controls feel odd but the story is fine overall I guess", Rating: 3}, false),
	)

	It("skips a short subject and simple verb sentence agreeing with the rating", func() {
		doc := document(sentence(tok("I", "PRP"), tok("love", "VBP"), tok("it", "PRP")))
		Expect(pipeline.ShouldSkipLLM(pipeline.ComplexityInput{
			Content: "I love it", Rating: 5, Polarity: 0.2, Doc: doc,
		})).To(BeTrue())
	})

	It("skips a short low-diversity review with few content words", func() {
		doc := document(sentence(
			tok("It", "PRP"), tok("is", "VBZ"), tok("so", "RB"), tok("so", "RB"), tok("good", "JJ"),
		))
		Expect(pipeline.ShouldSkipLLM(pipeline.ComplexityInput{
			Content: "It is so so good", Rating: 4, Polarity: 0.25, Doc: doc,
		})).To(BeTrue())
	})

	Describe("step", func() {
		It("records an explicit nil reason and the skip flag", func() {
			review := &model.Review{ID: 9, Rating: 5, Content: "Great game!"}
			run := pipeline.NewRunContext(review)
			run.RawPolarity = ptrTo(0.73)

			step, err := pipeline.NewComplexityCheckStep(pipeline.Deps{}, pipeline.NewParams(nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(step.Process(context.Background(), review, run)).To(Succeed())

			Expect(run.ComplexReviewSet()).To(BeTrue())
			Expect(run.ComplexReview()).To(BeNil())
			Expect(run.SkipGPT).To(HaveValue(BeTrue()))
			Expect(run.Keys()).To(ContainElements("complex_review", "skip_gpt"))
		})
	})
})

func ptrTo[T any](v T) *T {
	return &v
}
