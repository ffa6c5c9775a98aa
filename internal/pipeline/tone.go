package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"storepulse.app/analysis/common/nlp"
	"storepulse.app/analysis/internal/model"
)

var (
	positiveWords = []string{"good", "great", "excellent", "love", "awesome", "amazing", "best", "perfect"}
	negativeWords = []string{"bad", "terrible", "awful", "hate", "worst", "horrible", "poor", "sucks"}
)

type toneDetectionStep struct {
	scorer nlp.SentimentScorer
	parser nlp.Parser
}

func NewToneDetectionStep(deps Deps, _ *Params) (Step, error) {
	return &toneDetectionStep{scorer: deps.Scorer, parser: deps.Parser}, nil
}

func (s *toneDetectionStep) Process(ctx context.Context, review *model.Review, run *RunContext) error {
	var (
		scores       nlp.Scores
		polarity     float64
		subjectivity = 0.5
	)

	if s.scorer != nil {
		scores = s.scorer.PolarityScores(review.Content)
		polarity = scores.Compound
		subjectivity = clamp(0, 1, 1-scores.Neutral)
	} else {
		polarity = HeuristicPolarity(review.Content, review.Rating)
		scores = nlp.Scores{Compound: polarity}
	}

	if run.Doc == nil && s.parser != nil {
		doc, err := s.parser.Parse(review.Content)
		if err != nil {
			slog.WarnContext(ctx, "parse review for tone detection", "error", err)
		} else {
			run.Doc = doc
		}
	}

	run.Tone = ToneFor(polarity)
	run.RawPolarity = ptr(polarity)
	run.RawSubjectivity = ptr(subjectivity)
	run.VaderScores = &scores
	return nil
}

// ToneFor maps a polarity in [-1, 1] to a tone label.
func ToneFor(polarity float64) model.Tone {
	switch {
	case polarity < -0.5:
		return model.ToneVeryNegative
	case polarity < -0.1:
		return model.ToneNegative
	case polarity <= 0.1:
		return model.ToneNeutral
	case polarity <= 0.5:
		return model.TonePositive
	default:
		return model.ToneVeryPositive
	}
}

// HeuristicPolarity blends a rating baseline (70%) with keyword hits (30%).
// Each keyword counts once, as a substring of the lowercased text.
func HeuristicPolarity(content string, rating int) float64 {
	base := float64(rating-3) / 2
	lower := strings.ToLower(content)

	var hits int
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			hits++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			hits--
		}
	}

	return clamp(-1, 1, 0.7*base+0.3*(0.1*float64(hits)))
}

func clamp[T int | float64](lo, hi, v T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
