package nlp

import (
	"github.com/jonreiter/govader"
)

// VaderScorer scores text with the VADER lexicon.
type VaderScorer struct {
	analyzer *govader.SentimentIntensityAnalyzer
}

// NewVaderScorer loads the embedded lexicon. It is safe for concurrent use
// once built.
func NewVaderScorer() *VaderScorer {
	return &VaderScorer{analyzer: govader.NewSentimentIntensityAnalyzer()}
}

func (v *VaderScorer) PolarityScores(text string) Scores {
	s := v.analyzer.PolarityScores(text)
	return Scores{
		Compound: s.Compound,
		Positive: s.Positive,
		Neutral:  s.Neutral,
		Negative: s.Negative,
	}
}
