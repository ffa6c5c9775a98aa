package pipeline

import (
	"context"
	"math"
	"strings"
	"unicode"

	"storepulse.app/analysis/common/nlp"
	"storepulse.app/analysis/internal/model"
)

const complexPrefix = "Need review: "

var (
	simpleVerbs = set("be", "love", "hate", "like", "dislike")
	contentPOS  = set(nlp.POSVerb, nlp.POSNoun, nlp.POSAdj, nlp.POSAdv)
)

type complexityCheckStep struct {
	scorer nlp.SentimentScorer
}

func NewComplexityCheckStep(deps Deps, _ *Params) (Step, error) {
	return &complexityCheckStep{scorer: deps.Scorer}, nil
}

func (s *complexityCheckStep) Process(_ context.Context, review *model.Review, run *RunContext) error {
	in := ComplexityInput{
		Content:      review.Content,
		Rating:       review.Rating,
		Polarity:     run.Polarity(),
		Subjectivity: run.Subjectivity(),
		Doc:          run.Doc,
		Scorer:       s.scorer,
	}

	run.SetComplexReview(ComplexReason(in))
	run.SkipGPT = ptr(ShouldSkipLLM(in))
	return nil
}

type ComplexityInput struct {
	Content      string
	Rating       int
	Polarity     float64
	Subjectivity float64
	Doc          *nlp.Document
	Scorer       nlp.SentimentScorer
}

// ComplexReason returns the first matching reason the review needs a human
// look, or nil when it reads as straightforward.
func ComplexReason(in ComplexityInput) *string {
	reason := func(s string) *string {
		return ptr(complexPrefix + s)
	}

	if math.Abs(in.Polarity) < 0.3 && in.Subjectivity > 0.4 && sentenceCount(in) > 1 {
		return reason("Mixed or ambiguous sentiment")
	}
	if in.Rating >= 4 && in.Polarity < -0.3 {
		return reason("High rating but negative sentiment - possible sarcasm")
	}
	if in.Rating <= 2 && in.Polarity > 0.3 {
		return reason("Low rating but positive sentiment")
	}

	expected := float64(in.Rating-3) / 2
	if math.Abs(expected-in.Polarity) > 0.7 {
		return reason("Significant mismatch between rating and sentiment")
	}

	if in.Doc != nil && in.Scorer != nil && len(in.Doc.Sentences) > 1 {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, sent := range in.Doc.Sentences {
			c := in.Scorer.PolarityScores(sent.Text).Compound
			lo = math.Min(lo, c)
			hi = math.Max(hi, c)
		}
		if hi-lo > 1.0 {
			return reason("Conflicting sentiments across sentences")
		}
	}

	if len(strings.Fields(in.Content)) < 5 && (in.Rating == 1 || in.Rating == 5) {
		if !(in.Rating == 5 && in.Polarity > 0.3) {
			return reason("Very short review with extreme rating")
		}
	}

	return nil
}

// ShouldSkipLLM reports whether a review is simple enough that an LLM pass
// would add nothing.
func ShouldSkipLLM(in ComplexityInput) bool {
	words := strings.Fields(in.Content)
	wordCount := len(words)
	agrees := func(threshold float64) bool {
		return (in.Rating >= 4 && in.Polarity > threshold) || (in.Rating <= 2 && in.Polarity < -threshold)
	}

	if wordCount <= 3 && agrees(0.3) {
		return true
	}

	if in.Doc != nil && wordCount >= 4 && wordCount <= 10 {
		var heavy int
		for _, tok := range in.Doc.Tokens {
			if _, ok := contentPOS[tok.POS()]; ok {
				heavy++
			}
		}
		if heavy <= 3 && lexicalDiversity(in.Doc, wordCount) < 0.7 && agrees(0.2) {
			return true
		}
	}

	if in.Doc != nil && len(in.Doc.Sentences) == 1 && wordCount <= 6 {
		sent := in.Doc.Sentences[0]
		if hasSubject(sent.Tokens) && hasSimpleVerb(sent.Tokens) && agrees(0) {
			return true
		}
	}

	if wordCount > 10 {
		freq := map[string]int{}
		top := 0
		for _, w := range words {
			w = strings.ToLower(w)
			freq[w]++
			top = max(top, freq[w])
		}
		if float64(top)/float64(wordCount) > 0.3 {
			return true
		}
	}

	var symbols, total int
	for _, r := range in.Content {
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			symbols++
		}
	}
	return float64(symbols)/float64(max(total, 1)) > 0.5
}

func sentenceCount(in ComplexityInput) int {
	if in.Doc != nil {
		return len(in.Doc.Sentences)
	}
	return len(nlp.SplitSentences(in.Content))
}

func lexicalDiversity(doc *nlp.Document, wordCount int) float64 {
	unique := map[string]struct{}{}
	for _, tok := range doc.Tokens {
		if tok.IsAlpha() && !tok.IsStop() {
			unique[tok.Lemma()] = struct{}{}
		}
	}
	return float64(len(unique)) / float64(max(wordCount, 1))
}

// hasSubject reports a pronoun or noun ahead of the first verb.
func hasSubject(toks []nlp.Token) bool {
	for _, tok := range toks {
		switch tok.POS() {
		case nlp.POSPron, nlp.POSNoun, nlp.POSPropn:
			return true
		case nlp.POSVerb, nlp.POSAux:
			return false
		}
	}
	return false
}

func hasSimpleVerb(toks []nlp.Token) bool {
	for _, tok := range toks {
		pos := tok.POS()
		if pos != nlp.POSVerb && pos != nlp.POSAux {
			continue
		}
		if _, ok := simpleVerbs[tok.Lemma()]; ok {
			return true
		}
	}
	return false
}
