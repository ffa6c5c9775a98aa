// Package nlp wraps the lexicon sentiment scorer and the linguistic parser
// used by the analysis steps. Both are optional capabilities: callers hold
// them as interfaces and fall back to heuristics when they are nil.
package nlp

import (
	"strings"
	"unicode"
)

// Scores mirrors VADER's polarity_scores output.
type Scores struct {
	Compound float64 `json:"compound"`
	Positive float64 `json:"pos"`
	Neutral  float64 `json:"neu"`
	Negative float64 `json:"neg"`
}

type SentimentScorer interface {
	PolarityScores(text string) Scores
}

type Parser interface {
	Parse(text string) (*Document, error)
}

// Coarse part-of-speech classes derived from Penn Treebank tags.
const (
	POSNoun  = "NOUN"
	POSPropn = "PROPN"
	POSVerb  = "VERB"
	POSAux   = "AUX"
	POSAdj   = "ADJ"
	POSAdv   = "ADV"
	POSPron  = "PRON"
	POSDet   = "DET"
	POSAdp   = "ADP"
	POSPart  = "PART"
	POSConj  = "CCONJ"
	POSNum   = "NUM"
	POSIntj  = "INTJ"
	POSPunct = "PUNCT"
	POSOther = "X"
)

type Token struct {
	Text string `json:"text"`
	Tag  string `json:"tag"` // Penn Treebank tag
}

type Sentence struct {
	Text   string  `json:"text"`
	Tokens []Token `json:"tokens"`
}

type Document struct {
	Text      string     `json:"text"`
	Sentences []Sentence `json:"sentences"`
	Tokens    []Token    `json:"tokens"`
}

func (t Token) Lower() string {
	return strings.ToLower(t.Text)
}

// IsAlpha reports whether the token is made of letters only.
func (t Token) IsAlpha() bool {
	if t.Text == "" {
		return false
	}
	for _, r := range t.Text {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}

func (t Token) IsStop() bool {
	_, ok := stopWords[t.Lower()]
	return ok
}

// POS maps the Penn tag to a coarse class. Forms of be/have/do are AUX.
func (t Token) POS() string {
	tag := t.Tag
	switch {
	case tag == "NNP" || tag == "NNPS":
		return POSPropn
	case strings.HasPrefix(tag, "NN"):
		return POSNoun
	case tag == "MD":
		return POSAux
	case strings.HasPrefix(tag, "VB"):
		switch t.Lemma() {
		case "be", "have", "do":
			return POSAux
		}
		return POSVerb
	case strings.HasPrefix(tag, "JJ"):
		return POSAdj
	case strings.HasPrefix(tag, "RB") || tag == "WRB":
		return POSAdv
	case tag == "PRP" || tag == "PRP$" || tag == "WP" || tag == "WP$":
		return POSPron
	case tag == "DT" || tag == "PDT" || tag == "WDT":
		return POSDet
	case tag == "IN":
		return POSAdp
	case tag == "TO" || tag == "RP" || tag == "POS":
		return POSPart
	case tag == "CC":
		return POSConj
	case tag == "CD":
		return POSNum
	case tag == "UH":
		return POSIntj
	}
	if tag != "" && !unicode.IsLetter(rune(tag[0])) {
		return POSPunct
	}
	return POSOther
}

// Lemma returns a base form. Irregular auxiliaries are mapped explicitly;
// regular inflections are stripped only when the stem is a known verb.
func (t Token) Lemma() string {
	lower := t.Lower()
	if base, ok := irregular[lower]; ok {
		return base
	}
	if !strings.HasPrefix(t.Tag, "VB") {
		return lower
	}
	for _, suffix := range []string{"ing", "ies", "es", "ed", "s", "d"} {
		stem, ok := strings.CutSuffix(lower, suffix)
		if !ok || stem == "" {
			continue
		}
		// stem, dropped e (loved), doubled consonant (stopped), y to ies (tries)
		candidates := []string{stem, stem + "e", stem[:len(stem)-1], stem + "y"}
		for _, cand := range candidates {
			if _, known := knownVerbs[cand]; known {
				return cand
			}
		}
	}
	return lower
}

var irregular = map[string]string{
	"is": "be", "am": "be", "are": "be", "was": "be", "were": "be", "been": "be", "being": "be",
	"'s": "be", "'re": "be", "'m": "be",
	"has": "have", "had": "have", "having": "have", "'ve": "have",
	"does": "do", "did": "do", "done": "do", "doing": "do",
}

var knownVerbs = map[string]struct{}{
	"be": {}, "have": {}, "do": {},
	"love": {}, "hate": {}, "like": {}, "dislike": {}, "enjoy": {},
	"add": {}, "include": {}, "implement": {}, "support": {}, "fix": {},
	"need": {}, "want": {}, "play": {}, "crash": {}, "freeze": {},
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
