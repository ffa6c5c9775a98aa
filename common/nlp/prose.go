package nlp

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jdkato/prose/v2"
)

// ProseParser tokenizes, segments and tags English text.
type ProseParser struct {
	mu    sync.Mutex
	model *prose.Model
}

// NewProseParser loads the tagging model once and reuses it for every Parse.
func NewProseParser() (*ProseParser, error) {
	warm, err := prose.NewDocument("", prose.WithExtraction(false), prose.WithSegmentation(false))
	if err != nil {
		return nil, fmt.Errorf("loading prose model: %w", err)
	}
	return &ProseParser{model: warm.Model}, nil
}

func (p *ProseParser) Parse(text string) (*Document, error) {
	p.mu.Lock()
	doc, err := prose.NewDocument(text, prose.UsingModel(p.model), prose.WithExtraction(false))
	p.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}

	sentences := make([]string, 0, len(doc.Sentences()))
	for _, s := range doc.Sentences() {
		sentences = append(sentences, s.Text)
	}
	tokens := make([]Token, 0, len(doc.Tokens()))
	for _, t := range doc.Tokens() {
		tokens = append(tokens, Token{Text: t.Text, Tag: t.Tag})
	}
	return Assemble(text, sentences, tokens), nil
}

// Assemble distributes tokens over sentences by their offsets in text.
// A token the tokenizer rewrote (and so cannot be located) stays with the
// sentence the cursor is in.
func Assemble(text string, sentences []string, tokens []Token) *Document {
	doc := &Document{Text: text, Tokens: tokens}
	if len(sentences) == 0 {
		if strings.TrimSpace(text) == "" {
			return doc
		}
		sentences = []string{strings.TrimSpace(text)}
	}

	ends := make([]int, len(sentences))
	cursor := 0
	for i, s := range sentences {
		if idx := strings.Index(text[cursor:], s); idx >= 0 {
			cursor += idx + len(s)
		} else {
			cursor = min(len(text), cursor+len(s))
		}
		ends[i] = cursor
		doc.Sentences = append(doc.Sentences, Sentence{Text: s})
	}
	ends[len(ends)-1] = len(text)

	cursor, current := 0, 0
	for _, tok := range tokens {
		start := cursor
		if idx := strings.Index(text[cursor:], tok.Text); idx >= 0 {
			start = cursor + idx
			cursor = start + len(tok.Text)
		}
		for current < len(ends)-1 && start >= ends[current] {
			current++
		}
		doc.Sentences[current].Tokens = append(doc.Sentences[current].Tokens, tok)
	}
	return doc
}

// SplitSentences is the punctuation splitter used when no parser is configured.
func SplitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(text[start : i+1]); strings.IndexFunc(s, isWordRune) >= 0 {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); strings.IndexFunc(s, isWordRune) >= 0 {
		out = append(out, s)
	}
	return out
}
