package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"storepulse.app/analysis/common/nlp"
	"storepulse.app/analysis/internal/model"
)

const (
	ProblemPrefix   = "Problem:"
	RequestPrefix   = "Request:"
	NoIssueDetected = "No specific issue or request detected"

	negationWindow = 30
)

type problemPattern struct {
	category  string
	severity  string
	re        *regexp.Regexp
	negatives []string
}

type requestPattern struct {
	category string
	kind     string
	re       *regexp.Regexp
}

var problemCatalog = []problemPattern{
	{
		category:  "crash",
		severity:  "high",
		re:        regexp.MustCompile(`(?i)\b(crash(?:es|ed|ing)?|shut(?:s)?\s*down|close(?:s|d)?\s*(?:itself|automatically)|force(?:d)?\s*close|app\s*(?:dies|died|dying))\b`),
		negatives: []string{"no crash", "never crash", "without crash", "crash fixed", "used to crash"},
	},
	{
		category:  "bug/glitch",
		severity:  "medium",
		re:        regexp.MustCompile(`(?i)\b(bug(?:s|gy|ged)?|glitch(?:es|ed|ing|y)?|broken|break(?:s|ing)?|error(?:s)?|issue(?:s)?|problem(?:s)?|fault(?:y)?|defect(?:s)?|flaw(?:s)?)\b`),
		negatives: []string{"no bug", "no issue", "no problem", "bug free", "fixed"},
	},
	{
		category:  "performance",
		severity:  "medium",
		re:        regexp.MustCompile(`(?i)\b(lag(?:s|gy|ging|ged)?|stutter(?:s|ing|ed)?|fps\s*(?:drop|issue)|frame(?:s)?\s*(?:drop|rate)|slow(?:s|ed|ing)?\s*down|choppy|janky|performance\s*(?:issue|problem))\b`),
		negatives: []string{"no lag", "smooth", "lag free", "fixed lag"},
	},
	{
		category:  "freeze/hang",
		severity:  "high",
		re:        regexp.MustCompile(`(?i)\b(freeze(?:s|ing)?|frozen|hang(?:s|ing)?|hung|stuck|unresponsive|not\s*respond(?:ing)?)\b`),
		negatives: []string{"never freeze", "no freeze", "doesn't freeze"},
	},
	{
		category:  "audio",
		severity:  "low",
		re:        regexp.MustCompile(`(?i)\b(?:sound|audio|music|sfx|voice|volume)\s*(?:issue|problem|bug|glitch|not\s*work|broken|missing|gone|delay|cut(?:s|ting)?\s*out)\b`),
		negatives: []string{"sound great", "audio perfect", "love the sound"},
	},
	{
		category:  "save/progress",
		severity:  "critical",
		re:        regexp.MustCompile(`(?i)\b(?:save|progress|data|file)\s*(?:lost|gone|deleted|corrupt(?:ed)?|disappear(?:ed)?|wipe(?:d)?|reset|erase(?:d)?)\b`),
		negatives: []string{"save works", "progress saved", "data safe"},
	},
	{
		category:  "controls",
		severity:  "medium",
		re:        regexp.MustCompile(`(?i)\b(?:control(?:s)?|button(?:s)?|touch|tap|swipe|input)\s*(?:bad|poor|terrible|awful|hard|difficult|unresponsive|delay(?:ed)?|lag(?:gy)?|issue|problem|suck|broken)\b`),
		negatives: []string{"controls are good", "controls work", "love controls"},
	},
	{
		category:  "compatibility",
		severity:  "high",
		re:        regexp.MustCompile(`(?i)\b(?:compatible|compatibility|doesn't\s*work|not\s*support(?:ed)?|can't\s*play|won't\s*(?:start|load|open|run))\b`),
		negatives: []string{"works great", "runs well", "compatible with"},
	},
	{
		category:  "battery",
		severity:  "low",
		re:        regexp.MustCompile(`(?i)\b(?:battery|power)\s*(?:drain|consumption|hog|killer|issue|problem)\b`),
		negatives: []string{"battery efficient", "low battery usage"},
	},
}

var requestCatalog = []requestPattern{
	{
		category: "multiplayer",
		kind:     "feature",
		re:       regexp.MustCompile(`(?i)\b(?:add|want|need|wish|hope|please|would\s*(?:be\s*)?(?:nice|great|awesome)|should\s*(?:have|add)|missing)\s*(?:for\s*)?(?:multiplayer|multi-player|co-?op|coop|pvp|online|friend(?:s)?|together)\b`),
	},
	{
		category: "save_system",
		kind:     "feature",
		re:       regexp.MustCompile(`(?i)\b(?:add|want|need|wish|hope)\s*(?:for\s*)?(?:checkpoint|save\s*(?:point|system)|cloud\s*save|cross-?save|sync)\b`),
	},
	{
		category: "content",
		kind:     "content",
		re:       regexp.MustCompile(`(?i)\b(?:add|want|need|more)\s*(?:level|stage|character|weapon|item|content|dlc|expansion|mode|map)\b`),
	},
	{
		category: "customization",
		kind:     "settings",
		re:       regexp.MustCompile(`(?i)\b(?:add|want|need|wish)\s*(?:for\s*)?(?:custom|setting|option|configuration|remap|rebind)\b`),
	},
	{
		category: "platform",
		kind:     "platform",
		re:       regexp.MustCompile(`(?i)\b(?:port|bring|release)\s*(?:to|on|for)\s*(?:pc|console|steam|switch|xbox|playstation|ps\d)\b`),
	},
	{
		category: "update",
		kind:     "update",
		re:       regexp.MustCompile(`(?i)\b(?:update|patch|fix|waiting\s*for|need|want)\s*(?:the\s*)?(?:update|patch|fix|latest|new\s*version)\b`),
	},
}

var (
	negativeAdjectives = set("bad", "terrible", "awful", "horrible", "poor", "worst", "annoying", "frustrating")
	requestModals      = set("should", "could", "would", "must", "need")
	requestVerbs       = set("add", "include", "have", "implement", "support")
)

// maxModalGap bounds how far past a modal the action verb may sit.
const maxModalGap = 3

type issueDetectionStep struct {
	parser nlp.Parser
}

func NewIssueDetectionStep(deps Deps, _ *Params) (Step, error) {
	return &issueDetectionStep{parser: deps.Parser}, nil
}

func (s *issueDetectionStep) Process(ctx context.Context, review *model.Review, run *RunContext) error {
	if run.Doc == nil && s.parser != nil {
		doc, err := s.parser.Parse(review.Content)
		if err != nil {
			slog.WarnContext(ctx, "parse review for issue detection", "error", err)
		} else {
			run.Doc = doc
		}
	}

	run.Issues = DetectIssues(review.Content, run.Doc)
	return nil
}

// DetectIssues runs the problem and request catalogs over content and, when
// doc is non-nil, adds the phrase-level findings from the parse.
func DetectIssues(content string, doc *nlp.Document) []string {
	text := strings.NewReplacer(".", ". ", "!", "! ").Replace(strings.ToLower(content))

	var issues []string
	for _, p := range problemCatalog {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			if negated(text, loc, p.negatives) {
				continue
			}
			issues = append(issues, fmt.Sprintf("%s %s (%s severity)", ProblemPrefix, p.category, p.severity))
		}
	}

	for _, r := range requestCatalog {
		if r.re.MatchString(text) {
			issues = append(issues, fmt.Sprintf("%s %s (%s)", RequestPrefix, r.category, r.kind))
		}
	}

	if doc != nil {
		problems, requests := phraseIssues(doc)
		issues = append(issues, problems...)
		issues = append(issues, requests...)
	}

	if len(issues) == 0 {
		return []string{NoIssueDetected}
	}
	return issues
}

func negated(text string, loc []int, negatives []string) bool {
	start := max(0, loc[0]-negationWindow)
	end := min(len(text), loc[1]+negationWindow)
	window := text[start:end]
	for _, neg := range negatives {
		if strings.Contains(window, neg) {
			return true
		}
	}
	return false
}

// phraseIssues finds "<negative adjective> <noun>" problems and
// "<modal> <action verb> <object>" requests, sentence by sentence.
// Each list is deduplicated keeping first occurrence.
func phraseIssues(doc *nlp.Document) (problems, requests []string) {
	seenProblems := map[string]struct{}{}
	seenRequests := map[string]struct{}{}

	for _, sent := range doc.Sentences {
		toks := sent.Tokens
		for i, tok := range toks {
			if tok.POS() == nlp.POSAdj {
				if _, ok := negativeAdjectives[tok.Lemma()]; ok {
					if noun, ok := nounAfter(toks, i+1, nlp.POSAdj, nlp.POSAdv); ok {
						problems = appendUnique(problems, seenProblems, fmt.Sprintf("%s %s %s", ProblemPrefix, tok.Text, noun.Text))
					}
				}
			}

			if _, ok := requestModals[tok.Lemma()]; ok {
				if verb, at, ok := actionVerbAfter(toks, i+1); ok {
					if obj, ok := nounAfter(toks, at+1, nlp.POSDet, nlp.POSAdj, nlp.POSPron, nlp.POSNum); ok {
						requests = appendUnique(requests, seenRequests, fmt.Sprintf("%s %s %s", RequestPrefix, verb.Lemma(), obj.Text))
					}
				}
			}
		}
	}
	return problems, requests
}

// nounAfter returns the first noun at or after from, skipping tokens whose
// class is in skip. Any other token ends the search.
func nounAfter(toks []nlp.Token, from int, skip ...string) (nlp.Token, bool) {
	for j := from; j < len(toks); j++ {
		pos := toks[j].POS()
		if pos == nlp.POSNoun || pos == nlp.POSPropn {
			return toks[j], true
		}
		if !slices.Contains(skip, pos) {
			break
		}
	}
	return nlp.Token{}, false
}

func actionVerbAfter(toks []nlp.Token, from int) (nlp.Token, int, bool) {
	for j := from; j < len(toks) && j <= from+maxModalGap; j++ {
		tok := toks[j]
		pos := tok.POS()
		if pos == nlp.POSVerb || pos == nlp.POSAux {
			if _, ok := requestVerbs[tok.Lemma()]; ok {
				return tok, j, true
			}
			return nlp.Token{}, 0, false
		}
		if pos != nlp.POSAdv && pos != nlp.POSPron && pos != nlp.POSPart {
			break
		}
	}
	return nlp.Token{}, 0, false
}

func appendUnique(list []string, seen map[string]struct{}, s string) []string {
	if _, ok := seen[s]; ok {
		return list
	}
	seen[s] = struct{}{}
	return append(list, s)
}

func set(words ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
