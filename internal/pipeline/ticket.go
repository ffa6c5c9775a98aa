package pipeline

import (
	"strings"

	"storepulse.app/analysis/internal/model"
)

const (
	FlagSupportHiddenIssue = "Yes: Hidden issue in positive review"

	maxPriority = 10
)

var toneWeights = map[model.Tone]int{
	model.ToneVeryNegative: 3,
	model.ToneNegative:     2,
	model.ToneNeutral:      1,
	model.TonePositive:     0,
	model.ToneVeryPositive: 0,
}

// severityWeights is scanned in order; the first label found in an issue wins.
var severityWeights = []struct {
	label  string
	weight int
}{
	{"critical", 4},
	{"high", 3},
	{"medium", 2},
	{"low", 1},
}

// TicketPolicy holds the persistence step's ticket switches.
type TicketPolicy struct {
	AutoForProblems bool
	AutoForComplex  bool
	OnlyForNegative bool
}

func DefaultTicketPolicy() TicketPolicy {
	return TicketPolicy{AutoForProblems: true, AutoForComplex: true}
}

// ShouldOpenTicket decides whether a result warrants an open ticket.
// A support flag always does, regardless of the negative-only gate.
func ShouldOpenTicket(policy TicketPolicy, result *model.AnalysisResult, rating int) bool {
	if hasProblems(result.Issues) && policy.AutoForProblems {
		if !policy.OnlyForNegative || rating <= 3 || result.Tone.IsNegative() {
			return true
		}
	}
	if isComplex(result) && policy.AutoForComplex {
		return true
	}
	return result.FlagSupport != nil && *result.FlagSupport != ""
}

// Priority scores a new ticket in [0, 10].
func Priority(result *model.AnalysisResult) int {
	p, ok := toneWeights[result.Tone]
	if !ok {
		p = toneWeights[model.ToneNeutral]
	}
	for _, issue := range result.Issues {
		p += severityWeight(issue)
	}
	if result.FlagSupport != nil && *result.FlagSupport != "" {
		p += 2
	}
	if isComplex(result) {
		p++
	}
	return clamp(0, maxPriority, p)
}

// TicketNotes lists the support flag, complexity reason, problems and
// requests, one per line; absent parts are omitted.
func TicketNotes(result *model.AnalysisResult) string {
	var lines, problems, requests []string
	if result.FlagSupport != nil && *result.FlagSupport != "" {
		lines = append(lines, "Support: "+*result.FlagSupport)
	}
	if isComplex(result) {
		lines = append(lines, "Complexity: "+*result.ComplexReview)
	}
	for _, issue := range result.Issues {
		switch {
		case strings.Contains(issue, ProblemPrefix):
			problems = append(problems, issue)
		case strings.Contains(issue, RequestPrefix):
			requests = append(requests, issue)
		}
	}
	if len(problems) > 0 {
		lines = append(lines, "Problems: "+strings.Join(problems, ", "))
	}
	if len(requests) > 0 {
		lines = append(lines, "Requests: "+strings.Join(requests, ", "))
	}
	return strings.Join(lines, "\n")
}

func severityWeight(issue string) int {
	lower := strings.ToLower(issue)
	for _, s := range severityWeights {
		if strings.Contains(lower, s.label) {
			return s.weight
		}
	}
	return 0
}

func hasProblems(issues []string) bool {
	for _, issue := range issues {
		if strings.Contains(issue, ProblemPrefix) {
			return true
		}
	}
	return false
}

func isComplex(result *model.AnalysisResult) bool {
	return result.ComplexReview != nil && *result.ComplexReview != ""
}

// flagSupport marks positive reviews that still report a problem.
func flagSupport(rating int, issues []string) *string {
	if rating >= 4 && hasProblems(issues) {
		return ptr(FlagSupportHiddenIssue)
	}
	return nil
}
