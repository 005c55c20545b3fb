// Package compliance certifies persisted rack analyses against the structural
// and performance requirements, and aggregates platform-wide reports.
package compliance

import (
	"strings"
	"time"

	"github.com/efebarandurmaz/rackscan/internal/chain"
)

// Category buckets issues for reporting.
type Category string

const (
	CategoryPerformance    Category = "performance"
	CategoryChainDetection Category = "chain_detection"
	CategoryCompleteness   Category = "completeness"
)

// Categorize classifies an issue message by its wording.
func Categorize(issue string) Category {
	lower := strings.ToLower(issue)
	switch {
	case strings.Contains(lower, "duration"), strings.Contains(lower, "performance"):
		return CategoryPerformance
	case strings.Contains(lower, "chain"), strings.Contains(lower, "detect"):
		return CategoryChainDetection
	default:
		return CategoryCompleteness
	}
}

// Status is the outcome of one check.
type Status string

const (
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Severity indicates whether a failing check stops the remaining ones.
type Severity string

const (
	SeverityCritical Severity = "critical" // later checks are skipped
	SeverityRequired Severity = "required"
)

// Input is the persisted state of one rack as seen by the checks.
type Input struct {
	RackID  string
	Summary *chain.Summary
	Chains  []chain.Chain

	index *chain.Index
}

// Index returns a parent/child index over the chains, built on first use.
func (in *Input) Index() *chain.Index {
	if in.index == nil {
		in.index = chain.NewIndex(in.Chains)
	}
	return in.index
}

// Check is one compliance rule.
type Check interface {
	Name() string
	Category() Category
	Severity() Severity
	// Evaluate returns the issues found; none means the check passed.
	Evaluate(in *Input) []string
}

// CheckResult captures the outcome of a single check.
type CheckResult struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Status   Status   `json:"status"`
	Issues   []string `json:"issues,omitempty"`
}

// Report is the per-rack compliance verdict.
type Report struct {
	RackID                string         `json:"rack_id"`
	Compliant             bool           `json:"compliant"`
	Issues                []string       `json:"issues"`
	Checks                []CheckResult  `json:"checks"`
	Analysis              *chain.Summary `json:"analysis,omitempty"`
	StoredChains          int            `json:"stored_chains"`
	ValidatedAt           time.Time      `json:"validation_timestamp"`
	ConstitutionalVersion string         `json:"constitutional_version"`
}

// IssueCategories returns the category of every issue, in issue order.
func (r *Report) IssueCategories() []string {
	out := make([]string, len(r.Issues))
	for i, issue := range r.Issues {
		out[i] = string(Categorize(issue))
	}
	return out
}

// Run evaluates checks in order against in. A failing critical check skips
// the rest.
func Run(checks []Check, in *Input) (issues []string, results []CheckResult) {
	issues = []string{}
	aborted := false
	for _, c := range checks {
		res := CheckResult{Name: c.Name(), Category: c.Category()}
		if aborted {
			res.Status = StatusSkipped
			results = append(results, res)
			continue
		}
		found := c.Evaluate(in)
		if len(found) == 0 {
			res.Status = StatusPassed
		} else {
			res.Status = StatusFailed
			res.Issues = found
			issues = append(issues, found...)
			if c.Severity() == SeverityCritical {
				aborted = true
			}
		}
		results = append(results, res)
	}
	return issues, results
}
