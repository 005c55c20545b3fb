package compliance

import (
	"fmt"
	"sort"

	"github.com/efebarandurmaz/rackscan/internal/chain"
)

// DefaultChecks returns the built-in checks in evaluation order.
func DefaultChecks() []Check {
	return []Check{
		AnalysisPresentCheck{},
		ChainCountCheck{},
		FlagConsistencyCheck{},
		ChainIdentityCheck{},
		HierarchyCheck{},
		PerformanceCheck{},
		CompletenessCheck{},
	}
}

// AnalysisPresentCheck requires a completed analysis summary.
type AnalysisPresentCheck struct{}

func (AnalysisPresentCheck) Name() string       { return "analysis_present" }
func (AnalysisPresentCheck) Category() Category { return CategoryCompleteness }
func (AnalysisPresentCheck) Severity() Severity { return SeverityCritical }
func (AnalysisPresentCheck) Evaluate(in *Input) []string {
	if in.Summary == nil || !in.Summary.AnalysisComplete {
		return []string{"Enhanced analysis not completed - constitutional requirement violated"}
	}
	return nil
}

// ChainCountCheck compares the reported chain total with the stored set.
type ChainCountCheck struct{}

func (ChainCountCheck) Name() string       { return "chain_count" }
func (ChainCountCheck) Category() Category { return CategoryChainDetection }
func (ChainCountCheck) Severity() Severity { return SeverityRequired }
func (ChainCountCheck) Evaluate(in *Input) []string {
	if in.Summary.TotalChainsDetected != len(in.Chains) {
		return []string{fmt.Sprintf("Chain count mismatch: analysis reports %d but %d stored",
			in.Summary.TotalChainsDetected, len(in.Chains))}
	}
	return nil
}

// FlagConsistencyCheck ties the nested-chains flag to the stored set.
type FlagConsistencyCheck struct{}

func (FlagConsistencyCheck) Name() string       { return "flag_consistency" }
func (FlagConsistencyCheck) Category() Category { return CategoryChainDetection }
func (FlagConsistencyCheck) Severity() Severity { return SeverityRequired }
func (FlagConsistencyCheck) Evaluate(in *Input) []string {
	s := in.Summary
	switch {
	case s.HasNestedChains && len(in.Chains) == 0:
		return []string{"Analysis reports nested chains but none stored"}
	case !s.HasNestedChains && len(in.Chains) > 0:
		return []string{fmt.Sprintf("Analysis reports no nested chains but %d stored", len(in.Chains))}
	}
	return nil
}

// ChainIdentityCheck verifies every chain is identifiable and self-consistent.
type ChainIdentityCheck struct{}

func (ChainIdentityCheck) Name() string       { return "chain_identity" }
func (ChainIdentityCheck) Category() Category { return CategoryChainDetection }
func (ChainIdentityCheck) Severity() Severity { return SeverityRequired }
func (ChainIdentityCheck) Evaluate(in *Input) []string {
	var issues []string
	seen := make(map[string]int, len(in.Chains))
	for i := range in.Chains {
		c := &in.Chains[i]
		label := chainLabel(c, i)

		if c.ID == "" || c.XMLPath == "" {
			issues = append(issues, fmt.Sprintf("Chain %s missing required identification data", label))
		} else if !c.Compliant() {
			issues = append(issues, fmt.Sprintf("Chain %s fails constitutional compliance", label))
		}
		if c.DeviceCount != len(c.Devices) {
			issues = append(issues, fmt.Sprintf("Chain %s device count %d does not match %d listed devices",
				label, c.DeviceCount, len(c.Devices)))
		}
		if c.ID != "" {
			seen[c.ID]++
		}
	}

	var dups []string
	for id, n := range seen {
		if n > 1 {
			dups = append(dups, id)
		}
	}
	sort.Strings(dups)
	for _, id := range dups {
		issues = append(issues, fmt.Sprintf("Duplicate chain id %s", id))
	}
	return issues
}

// HierarchyCheck verifies depth levels, parent references and acyclicity.
type HierarchyCheck struct{}

func (HierarchyCheck) Name() string       { return "hierarchy" }
func (HierarchyCheck) Category() Category { return CategoryChainDetection }
func (HierarchyCheck) Severity() Severity { return SeverityRequired }
func (HierarchyCheck) Evaluate(in *Input) []string {
	if len(in.Chains) == 0 {
		return nil
	}
	var issues []string

	// Every level between 0 and the deepest stored chain must be populated.
	levels := map[int]bool{}
	maxDepth := 0
	for _, c := range in.Chains {
		levels[c.DepthLevel] = true
		if c.DepthLevel > maxDepth {
			maxDepth = c.DepthLevel
		}
	}
	for d := 0; d <= maxDepth; d++ {
		if !levels[d] {
			issues = append(issues, fmt.Sprintf("Missing chains at depth level %d - hierarchy gap detected", d))
		}
	}

	idx := in.Index()
	for i := range in.Chains {
		c := &in.Chains[i]
		if c.ParentChainID == "" {
			continue
		}
		parent, ok := idx.Get(c.ParentChainID)
		if !ok {
			issues = append(issues, fmt.Sprintf("Chain %s references non-existent parent %s", c.ID, c.ParentChainID))
			continue
		}
		if parent.DepthLevel >= c.DepthLevel {
			issues = append(issues, fmt.Sprintf("Chain %s has invalid depth relative to parent", c.ID))
		}
	}

	for i := range in.Chains {
		if cyclic(idx, &in.Chains[i]) {
			issues = append(issues, fmt.Sprintf("Circular reference detected in chain hierarchy starting from %s", in.Chains[i].ID))
		}
	}
	return issues
}

// cyclic walks start's ancestor path and reports whether an id repeats.
// The walk ends at a root or a dangling parent.
func cyclic(idx *chain.Index, start *chain.Chain) bool {
	visited := map[string]bool{}
	cur := start
	for cur != nil && cur.ParentChainID != "" {
		if visited[cur.ID] {
			return true
		}
		visited[cur.ID] = true
		next, ok := idx.Get(cur.ParentChainID)
		if !ok {
			return false
		}
		cur = next
	}
	return false
}

// PerformanceCheck enforces the analysis time budget.
type PerformanceCheck struct{}

func (PerformanceCheck) Name() string       { return "performance" }
func (PerformanceCheck) Category() Category { return CategoryPerformance }
func (PerformanceCheck) Severity() Severity { return SeverityRequired }
func (PerformanceCheck) Evaluate(in *Input) []string {
	var issues []string
	if in.Summary.AnalysisDurationMS > chain.MaxAnalysisDurationMS {
		issues = append(issues, fmt.Sprintf("Analysis duration (%gms) exceeds constitutional limit (%dms)",
			in.Summary.AnalysisDurationMS, chain.MaxAnalysisDurationMS))
	}
	if in.Summary.ProcessedAt.IsZero() {
		issues = append(issues, "Missing processing timestamp")
	}
	return issues
}

// CompletenessCheck rejects impossible totals and contradictory flags.
type CompletenessCheck struct{}

func (CompletenessCheck) Name() string       { return "completeness" }
func (CompletenessCheck) Category() Category { return CategoryCompleteness }
func (CompletenessCheck) Severity() Severity { return SeverityRequired }
func (CompletenessCheck) Evaluate(in *Input) []string {
	s := in.Summary
	var issues []string
	if s.TotalChainsDetected < 0 {
		issues = append(issues, "Invalid chain count: cannot be negative")
	}
	if s.MaxNestingDepth < 0 {
		issues = append(issues, "Invalid nesting depth: cannot be negative")
	}
	if s.TotalDevices < 0 {
		issues = append(issues, "Invalid device count: cannot be negative")
	}
	if s.HasNestedChains && s.TotalChainsDetected == 0 {
		issues = append(issues, "Logical inconsistency: has_nested_chains is true but total_chains_detected is 0")
	}
	if !s.HasNestedChains && s.TotalChainsDetected > 0 {
		issues = append(issues, "Logical inconsistency: has_nested_chains is false but chains were detected")
	}
	return issues
}

func chainLabel(c *chain.Chain, i int) string {
	if c.ID != "" {
		return c.ID
	}
	return fmt.Sprintf("#%d", i)
}
