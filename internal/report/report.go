// Package report renders analyses, compliance reports and statistics for
// terminals and machine consumers.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/efebarandurmaz/rackscan/internal/chain"
	"github.com/efebarandurmaz/rackscan/internal/compliance"
	"github.com/efebarandurmaz/rackscan/internal/service"
)

// Format selects an output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts text, json or yaml (yml), case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, json or yaml)", s)
	}
}

// Encode writes v as JSON or YAML. YAML output keeps the JSON field names.
func Encode(w io.Writer, f Format, v any) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		var generic any
		if err := json.Unmarshal(b, &generic); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return fmt.Errorf("yaml encode: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %q is not a data encoding", f)
	}
}

// Render writes v in format f, using text for FormatText.
func Render(w io.Writer, f Format, v any, text func(io.Writer)) error {
	if f == FormatText {
		text(w)
		return nil
	}
	return Encode(w, f, v)
}

const boxWidth = 44

func rule(w io.Writer, left, right string) {
	fmt.Fprintf(w, "%s%s%s\n", left, strings.Repeat("═", boxWidth), right)
}

func title(w io.Writer, s string) {
	pad := boxWidth - len(s)
	if pad < 0 {
		pad = 0
	}
	fmt.Fprintf(w, "║%s%s%s║\n", strings.Repeat(" ", pad/2), s, strings.Repeat(" ", pad-pad/2))
}

func row(w io.Writer, label string, value any) {
	fmt.Fprintf(w, "║ %-16s %-25v║\n", label+":", value)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// Analysis writes a human-readable summary of one analysis run.
func Analysis(w io.Writer, out *service.Outcome) {
	s := out.Summary
	rule(w, "\n╔", "╗")
	title(w, "RACK ANALYSIS")
	rule(w, "╠", "╣")
	row(w, "Rack", out.Rack.Name)
	row(w, "ID", out.Rack.ID)
	row(w, "Chains", s.TotalChainsDetected)
	row(w, "Max depth", s.MaxNestingDepth)
	row(w, "Devices", s.TotalDevices)
	row(w, "Duration", fmt.Sprintf("%.2f ms", s.AnalysisDurationMS))
	row(w, "Complete", yesNo(s.AnalysisComplete))
	row(w, "Compliant", yesNo(s.ConstitutionalCompliant))
	if out.FromCache {
		row(w, "Source", "stored analysis")
	}
	if len(s.DeviceTypeBreakdown) > 0 {
		rule(w, "╠", "╣")
		fmt.Fprintf(w, "║ DEVICE TYPES\n")
		types := make([]string, 0, len(s.DeviceTypeBreakdown))
		for t := range s.DeviceTypeBreakdown {
			types = append(types, string(t))
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(w, "║   %-20s %d\n", t, s.DeviceTypeBreakdown[chain.DeviceType(t)])
		}
	}
	if len(out.Preview) > 0 {
		rule(w, "╠", "╣")
		fmt.Fprintf(w, "║ ROOT CHAINS\n")
		for _, p := range out.Preview {
			more := ""
			if p.HasChildren {
				more = " +"
			}
			fmt.Fprintf(w, "║   %-22s %-12s %2d dev%s\n", p.ChainID, p.ChainType, p.DeviceCount, more)
		}
	}
	if s.Error != "" {
		rule(w, "╠", "╣")
		fmt.Fprintf(w, "║ ERROR\n║   %s\n", s.Error)
	}
	if out.Report != nil {
		issues(w, out.Report.Issues)
	}
	rule(w, "╚", "╝")
}

func issues(w io.Writer, list []string) {
	if len(list) == 0 {
		return
	}
	rule(w, "╠", "╣")
	fmt.Fprintf(w, "║ ISSUES\n")
	for _, i := range list {
		fmt.Fprintf(w, "║   • %s\n", i)
	}
}

// Compliance writes one rack's compliance verdict with every check.
func Compliance(w io.Writer, r *compliance.Report) {
	rule(w, "\n╔", "╗")
	title(w, "COMPLIANCE REPORT")
	rule(w, "╠", "╣")
	row(w, "Rack", r.RackID)
	row(w, "Compliant", yesNo(r.Compliant))
	row(w, "Stored chains", r.StoredChains)
	row(w, "Validated", r.ValidatedAt.UTC().Format(time.RFC3339))
	row(w, "Constitution", r.ConstitutionalVersion)
	rule(w, "╠", "╣")
	fmt.Fprintf(w, "║ CHECKS\n")
	for _, c := range r.Checks {
		fmt.Fprintf(w, "║   %-20s %-16s %s\n", c.Name, c.Category, strings.ToUpper(string(c.Status)))
	}
	issues(w, r.Issues)
	rule(w, "╚", "╝")
}

// Platform writes the platform-wide compliance report.
func Platform(w io.Writer, r *compliance.PlatformReport) {
	p, st, perf, tr := r.Platform, r.Statistics, r.Performance, r.Trends
	rule(w, "\n╔", "╗")
	title(w, "PLATFORM COMPLIANCE")
	rule(w, "╠", "╣")
	row(w, "Racks", p.TotalRacks)
	row(w, "Analyzed", fmt.Sprintf("%d (%.1f%%)", p.AnalyzedRacks, p.CoveragePercent))
	row(w, "Compliance", fmt.Sprintf("%.1f%%", p.OverallComplianceRate))
	row(w, "Generated", r.GeneratedAt.UTC().Format(time.RFC3339))
	rule(w, "╠", "╣")
	fmt.Fprintf(w, "║ STATISTICS\n")
	fmt.Fprintf(w, "║   Analyses:      %d (%d compliant)\n", st.TotalAnalyses, st.CompliantCount)
	fmt.Fprintf(w, "║   With chains:   %d (%.1f%%)\n", st.WithChainsCount, st.WithChainsPercent)
	fmt.Fprintf(w, "║   Fast:          %d (%.1f%%)\n", st.FastCount, st.FastPercent)
	fmt.Fprintf(w, "║   Avg chains:    %.2f\n", st.AverageChainsDetected)
	fmt.Fprintf(w, "║   Avg devices:   %.2f\n", st.AverageDevices)
	rule(w, "╠", "╣")
	fmt.Fprintf(w, "║ PERFORMANCE\n")
	fmt.Fprintf(w, "║   Average:       %.2f ms\n", perf.AverageMS)
	fmt.Fprintf(w, "║   Range:         %.2f - %.2f ms\n", perf.FastestMS, perf.SlowestMS)
	fmt.Fprintf(w, "║   Violations:    %d\n", perf.Violations)
	for _, b := range perf.Distribution {
		fmt.Fprintf(w, "║   %-14s %4d  %5.1f%%\n", b.Label, b.Count, b.Percent)
	}
	rule(w, "╠", "╣")
	fmt.Fprintf(w, "║ TRENDS (%s)\n", tr.Direction)
	fmt.Fprintf(w, "║   30 days:       %.1f%% of %d\n", tr.Last30Days.ComplianceRate, tr.Last30Days.TotalAnalyses)
	fmt.Fprintf(w, "║   7 days:        %.1f%% of %d\n", tr.Last7Days.ComplianceRate, tr.Last7Days.TotalAnalyses)
	fmt.Fprintf(w, "║   24 hours:      %.1f%% of %d\n", tr.Last24Hours.ComplianceRate, tr.Last24Hours.TotalAnalyses)
	if len(r.Breakdown.CommonIssues) > 0 {
		rule(w, "╠", "╣")
		fmt.Fprintf(w, "║ COMMON ISSUES\n")
		for _, ic := range r.Breakdown.CommonIssues {
			fmt.Fprintf(w, "║   %4d  %s\n", ic.Count, ic.Issue)
		}
	}
	rule(w, "╚", "╝")
}

// Hierarchy writes the chain forest as an indented tree.
func Hierarchy(w io.Writer, roots []*service.Node) {
	if len(roots) == 0 {
		fmt.Fprintln(w, "(no chains)")
		return
	}
	for i, n := range roots {
		node(w, n, "", i == len(roots)-1)
	}
}

func node(w io.Writer, n *service.Node, prefix string, last bool) {
	branch, next := "├── ", "│   "
	if last {
		branch, next = "└── ", "    "
	}
	fmt.Fprintf(w, "%s%s%s [%s] %d devices\n", prefix, branch, n.ChainID, n.ChainType, n.DeviceCount)
	for _, d := range n.Devices {
		fmt.Fprintf(w, "%s%s· %s (%s)\n", prefix, next, d.Name, d.Type)
	}
	for i, c := range n.Children {
		node(w, c, prefix+next, i == len(n.Children)-1)
	}
}

// Stats writes aggregate analysis statistics.
func Stats(w io.Writer, st *service.Stats) {
	rule(w, "\n╔", "╗")
	title(w, "ANALYSIS STATISTICS")
	rule(w, "╠", "╣")
	row(w, "Racks", st.TotalRacks)
	row(w, "Analyzed", st.AnalyzedRacks)
	row(w, "Failed", st.FailedAnalyses)
	row(w, "Chains", st.TotalChains)
	row(w, "Devices", st.TotalDevices)
	row(w, "Avg chains", st.AverageChains)
	row(w, "Avg depth", st.AverageDepth)
	row(w, "Avg devices", st.AverageDevices)
	row(w, "Avg duration", fmt.Sprintf("%.2f ms", st.AverageDurationMS))
	row(w, "Compliance", fmt.Sprintf("%.1f%%", st.ComplianceRate))
	rule(w, "╠", "╣")
	fmt.Fprintf(w, "║ COMPLEXITY\n")
	for _, k := range []string{"low", "medium", "high"} {
		fmt.Fprintf(w, "║   %-10s %d\n", k, st.Complexity[k])
	}
	if len(st.PerformanceRatings) > 0 {
		fmt.Fprintf(w, "║ PERFORMANCE\n")
		for _, k := range []string{"excellent", "good", "acceptable", "slow"} {
			if n, ok := st.PerformanceRatings[k]; ok {
				fmt.Fprintf(w, "║   %-10s %d\n", k, n)
			}
		}
	}
	rule(w, "╚", "╝")
}
