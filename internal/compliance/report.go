package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/efebarandurmaz/rackscan/internal/chain"
	"github.com/efebarandurmaz/rackscan/internal/observability"
	"github.com/efebarandurmaz/rackscan/internal/store"
)

// TopIssues is how many issue messages the frequency histogram keeps.
const TopIssues = 10

// trendThreshold is the percentage-point gap between the 7 and 30 day
// rates that counts as a trend.
const trendThreshold = 5.0

// PlatformReport aggregates compliance across every rack.
type PlatformReport struct {
	GeneratedAt           time.Time        `json:"report_generated_at"`
	ConstitutionalVersion string           `json:"constitutional_version"`
	Platform              PlatformSummary  `json:"platform_summary"`
	Statistics            Statistics       `json:"compliance_statistics"`
	Breakdown             Breakdown        `json:"compliance_breakdown"`
	Performance           PerformanceStats `json:"performance_statistics"`
	Trends                Trends           `json:"recent_trends"`
	Requirements          []Requirement    `json:"constitutional_requirements"`
}

type PlatformSummary struct {
	TotalRacks            int     `json:"total_racks"`
	AnalyzedRacks         int     `json:"analyzed_racks"`
	CoveragePercent       float64 `json:"analysis_coverage_percentage"`
	OverallComplianceRate float64 `json:"overall_compliance_rate"`
}

type Statistics struct {
	TotalAnalyses         int     `json:"total_analyses"`
	CompliantCount        int     `json:"compliant_count"`
	CompliancePercent     float64 `json:"compliance_percentage"`
	WithChainsCount       int     `json:"chains_detected_count"`
	WithChainsPercent     float64 `json:"chains_percentage"`
	FastCount             int     `json:"fast_analyses_count"`
	FastPercent           float64 `json:"fast_percentage"`
	RecentCount           int     `json:"recent_analyses_count"`
	AverageDurationMS     float64 `json:"average_duration_ms"`
	AverageChainsDetected float64 `json:"average_chains_detected"`
	AverageDevices        float64 `json:"average_devices"`
}

type IssueCount struct {
	Issue string `json:"issue"`
	Count int    `json:"count"`
}

type Breakdown struct {
	CompliantRacks        int          `json:"compliant_racks"`
	NonCompliantRacks     int          `json:"non_compliant_racks"`
	CommonIssues          []IssueCount `json:"common_issues"`
	PerformanceViolations int          `json:"performance_violations"`
	ChainDetectionIssues  int          `json:"chain_detection_issues"`
	CompletenessIssues    int          `json:"completeness_issues"`
}

type Bucket struct {
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Percent float64 `json:"percentage"`
}

type PerformanceStats struct {
	AverageMS    float64  `json:"average_analysis_duration_ms"`
	FastestMS    float64  `json:"fastest_analysis_ms"`
	SlowestMS    float64  `json:"slowest_analysis_ms"`
	Violations   int      `json:"constitutional_violations"`
	FastCount    int      `json:"fast_analyses_count"`
	Distribution []Bucket `json:"performance_distribution"`
}

type RateWindow struct {
	TotalAnalyses  int     `json:"total_analyses"`
	CompliantCount int     `json:"compliant_count"`
	ComplianceRate float64 `json:"compliance_rate"`

	rate float64
}

type Trends struct {
	Last30Days  RateWindow `json:"last_30_days"`
	Last7Days   RateWindow `json:"last_7_days"`
	Last24Hours RateWindow `json:"last_24_hours"`
	Direction   string     `json:"trend_direction"`
}

// Requirement is one published constitutional rule.
type Requirement struct {
	Name        string `json:"requirement"`
	Description string `json:"description"`
	Validation  string `json:"validation"`
}

// Requirements lists the rules every analysis is certified against.
func Requirements() []Requirement {
	return []Requirement{
		{
			Name:        "ALL CHAINS Detection",
			Description: "ALL CHAINS within uploaded rack files MUST be detected and included in analysis, regardless of nesting depth",
			Validation:  "Pattern scanning, completeness rescan and hierarchical validation",
		},
		{
			Name:        "Performance Limit",
			Description: fmt.Sprintf("Analysis must complete within 5 seconds (%dms)", chain.MaxAnalysisDurationMS),
			Validation:  "Analysis duration tracking",
		},
		{
			Name:        "Analysis Completeness",
			Description: "Analysis must be comprehensive, accurate, and properly stored",
			Validation:  "Data integrity checks and logical consistency validation",
		},
	}
}

// Reporter builds platform-wide reports from stored summaries.
type Reporter struct {
	store     store.Reader
	validator RackValidator
	logger    *slog.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewReporter creates a Reporter. Non-compliant racks are re-validated
// through v so a caching validator can be supplied.
func NewReporter(r store.Reader, v RackValidator, opts ...Option) *Reporter {
	o := buildOptions(opts)
	return &Reporter{
		store:     r,
		validator: v,
		logger:    o.logger.With("component", "compliance-report"),
		metrics:   o.metrics,
		now:       o.now,
	}
}

// GenerateReport aggregates every stored summary into a PlatformReport.
func (rp *Reporter) GenerateReport(ctx context.Context) (*PlatformReport, error) {
	start := time.Now()
	ctx, span := observability.StartReportSpan(ctx)
	defer span.End()

	now := rp.now()
	totalRacks, err := rp.store.CountRacks(ctx)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("count racks: %w", err)
	}
	summaries, err := rp.store.ListSummaries(ctx)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("list summaries: %w", err)
	}

	stats := statistics(summaries, now)
	analyzed := 0
	for _, s := range summaries {
		if s.AnalysisComplete {
			analyzed++
		}
	}

	breakdown, err := rp.breakdown(ctx, summaries)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	trends, err := rp.trends(ctx, now)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	report := &PlatformReport{
		GeneratedAt:           now,
		ConstitutionalVersion: chain.ConstitutionalVersion,
		Platform: PlatformSummary{
			TotalRacks:            totalRacks,
			AnalyzedRacks:         analyzed,
			CoveragePercent:       percent(analyzed, totalRacks),
			OverallComplianceRate: stats.CompliancePercent,
		},
		Statistics:   stats,
		Breakdown:    breakdown,
		Performance:  performance(summaries),
		Trends:       trends,
		Requirements: Requirements(),
	}

	observability.RecordReportResult(span, len(summaries), stats.CompliantCount, stats.CompliancePercent)
	if rp.metrics != nil {
		rp.metrics.ReportDuration.Observe(time.Since(start).Seconds())
	}
	rp.logger.Info("platform compliance report generated",
		"racks", totalRacks,
		"analyzed", analyzed,
		"compliance_rate", stats.CompliancePercent,
	)
	return report, nil
}

func statistics(summaries []chain.Summary, now time.Time) Statistics {
	var st Statistics
	var duration, chains, devices float64
	weekAgo := now.Add(-7 * 24 * time.Hour)
	for _, s := range summaries {
		st.TotalAnalyses++
		if s.ConstitutionalCompliant {
			st.CompliantCount++
		}
		if s.HasNestedChains {
			st.WithChainsCount++
		}
		if s.AnalysisComplete && s.AnalysisDurationMS <= 1000 {
			st.FastCount++
		}
		if !s.ProcessedAt.Before(weekAgo) {
			st.RecentCount++
		}
		duration += s.AnalysisDurationMS
		chains += float64(s.TotalChainsDetected)
		devices += float64(s.TotalDevices)
	}
	st.CompliancePercent = percent(st.CompliantCount, st.TotalAnalyses)
	st.WithChainsPercent = percent(st.WithChainsCount, st.TotalAnalyses)
	st.FastPercent = percent(st.FastCount, st.TotalAnalyses)
	if n := float64(st.TotalAnalyses); n > 0 {
		st.AverageDurationMS = round(duration/n, 2)
		st.AverageChainsDetected = round(chains/n, 2)
		st.AverageDevices = round(devices/n, 2)
	}
	return st
}

func (rp *Reporter) breakdown(ctx context.Context, summaries []chain.Summary) (Breakdown, error) {
	var b Breakdown
	freq := map[string]int{}
	for _, s := range summaries {
		if s.ConstitutionalCompliant {
			b.CompliantRacks++
			continue
		}
		b.NonCompliantRacks++

		report, err := rp.validator.Validate(ctx, s.RackID)
		if err != nil {
			return Breakdown{}, fmt.Errorf("validate %s: %w", s.RackID, err)
		}
		for _, issue := range report.Issues {
			freq[issue]++
			switch Categorize(issue) {
			case CategoryPerformance:
				b.PerformanceViolations++
			case CategoryChainDetection:
				b.ChainDetectionIssues++
			default:
				b.CompletenessIssues++
			}
		}
	}

	b.CommonIssues = make([]IssueCount, 0, len(freq))
	for issue, n := range freq {
		b.CommonIssues = append(b.CommonIssues, IssueCount{Issue: issue, Count: n})
	}
	sort.Slice(b.CommonIssues, func(i, j int) bool {
		if b.CommonIssues[i].Count != b.CommonIssues[j].Count {
			return b.CommonIssues[i].Count > b.CommonIssues[j].Count
		}
		return b.CommonIssues[i].Issue < b.CommonIssues[j].Issue
	})
	if len(b.CommonIssues) > TopIssues {
		b.CommonIssues = b.CommonIssues[:TopIssues]
	}
	return b, nil
}

// performance covers completed analyses only; failed runs carry the time to
// failure, not a traversal time.
func performance(summaries []chain.Summary) PerformanceStats {
	var ps PerformanceStats
	counts := make([]int, 4)
	var total float64
	n := 0
	for _, s := range summaries {
		if !s.AnalysisComplete {
			continue
		}
		d := s.AnalysisDurationMS
		if n == 0 || d < ps.FastestMS {
			ps.FastestMS = d
		}
		if d > ps.SlowestMS {
			ps.SlowestMS = d
		}
		total += d
		n++

		switch {
		case d <= 1000:
			counts[0]++
			ps.FastCount++
		case d <= 2500:
			counts[1]++
		case d <= chain.MaxAnalysisDurationMS:
			counts[2]++
		default:
			counts[3]++
			ps.Violations++
		}
	}
	if n > 0 {
		ps.AverageMS = round(total/float64(n), 2)
	}
	labels := []string{"0-1000ms", "1001-2500ms", "2501-5000ms", "5000ms+"}
	ps.Distribution = make([]Bucket, len(labels))
	for i, l := range labels {
		ps.Distribution[i] = Bucket{Label: l, Count: counts[i], Percent: percent(counts[i], n)}
	}
	return ps
}

func (rp *Reporter) trends(ctx context.Context, now time.Time) (Trends, error) {
	window := func(d time.Duration) (RateWindow, error) {
		summaries, err := rp.store.SummariesSince(ctx, now.Add(-d))
		if err != nil {
			return RateWindow{}, fmt.Errorf("summaries since %s: %w", d, err)
		}
		var w RateWindow
		for _, s := range summaries {
			w.TotalAnalyses++
			if s.ConstitutionalCompliant {
				w.CompliantCount++
			}
		}
		if w.TotalAnalyses > 0 {
			w.rate = float64(w.CompliantCount) / float64(w.TotalAnalyses) * 100
		}
		w.ComplianceRate = round(w.rate, 1)
		return w, nil
	}

	var t Trends
	var err error
	if t.Last30Days, err = window(30 * 24 * time.Hour); err != nil {
		return t, err
	}
	if t.Last7Days, err = window(7 * 24 * time.Hour); err != nil {
		return t, err
	}
	if t.Last24Hours, err = window(24 * time.Hour); err != nil {
		return t, err
	}
	t.Direction = TrendDirection(t.Last7Days.rate, t.Last30Days.rate)
	return t, nil
}

// TrendDirection compares the weekly rate to the monthly rate.
func TrendDirection(weekRate, monthRate float64) string {
	diff := weekRate - monthRate
	switch {
	case diff > trendThreshold:
		return "improving"
	case diff < -trendThreshold:
		return "declining"
	default:
		return "stable"
	}
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return round(float64(n)/float64(total)*100, 1)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
