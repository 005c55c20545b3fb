package compliance

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/efebarandurmaz/rackscan/internal/chain"
	"github.com/efebarandurmaz/rackscan/internal/store"
)

type seed struct {
	id       string
	duration float64
	age      time.Duration
	chains   int
	stored   int
	complete bool
}

func seedStore(t *testing.T, now time.Time, seeds []seed, extraRacks int) *store.Memory {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemory()
	for _, s := range seeds {
		if err := st.PutRack(ctx, chain.Rack{ID: s.id}); err != nil {
			t.Fatal(err)
		}
		sum := validSummary(s.chains)
		sum.RackID = s.id
		sum.AnalysisDurationMS = s.duration
		sum.ProcessedAt = now.Add(-s.age)
		sum.AnalysisComplete = s.complete
		sum.ConstitutionalCompliant = s.complete && s.duration <= chain.MaxAnalysisDurationMS && s.chains == s.stored
		if err := st.ReplaceAnalysis(ctx, s.id, *sum, validChains(s.stored)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < extraRacks; i++ {
		if err := st.PutRack(ctx, chain.Rack{ID: fmt.Sprintf("unanalyzed-%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	return st
}

func TestGenerateReport(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	day := 24 * time.Hour
	st := seedStore(t, now, []seed{
		{id: "a", duration: 500, age: time.Hour, chains: 2, stored: 2, complete: true},
		{id: "b", duration: 1800, age: 2 * day, chains: 1, stored: 1, complete: true},
		{id: "c", duration: 6000, age: 3 * day, chains: 1, stored: 1, complete: true},
		{id: "d", duration: 3000, age: 20 * day, chains: 5, stored: 4, complete: true},
		{id: "e", duration: 12, age: 25 * day, chains: 0, stored: 0, complete: false},
	}, 5)

	clock := WithClock(func() time.Time { return now })
	v := NewValidator(st, clock)
	report, err := NewReporter(st, v, clock).GenerateReport(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	p := report.Platform
	if p.TotalRacks != 10 || p.AnalyzedRacks != 4 || p.CoveragePercent != 40 {
		t.Errorf("platform = %+v", p)
	}
	if report.Statistics.CompliantCount != 2 || p.OverallComplianceRate != 40 {
		t.Errorf("statistics = %+v", report.Statistics)
	}

	b := report.Breakdown
	if b.CompliantRacks != 2 || b.NonCompliantRacks != 3 {
		t.Errorf("breakdown counts = %+v", b)
	}
	if b.PerformanceViolations != 1 || b.ChainDetectionIssues != 1 || b.CompletenessIssues != 1 {
		t.Errorf("categories = perf %d chain %d completeness %d",
			b.PerformanceViolations, b.ChainDetectionIssues, b.CompletenessIssues)
	}
	if len(b.CommonIssues) != 3 {
		t.Fatalf("common issues = %v", b.CommonIssues)
	}
	// Equal counts sort by message.
	if b.CommonIssues[0].Issue != "Analysis duration (6000ms) exceeds constitutional limit (5000ms)" {
		t.Errorf("first common issue = %q", b.CommonIssues[0].Issue)
	}

	perf := report.Performance
	if perf.FastestMS != 500 || perf.SlowestMS != 6000 || perf.Violations != 1 || perf.FastCount != 1 {
		t.Errorf("performance = %+v", perf)
	}
	if perf.AverageMS != 2825 {
		t.Errorf("average = %v, want 2825", perf.AverageMS)
	}
	wantBuckets := []int{1, 1, 1, 1}
	for i, bucket := range perf.Distribution {
		if bucket.Count != wantBuckets[i] || bucket.Percent != 25 {
			t.Errorf("bucket %s = %+v", bucket.Label, bucket)
		}
	}

	tr := report.Trends
	if tr.Last24Hours.TotalAnalyses != 1 || tr.Last24Hours.ComplianceRate != 100 {
		t.Errorf("24h = %+v", tr.Last24Hours)
	}
	if tr.Last7Days.TotalAnalyses != 3 || tr.Last30Days.TotalAnalyses != 5 {
		t.Errorf("7d = %+v, 30d = %+v", tr.Last7Days, tr.Last30Days)
	}
	// 66.7% week vs 40% month.
	if tr.Direction != "improving" {
		t.Errorf("direction = %s", tr.Direction)
	}

	if len(report.Requirements) != 3 || report.ConstitutionalVersion != "1.1.0" {
		t.Errorf("requirements = %+v", report.Requirements)
	}
}

func TestGenerateReport_Empty(t *testing.T) {
	st := store.NewMemory()
	report, err := NewReporter(st, NewValidator(st)).GenerateReport(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.Platform.TotalRacks != 0 || report.Platform.CoveragePercent != 0 {
		t.Errorf("platform = %+v", report.Platform)
	}
	if report.Trends.Direction != "stable" {
		t.Errorf("direction = %s", report.Trends.Direction)
	}
	if len(report.Performance.Distribution) != 4 {
		t.Errorf("distribution should always list 4 buckets")
	}
}

func TestTrendDirection(t *testing.T) {
	tests := []struct {
		week, month float64
		want        string
	}{
		{80, 70, "improving"},
		{70, 80, "declining"},
		{75, 70, "stable"},
		{65, 70, "stable"},
	}
	for _, tt := range tests {
		if got := TrendDirection(tt.week, tt.month); got != tt.want {
			t.Errorf("TrendDirection(%v, %v) = %s, want %s", tt.week, tt.month, got, tt.want)
		}
	}
}

func TestTopIssuesLimit(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	var seeds []seed
	for i := 0; i < 12; i++ {
		seeds = append(seeds, seed{id: fmt.Sprintf("r%02d", i), duration: 10, chains: i + 2, stored: 1, complete: true})
	}
	st := seedStore(t, now, seeds, 0)
	clock := WithClock(func() time.Time { return now })
	report, err := NewReporter(st, NewValidator(st, clock), clock).GenerateReport(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n := len(report.Breakdown.CommonIssues); n != TopIssues {
		t.Errorf("common issues = %d, want %d", n, TopIssues)
	}
}

type countingValidator struct {
	calls atomic.Int32
}

func (c *countingValidator) Validate(_ context.Context, id string) (*Report, error) {
	c.calls.Add(1)
	if id == "bad" {
		return nil, fmt.Errorf("rack %s: %w", id, store.ErrNotFound)
	}
	return &Report{RackID: id, Compliant: true}, nil
}

func TestBulkValidate(t *testing.T) {
	v := &countingValidator{}
	ids := []string{"a", "bad", "c", "d"}
	results, err := BulkValidate(context.Background(), v, ids, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 4 || v.calls.Load() != 4 {
		t.Fatalf("results = %d, calls = %d", len(results), v.calls.Load())
	}
	for i, r := range results {
		if r.RackID != ids[i] {
			t.Errorf("result %d = %s, want %s", i, r.RackID, ids[i])
		}
	}
	if results[1].Error == "" || results[1].Report != nil {
		t.Errorf("bad rack result = %+v", results[1])
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := BulkValidate(ctx, v, ids, 2); err == nil {
		t.Error("expected context error")
	}
}
