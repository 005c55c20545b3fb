package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAnalysis(t *testing.T) {
	m := NewMetrics()

	m.RecordAnalysis(20*time.Millisecond, 4, true, false)
	m.RecordAnalysis(6*time.Second, 10, true, true)
	m.RecordAnalysis(time.Millisecond, 0, false, false)

	if got := testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("success analyses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.AnalysesTotal.WithLabelValues("failure")); got != 1 {
		t.Errorf("failed analyses = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.BudgetOverrunTotal); got != 1 {
		t.Errorf("budget overruns = %v, want 1", got)
	}
}

func TestRecordValidation(t *testing.T) {
	m := NewMetrics()

	m.RecordValidation(true, nil)
	m.RecordValidation(false, []string{"performance", "chain_detection", "performance"})

	if got := testutil.ToFloat64(m.ValidationsTotal.WithLabelValues("non_compliant")); got != 1 {
		t.Errorf("non-compliant = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.IssuesTotal.WithLabelValues("performance")); got != 2 {
		t.Errorf("performance issues = %v, want 2", got)
	}
}

func TestRecordCacheLookup(t *testing.T) {
	m := NewMetrics()
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordCacheLookup(false)

	if got := testutil.ToFloat64(m.CacheRequests.WithLabelValues("miss")); got != 2 {
		t.Errorf("misses = %v, want 2", got)
	}
}

func TestMetricsHandler(t *testing.T) {
	m := NewMetrics()
	m.RecordAnalysis(time.Millisecond, 1, true, false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, "rackscan_analyses_total") {
		t.Fatalf("metrics output missing analyses counter:\n%s", body)
	}
}

func TestDefaultMetricsIsSingleton(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Fatal("DefaultMetrics should return the same instance")
	}
}
