package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all rackscan metrics, registered on their own registry.
type Metrics struct {
	registry *prometheus.Registry

	// Discovery
	AnalysesTotal      *prometheus.CounterVec
	AnalysisDuration   prometheus.Histogram
	ChainsDetected     prometheus.Histogram
	BudgetOverrunTotal prometheus.Counter
	RecoveredChains    prometheus.Counter

	// Compliance
	ValidationsTotal *prometheus.CounterVec
	IssuesTotal      *prometheus.CounterVec
	ReportDuration   prometheus.Histogram

	// Report cache
	CacheRequests *prometheus.CounterVec
	Invalidations prometheus.Counter

	// Workers
	ActiveAnalyses prometheus.Gauge
}

// NewMetrics creates rackscan metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		AnalysesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rackscan_analyses_total",
			Help: "Total rack analyses by result",
		}, []string{"result"}),
		AnalysisDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rackscan_analysis_duration_seconds",
			Help:    "Discovery duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		ChainsDetected: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rackscan_chains_detected",
			Help:    "Chains detected per analysis",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
		BudgetOverrunTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "rackscan_budget_overrun_total",
			Help: "Analyses that exceeded the 5000ms budget",
		}),
		RecoveredChains: f.NewCounter(prometheus.CounterOpts{
			Name: "rackscan_recovered_chains_total",
			Help: "Chains found only by the completeness rescan",
		}),

		ValidationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rackscan_validations_total",
			Help: "Per-rack compliance validations by verdict",
		}, []string{"verdict"}),
		IssuesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rackscan_compliance_issues_total",
			Help: "Compliance issues by category",
		}, []string{"category"}),
		ReportDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "rackscan_platform_report_duration_seconds",
			Help:    "Platform report generation duration",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		}),

		CacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "rackscan_report_cache_requests_total",
			Help: "Report cache lookups by outcome",
		}, []string{"outcome"}),
		Invalidations: f.NewCounter(prometheus.CounterOpts{
			Name: "rackscan_report_cache_invalidations_total",
			Help: "Report cache invalidations",
		}),

		ActiveAnalyses: f.NewGauge(prometheus.GaugeOpts{
			Name: "rackscan_active_analyses",
			Help: "Analyses currently in flight",
		}),
	}
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordAnalysis records one finished discovery run.
func (m *Metrics) RecordAnalysis(duration time.Duration, chains int, complete, overBudget bool) {
	result := "success"
	if !complete {
		result = "failure"
	}
	m.AnalysesTotal.WithLabelValues(result).Inc()
	m.AnalysisDuration.Observe(duration.Seconds())
	if complete {
		m.ChainsDetected.Observe(float64(chains))
	}
	if overBudget {
		m.BudgetOverrunTotal.Inc()
	}
}

// RecordValidation records a compliance verdict and its categorized issues.
func (m *Metrics) RecordValidation(compliant bool, issueCategories []string) {
	verdict := "compliant"
	if !compliant {
		verdict = "non_compliant"
	}
	m.ValidationsTotal.WithLabelValues(verdict).Inc()
	for _, c := range issueCategories {
		m.IssuesTotal.WithLabelValues(c).Inc()
	}
}

// RecordCacheLookup records a report cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if hit {
		m.CacheRequests.WithLabelValues("hit").Inc()
		return
	}
	m.CacheRequests.WithLabelValues("miss").Inc()
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide metrics instance.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}
