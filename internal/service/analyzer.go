// Package service orchestrates rack analysis: loading, discovery,
// persistence, cache invalidation, mirrors and validation.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/efebarandurmaz/rackscan/internal/chain"
	"github.com/efebarandurmaz/rackscan/internal/compliance"
	"github.com/efebarandurmaz/rackscan/internal/discovery"
	"github.com/efebarandurmaz/rackscan/internal/graph"
	"github.com/efebarandurmaz/rackscan/internal/observability"
	"github.com/efebarandurmaz/rackscan/internal/rackfile"
	"github.com/efebarandurmaz/rackscan/internal/reportcache"
	"github.com/efebarandurmaz/rackscan/internal/store"
	"github.com/efebarandurmaz/rackscan/internal/vector"
)

// DefaultMaxAge is how old an analysis may get before it is redone.
const DefaultMaxAge = 30 * 24 * time.Hour

// Outcome is the result of AnalyzeRack.
type Outcome struct {
	Rack      chain.Rack               `json:"rack"`
	Summary   chain.Summary            `json:"summary"`
	Chains    []chain.Chain            `json:"chains,omitempty"`
	Preview   []discovery.PreviewEntry `json:"preview"`
	Report    *compliance.Report       `json:"compliance,omitempty"`
	FromCache bool                     `json:"from_cache"`
}

// Analyzer runs and serves rack analyses.
type Analyzer struct {
	store     store.Store
	engine    *discovery.Engine
	cache     *reportcache.Cache
	validator compliance.RackValidator
	reporter  *compliance.Reporter
	graph     graph.Repository
	index     *vector.Indexer
	audit     *observability.AuditLogger
	metrics   *observability.Metrics
	logger    *slog.Logger
	load      func(path string) ([]byte, error)
	now       func() time.Time
	maxAge    time.Duration
	workers   int

	locks *keyedMutex
}

// Option configures an Analyzer.
type Option func(*Analyzer)

func WithEngine(e *discovery.Engine) Option {
	return func(a *Analyzer) { a.engine = e }
}

func WithCache(c *reportcache.Cache) Option {
	return func(a *Analyzer) { a.cache = c }
}

// WithGraph mirrors every successful analysis into r.
func WithGraph(r graph.Repository) Option {
	return func(a *Analyzer) { a.graph = r }
}

// WithIndex indexes every successful analysis for similarity search.
func WithIndex(r vector.Repository) Option {
	return func(a *Analyzer) { a.index = vector.NewIndexer(r) }
}

func WithAudit(l *observability.AuditLogger) Option {
	return func(a *Analyzer) { a.audit = l }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithLoader replaces rackfile.Load as the source of rack bytes.
func WithLoader(load func(path string) ([]byte, error)) Option {
	return func(a *Analyzer) { a.load = load }
}

func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

func WithMaxAge(d time.Duration) Option {
	return func(a *Analyzer) {
		if d > 0 {
			a.maxAge = d
		}
	}
}

// WithWorkers bounds BulkValidate concurrency.
func WithWorkers(n int) Option {
	return func(a *Analyzer) { a.workers = n }
}

// New creates an Analyzer over st.
func New(st store.Store, opts ...Option) *Analyzer {
	a := &Analyzer{
		store:   st,
		logger:  slog.Default(),
		load:    rackfile.Load,
		now:     time.Now,
		maxAge:  DefaultMaxAge,
		workers: 4,
		audit:   observability.Audit(),
		locks:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.engine == nil {
		a.engine = discovery.NewEngine(discovery.WithLogger(a.logger), discovery.WithMetrics(a.metrics))
	}
	if a.cache == nil {
		a.cache = reportcache.New(reportcache.DefaultTTL, reportcache.WithMetrics(a.metrics), reportcache.WithLogger(a.logger))
	}
	copts := []compliance.Option{
		compliance.WithLogger(a.logger),
		compliance.WithMetrics(a.metrics),
		compliance.WithClock(a.now),
	}
	a.validator = reportcache.NewValidator(a.cache, compliance.NewValidator(st, copts...))
	a.reporter = compliance.NewReporter(st, a.validator, copts...)
	a.logger = a.logger.With("component", "analyzer")
	return a
}

// NeedsReanalysis reports whether a stored summary is missing, failed,
// older than maxAge or produced by an older analyzer.
func NeedsReanalysis(s *chain.Summary, maxAge time.Duration, now time.Time) bool {
	if s == nil || !s.AnalysisComplete {
		return true
	}
	if s.ProcessedAt.IsZero() || now.Sub(s.ProcessedAt) > maxAge {
		return true
	}
	stored := "v" + strings.TrimPrefix(s.AnalyzerVersion, "v")
	if !semver.IsValid(stored) {
		return true
	}
	return semver.Compare(stored, "v"+chain.AnalyzerVersion) < 0
}

// AnalyzeRack analyzes one registered rack. Unless force is set, a fresh
// stored analysis is returned as is with FromCache set.
//
// On a decompression or parse failure the failure summary is persisted with
// no chains, so validation reports the missing analysis, and the error is
// returned together with an Outcome carrying that summary.
func (a *Analyzer) AnalyzeRack(ctx context.Context, rackID string, force bool) (*Outcome, error) {
	unlock := a.locks.Lock(rackID)
	defer unlock()

	rack, err := a.store.GetRack(ctx, rackID)
	if err != nil {
		return nil, err
	}

	if !force {
		prev, err := a.store.LoadSummary(ctx, rackID)
		if err != nil {
			return nil, fmt.Errorf("load summary: %w", err)
		}
		if !NeedsReanalysis(prev, a.maxAge, a.now()) {
			return a.cached(ctx, *rack, *prev)
		}
	}

	a.audit.LogAnalyzeStart(ctx, rackID, force)
	if a.metrics != nil {
		a.metrics.ActiveAnalyses.Inc()
		defer a.metrics.ActiveAnalyses.Dec()
	}
	started := time.Now()

	loadStart := a.now()
	data, err := a.load(rack.Path)
	if err != nil {
		var de *rackfile.DecompressionError
		if !errors.As(err, &de) {
			// Nothing is recorded when the bytes cannot be read at all.
			a.audit.LogAnalyzeError(ctx, rackID, err)
			return nil, err
		}
		summary := discovery.FailureSummary(rackID, err, loadStart, a.now())
		return a.fail(ctx, *rack, summary, err)
	}

	res, err := a.engine.AnalyzeContext(ctx, rackID, data)
	if err != nil {
		return a.fail(ctx, *rack, res.Summary, err)
	}

	if err := a.persist(ctx, rackID, res.Summary, res.Chains); err != nil {
		return nil, err
	}
	a.mirror(ctx, *rack, &res.Summary, res.Chains)

	report, err := a.validator.Validate(ctx, rackID)
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", rackID, err)
	}
	a.audit.LogAnalyzeComplete(ctx, rackID, time.Since(started), len(res.Chains), res.Summary.TotalDevices, report.Compliant)

	return &Outcome{
		Rack:    *rack,
		Summary: res.Summary,
		Chains:  res.Chains,
		Preview: res.Preview(),
		Report:  report,
	}, nil
}

func (a *Analyzer) cached(ctx context.Context, rack chain.Rack, summary chain.Summary) (*Outcome, error) {
	chains, err := a.store.LoadChains(ctx, rack.ID)
	if err != nil {
		return nil, fmt.Errorf("load chains: %w", err)
	}
	report, err := a.validator.Validate(ctx, rack.ID)
	if err != nil {
		return nil, fmt.Errorf("validate %s: %w", rack.ID, err)
	}
	a.logger.Debug("analysis is current, skipping", "rack_id", rack.ID, "processed_at", summary.ProcessedAt)
	return &Outcome{
		Rack:      rack,
		Summary:   summary,
		Chains:    chains,
		Preview:   discovery.HierarchyPreview(chains),
		Report:    report,
		FromCache: true,
	}, nil
}

func (a *Analyzer) fail(ctx context.Context, rack chain.Rack, summary chain.Summary, cause error) (*Outcome, error) {
	a.audit.LogAnalyzeError(ctx, rack.ID, cause)
	a.logger.Error("rack analysis failed", "rack_id", rack.ID, "error", cause)
	if err := a.persist(ctx, rack.ID, summary, nil); err != nil {
		return nil, errors.Join(cause, err)
	}
	if a.graph != nil {
		if err := a.graph.DeleteRack(ctx, rack.ID); err != nil {
			a.logger.Warn("graph cleanup failed", "rack_id", rack.ID, "error", err)
		}
	}
	return &Outcome{Rack: rack, Summary: summary}, cause
}

// persist replaces the stored analysis and drops cached reports before
// returning, so no reader is served a report of the previous analysis.
func (a *Analyzer) persist(ctx context.Context, rackID string, summary chain.Summary, chains []chain.Chain) error {
	ctx, span := observability.StartStoreSpan(ctx, fmt.Sprintf("%T", a.store), "replace_analysis")
	defer span.End()

	if err := a.store.ReplaceAnalysis(ctx, rackID, summary, chains); err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("persist analysis %s: %w", rackID, err)
	}
	keys := a.cache.Invalidate(rackID)
	a.audit.LogCacheInvalidate(ctx, rackID, keys)
	return nil
}

// mirror copies the analysis into the graph and vector stores. Failures are
// logged; the stored analysis stays authoritative.
func (a *Analyzer) mirror(ctx context.Context, rack chain.Rack, summary *chain.Summary, chains []chain.Chain) {
	if a.graph != nil {
		if err := a.graph.StoreHierarchy(ctx, rack, chains); err != nil {
			a.logger.Warn("graph mirror failed", "rack_id", rack.ID, "error", err)
		}
	}
	if a.index != nil {
		if err := a.index.IndexRack(ctx, rack, summary, chains); err != nil {
			a.logger.Warn("fingerprint index failed", "rack_id", rack.ID, "error", err)
		}
	}
}

// Validate returns the rack's compliance report, cached.
func (a *Analyzer) Validate(ctx context.Context, rackID string) (*compliance.Report, error) {
	report, err := a.validator.Validate(ctx, rackID)
	if err != nil {
		return nil, err
	}
	a.audit.LogValidate(ctx, rackID, report.Compliant, report.Issues)
	return report, nil
}

// BulkValidate validates many racks with bounded concurrency.
func (a *Analyzer) BulkValidate(ctx context.Context, ids []string) ([]compliance.BulkResult, error) {
	return compliance.BulkValidate(ctx, a.validator, ids, a.workers)
}

// PlatformReport returns the cached platform-wide compliance report.
func (a *Analyzer) PlatformReport(ctx context.Context) (*compliance.PlatformReport, error) {
	start := time.Now()
	report, hit, err := a.cache.PlatformReport(ctx, a.reporter)
	if err != nil {
		return nil, err
	}
	if !hit {
		a.audit.LogPlatformReport(ctx, report.Platform.TotalRacks, report.Platform.OverallComplianceRate, time.Since(start))
	}
	return report, nil
}

// InvalidateCache drops cached reports for the rack.
func (a *Analyzer) InvalidateCache(ctx context.Context, rackID string) []string {
	keys := a.cache.Invalidate(rackID)
	a.audit.LogCacheInvalidate(ctx, rackID, keys)
	return keys
}

// SimilarRacks returns racks structurally closest to rackID.
func (a *Analyzer) SimilarRacks(ctx context.Context, rackID string, topK int) ([]vector.SearchResult, error) {
	if a.index == nil {
		return nil, errors.New("similarity index not configured")
	}
	summary, err := a.store.LoadSummary(ctx, rackID)
	if err != nil {
		return nil, err
	}
	if summary == nil || !summary.AnalysisComplete {
		return nil, fmt.Errorf("rack %s has no completed analysis", rackID)
	}
	chains, err := a.store.LoadChains(ctx, rackID)
	if err != nil {
		return nil, err
	}
	return a.index.Similar(ctx, rackID, summary, chains, topK)
}

// Store exposes the underlying store for read-only callers.
func (a *Analyzer) Store() store.Reader { return a.store }
