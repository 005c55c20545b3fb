package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/efebarandurmaz/rackscan/internal/chain"
	"github.com/efebarandurmaz/rackscan/internal/observability"
	"github.com/efebarandurmaz/rackscan/internal/store"
)

// RackValidator produces a per-rack compliance report.
type RackValidator interface {
	Validate(ctx context.Context, rackID string) (*Report, error)
}

// Validator checks one rack's persisted analysis. It never writes to the store.
type Validator struct {
	store   store.Reader
	checks  []Check
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// Option configures a Validator or Reporter.
type Option func(*options)

type options struct {
	checks  []Check
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// WithChecks replaces the built-in checks.
func WithChecks(checks ...Check) Option {
	return func(o *options) { o.checks = checks }
}

// WithLogger sets the validator's logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records each verdict and its issue categories into m.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides the time source used for timestamps and trend windows.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{
		checks: DefaultChecks(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewValidator creates a Validator reading from r.
func NewValidator(r store.Reader, opts ...Option) *Validator {
	o := buildOptions(opts)
	return &Validator{
		store:   r,
		checks:  o.checks,
		logger:  o.logger.With("component", "compliance"),
		metrics: o.metrics,
		now:     o.now,
	}
}

// Validate loads the rack's summary and chains and runs every check.
// Compliance failures are reported in the Report, not as errors; an error
// means the rack is unknown or the store failed.
func (v *Validator) Validate(ctx context.Context, rackID string) (*Report, error) {
	ctx, span := observability.StartValidateSpan(ctx, rackID)
	defer span.End()

	if _, err := v.store.GetRack(ctx, rackID); err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	summary, err := v.store.LoadSummary(ctx, rackID)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("load summary: %w", err)
	}
	chains, err := v.store.LoadChains(ctx, rackID)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("load chains: %w", err)
	}

	report := v.Evaluate(rackID, summary, chains)
	observability.RecordValidateResult(span, report.Compliant, len(report.Issues))
	if v.metrics != nil {
		v.metrics.RecordValidation(report.Compliant, report.IssueCategories())
	}
	v.logger.Info("compliance validated",
		"rack_id", rackID,
		"compliant", report.Compliant,
		"issues", len(report.Issues),
		"constitutional_version", chain.ConstitutionalVersion,
	)
	return report, nil
}

// Evaluate runs the checks over already-loaded state.
func (v *Validator) Evaluate(rackID string, summary *chain.Summary, chains []chain.Chain) *Report {
	in := &Input{RackID: rackID, Summary: summary, Chains: chains}
	issues, results := Run(v.checks, in)
	return &Report{
		RackID:                rackID,
		Compliant:             len(issues) == 0,
		Issues:                issues,
		Checks:                results,
		Analysis:              summary,
		StoredChains:          len(chains),
		ValidatedAt:           v.now(),
		ConstitutionalVersion: chain.ConstitutionalVersion,
	}
}

var _ RackValidator = (*Validator)(nil)
