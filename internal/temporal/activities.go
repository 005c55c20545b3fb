package temporal

import (
	"context"
	"errors"
	"time"

	"go.temporal.io/sdk/activity"
	sdktemporal "go.temporal.io/sdk/temporal"

	"github.com/efebarandurmaz/rackscan/internal/discovery"
	"github.com/efebarandurmaz/rackscan/internal/observability"
	"github.com/efebarandurmaz/rackscan/internal/rackfile"
	"github.com/efebarandurmaz/rackscan/internal/service"
	"github.com/efebarandurmaz/rackscan/internal/store"
)

// LoadResult describes the rack source found on disk.
type LoadResult struct {
	RackID string
	Bytes  int64
}

// AnalyzeResult is the serializable summary of one discovery run.
type AnalyzeResult struct {
	RackID           string
	AnalysisComplete bool
	FromCache        bool
	ChainsDetected   int
	MaxNestingDepth  int
	TotalDevices     int
	DurationMS       float64
}

// ValidateResult carries the compliance verdict.
type ValidateResult struct {
	RackID    string
	Compliant bool
	Issues    []string
}

// Dependencies holds shared resources injected into activities.
type Dependencies struct {
	Analyzer *service.Analyzer
}

var deps *Dependencies

// SetDependencies injects shared resources (called during worker setup).
func SetDependencies(d *Dependencies) {
	deps = d
}

func analyzer() (*service.Analyzer, error) {
	if deps == nil || deps.Analyzer == nil {
		return nil, errors.New("temporal activities: dependencies not set")
	}
	return deps.Analyzer, nil
}

func LoadRackActivity(ctx context.Context, input AnalysisInput) (LoadResult, error) {
	a, err := analyzer()
	if err != nil {
		return LoadResult{}, err
	}
	size, err := a.SourceSize(ctx, input.RackID)
	if err != nil {
		return LoadResult{}, classify(err)
	}
	return LoadResult{RackID: input.RackID, Bytes: size}, nil
}

func AnalyzeRackActivity(ctx context.Context, input AnalysisInput) (AnalyzeResult, error) {
	a, err := analyzer()
	if err != nil {
		return AnalyzeResult{}, err
	}

	wfID := workflowID(ctx)
	start := time.Now()
	observability.Audit().LogWorkflowStart(ctx, wfID, input.RackID)

	out, err := a.AnalyzeRack(ctx, input.RackID, input.Force)
	observability.Audit().LogWorkflowEnd(ctx, wfID, input.RackID, err == nil, time.Since(start))
	if err != nil {
		return AnalyzeResult{}, classify(err)
	}
	s := out.Summary
	return AnalyzeResult{
		RackID:           input.RackID,
		AnalysisComplete: s.AnalysisComplete,
		FromCache:        out.FromCache,
		ChainsDetected:   s.TotalChainsDetected,
		MaxNestingDepth:  s.MaxNestingDepth,
		TotalDevices:     s.TotalDevices,
		DurationMS:       s.AnalysisDurationMS,
	}, nil
}

func ValidateRackActivity(ctx context.Context, rackID string) (ValidateResult, error) {
	a, err := analyzer()
	if err != nil {
		return ValidateResult{}, err
	}
	report, err := a.Validate(ctx, rackID)
	if err != nil {
		return ValidateResult{}, classify(err)
	}
	return ValidateResult{RackID: rackID, Compliant: report.Compliant, Issues: report.Issues}, nil
}

// classify marks errors that a retry cannot fix as non-retryable.
func classify(err error) error {
	var (
		de *rackfile.DecompressionError
		pe *discovery.XMLParseError
	)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return sdktemporal.NewNonRetryableApplicationError(err.Error(), ErrTypeRackNotFound, err)
	case errors.As(err, &de), errors.As(err, &pe):
		return sdktemporal.NewNonRetryableApplicationError(err.Error(), ErrTypeCorruptRack, err)
	default:
		return err
	}
}

func workflowID(ctx context.Context) string {
	if !activity.IsActivity(ctx) {
		return ""
	}
	return activity.GetInfo(ctx).WorkflowExecution.ID
}
