package temporal

import (
	"errors"
	"fmt"
	"time"

	sdktemporal "go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// TaskQueue is the default queue analysis workers poll.
const TaskQueue = "rackscan-analysis"

const maxAttempts = 3

// Error types that retrying cannot fix.
const (
	ErrTypeRackNotFound = "RackNotFound"
	ErrTypeCorruptRack  = "CorruptRack"
)

// AnalysisInput holds the workflow parameters.
type AnalysisInput struct {
	RackID string
	Force  bool
}

// AnalysisOutput holds the workflow result.
type AnalysisOutput struct {
	RackID           string
	AnalysisComplete bool
	FromCache        bool
	ChainsDetected   int
	MaxNestingDepth  int
	TotalDevices     int
	DurationMS       float64
	Compliant        bool
	Issues           []string
}

// AnalyzeRackWorkflow checks the rack source, runs discovery and validates
// the stored result. A rack that cannot be decompressed or parsed still
// reaches validation so its failure is reported.
func AnalyzeRackWorkflow(ctx workflow.Context, input AnalysisInput) (*AnalysisOutput, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		RetryPolicy: &sdktemporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2,
			MaximumAttempts:        maxAttempts,
			NonRetryableErrorTypes: []string{ErrTypeRackNotFound, ErrTypeCorruptRack},
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	logger := workflow.GetLogger(ctx)

	// Step 1: source
	var load LoadResult
	if err := workflow.ExecuteActivity(ctx, LoadRackActivity, input).Get(ctx, &load); err != nil {
		return nil, fmt.Errorf("load rack %s: %w", input.RackID, err)
	}

	// Step 2: discovery
	var analysis AnalyzeResult
	analyzeErr := workflow.ExecuteActivity(ctx, AnalyzeRackActivity, input).Get(ctx, &analysis)
	if analyzeErr != nil {
		var appErr *sdktemporal.ApplicationError
		if !errors.As(analyzeErr, &appErr) || appErr.Type() != ErrTypeCorruptRack {
			return nil, fmt.Errorf("analyze rack %s: %w", input.RackID, analyzeErr)
		}
		logger.Warn("rack could not be analyzed, validating failure record", "rack_id", input.RackID, "error", analyzeErr)
	}

	// Step 3: compliance
	var validation ValidateResult
	if err := workflow.ExecuteActivity(ctx, ValidateRackActivity, input.RackID).Get(ctx, &validation); err != nil {
		return nil, fmt.Errorf("validate rack %s: %w", input.RackID, err)
	}

	return &AnalysisOutput{
		RackID:           input.RackID,
		AnalysisComplete: analyzeErr == nil && analysis.AnalysisComplete,
		FromCache:        analysis.FromCache,
		ChainsDetected:   analysis.ChainsDetected,
		MaxNestingDepth:  analysis.MaxNestingDepth,
		TotalDevices:     analysis.TotalDevices,
		DurationMS:       analysis.DurationMS,
		Compliant:        validation.Compliant,
		Issues:           validation.Issues,
	}, nil
}
