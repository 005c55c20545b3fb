package compliance

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// BulkResult is the outcome for one rack of a bulk validation.
type BulkResult struct {
	RackID string  `json:"rack_id"`
	Report *Report `json:"report,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// BulkValidate validates ids concurrently with at most workers in flight.
// Results keep the order of ids; a failure for one rack does not stop the
// others. The only returned error is ctx's.
func BulkValidate(ctx context.Context, v RackValidator, ids []string, workers int) ([]BulkResult, error) {
	results := make([]BulkResult, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i].RackID = id
			report, err := v.Validate(gctx, id)
			if err != nil {
				results[i].Error = err.Error()
				return nil
			}
			results[i].Report = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
