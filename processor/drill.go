package processor

import (
	"context"
	"fmt"
	"time"
)

// DrillResult is the read of one instant of a drill.
type DrillResult struct {
	Instant time.Time
	Result  *ReadResult
	Err     error
}

// Drill runs req once per instant, at most concLimit reads at a time.
// Results come back in the order of instants. A failed read is reported
// in its DrillResult; the returned error is set only when ctx ends the
// drill early.
func Drill(ctx context.Context, ds *Dataset, req ReadRequest, instants []time.Time, concLimit int) ([]DrillResult, error) {
	results := make([]DrillResult, len(instants))
	cLimiter := NewConcLimiter(concLimit)

	for i, t := range instants {
		if err := cLimiter.IncreaseContext(ctx); err != nil {
			cLimiter.Wait()
			return results, fmt.Errorf("drill cancelled after %d of %d instants: %w", i, len(instants), err)
		}
		go func(idx int, instant time.Time) {
			defer cLimiter.Decrease()
			r := req
			r.Instant = &instant
			res, err := ds.Read(ctx, r)
			results[idx] = DrillResult{Instant: instant, Result: res, Err: err}
		}(i, t)
	}
	cLimiter.Wait()

	return results, nil
}
