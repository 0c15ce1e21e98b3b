package metrics

import (
	"context"
	"time"
)

// TimeoutQuerier bounds every query with a fixed timeout on top of the
// caller's context. A zero timeout passes queries through unchanged.
type TimeoutQuerier struct {
	next    Querier
	timeout time.Duration
}

func NewTimeoutQuerier(next Querier, timeout time.Duration) *TimeoutQuerier {
	return &TimeoutQuerier{next: next, timeout: timeout}
}

func (q *TimeoutQuerier) Query(ctx context.Context, req Request) (Result, error) {
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}
	return q.next.Query(ctx, req)
}
