package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingQuerier struct {
	calls  int
	result Result
	err    error
}

func (c *countingQuerier) Query(_ context.Context, _ Request) (Result, error) {
	c.calls++
	if c.err != nil {
		return Result{}, c.err
	}
	return c.result, nil
}

func TestCachedQuerier_Hit(t *testing.T) {
	next := &countingQuerier{result: Result{Series: []Series{{Keys: []string{"a"}}}}}
	cached := NewCachedQuerier(next, time.Minute)
	ctx := context.Background()

	first, err := cached.Query(ctx, podRequest())
	require.NoError(t, err)
	second, err := cached.Query(ctx, podRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, next.calls)
	assert.Equal(t, first, second)

	hits, misses := cached.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestCachedQuerier_DistinctRequests(t *testing.T) {
	next := &countingQuerier{}
	cached := NewCachedQuerier(next, time.Minute)
	ctx := context.Background()

	_, err := cached.Query(ctx, podRequest())
	require.NoError(t, err)

	other := podRequest()
	other.Filter = `namespace="staging"`
	_, err = cached.Query(ctx, other)
	require.NoError(t, err)

	assert.Equal(t, 2, next.calls)
}

func TestCachedQuerier_Expiry(t *testing.T) {
	next := &countingQuerier{}
	cached := NewCachedQuerier(next, 10*time.Millisecond)
	ctx := context.Background()

	_, err := cached.Query(ctx, podRequest())
	require.NoError(t, err)

	time.Sleep(25 * time.Millisecond)

	_, err = cached.Query(ctx, podRequest())
	require.NoError(t, err)

	assert.Equal(t, 2, next.calls)
}

func TestCachedQuerier_ZeroTTLPassthrough(t *testing.T) {
	next := &countingQuerier{}
	cached := NewCachedQuerier(next, 0)
	ctx := context.Background()

	_, err := cached.Query(ctx, podRequest())
	require.NoError(t, err)
	_, err = cached.Query(ctx, podRequest())
	require.NoError(t, err)

	assert.Equal(t, 2, next.calls)
}

func TestCachedQuerier_ErrorsNotCached(t *testing.T) {
	next := &countingQuerier{err: errors.New("scrape failed")}
	cached := NewCachedQuerier(next, time.Minute)
	ctx := context.Background()

	_, err := cached.Query(ctx, podRequest())
	require.Error(t, err)

	next.err = nil
	_, err = cached.Query(ctx, podRequest())
	require.NoError(t, err)

	assert.Equal(t, 2, next.calls)
}

type deadlineQuerier struct {
	hadDeadline bool
}

func (d *deadlineQuerier) Query(ctx context.Context, _ Request) (Result, error) {
	_, d.hadDeadline = ctx.Deadline()
	return Result{}, nil
}

func TestTimeoutQuerier(t *testing.T) {
	next := &deadlineQuerier{}
	limited := NewTimeoutQuerier(next, time.Minute)

	_, err := limited.Query(context.Background(), podRequest())
	require.NoError(t, err)
	assert.True(t, next.hadDeadline)
}

func TestTimeoutQuerier_ZeroPassthrough(t *testing.T) {
	next := &deadlineQuerier{}
	limited := NewTimeoutQuerier(next, 0)

	_, err := limited.Query(context.Background(), podRequest())
	require.NoError(t, err)
	assert.False(t, next.hadDeadline)
}
