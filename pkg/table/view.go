package table

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/wesleyemery/k8s-metrics-tables/pkg/metrics"
)

// DefaultSeriesLimit caps how many entities one query may return.
const DefaultSeriesLimit = 2000

// Phase is the lifecycle of a table fetch.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseFetching Phase = "fetching"
	PhaseReady    Phase = "ready"
	PhaseFailed   Phase = "failed"
)

// Params are the caller-controlled inputs of a table. Changing any of them
// starts a new fetch.
type Params struct {
	Timerange metrics.Timerange
	Filter    string
	Sort      SortState
	PageIndex int
	PageSize  int
}

// State is a consistent snapshot of a view: the phase plus the page the
// last completed fetch produced. While fetching, the previous page stays
// visible. A failed fetch leaves empty rows; the error itself is logged,
// not carried here.
type State[R DisplayRow] struct {
	Phase Phase
	Page[R]
}

// IsLoading reports whether a fetch is in flight.
func (s State[R]) IsLoading() bool { return s.Phase == PhaseFetching }

// ViewSpec wires one table kind: where its series come from and how one
// series becomes a row.
type ViewSpec[R DisplayRow] struct {
	Source  string
	GroupBy []metrics.GroupBy
	Columns []metrics.Metric
	Reduce  func(metrics.Series, time.Time) R
	Limit   int
}

func (s ViewSpec[R]) request(p Params) metrics.Request {
	return metrics.Request{
		Source:    s.Source,
		GroupBy:   s.GroupBy,
		Metrics:   s.Columns,
		Timerange: p.Timerange,
		Filter:    p.Filter,
		Limit:     s.Limit,
	}
}

// FetchPage runs one query through the reduce, sort, and paginate pipeline
// without any view state. The stateless HTTP handlers use this path.
func FetchPage[R DisplayRow](ctx context.Context, querier metrics.Querier, spec ViewSpec[R], params Params) (Page[R], error) {
	result, err := querier.Query(ctx, spec.request(params))
	if err != nil {
		return Page[R]{}, err
	}
	return buildPage(spec, params, result, time.Now()), nil
}

// buildPage reduces every series with a single shared now so repeated
// reductions of the same result agree.
func buildPage[R DisplayRow](spec ViewSpec[R], params Params, result metrics.Result, now time.Time) Page[R] {
	rows := make([]R, 0, len(result.Series))
	for _, series := range result.Series {
		rows = append(rows, spec.Reduce(series, now))
	}
	sortRows(rows, params.Sort)
	pageRows, pageIndex, pageCount := paginate(rows, params.PageIndex, params.PageSize)
	return Page[R]{
		Rows:      pageRows,
		TotalRows: len(rows),
		PageIndex: pageIndex,
		PageCount: pageCount,
		Sort:      params.Sort,
		Timerange: params.Timerange,
	}
}

// View owns the fetch state for one live table. Every parameter change
// moves the view to the fetching phase and supersedes any in-flight query:
// the superseded fetch is canceled and its result, should it still arrive,
// is discarded. Exactly the newest fetch ever publishes state.
type View[R DisplayRow] struct {
	querier metrics.Querier
	spec    ViewSpec[R]
	log     logr.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	params     Params
	generation uint64
	fetchStop  context.CancelFunc
	state      State[R]
	updates    chan State[R]
}

// NewView creates a view in the idle phase. Nothing is fetched until a
// setter or Refresh runs.
func NewView[R DisplayRow](ctx context.Context, querier metrics.Querier, spec ViewSpec[R], params Params, log logr.Logger) *View[R] {
	viewCtx, cancel := context.WithCancel(ctx)
	v := &View[R]{
		querier: querier,
		spec:    spec,
		log:     log,
		ctx:     viewCtx,
		cancel:  cancel,
		params:  params,
		updates: make(chan State[R], 1),
	}
	v.state = State[R]{Phase: PhaseIdle, Page: emptyPage[R](params)}
	return v
}

func emptyPage[R DisplayRow](params Params) Page[R] {
	return Page[R]{
		Rows:      []R{},
		PageIndex: 0,
		PageCount: 1,
		Sort:      params.Sort,
		Timerange: params.Timerange,
	}
}

// SetTimerange changes the queried timerange. Equal values are a no-op.
func (v *View[R]) SetTimerange(tr metrics.Timerange) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.params.Timerange == tr {
		return
	}
	v.params.Timerange = tr
	v.refetchLocked()
}

// SetFilter changes the filter expression. Equal values are a no-op.
func (v *View[R]) SetFilter(filter string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.params.Filter == filter {
		return
	}
	v.params.Filter = filter
	v.refetchLocked()
}

// SetSort changes the sort state. Equal values are a no-op.
func (v *View[R]) SetSort(state SortState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.params.Sort == state {
		return
	}
	v.params.Sort = state
	v.refetchLocked()
}

// SetPage changes the page index. Equal values are a no-op.
func (v *View[R]) SetPage(index int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.params.PageIndex == index {
		return
	}
	v.params.PageIndex = index
	v.refetchLocked()
}

// SetPageSize changes the page size. Equal values are a no-op.
func (v *View[R]) SetPageSize(size int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.params.PageSize == size {
		return
	}
	v.params.PageSize = size
	v.refetchLocked()
}

// Refresh refetches with the current params unconditionally.
func (v *View[R]) Refresh() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.refetchLocked()
}

func (v *View[R]) refetchLocked() {
	if v.fetchStop != nil {
		v.fetchStop()
	}
	fetchCtx, stop := context.WithCancel(v.ctx)
	v.fetchStop = stop

	v.generation++
	generation := v.generation
	params := v.params

	v.state.Phase = PhaseFetching
	v.publishLocked()

	go v.fetch(fetchCtx, generation, params)
}

func (v *View[R]) fetch(ctx context.Context, generation uint64, params Params) {
	result, err := v.querier.Query(ctx, v.spec.request(params))
	now := time.Now()

	v.mu.Lock()
	defer v.mu.Unlock()
	if generation != v.generation {
		// Superseded; a newer fetch owns the state now.
		return
	}
	if err != nil {
		v.log.Error(err, "table query failed", "filter", params.Filter)
		v.state = State[R]{Phase: PhaseFailed, Page: emptyPage[R](params)}
		v.publishLocked()
		return
	}
	v.state = State[R]{Phase: PhaseReady, Page: buildPage(v.spec, params, result, now)}
	v.publishLocked()
}

// publishLocked replaces any pending update so a single consumer always
// drains the newest state.
func (v *View[R]) publishLocked() {
	select {
	case <-v.updates:
	default:
	}
	select {
	case v.updates <- v.state:
	default:
	}
}

// State returns the current snapshot.
func (v *View[R]) State() State[R] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Params returns the current parameters.
func (v *View[R]) Params() Params {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.params
}

// Updates delivers state snapshots to a single consumer. The channel holds
// only the newest state; slow consumers skip intermediates instead of
// lagging behind.
func (v *View[R]) Updates() <-chan State[R] {
	return v.updates
}

// Close cancels the view and any in-flight fetch.
func (v *View[R]) Close() {
	v.cancel()
}
