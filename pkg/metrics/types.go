package metrics

import (
	"context"
	"fmt"
	"time"
)

// Field identifies a metric column that can be requested from a Querier.
// Callers always use the constants below; queriers resolve each field to
// their backend's native representation.
type Field string

const (
	FieldPodStartTime        Field = "pod.start_time"
	FieldPodCPUUsageLimitPct Field = "pod.cpu.usage.limit.pct"
	FieldPodMemoryUsageBytes Field = "pod.memory.usage.bytes"

	FieldContainerStartTime        Field = "container.start_time"
	FieldContainerCPUUsageLimitPct Field = "container.cpu.usage.limit.pct"
	FieldContainerMemoryUsageBytes Field = "container.memory.usage.bytes"

	FieldNodeCreated          Field = "node.created"
	FieldNodeCPUUsagePct      Field = "node.cpu.usage.pct"
	FieldNodeMemoryUsageBytes Field = "node.memory.usage.bytes"
)

// Aggregation selects how samples within one time bucket collapse to a value.
type Aggregation string

const (
	AggregationAvg Aggregation = "avg"
	AggregationMax Aggregation = "max"
)

// GroupBy identifies a label whose values key the returned series.
type GroupBy string

const (
	GroupByPodUID        GroupBy = "uid"
	GroupByPodName       GroupBy = "pod"
	GroupByContainerName GroupBy = "container"
	GroupByNodeName      GroupBy = "node"
)

// Metric is one requested column: a field plus its bucket aggregation.
type Metric struct {
	Field       Field
	Aggregation Aggregation
}

// Timerange bounds a query. Interval is the bucket width.
type Timerange struct {
	From     time.Time
	To       time.Time
	Interval time.Duration
}

// Request describes one table query. Source carries the base matcher set
// contributed by the table definition; Filter carries the caller's
// additional matcher expression. Limit caps the number of returned series,
// zero meaning no cap.
type Request struct {
	Source    string
	GroupBy   []GroupBy
	Metrics   []Metric
	Timerange Timerange
	Filter    string
	Limit     int
}

// Validate rejects requests a querier cannot answer meaningfully.
func (r Request) Validate() error {
	if r.Timerange.From.IsZero() || r.Timerange.To.IsZero() {
		return fmt.Errorf("timerange is required")
	}
	if !r.Timerange.To.After(r.Timerange.From) {
		return fmt.Errorf("timerange end %s is not after start %s", r.Timerange.To.Format(time.RFC3339), r.Timerange.From.Format(time.RFC3339))
	}
	if r.Timerange.Interval <= 0 {
		return fmt.Errorf("timerange interval must be positive")
	}
	if len(r.GroupBy) == 0 {
		return fmt.Errorf("at least one group-by label is required")
	}
	if len(r.Metrics) == 0 {
		return fmt.Errorf("at least one metric is required")
	}
	for _, m := range r.Metrics {
		if m.Aggregation != AggregationAvg && m.Aggregation != AggregationMax {
			return fmt.Errorf("unsupported aggregation %q for field %q", m.Aggregation, m.Field)
		}
	}
	if err := ValidateFilter(r.Filter); err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}
	return nil
}

// Row is one time bucket. A field absent from Values reported no value in
// that bucket; absence is never encoded as zero.
type Row struct {
	Timestamp time.Time
	Values    map[Field]float64
}

// Series holds the buckets for one grouped entity. Keys are the group-by
// label values in request order; Rows ascend by timestamp.
type Series struct {
	Keys []string
	Rows []Row
}

// Result is the ordered set of series answering a Request.
type Result struct {
	Series []Series
}

// Querier answers table queries. Implementations must return series in a
// deterministic order and must not return partial results alongside an
// error.
type Querier interface {
	Query(ctx context.Context, req Request) (Result, error)
}
