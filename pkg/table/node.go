package table

import (
	"time"

	"github.com/wesleyemery/k8s-metrics-tables/pkg/metrics"
)

// nodeColumns maps each node table column to its metric descriptor. Uptime
// here is the age of the node object rather than a boot time.
var nodeColumns = struct {
	Created          metrics.Metric
	CPUUsagePct      metrics.Metric
	MemoryUsageBytes metrics.Metric
}{
	Created:          metrics.Metric{Field: metrics.FieldNodeCreated, Aggregation: metrics.AggregationMax},
	CPUUsagePct:      metrics.Metric{Field: metrics.FieldNodeCPUUsagePct, Aggregation: metrics.AggregationAvg},
	MemoryUsageBytes: metrics.Metric{Field: metrics.FieldNodeMemoryUsageBytes, Aggregation: metrics.AggregationAvg},
}

// NodeMetricsRow is one display row of the node table.
type NodeMetricsRow struct {
	ID                          string   `json:"id"`
	Name                        string   `json:"name"`
	UptimeMillis                *int64   `json:"uptime"`
	AverageCPUUsagePercent      *float64 `json:"averageCpuUsagePercent"`
	AverageMemoryUsageMegabytes *int64   `json:"averageMemoryUsageMegabytes"`
}

func (r NodeMetricsRow) rowID() string       { return r.ID }
func (r NodeMetricsRow) rowName() string     { return r.Name }
func (r NodeMetricsRow) uptimeValue() *int64 { return r.UptimeMillis }
func (r NodeMetricsRow) cpuValue() *float64  { return r.AverageCPUUsagePercent }
func (r NodeMetricsRow) memoryValue() *int64 { return r.AverageMemoryUsageMegabytes }

func reduceNodeSeries(s metrics.Series, now time.Time) NodeMetricsRow {
	name := seriesKey(s, 0)
	return NodeMetricsRow{
		ID:                          name,
		Name:                        name,
		UptimeMillis:                uptimeSince(collect(s.Rows, nodeColumns.Created.Field), now),
		AverageCPUUsagePercent:      averagePercent(collect(s.Rows, nodeColumns.CPUUsagePct.Field)),
		AverageMemoryUsageMegabytes: averageMegabytes(collect(s.Rows, nodeColumns.MemoryUsageBytes.Field)),
	}
}

// NodeViewSpec wires the node table: series grouped by node name.
func NodeViewSpec() ViewSpec[NodeMetricsRow] {
	return ViewSpec[NodeMetricsRow]{
		GroupBy: []metrics.GroupBy{metrics.GroupByNodeName},
		Columns: []metrics.Metric{nodeColumns.Created, nodeColumns.CPUUsagePct, nodeColumns.MemoryUsageBytes},
		Reduce:  reduceNodeSeries,
		Limit:   DefaultSeriesLimit,
	}
}
