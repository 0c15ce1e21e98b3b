package table

import (
	"time"

	"github.com/wesleyemery/k8s-metrics-tables/pkg/metrics"
)

// podColumns maps each pod table column to its metric descriptor.
var podColumns = struct {
	StartTime        metrics.Metric
	CPUUsageLimitPct metrics.Metric
	MemoryUsageBytes metrics.Metric
}{
	StartTime:        metrics.Metric{Field: metrics.FieldPodStartTime, Aggregation: metrics.AggregationMax},
	CPUUsageLimitPct: metrics.Metric{Field: metrics.FieldPodCPUUsageLimitPct, Aggregation: metrics.AggregationAvg},
	MemoryUsageBytes: metrics.Metric{Field: metrics.FieldPodMemoryUsageBytes, Aggregation: metrics.AggregationAvg},
}

// PodMetricsRow is one display row of the pod table. A metric is nil when
// the pod reported no values for it in the timerange; nil marshals to JSON
// null.
type PodMetricsRow struct {
	UID                         string   `json:"id"`
	Name                        string   `json:"name"`
	UptimeMillis                *int64   `json:"uptime"`
	AverageCPUUsagePercent      *float64 `json:"averageCpuUsagePercent"`
	AverageMemoryUsageMegabytes *int64   `json:"averageMemoryUsageMegabytes"`
}

func (r PodMetricsRow) rowID() string       { return r.UID }
func (r PodMetricsRow) rowName() string     { return r.Name }
func (r PodMetricsRow) uptimeValue() *int64 { return r.UptimeMillis }
func (r PodMetricsRow) cpuValue() *float64  { return r.AverageCPUUsagePercent }
func (r PodMetricsRow) memoryValue() *int64 { return r.AverageMemoryUsageMegabytes }

// reducePodSeries collapses one pod's buckets into a display row. A series
// with no rows still yields a row with every metric null; each metric goes
// null independently when its own values are missing.
func reducePodSeries(s metrics.Series, now time.Time) PodMetricsRow {
	return PodMetricsRow{
		UID:                         seriesKey(s, 0),
		Name:                        seriesKey(s, 1),
		UptimeMillis:                uptimeSince(collect(s.Rows, podColumns.StartTime.Field), now),
		AverageCPUUsagePercent:      averagePercent(collect(s.Rows, podColumns.CPUUsageLimitPct.Field)),
		AverageMemoryUsageMegabytes: averageMegabytes(collect(s.Rows, podColumns.MemoryUsageBytes.Field)),
	}
}

// PodViewSpec wires the pod table: series grouped by UID and name, reduced
// to uptime and usage averages.
func PodViewSpec() ViewSpec[PodMetricsRow] {
	return ViewSpec[PodMetricsRow]{
		GroupBy: []metrics.GroupBy{metrics.GroupByPodUID, metrics.GroupByPodName},
		Columns: []metrics.Metric{podColumns.StartTime, podColumns.CPUUsageLimitPct, podColumns.MemoryUsageBytes},
		Reduce:  reducePodSeries,
		Limit:   DefaultSeriesLimit,
	}
}
