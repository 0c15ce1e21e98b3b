package table

import (
	"time"

	"github.com/wesleyemery/k8s-metrics-tables/pkg/metrics"
)

// containerColumns maps each container table column to its metric
// descriptor.
var containerColumns = struct {
	StartTime        metrics.Metric
	CPUUsageLimitPct metrics.Metric
	MemoryUsageBytes metrics.Metric
}{
	StartTime:        metrics.Metric{Field: metrics.FieldContainerStartTime, Aggregation: metrics.AggregationMax},
	CPUUsageLimitPct: metrics.Metric{Field: metrics.FieldContainerCPUUsageLimitPct, Aggregation: metrics.AggregationAvg},
	MemoryUsageBytes: metrics.Metric{Field: metrics.FieldContainerMemoryUsageBytes, Aggregation: metrics.AggregationAvg},
}

// ContainerMetricsRow is one display row of the container table. The id is
// pod-qualified because container names repeat across pods.
type ContainerMetricsRow struct {
	ID                          string   `json:"id"`
	Name                        string   `json:"name"`
	UptimeMillis                *int64   `json:"uptime"`
	AverageCPUUsagePercent      *float64 `json:"averageCpuUsagePercent"`
	AverageMemoryUsageMegabytes *int64   `json:"averageMemoryUsageMegabytes"`
}

func (r ContainerMetricsRow) rowID() string       { return r.ID }
func (r ContainerMetricsRow) rowName() string     { return r.Name }
func (r ContainerMetricsRow) uptimeValue() *int64 { return r.UptimeMillis }
func (r ContainerMetricsRow) cpuValue() *float64  { return r.AverageCPUUsagePercent }
func (r ContainerMetricsRow) memoryValue() *int64 { return r.AverageMemoryUsageMegabytes }

func reduceContainerSeries(s metrics.Series, now time.Time) ContainerMetricsRow {
	pod := seriesKey(s, 0)
	name := seriesKey(s, 1)
	id := name
	if pod != "" {
		id = pod + "/" + name
	}
	return ContainerMetricsRow{
		ID:                          id,
		Name:                        name,
		UptimeMillis:                uptimeSince(collect(s.Rows, containerColumns.StartTime.Field), now),
		AverageCPUUsagePercent:      averagePercent(collect(s.Rows, containerColumns.CPUUsageLimitPct.Field)),
		AverageMemoryUsageMegabytes: averageMegabytes(collect(s.Rows, containerColumns.MemoryUsageBytes.Field)),
	}
}

// ContainerViewSpec wires the container table: series grouped by pod and
// container name.
func ContainerViewSpec() ViewSpec[ContainerMetricsRow] {
	return ViewSpec[ContainerMetricsRow]{
		GroupBy: []metrics.GroupBy{metrics.GroupByPodName, metrics.GroupByContainerName},
		Columns: []metrics.Metric{containerColumns.StartTime, containerColumns.CPUUsageLimitPct, containerColumns.MemoryUsageBytes},
		Reduce:  reduceContainerSeries,
		Limit:   DefaultSeriesLimit,
	}
}
