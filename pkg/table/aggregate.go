package table

import (
	"math"
	"time"

	"github.com/wesleyemery/k8s-metrics-tables/pkg/metrics"
)

// collect gathers the values a series reported for one field, in row
// order. Buckets without the field contribute nothing.
func collect(rows []metrics.Row, field metrics.Field) []float64 {
	var values []float64
	for _, row := range rows {
		if v, ok := row.Values[field]; ok {
			values = append(values, v)
		}
	}
	return values
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// uptimeSince converts the last reported start-time value (milliseconds
// since epoch) into an age relative to now. Rows are time-ordered, so the
// last value is the most recent report.
func uptimeSince(values []float64, now time.Time) *int64 {
	if len(values) == 0 {
		return nil
	}
	uptime := now.UnixMilli() - int64(values[len(values)-1])
	return &uptime
}

// averagePercent scales a mean ratio to a percentage.
func averagePercent(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	pct := mean(values) * 100
	return &pct
}

// averageMegabytes reduces byte values to whole megabytes.
func averageMegabytes(values []float64) *int64 {
	if len(values) == 0 {
		return nil
	}
	mb := int64(math.Floor(mean(values) / 1000000))
	return &mb
}

// seriesKey returns the key at position i, treating a short key tuple as
// empty values rather than failing.
func seriesKey(s metrics.Series, i int) string {
	if i >= len(s.Keys) {
		return ""
	}
	return s.Keys[i]
}
