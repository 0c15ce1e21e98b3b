// Package table turns metric series into sorted, paginated display rows
// and owns the fetch lifecycle for live table sessions.
package table

import (
	"fmt"
)

// SortField names a sortable display column. The values double as the wire
// representation used by the HTTP API.
type SortField string

const (
	SortByName                        SortField = "name"
	SortByUptime                      SortField = "uptime"
	SortByAverageCPUUsagePercent      SortField = "averageCpuUsagePercent"
	SortByAverageMemoryUsageMegabytes SortField = "averageMemoryUsageMegabytes"
)

// ParseSortField validates a wire value.
func ParseSortField(s string) (SortField, error) {
	switch SortField(s) {
	case SortByName, SortByUptime, SortByAverageCPUUsagePercent, SortByAverageMemoryUsageMegabytes:
		return SortField(s), nil
	default:
		return "", fmt.Errorf("unknown sort field %q", s)
	}
}

// SortDirection orders a sort ascending or descending.
type SortDirection string

const (
	SortAscending  SortDirection = "asc"
	SortDescending SortDirection = "desc"
)

// ParseSortDirection validates a wire value.
func ParseSortDirection(s string) (SortDirection, error) {
	switch SortDirection(s) {
	case SortAscending, SortDescending:
		return SortDirection(s), nil
	default:
		return "", fmt.Errorf("unknown sort direction %q", s)
	}
}

// SortState is the active sort of a table.
type SortState struct {
	Field     SortField
	Direction SortDirection
}

// DefaultSort is applied when a request does not name a sort.
func DefaultSort() SortState {
	return SortState{Field: SortByAverageCPUUsagePercent, Direction: SortDescending}
}
