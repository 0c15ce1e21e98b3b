package table

import (
	"sort"
	"strings"
)

// DisplayRow is the shape shared by every table row type; the sort,
// pagination, and view machinery work against it. Its methods are
// unexported, so only row types in this package satisfy it.
type DisplayRow interface {
	rowID() string
	rowName() string
	uptimeValue() *int64
	cpuValue() *float64
	memoryValue() *int64
}

// sortRows orders rows by the sort state. Rows whose sorted metric is null
// come after every valued row in both directions; ties fall back to name
// and then id so the order is total.
func sortRows[R DisplayRow](rows []R, state SortState) {
	sort.SliceStable(rows, func(i, j int) bool {
		return lessRows(rows[i], rows[j], state)
	})
}

func lessRows[R DisplayRow](a, b R, state SortState) bool {
	cmp, aNull, bNull := compareField(a, b, state.Field)
	if aNull != bNull {
		return !aNull
	}
	if state.Direction == SortDescending {
		cmp = -cmp
	}
	if cmp != 0 {
		return cmp < 0
	}
	if nameCmp := strings.Compare(a.rowName(), b.rowName()); nameCmp != 0 {
		return nameCmp < 0
	}
	return a.rowID() < b.rowID()
}

func compareField[R DisplayRow](a, b R, field SortField) (cmp int, aNull, bNull bool) {
	switch field {
	case SortByUptime:
		return compareNullableInt64(a.uptimeValue(), b.uptimeValue())
	case SortByAverageCPUUsagePercent:
		return compareNullableFloat64(a.cpuValue(), b.cpuValue())
	case SortByAverageMemoryUsageMegabytes:
		return compareNullableInt64(a.memoryValue(), b.memoryValue())
	default:
		return strings.Compare(a.rowName(), b.rowName()), false, false
	}
}

func compareNullableInt64(a, b *int64) (int, bool, bool) {
	if a == nil || b == nil {
		return 0, a == nil, b == nil
	}
	switch {
	case *a < *b:
		return -1, false, false
	case *a > *b:
		return 1, false, false
	default:
		return 0, false, false
	}
}

func compareNullableFloat64(a, b *float64) (int, bool, bool) {
	if a == nil || b == nil {
		return 0, a == nil, b == nil
	}
	switch {
	case *a < *b:
		return -1, false, false
	case *a > *b:
		return 1, false, false
	default:
		return 0, false, false
	}
}
