package table

import (
	"github.com/wesleyemery/k8s-metrics-tables/pkg/metrics"
)

// DefaultPageSize is used when params carry no page size.
const DefaultPageSize = 10

// Page is one sorted page of display rows plus the pagination state it was
// cut from.
type Page[R DisplayRow] struct {
	Rows      []R
	TotalRows int
	PageIndex int
	PageCount int
	Sort      SortState
	Timerange metrics.Timerange
}

// paginate slices one page out of the sorted rows. The page index is
// clamped into range and the returned slice is never nil.
func paginate[R DisplayRow](rows []R, pageIndex, pageSize int) (page []R, index, pageCount int) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	pageCount = (len(rows) + pageSize - 1) / pageSize
	if pageCount < 1 {
		pageCount = 1
	}

	if pageIndex < 0 {
		pageIndex = 0
	}
	if pageIndex > pageCount-1 {
		pageIndex = pageCount - 1
	}

	start := pageIndex * pageSize
	if start > len(rows) {
		start = len(rows)
	}
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}

	page = rows[start:end]
	if page == nil {
		page = []R{}
	}
	return page, pageIndex, pageCount
}
