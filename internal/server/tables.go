package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	apiv1 "github.com/wesleyemery/k8s-metrics-tables/api/v1"
	"github.com/wesleyemery/k8s-metrics-tables/pkg/metrics"
	"github.com/wesleyemery/k8s-metrics-tables/pkg/table"
)

// handleTable serves GET /api/v1/tables/{kind}. Parameter errors are the
// caller's fault (400); a failing metrics backend maps to 502.
func (s *Server) handleTable(w http.ResponseWriter, r *http.Request) {
	kind := mux.Vars(r)["kind"]
	if !apiv1.ValidKind(kind) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("unknown table kind %q", kind))
		return
	}

	params, err := s.tableParams(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch kind {
	case apiv1.KindPods:
		serveTable(s, w, r, kind, params, s.podSpec())
	case apiv1.KindContainers:
		serveTable(s, w, r, kind, params, s.containerSpec())
	case apiv1.KindNodes:
		serveTable(s, w, r, kind, params, s.nodeSpec())
	}
}

func serveTable[R table.DisplayRow](s *Server, w http.ResponseWriter, r *http.Request, kind string, params table.Params, spec table.ViewSpec[R]) {
	start := time.Now()
	page, err := table.FetchPage(r.Context(), s.querier, spec, params)
	s.telemetry.fetchDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		s.telemetry.tableFetches.WithLabelValues(kind, "error").Inc()
		s.log.Error(err, "table fetch failed", "kind", kind)
		respondError(w, http.StatusBadGateway, "metrics backend unavailable")
		return
	}
	s.telemetry.tableFetches.WithLabelValues(kind, "ok").Inc()
	respondJSON(w, http.StatusOK, tablePage(kind, page))
}

// tableParams builds fetch parameters from the query string, falling back
// to the configured defaults: the last default_window_sec ending now, the
// default sort, and page zero.
func (s *Server) tableParams(r *http.Request) (table.Params, error) {
	q := r.URL.Query()
	now := time.Now().UTC()

	tr := metrics.Timerange{
		From:     now.Add(-time.Duration(s.cfg.Tables.DefaultWindowSec) * time.Second),
		To:       now,
		Interval: time.Duration(s.cfg.Tables.DefaultIntervalSec) * time.Second,
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return table.Params{}, fmt.Errorf("invalid from timestamp %q", v)
		}
		tr.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return table.Params{}, fmt.Errorf("invalid to timestamp %q", v)
		}
		tr.To = t
	}
	if !tr.To.After(tr.From) {
		return table.Params{}, fmt.Errorf("to must be after from")
	}
	if v := q.Get("interval"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return table.Params{}, fmt.Errorf("invalid interval %q", v)
		}
		tr.Interval = d
	}

	sortState := table.DefaultSort()
	if v := q.Get("sortBy"); v != "" {
		field, err := table.ParseSortField(v)
		if err != nil {
			return table.Params{}, err
		}
		sortState.Field = field
	}
	if v := q.Get("sortDir"); v != "" {
		dir, err := table.ParseSortDirection(v)
		if err != nil {
			return table.Params{}, err
		}
		sortState.Direction = dir
	}

	pageIndex := 0
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return table.Params{}, fmt.Errorf("invalid page %q", v)
		}
		pageIndex = n
	}

	pageSize := s.cfg.Tables.DefaultPageSize
	if v := q.Get("pageSize"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return table.Params{}, fmt.Errorf("invalid pageSize %q", v)
		}
		if n > s.cfg.Tables.MaxPageSize {
			return table.Params{}, fmt.Errorf("pageSize %d exceeds the maximum of %d", n, s.cfg.Tables.MaxPageSize)
		}
		pageSize = n
	}

	filter := q.Get("filter")
	if err := metrics.ValidateFilter(filter); err != nil {
		return table.Params{}, fmt.Errorf("invalid filter: %v", err)
	}

	return table.Params{
		Timerange: tr,
		Filter:    filter,
		Sort:      sortState,
		PageIndex: pageIndex,
		PageSize:  pageSize,
	}, nil
}

func (s *Server) podSpec() table.ViewSpec[table.PodMetricsRow] {
	spec := table.PodViewSpec()
	spec.Limit = s.cfg.Tables.SeriesLimit
	return spec
}

func (s *Server) containerSpec() table.ViewSpec[table.ContainerMetricsRow] {
	spec := table.ContainerViewSpec()
	spec.Limit = s.cfg.Tables.SeriesLimit
	return spec
}

func (s *Server) nodeSpec() table.ViewSpec[table.NodeMetricsRow] {
	spec := table.NodeViewSpec()
	spec.Limit = s.cfg.Tables.SeriesLimit
	return spec
}

func tablePage[R table.DisplayRow](kind string, page table.Page[R]) apiv1.TablePage[R] {
	return apiv1.TablePage[R]{
		Kind:      kind,
		Rows:      page.Rows,
		TotalRows: page.TotalRows,
		PageIndex: page.PageIndex,
		PageCount: page.PageCount,
		Sort: apiv1.Sort{
			Field:     string(page.Sort.Field),
			Direction: string(page.Sort.Direction),
		},
		Timerange: apiv1.Timerange{
			From:     page.Timerange.From,
			To:       page.Timerange.To,
			Interval: metav1.Duration{Duration: page.Timerange.Interval},
		},
	}
}
