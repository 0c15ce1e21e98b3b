package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiv1 "github.com/wesleyemery/k8s-metrics-tables/api/v1"
	"github.com/wesleyemery/k8s-metrics-tables/internal/config"
	"github.com/wesleyemery/k8s-metrics-tables/internal/store"
	"github.com/wesleyemery/k8s-metrics-tables/pkg/metrics"
	"github.com/wesleyemery/k8s-metrics-tables/pkg/table"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:               8080,
			AllowedOrigins:     []string{"*"},
			RequestTimeoutSec:  30,
			ShutdownTimeoutSec: 15,
		},
		Metrics: config.MetricsConfig{
			Source:        config.SourceMock,
			PrometheusURL: "http://localhost:9090",
			CacheTTLSec:   15,
			TimeoutSec:    30,
		},
		Tables: config.TablesConfig{
			DefaultPageSize:    10,
			MaxPageSize:        100,
			DefaultIntervalSec: 60,
			DefaultWindowSec:   3600,
			SeriesLimit:        2000,
		},
		Store:   config.StoreConfig{Path: "unused"},
		Logging: config.LoggingConfig{Level: "info", Format: "json"},
	}
}

func newTestServer(t *testing.T, querier metrics.Querier) *Server {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "views.db"), logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return New(testConfig(), querier, st, NewTelemetry(), logr.Discard())
}

func doRequest(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

// recordingQuerier returns a canned result and remembers the last request.
type recordingQuerier struct {
	mu     sync.Mutex
	last   metrics.Request
	calls  int
	result metrics.Result
	err    error
}

func (q *recordingQuerier) Query(_ context.Context, req metrics.Request) (metrics.Result, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	q.last = req
	if q.err != nil {
		return metrics.Result{}, q.err
	}
	return q.result, nil
}

func (q *recordingQuerier) lastRequest() metrics.Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.last
}

func podSeriesWithUsage(uid, name string, cpu, memBytes float64) metrics.Series {
	base := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	start := float64(base.Add(-2 * time.Hour).UnixMilli())
	rows := make([]metrics.Row, 0, 2)
	for i := 0; i < 2; i++ {
		rows = append(rows, metrics.Row{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Values: map[metrics.Field]float64{
				metrics.FieldPodStartTime:        start,
				metrics.FieldPodCPUUsageLimitPct: cpu,
				metrics.FieldPodMemoryUsageBytes: memBytes,
			},
		})
	}
	return metrics.Series{Keys: []string{uid, name}, Rows: rows}
}

func TestHandleTable_Pods(t *testing.T) {
	querier := &recordingQuerier{result: metrics.Result{Series: []metrics.Series{
		podSeriesWithUsage("uid-1", "api", 0.2, 64e6),
		podSeriesWithUsage("uid-2", "web", 0.6, 32e6),
	}}}
	s := newTestServer(t, querier)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/tables/pods", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	page := decodeBody[apiv1.TablePage[table.PodMetricsRow]](t, rec)
	assert.Equal(t, apiv1.KindPods, page.Kind)
	assert.Equal(t, 2, page.TotalRows)
	assert.Equal(t, 0, page.PageIndex)
	assert.Equal(t, 1, page.PageCount)
	assert.Equal(t, "averageCpuUsagePercent", page.Sort.Field)
	assert.Equal(t, "desc", page.Sort.Direction)

	// Default sort is CPU descending, so web (60%) leads api (20%).
	require.Len(t, page.Rows, 2)
	assert.Equal(t, "web", page.Rows[0].Name)
	assert.Equal(t, "api", page.Rows[1].Name)
	require.NotNil(t, page.Rows[0].AverageCPUUsagePercent)
	assert.InDelta(t, 60, *page.Rows[0].AverageCPUUsagePercent, 1e-9)

	req := querier.lastRequest()
	assert.Equal(t, []metrics.GroupBy{metrics.GroupByPodUID, metrics.GroupByPodName}, req.GroupBy)
	assert.Equal(t, 2000, req.Limit)
	assert.Equal(t, time.Minute, req.Timerange.Interval)
	assert.WithinDuration(t, time.Now(), req.Timerange.To, 5*time.Second)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), req.Timerange.From, 5*time.Second)
}

func TestHandleTable_QueryParams(t *testing.T) {
	querier := &recordingQuerier{result: metrics.Result{Series: []metrics.Series{
		podSeriesWithUsage("uid-1", "api", 0.2, 64e6),
	}}}
	s := newTestServer(t, querier)

	q := url.Values{}
	q.Set("from", "2025-03-10T12:00:00Z")
	q.Set("to", "2025-03-10T13:00:00Z")
	q.Set("interval", "5m")
	q.Set("sortBy", "name")
	q.Set("sortDir", "asc")
	q.Set("page", "0")
	q.Set("pageSize", "5")
	q.Set("filter", `namespace="prod"`)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/tables/pods?"+q.Encode(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	req := querier.lastRequest()
	assert.Equal(t, time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC), req.Timerange.From.UTC())
	assert.Equal(t, time.Date(2025, 3, 10, 13, 0, 0, 0, time.UTC), req.Timerange.To.UTC())
	assert.Equal(t, 5*time.Minute, req.Timerange.Interval)
	assert.Equal(t, `namespace="prod"`, req.Filter)

	page := decodeBody[apiv1.TablePage[table.PodMetricsRow]](t, rec)
	assert.Equal(t, "name", page.Sort.Field)
	assert.Equal(t, "asc", page.Sort.Direction)
	assert.Equal(t, "5m0s", page.Timerange.Interval.Duration.String())
}

func TestHandleTable_Containers(t *testing.T) {
	base := time.Now().UTC().Add(-10 * time.Minute)
	querier := &recordingQuerier{result: metrics.Result{Series: []metrics.Series{
		{
			Keys: []string{"api-1", "app"},
			Rows: []metrics.Row{{
				Timestamp: base,
				Values: map[metrics.Field]float64{
					metrics.FieldContainerCPUUsageLimitPct: 0.5,
				},
			}},
		},
	}}}
	s := newTestServer(t, querier)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/tables/containers", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	page := decodeBody[apiv1.TablePage[table.ContainerMetricsRow]](t, rec)
	assert.Equal(t, apiv1.KindContainers, page.Kind)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "api-1/app", page.Rows[0].ID)

	req := querier.lastRequest()
	assert.Equal(t, []metrics.GroupBy{metrics.GroupByPodName, metrics.GroupByContainerName}, req.GroupBy)
}

func TestHandleTable_Nodes(t *testing.T) {
	querier := &recordingQuerier{result: metrics.Result{Series: []metrics.Series{
		{
			Keys: []string{"node-a"},
			Rows: []metrics.Row{{
				Timestamp: time.Now().UTC(),
				Values: map[metrics.Field]float64{
					metrics.FieldNodeCPUUsagePct: 0.42,
				},
			}},
		},
	}}}
	s := newTestServer(t, querier)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/tables/nodes", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	page := decodeBody[apiv1.TablePage[table.NodeMetricsRow]](t, rec)
	assert.Equal(t, apiv1.KindNodes, page.Kind)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, "node-a", page.Rows[0].Name)
}

func TestHandleTable_UnknownKind(t *testing.T) {
	s := newTestServer(t, &recordingQuerier{})

	rec := doRequest(t, s, http.MethodGet, "/api/v1/tables/deployments", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	resp := decodeBody[apiv1.ErrorResponse](t, rec)
	assert.Contains(t, resp.Error, "deployments")
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestHandleTable_InvalidParams(t *testing.T) {
	tests := []struct {
		name  string
		query url.Values
	}{
		{"bad from", url.Values{"from": {"yesterday"}}},
		{"bad to", url.Values{"to": {"2025-13-99"}}},
		{"inverted range", url.Values{
			"from": {"2025-03-10T13:00:00Z"},
			"to":   {"2025-03-10T12:00:00Z"},
		}},
		{"bad interval", url.Values{"interval": {"five minutes"}}},
		{"negative interval", url.Values{"interval": {"-1m"}}},
		{"bad sort field", url.Values{"sortBy": {"restarts"}}},
		{"bad sort direction", url.Values{"sortDir": {"sideways"}}},
		{"bad page", url.Values{"page": {"-1"}}},
		{"bad page size", url.Values{"pageSize": {"0"}}},
		{"oversized page size", url.Values{"pageSize": {"101"}}},
		{"bad filter", url.Values{"filter": {`namespace="prod`}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			querier := &recordingQuerier{}
			s := newTestServer(t, querier)

			rec := doRequest(t, s, http.MethodGet, "/api/v1/tables/pods?"+tt.query.Encode(), nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, 0, querier.calls)
		})
	}
}

func TestHandleTable_BackendError(t *testing.T) {
	querier := &recordingQuerier{err: errors.New("connection refused")}
	s := newTestServer(t, querier)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/tables/pods", nil)
	require.Equal(t, http.StatusBadGateway, rec.Code)

	resp := decodeBody[apiv1.ErrorResponse](t, rec)
	assert.Equal(t, "metrics backend unavailable", resp.Error)
}

func TestHandleTable_MockQuerierEndToEnd(t *testing.T) {
	s := newTestServer(t, metrics.NewMockQuerier())

	rec := doRequest(t, s, http.MethodGet, "/api/v1/tables/pods?pageSize=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	page := decodeBody[apiv1.TablePage[table.PodMetricsRow]](t, rec)
	assert.Equal(t, 12, page.TotalRows)
	assert.Equal(t, 3, page.PageCount)
	assert.Len(t, page.Rows, 5)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &recordingQuerier{})

	rec := doRequest(t, s, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestReadyz(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "views.db"), logr.Discard())
	require.NoError(t, err)
	s := New(testConfig(), &recordingQuerier{}, st, NewTelemetry(), logr.Discard())

	rec := doRequest(t, s, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, st.Close())
	rec = doRequest(t, s, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, &recordingQuerier{})

	doRequest(t, s, http.MethodGet, "/api/v1/tables/pods", nil)
	rec := doRequest(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "metricstables_http_requests_total")
	assert.Contains(t, body, "metricstables_table_fetches_total")
	assert.Contains(t, body, "metricstables_table_fetch_duration_seconds")
}
