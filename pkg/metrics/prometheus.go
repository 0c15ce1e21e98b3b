package metrics

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// PrometheusQuerier implements Querier against a Prometheus server using
// range queries, one per requested metric, merged into per-entity series.
type PrometheusQuerier struct {
	client   api.Client
	queryAPI v1.API
	log      logr.Logger
}

// NewPrometheusQuerier creates a querier for the given Prometheus URL. The
// round tripper is optional and allows injecting auth or TLS transport.
func NewPrometheusQuerier(prometheusURL string, roundTripper http.RoundTripper, log logr.Logger) (*PrometheusQuerier, error) {
	client, err := api.NewClient(api.Config{
		Address:      prometheusURL,
		RoundTripper: roundTripper,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &PrometheusQuerier{
		client:   client,
		queryAPI: v1.NewAPI(client),
		log:      log,
	}, nil
}

// Query runs one range query per requested metric and merges the resulting
// matrices into time-bucketed series keyed by the group-by label values.
func (p *PrometheusQuerier) Query(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	matchers := CombineMatchers(req.Source, req.Filter)
	accum := make(map[string]*seriesAccumulator)

	for _, m := range req.Metrics {
		query, err := buildRangeExpr(m, matchers, req.Timerange.Interval)
		if err != nil {
			return Result{}, err
		}

		value, warnings, err := p.queryAPI.QueryRange(ctx, query, v1.Range{
			Start: req.Timerange.From,
			End:   req.Timerange.To,
			Step:  req.Timerange.Interval,
		})
		if err != nil {
			return Result{}, fmt.Errorf("failed to query %s: %w", m.Field, err)
		}
		if len(warnings) > 0 {
			p.log.Info("prometheus returned warnings", "field", string(m.Field), "warnings", warnings)
		}

		if err := mergeMatrix(accum, value, m.Field, req.GroupBy); err != nil {
			return Result{}, fmt.Errorf("failed to read %s result: %w", m.Field, err)
		}
	}

	return assembleResult(accum, req.Limit), nil
}

// promExpr resolves a field to its PromQL template. Templates take the
// combined matcher list through the %[1]s slot and assume the standard
// kube-state-metrics and cAdvisor label sets. Start times are scaled to
// milliseconds at the source.
func promExpr(field Field) (string, error) {
	switch field {
	case FieldPodStartTime:
		return `sum by (uid, pod) (kube_pod_start_time{%[1]s}) * 1000`, nil
	case FieldPodCPUUsageLimitPct:
		return `sum by (uid, pod) (rate(container_cpu_usage_seconds_total{container!="",container!="POD",%[1]s}[5m]) * on (namespace, pod) group_left (uid) kube_pod_info{%[1]s}) / sum by (uid, pod) (kube_pod_container_resource_limits{resource="cpu",%[1]s})`, nil
	case FieldPodMemoryUsageBytes:
		return `sum by (uid, pod) (container_memory_working_set_bytes{container!="",container!="POD",%[1]s} * on (namespace, pod) group_left (uid) kube_pod_info{%[1]s})`, nil
	case FieldContainerStartTime:
		return `sum by (pod, container) (kube_pod_container_state_started{%[1]s}) * 1000`, nil
	case FieldContainerCPUUsageLimitPct:
		return `sum by (pod, container) (rate(container_cpu_usage_seconds_total{container!="",container!="POD",%[1]s}[5m])) / sum by (pod, container) (kube_pod_container_resource_limits{resource="cpu",%[1]s})`, nil
	case FieldContainerMemoryUsageBytes:
		return `sum by (pod, container) (container_memory_working_set_bytes{container!="",container!="POD",%[1]s})`, nil
	case FieldNodeCreated:
		return `sum by (node) (kube_node_created{%[1]s}) * 1000`, nil
	case FieldNodeCPUUsagePct:
		return `sum by (node) (rate(container_cpu_usage_seconds_total{id="/",%[1]s}[5m])) / sum by (node) (machine_cpu_cores{%[1]s})`, nil
	case FieldNodeMemoryUsageBytes:
		return `sum by (node) (container_memory_working_set_bytes{id="/",%[1]s})`, nil
	default:
		return "", fmt.Errorf("no query known for field %q", field)
	}
}

// buildRangeExpr renders the field template and wraps it in the bucket
// aggregation as a subquery so each step carries the aggregate of its
// interval rather than an instant sample.
func buildRangeExpr(m Metric, matchers string, interval time.Duration) (string, error) {
	expr, err := promExpr(m.Field)
	if err != nil {
		return "", err
	}
	inner := fmt.Sprintf(expr, matchers)

	switch m.Aggregation {
	case AggregationAvg:
		return fmt.Sprintf("avg_over_time((%s)[%s:])", inner, model.Duration(interval)), nil
	case AggregationMax:
		return fmt.Sprintf("max_over_time((%s)[%s:])", inner, model.Duration(interval)), nil
	default:
		return "", fmt.Errorf("unsupported aggregation %q for field %q", m.Aggregation, m.Field)
	}
}

type seriesAccumulator struct {
	keys []string
	rows map[int64]Row
}

// mergeMatrix folds one metric's matrix into the shared accumulators. NaN
// and infinite samples are dropped so absence stays absence downstream.
func mergeMatrix(accum map[string]*seriesAccumulator, value model.Value, field Field, groupBy []GroupBy) error {
	matrix, ok := value.(model.Matrix)
	if !ok {
		return fmt.Errorf("unexpected result type %q", value.Type())
	}

	for _, series := range matrix {
		keys := make([]string, len(groupBy))
		for i, g := range groupBy {
			keys[i] = string(series.Metric[model.LabelName(g)])
		}

		id := joinKeys(keys)
		acc, exists := accum[id]
		if !exists {
			acc = &seriesAccumulator{keys: keys, rows: make(map[int64]Row)}
			accum[id] = acc
		}

		for _, sample := range series.Values {
			v := float64(sample.Value)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			ts := sample.Timestamp.Time()
			row, exists := acc.rows[ts.UnixMilli()]
			if !exists {
				row = Row{Timestamp: ts, Values: make(map[Field]float64)}
			}
			row.Values[field] = v
			acc.rows[ts.UnixMilli()] = row
		}
	}
	return nil
}

// assembleResult orders the accumulated series by key and their rows by
// timestamp, truncating to the limit when one is set.
func assembleResult(accum map[string]*seriesAccumulator, limit int) Result {
	ids := make([]string, 0, len(accum))
	for id := range accum {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	result := Result{Series: make([]Series, 0, len(ids))}
	for _, id := range ids {
		acc := accum[id]
		rows := make([]Row, 0, len(acc.rows))
		for _, row := range acc.rows {
			rows = append(rows, row)
		}
		sort.Slice(rows, func(i, j int) bool {
			return rows[i].Timestamp.Before(rows[j].Timestamp)
		})
		result.Series = append(result.Series, Series{Keys: acc.keys, Rows: rows})
	}
	return result
}

// joinKeys builds a collision-safe map key from group-by values.
func joinKeys(keys []string) string {
	return strings.Join(keys, "\x00")
}
