package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"
)

// MetricsServerQuerier implements Querier against the in-cluster
// metrics-server API. It sees only current usage, so every entity comes
// back as a single-bucket series stamped at query time; with one bucket the
// requested aggregations collapse to the snapshot value.
type MetricsServerQuerier struct {
	kube    kubernetes.Interface
	metrics metricsclient.Interface
	log     logr.Logger
}

// NewMetricsServerQuerier creates a snapshot querier from the two cluster
// clientsets.
func NewMetricsServerQuerier(kube kubernetes.Interface, metrics metricsclient.Interface, log logr.Logger) *MetricsServerQuerier {
	return &MetricsServerQuerier{
		kube:    kube,
		metrics: metrics,
		log:     log,
	}
}

// Query lists the objects addressed by the request's group-by labels and
// produces one single-row series per entity. Only plain equality matchers
// (namespace, pod, container, node) scope the listing; anything else in the
// filter is ignored.
func (m *MetricsServerQuerier) Query(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	scope := ParseMatchers(CombineMatchers(req.Source, req.Filter))
	for label := range scope {
		switch label {
		case "namespace", "pod", "container", "node":
		default:
			m.log.V(1).Info("ignoring matcher unsupported by metrics-server", "label", label)
		}
	}

	now := time.Now()
	switch kindForGroupBy(req.GroupBy) {
	case snapshotNodes:
		return m.queryNodes(ctx, req, scope, now)
	case snapshotContainers:
		return m.queryContainers(ctx, req, scope, now)
	default:
		return m.queryPods(ctx, req, scope, now)
	}
}

type snapshotKind int

const (
	snapshotPods snapshotKind = iota
	snapshotContainers
	snapshotNodes
)

func kindForGroupBy(groupBy []GroupBy) snapshotKind {
	hasContainer, hasNode := false, false
	for _, g := range groupBy {
		switch g {
		case GroupByContainerName:
			hasContainer = true
		case GroupByNodeName:
			hasNode = true
		}
	}
	if hasContainer {
		return snapshotContainers
	}
	if hasNode {
		return snapshotNodes
	}
	return snapshotPods
}

func (m *MetricsServerQuerier) queryPods(ctx context.Context, req Request, scope map[string]string, now time.Time) (Result, error) {
	namespace := scope["namespace"]
	pods, err := m.kube.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("failed to list pods: %w", err)
	}
	podMetrics, err := m.metrics.MetricsV1beta1().PodMetricses(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("failed to list pod metrics: %w", err)
	}

	usage := make(map[string]metricsv1beta1.PodMetrics, len(podMetrics.Items))
	for _, item := range podMetrics.Items {
		usage[item.Namespace+"/"+item.Name] = item
	}

	series := make([]Series, 0, len(pods.Items))
	for i := range pods.Items {
		pod := &pods.Items[i]
		if name := scope["pod"]; name != "" && pod.Name != name {
			continue
		}

		podUsage, hasUsage := usage[pod.Namespace+"/"+pod.Name]
		values := make(map[Field]float64)
		for _, met := range req.Metrics {
			switch met.Field {
			case FieldPodStartTime:
				if pod.Status.StartTime != nil {
					values[met.Field] = float64(pod.Status.StartTime.Time.UnixMilli())
				}
			case FieldPodCPUUsageLimitPct:
				if !hasUsage {
					continue
				}
				limit := podCPULimitMillis(pod)
				if limit <= 0 {
					continue
				}
				values[met.Field] = float64(podCPUUsageMillis(podUsage)) / float64(limit)
			case FieldPodMemoryUsageBytes:
				if hasUsage {
					values[met.Field] = float64(podMemoryUsageBytes(podUsage))
				}
			}
		}

		keys := make([]string, len(req.GroupBy))
		for j, g := range req.GroupBy {
			switch g {
			case GroupByPodUID:
				keys[j] = string(pod.UID)
			case GroupByPodName:
				keys[j] = pod.Name
			}
		}
		series = append(series, Series{Keys: keys, Rows: []Row{{Timestamp: now, Values: values}}})
	}

	return finalizeSnapshot(series, req.Limit), nil
}

func (m *MetricsServerQuerier) queryContainers(ctx context.Context, req Request, scope map[string]string, now time.Time) (Result, error) {
	namespace := scope["namespace"]
	pods, err := m.kube.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("failed to list pods: %w", err)
	}
	podMetrics, err := m.metrics.MetricsV1beta1().PodMetricses(namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("failed to list pod metrics: %w", err)
	}

	usage := make(map[string]map[string]corev1.ResourceList)
	for _, item := range podMetrics.Items {
		containers := make(map[string]corev1.ResourceList, len(item.Containers))
		for _, c := range item.Containers {
			containers[c.Name] = c.Usage
		}
		usage[item.Namespace+"/"+item.Name] = containers
	}

	var series []Series
	for i := range pods.Items {
		pod := &pods.Items[i]
		if name := scope["pod"]; name != "" && pod.Name != name {
			continue
		}
		containerUsage := usage[pod.Namespace+"/"+pod.Name]

		for _, container := range pod.Spec.Containers {
			if name := scope["container"]; name != "" && container.Name != name {
				continue
			}

			values := make(map[Field]float64)
			for _, met := range req.Metrics {
				switch met.Field {
				case FieldContainerStartTime:
					if started := containerStartTime(pod, container.Name); started != nil {
						values[met.Field] = float64(started.UnixMilli())
					}
				case FieldContainerCPUUsageLimitPct:
					u, ok := containerUsage[container.Name]
					if !ok {
						continue
					}
					limit, hasLimit := container.Resources.Limits[corev1.ResourceCPU]
					if !hasLimit || limit.MilliValue() <= 0 {
						continue
					}
					values[met.Field] = float64(u.Cpu().MilliValue()) / float64(limit.MilliValue())
				case FieldContainerMemoryUsageBytes:
					if u, ok := containerUsage[container.Name]; ok {
						values[met.Field] = float64(u.Memory().Value())
					}
				}
			}

			keys := make([]string, len(req.GroupBy))
			for j, g := range req.GroupBy {
				switch g {
				case GroupByPodUID:
					keys[j] = string(pod.UID)
				case GroupByPodName:
					keys[j] = pod.Name
				case GroupByContainerName:
					keys[j] = container.Name
				}
			}
			series = append(series, Series{Keys: keys, Rows: []Row{{Timestamp: now, Values: values}}})
		}
	}

	return finalizeSnapshot(series, req.Limit), nil
}

func (m *MetricsServerQuerier) queryNodes(ctx context.Context, req Request, scope map[string]string, now time.Time) (Result, error) {
	nodes, err := m.kube.CoreV1().Nodes().List(ctx, metav1.ListOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("failed to list nodes: %w", err)
	}
	nodeMetrics, err := m.metrics.MetricsV1beta1().NodeMetricses().List(ctx, metav1.ListOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("failed to list node metrics: %w", err)
	}

	usage := make(map[string]metricsv1beta1.NodeMetrics, len(nodeMetrics.Items))
	for _, item := range nodeMetrics.Items {
		usage[item.Name] = item
	}

	series := make([]Series, 0, len(nodes.Items))
	for i := range nodes.Items {
		node := &nodes.Items[i]
		if name := scope["node"]; name != "" && node.Name != name {
			continue
		}

		nodeUsage, hasUsage := usage[node.Name]
		values := make(map[Field]float64)
		for _, met := range req.Metrics {
			switch met.Field {
			case FieldNodeCreated:
				values[met.Field] = float64(node.CreationTimestamp.Time.UnixMilli())
			case FieldNodeCPUUsagePct:
				if !hasUsage {
					continue
				}
				capacity := node.Status.Capacity.Cpu().MilliValue()
				if capacity <= 0 {
					continue
				}
				values[met.Field] = float64(nodeUsage.Usage.Cpu().MilliValue()) / float64(capacity)
			case FieldNodeMemoryUsageBytes:
				if hasUsage {
					values[met.Field] = float64(nodeUsage.Usage.Memory().Value())
				}
			}
		}

		keys := make([]string, len(req.GroupBy))
		for j, g := range req.GroupBy {
			if g == GroupByNodeName {
				keys[j] = node.Name
			}
		}
		series = append(series, Series{Keys: keys, Rows: []Row{{Timestamp: now, Values: values}}})
	}

	return finalizeSnapshot(series, req.Limit), nil
}

func podCPUUsageMillis(pm metricsv1beta1.PodMetrics) int64 {
	var total int64
	for _, c := range pm.Containers {
		total += c.Usage.Cpu().MilliValue()
	}
	return total
}

func podMemoryUsageBytes(pm metricsv1beta1.PodMetrics) int64 {
	var total int64
	for _, c := range pm.Containers {
		total += c.Usage.Memory().Value()
	}
	return total
}

func podCPULimitMillis(pod *corev1.Pod) int64 {
	var total int64
	for _, c := range pod.Spec.Containers {
		if limit, ok := c.Resources.Limits[corev1.ResourceCPU]; ok {
			total += limit.MilliValue()
		}
	}
	return total
}

func containerStartTime(pod *corev1.Pod, name string) *time.Time {
	for _, status := range pod.Status.ContainerStatuses {
		if status.Name != name {
			continue
		}
		if status.State.Running != nil {
			t := status.State.Running.StartedAt.Time
			return &t
		}
		if status.State.Terminated != nil {
			t := status.State.Terminated.StartedAt.Time
			return &t
		}
	}
	return nil
}

func finalizeSnapshot(series []Series, limit int) Result {
	sort.Slice(series, func(i, j int) bool {
		return joinKeys(series[i].Keys) < joinKeys(series[j].Keys)
	})
	if limit > 0 && len(series) > limit {
		series = series[:limit]
	}
	return Result{Series: series}
}
