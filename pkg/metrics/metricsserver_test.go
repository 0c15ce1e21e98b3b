package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	k8sfake "k8s.io/client-go/kubernetes/fake"
	metricsv1beta1 "k8s.io/metrics/pkg/apis/metrics/v1beta1"
	metricsfake "k8s.io/metrics/pkg/client/clientset/versioned/fake"
)

// newUsageClientset seeds a metrics fake through its tracker. The typed
// client serves PodMetrics and NodeMetrics under the "pods" and "nodes"
// resources, but NewSimpleClientset registers seeded objects under guessed
// resource names ("podmetricses", "nodemetricses"), so objects passed to
// the constructor are never returned by List.
func newUsageClientset(t *testing.T, objects ...runtime.Object) *metricsfake.Clientset {
	t.Helper()
	cs := metricsfake.NewSimpleClientset()
	for _, obj := range objects {
		switch o := obj.(type) {
		case *metricsv1beta1.PodMetrics:
			require.NoError(t, cs.Tracker().Create(metricsv1beta1.SchemeGroupVersion.WithResource("pods"), o, o.Namespace))
		case *metricsv1beta1.NodeMetrics:
			require.NoError(t, cs.Tracker().Create(metricsv1beta1.SchemeGroupVersion.WithResource("nodes"), o, ""))
		default:
			t.Fatalf("unsupported usage object %T", obj)
		}
	}
	return cs
}

func testPod(namespace, name, uid string, started time.Time, cpuLimit string) *corev1.Pod {
	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace, UID: types.UID(uid)},
		Spec: corev1.PodSpec{
			Containers: []corev1.Container{{Name: "app"}},
		},
		Status: corev1.PodStatus{
			StartTime: &metav1.Time{Time: started},
			ContainerStatuses: []corev1.ContainerStatus{{
				Name:  "app",
				State: corev1.ContainerState{Running: &corev1.ContainerStateRunning{StartedAt: metav1.Time{Time: started}}},
			}},
		},
	}
	if cpuLimit != "" {
		pod.Spec.Containers[0].Resources = corev1.ResourceRequirements{
			Limits: corev1.ResourceList{corev1.ResourceCPU: resource.MustParse(cpuLimit)},
		}
	}
	return pod
}

func testPodUsage(namespace, name, cpu, memory string) *metricsv1beta1.PodMetrics {
	return &metricsv1beta1.PodMetrics{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: namespace},
		Containers: []metricsv1beta1.ContainerMetrics{{
			Name: "app",
			Usage: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse(cpu),
				corev1.ResourceMemory: resource.MustParse(memory),
			},
		}},
	}
}

func TestMetricsServerQuerier_QueryPods(t *testing.T) {
	started := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	kube := k8sfake.NewSimpleClientset(
		testPod("prod", "api-1", "uid-1", started, "500m"),
		testPod("prod", "api-2", "uid-2", started, ""),
		testPod("staging", "api-3", "uid-3", started, "500m"),
	)
	usage := newUsageClientset(t,
		testPodUsage("prod", "api-1", "250m", "128Mi"),
	)
	querier := NewMetricsServerQuerier(kube, usage, logr.Discard())

	req := podRequest()
	req.Filter = `namespace="prod"`
	result, err := querier.Query(context.Background(), req)

	require.NoError(t, err)
	require.Len(t, result.Series, 2, "staging pod is out of scope")

	byName := make(map[string]Series)
	for _, s := range result.Series {
		require.Len(t, s.Keys, 2)
		require.Len(t, s.Rows, 1)
		byName[s.Keys[1]] = s
	}

	api1, ok := byName["api-1"]
	require.True(t, ok)
	assert.Equal(t, "uid-1", api1.Keys[0])
	values := api1.Rows[0].Values
	assert.Equal(t, float64(started.UnixMilli()), values[FieldPodStartTime])
	assert.InDelta(t, 0.5, values[FieldPodCPUUsageLimitPct], 1e-9) // 250m of 500m
	assert.Equal(t, float64(128*1024*1024), values[FieldPodMemoryUsageBytes])

	// api-2 has no limit and no usage sample: only start time is present.
	api2, ok := byName["api-2"]
	require.True(t, ok)
	values = api2.Rows[0].Values
	assert.Contains(t, values, FieldPodStartTime)
	assert.NotContains(t, values, FieldPodCPUUsageLimitPct)
	assert.NotContains(t, values, FieldPodMemoryUsageBytes)
}

func TestMetricsServerQuerier_QueryPodByName(t *testing.T) {
	started := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	kube := k8sfake.NewSimpleClientset(
		testPod("prod", "api-1", "uid-1", started, "500m"),
		testPod("prod", "api-2", "uid-2", started, "500m"),
	)
	usage := metricsfake.NewSimpleClientset()
	querier := NewMetricsServerQuerier(kube, usage, logr.Discard())

	req := podRequest()
	req.Filter = `namespace="prod",pod="api-2"`
	result, err := querier.Query(context.Background(), req)

	require.NoError(t, err)
	require.Len(t, result.Series, 1)
	assert.Equal(t, []string{"uid-2", "api-2"}, result.Series[0].Keys)
}

func TestMetricsServerQuerier_QueryContainers(t *testing.T) {
	started := time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)
	kube := k8sfake.NewSimpleClientset(testPod("prod", "api-1", "uid-1", started, "500m"))
	usage := newUsageClientset(t, testPodUsage("prod", "api-1", "100m", "64Mi"))
	querier := NewMetricsServerQuerier(kube, usage, logr.Discard())

	req := Request{
		GroupBy: []GroupBy{GroupByPodName, GroupByContainerName},
		Metrics: []Metric{
			{Field: FieldContainerStartTime, Aggregation: AggregationMax},
			{Field: FieldContainerCPUUsageLimitPct, Aggregation: AggregationAvg},
			{Field: FieldContainerMemoryUsageBytes, Aggregation: AggregationAvg},
		},
		Timerange: testTimerange(),
	}
	result, err := querier.Query(context.Background(), req)

	require.NoError(t, err)
	require.Len(t, result.Series, 1)
	series := result.Series[0]
	assert.Equal(t, []string{"api-1", "app"}, series.Keys)
	require.Len(t, series.Rows, 1)
	values := series.Rows[0].Values
	assert.Equal(t, float64(started.UnixMilli()), values[FieldContainerStartTime])
	assert.InDelta(t, 0.2, values[FieldContainerCPUUsageLimitPct], 1e-9) // 100m of 500m
	assert.Equal(t, float64(64*1024*1024), values[FieldContainerMemoryUsageBytes])
}

func TestMetricsServerQuerier_QueryNodes(t *testing.T) {
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	node := &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: "worker-1", CreationTimestamp: metav1.Time{Time: created}},
		Status: corev1.NodeStatus{
			Capacity: corev1.ResourceList{corev1.ResourceCPU: resource.MustParse("2")},
		},
	}
	nodeUsage := &metricsv1beta1.NodeMetrics{
		ObjectMeta: metav1.ObjectMeta{Name: "worker-1"},
		Usage: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse("500m"),
			corev1.ResourceMemory: resource.MustParse("1Gi"),
		},
	}
	querier := NewMetricsServerQuerier(k8sfake.NewSimpleClientset(node), newUsageClientset(t, nodeUsage), logr.Discard())

	req := Request{
		GroupBy: []GroupBy{GroupByNodeName},
		Metrics: []Metric{
			{Field: FieldNodeCreated, Aggregation: AggregationMax},
			{Field: FieldNodeCPUUsagePct, Aggregation: AggregationAvg},
			{Field: FieldNodeMemoryUsageBytes, Aggregation: AggregationAvg},
		},
		Timerange: testTimerange(),
	}
	result, err := querier.Query(context.Background(), req)

	require.NoError(t, err)
	require.Len(t, result.Series, 1)
	series := result.Series[0]
	assert.Equal(t, []string{"worker-1"}, series.Keys)
	values := series.Rows[0].Values
	assert.Equal(t, float64(created.UnixMilli()), values[FieldNodeCreated])
	assert.InDelta(t, 0.25, values[FieldNodeCPUUsagePct], 1e-9) // 500m of 2 cores
	assert.Equal(t, float64(1024*1024*1024), values[FieldNodeMemoryUsageBytes])
}
