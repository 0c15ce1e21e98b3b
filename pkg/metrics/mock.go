package metrics

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const (
	defaultBaseCPU     = 0.2      // 20% of limit
	defaultBaseMemory  = 67108864 // 64Mi bytes
	defaultVariance    = 0.3      // 30% variance
	defaultEntityCount = 12
	varianceOffset     = 0.5
	varianceMultiplier = 2
)

// MockQuerier provides fake series for testing and local development.
// The last entity returns an empty series and every fifth entity omits CPU
// values, so null handling stays exercised downstream. The generator is
// reseeded on every call, so repeated queries with the same shape return
// the same names and values and pagination stays stable across requests.
type MockQuerier struct {
	// Configuration for generating fake data
	BaseCPU    float64
	BaseMemory float64
	Variance   float64
	Entities   int
	Seed       int64
}

// NewMockQuerier creates a mock querier with a fixed seed.
func NewMockQuerier() *MockQuerier {
	return &MockQuerier{
		BaseCPU:    defaultBaseCPU,
		BaseMemory: defaultBaseMemory,
		Variance:   defaultVariance,
		Entities:   defaultEntityCount,
		Seed:       1,
	}
}

// Query generates one series per entity with a bucket per interval across
// the requested timerange.
func (m *MockQuerier) Query(_ context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}

	rnd := rand.New(rand.NewSource(m.Seed))

	count := m.Entities
	if req.Limit > 0 && count > req.Limit {
		count = req.Limit
	}

	result := Result{Series: make([]Series, 0, count)}
	for i := 0; i < count; i++ {
		suffix := generateRandomSuffix(rnd)
		name := fmt.Sprintf("web-%s-%02d", suffix, i)
		keys := make([]string, len(req.GroupBy))
		for j, g := range req.GroupBy {
			switch g {
			case GroupByPodUID:
				keys[j] = fmt.Sprintf("mock-uid-%04d", i)
			case GroupByPodName:
				keys[j] = name
			case GroupByContainerName:
				keys[j] = "app"
			case GroupByNodeName:
				keys[j] = fmt.Sprintf("node-%02d", i)
			}
		}

		if i == count-1 {
			result.Series = append(result.Series, Series{Keys: keys, Rows: []Row{}})
			continue
		}

		start := req.Timerange.From.Add(-time.Duration(i+1) * time.Hour)
		var rows []Row
		for ts := req.Timerange.From; !ts.After(req.Timerange.To); ts = ts.Add(req.Timerange.Interval) {
			values := make(map[Field]float64)
			for _, met := range req.Metrics {
				switch met.Field {
				case FieldPodStartTime, FieldContainerStartTime, FieldNodeCreated:
					values[met.Field] = float64(start.UnixMilli())
				case FieldPodCPUUsageLimitPct, FieldContainerCPUUsageLimitPct, FieldNodeCPUUsagePct:
					if i%5 == 4 {
						continue
					}
					cpuVariance := (rnd.Float64() - varianceOffset) * varianceMultiplier * m.Variance
					value := m.BaseCPU * (1 + cpuVariance)
					if value < 0 {
						value = 0.001
					}
					values[met.Field] = value
				case FieldPodMemoryUsageBytes, FieldContainerMemoryUsageBytes, FieldNodeMemoryUsageBytes:
					memVariance := (rnd.Float64() - varianceOffset) * varianceMultiplier * m.Variance
					value := m.BaseMemory * (1 + memVariance)
					if value < 0 {
						value = 1024
					}
					values[met.Field] = value
				}
			}
			rows = append(rows, Row{Timestamp: ts, Values: values})
		}
		result.Series = append(result.Series, Series{Keys: keys, Rows: rows})
	}

	return finalizeSnapshot(result.Series, 0), nil
}

// generateRandomSuffix generates a random suffix like Kubernetes does
func generateRandomSuffix(rnd *rand.Rand) string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, 5)
	for i := range b {
		b[i] = charset[rnd.Intn(len(charset))]
	}
	return string(b)
}
