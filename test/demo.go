package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"

	apiv1 "github.com/wesleyemery/k8s-metrics-tables/api/v1"
	"github.com/wesleyemery/k8s-metrics-tables/internal/store"
	"github.com/wesleyemery/k8s-metrics-tables/pkg/metrics"
	"github.com/wesleyemery/k8s-metrics-tables/pkg/table"
)

func main() {
	fmt.Println("🚀 Testing Kubernetes Metrics Tables")
	fmt.Println("====================================")

	ctx := context.Background()

	// 1. Test with Mock Metrics
	fmt.Println("\n📊 Testing with Mock Metrics...")
	querier := metrics.NewMockQuerier()

	to := time.Now().UTC()
	params := table.Params{
		Timerange: metrics.Timerange{
			From:     to.Add(-time.Hour),
			To:       to,
			Interval: time.Minute,
		},
		Sort:     table.DefaultSort(),
		PageSize: 10,
	}

	page, err := table.FetchPage(ctx, querier, table.PodViewSpec(), params)
	if err != nil {
		panic(err)
	}

	fmt.Printf("✅ Fetched %d pod rows (%d pages)\n", page.TotalRows, page.PageCount)

	// 2. Display the Pod Table
	fmt.Println("\n📋 Pod Table (sorted by average CPU, descending):")
	fmt.Println("=================================================")

	for i, row := range page.Rows {
		fmt.Printf("\n🔍 Pod %d: %s\n", i+1, row.Name)
		fmt.Printf("   ⏱️  Uptime: %s\n", formatUptime(row.UptimeMillis))
		fmt.Printf("   💻 CPU: %s\n", formatPercent(row.AverageCPUUsagePercent))
		fmt.Printf("   🧠 Memory: %s\n", formatMegabytes(row.AverageMemoryUsageMegabytes))
	}

	// 3. Test the Live View
	fmt.Println("\n📡 Testing Live View...")
	view := table.NewView(ctx, querier, table.PodViewSpec(), params, logr.Discard())
	defer view.Close()

	view.SetSort(table.SortState{Field: table.SortByName, Direction: table.SortAscending})

	state := awaitReady(view)
	fmt.Printf("✅ Live view ready with %d rows, first by name: %s\n",
		state.TotalRows, state.Rows[0].Name)

	// 4. Test the Saved View Store
	fmt.Println("\n💾 Testing Saved View Store...")
	tmpDir, err := os.MkdirTemp("", "metrics-tables-demo-")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmpDir)

	st, err := store.Open(filepath.Join(tmpDir, "views.db"), logr.Discard())
	if err != nil {
		panic(err)
	}
	defer st.Close()

	saved := apiv1.SavedView{
		Name:          "busiest pods",
		Kind:          apiv1.KindPods,
		SortField:     "averageCpuUsagePercent",
		SortDirection: "desc",
		PageSize:      10,
	}
	if err := st.CreateView(ctx, &saved); err != nil {
		panic(err)
	}

	loaded, err := st.GetView(ctx, saved.ID)
	if err != nil {
		panic(err)
	}
	fmt.Printf("✅ Saved and reloaded view %q (id %s)\n", loaded.Name, loaded.ID)

	fmt.Println("\n🎉 All Checks Completed Successfully!")
	fmt.Println("====================================")
	fmt.Println("The table pipeline is working correctly!")
	fmt.Println("You can now point the server at a real metrics backend.")
}

func awaitReady(view *table.View[table.PodMetricsRow]) table.State[table.PodMetricsRow] {
	for {
		state := <-view.Updates()
		if state.Phase == table.PhaseReady {
			return state
		}
	}
}

func formatUptime(millis *int64) string {
	if millis == nil {
		return "n/a"
	}
	return (time.Duration(*millis) * time.Millisecond).Truncate(time.Second).String()
}

func formatPercent(pct *float64) string {
	if pct == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f%% of limit", *pct)
}

func formatMegabytes(mb *int64) string {
	if mb == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d MB", *mb)
}
