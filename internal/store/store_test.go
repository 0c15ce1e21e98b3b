package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiv1 "github.com/wesleyemery/k8s-metrics-tables/api/v1"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "views.db"), logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func podView(name string) *apiv1.SavedView {
	return &apiv1.SavedView{
		Name:          name,
		Kind:          apiv1.KindPods,
		Filter:        `namespace="prod"`,
		SortField:     "uptime",
		SortDirection: "desc",
		PageSize:      25,
		LastDuration:  "1h",
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	view := podView("prod pods")
	require.NoError(t, s.CreateView(ctx, view))
	assert.NotEmpty(t, view.ID)
	assert.False(t, view.CreatedAt.IsZero())

	got, err := s.GetView(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, view.ID, got.ID)
	assert.Equal(t, "prod pods", got.Name)
	assert.Equal(t, apiv1.KindPods, got.Kind)
	assert.Equal(t, `namespace="prod"`, got.Filter)
	assert.Equal(t, "uptime", got.SortField)
	assert.Equal(t, "desc", got.SortDirection)
	assert.Equal(t, 25, got.PageSize)
	assert.Equal(t, "1h", got.LastDuration)
	assert.WithinDuration(t, time.Now(), got.CreatedAt, time.Minute)
}

func TestStore_GetMissing(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetView(context.Background(), "does-not-exist")

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListViews(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateView(ctx, podView("zeta")))
	require.NoError(t, s.CreateView(ctx, podView("alpha")))
	nodeView := podView("nodes overview")
	nodeView.Kind = apiv1.KindNodes
	require.NoError(t, s.CreateView(ctx, nodeView))

	all, err := s.ListViews(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "alpha", all[0].Name, "ordered by name")

	pods, err := s.ListViews(ctx, apiv1.KindPods)
	require.NoError(t, err)
	require.Len(t, pods, 2)
	assert.Equal(t, "alpha", pods[0].Name)
	assert.Equal(t, "zeta", pods[1].Name)
}

func TestStore_ListViewsEmpty(t *testing.T) {
	s := openTestStore(t)

	views, err := s.ListViews(context.Background(), "")

	require.NoError(t, err)
	assert.NotNil(t, views)
	assert.Empty(t, views)
}

func TestStore_UpdateView(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	view := podView("before")
	require.NoError(t, s.CreateView(ctx, view))

	view.Name = "after"
	view.Filter = `namespace="staging"`
	view.PageSize = 50
	view.LastDuration = "30m"
	require.NoError(t, s.UpdateView(ctx, view))

	got, err := s.GetView(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)
	assert.Equal(t, `namespace="staging"`, got.Filter)
	assert.Equal(t, 50, got.PageSize)
	assert.Equal(t, "30m", got.LastDuration)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestStore_UpdateMissing(t *testing.T) {
	s := openTestStore(t)

	view := podView("ghost")
	view.ID = "does-not-exist"
	err := s.UpdateView(context.Background(), view)

	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_DeleteView(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	view := podView("doomed")
	require.NoError(t, s.CreateView(ctx, view))
	require.NoError(t, s.DeleteView(ctx, view.ID))

	_, err := s.GetView(ctx, view.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteView(ctx, view.ID), ErrNotFound)
}

func TestStore_Ping(t *testing.T) {
	s := openTestStore(t)

	assert.NoError(t, s.Ping(context.Background()))
}
