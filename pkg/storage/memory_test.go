package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvestly/warden/pkg/model"
	"github.com/harvestly/warden/pkg/storage"
)

func TestMemory_MetricsLifecycle(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.InsertMetrics(ctx, []model.Metric{
		{Name: "cpu", Value: 1, Kind: model.KindGauge, Timestamp: now.Add(-time.Hour)},
		{Name: "cpu", Value: 2, Kind: model.KindGauge, Timestamp: now},
	}))

	got, err := store.QueryMetrics(ctx, model.MetricFilter{Names: []string{"cpu"}})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 2.0, got[0].Value, 0.001)

	removed, err := store.DeleteMetricsBefore(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestMemory_UpdateUnknownAlert(t *testing.T) {
	store := storage.NewMemory()
	err := store.UpdateAlert(context.Background(), &model.Alert{ID: "missing"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMemory_FailInserts(t *testing.T) {
	store := storage.NewMemory()
	store.FailInserts = true
	err := store.InsertMetrics(context.Background(), []model.Metric{{Name: "cpu"}})
	assert.Error(t, err)
}
