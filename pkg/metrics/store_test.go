package metrics_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvestly/warden/pkg/metrics"
	"github.com/harvestly/warden/pkg/model"
	"github.com/harvestly/warden/pkg/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(cfg metrics.Config) (*metrics.Store, *storage.Memory) {
	backend := storage.NewMemory()
	return metrics.NewStore(cfg, backend, testLogger()), backend
}

func TestStore_CollectBuffers(t *testing.T) {
	s, backend := newTestStore(metrics.Config{})

	s.Collect("cpu", 0.5, model.KindGauge, map[string]string{"host": "a"})
	s.Collect("cpu", 0.6, model.KindGauge, map[string]string{"host": "a"})
	assert.Equal(t, 2, s.BufferLen())

	// Buffered samples are invisible until flushed.
	got, err := backend.QueryMetrics(context.Background(), model.MetricFilter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_FlushWritesAndStamps(t *testing.T) {
	s, _ := newTestStore(metrics.Config{})

	s.CollectBatch([]model.Metric{
		{Name: "cpu", Value: 0.5, Kind: model.KindGauge},
		{Name: "requests", Value: 1, Kind: model.KindCounter},
	})
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 0, s.BufferLen())

	got, err := s.Query(context.Background(), model.MetricFilter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, m := range got {
		assert.NotEmpty(t, m.ID)
		assert.False(t, m.Timestamp.IsZero())
	}
}

func TestStore_FlushEmptyBufferIsNoop(t *testing.T) {
	s, _ := newTestStore(metrics.Config{})
	assert.NoError(t, s.Flush(context.Background()))
}

func TestStore_FailedFlushRequeues(t *testing.T) {
	s, backend := newTestStore(metrics.Config{})

	s.Collect("cpu", 0.5, model.KindGauge, nil)
	backend.FailInserts = true
	require.Error(t, s.Flush(context.Background()))
	assert.Equal(t, 1, s.BufferLen())

	// Samples collected while the backend is down queue behind the
	// requeued batch and survive to the next successful flush.
	s.Collect("cpu", 0.6, model.KindGauge, nil)
	backend.FailInserts = false
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 0, s.BufferLen())

	got, err := s.Query(context.Background(), model.MetricFilter{Names: []string{"cpu"}})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestStore_CollectBatchKeepsGivenTimestamps(t *testing.T) {
	s, _ := newTestStore(metrics.Config{})
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.CollectBatch([]model.Metric{{Name: "cpu", Value: 1, Kind: model.KindGauge, Timestamp: ts}})
	require.NoError(t, s.Flush(context.Background()))

	got, err := s.Query(context.Background(), model.MetricFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Timestamp.Equal(ts))
}

func TestStore_RunFlushesOnShutdown(t *testing.T) {
	s, _ := newTestStore(metrics.Config{FlushInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	s.Collect("cpu", 0.5, model.KindGauge, nil)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}

	assert.Equal(t, 0, s.BufferLen())
	got, err := s.Query(context.Background(), model.MetricFilter{})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_RunFlushesWhenBatchFills(t *testing.T) {
	s, _ := newTestStore(metrics.Config{FlushInterval: time.Hour, BatchSize: 10})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	for i := 0; i < 10; i++ {
		s.Collect("requests", 1, model.KindCounter, nil)
	}

	assert.Eventually(t, func() bool {
		got, err := s.Query(context.Background(), model.MetricFilter{})
		return err == nil && len(got) == 10
	}, 5*time.Second, 10*time.Millisecond)
}

func TestStore_Cleanup(t *testing.T) {
	s, _ := newTestStore(metrics.Config{RetentionDays: 30})
	now := time.Now().UTC()

	s.CollectBatch([]model.Metric{
		{Name: "old", Value: 1, Kind: model.KindGauge, Timestamp: now.AddDate(0, 0, -40)},
		{Name: "fresh", Value: 1, Kind: model.KindGauge, Timestamp: now},
	})
	require.NoError(t, s.Flush(context.Background()))

	removed, err := s.Cleanup(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	got, err := s.Query(context.Background(), model.MetricFilter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].Name)
}
