package governor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvestly/warden/pkg/model"
)

func newTestTracker(start time.Time) (*Tracker, *time.Time) {
	now := start
	tr := NewTracker()
	tr.now = func() time.Time { return now }
	return tr, &now
}

func TestTracker_RecordAccumulates(t *testing.T) {
	tr, _ := newTestTracker(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	total, err := tr.Record("api_calls", model.WindowHour, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, total, 0.001)

	total, err = tr.Record("api_calls", model.WindowHour, 2.5)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, total, 0.001)

	assert.InDelta(t, 3.5, tr.Current("api_calls", model.WindowHour), 0.001)
}

func TestTracker_PairsAreIndependent(t *testing.T) {
	tr, _ := newTestTracker(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	_, err := tr.Record("api_calls", model.WindowHour, 5)
	require.NoError(t, err)
	_, err = tr.Record("api_calls", model.WindowDay, 1)
	require.NoError(t, err)
	_, err = tr.Record("disk_mb", model.WindowHour, 7)
	require.NoError(t, err)

	assert.InDelta(t, 5.0, tr.Current("api_calls", model.WindowHour), 0.001)
	assert.InDelta(t, 1.0, tr.Current("api_calls", model.WindowDay), 0.001)
	assert.InDelta(t, 7.0, tr.Current("disk_mb", model.WindowHour), 0.001)
}

func TestTracker_RolloverResetsWindow(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tr, now := newTestTracker(start)

	_, err := tr.Record("api_calls", model.WindowHour, 50)
	require.NoError(t, err)

	// Just before expiry the total survives.
	*now = start.Add(time.Hour - time.Second)
	assert.InDelta(t, 50.0, tr.Current("api_calls", model.WindowHour), 0.001)

	// Past expiry the next record lands in a fresh window.
	*now = start.Add(time.Hour)
	total, err := tr.Record("api_calls", model.WindowHour, 3)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, total, 0.001)
}

func TestTracker_RolloverOnRead(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tr, now := newTestTracker(start)

	_, err := tr.Record("api_calls", model.WindowMinute, 10)
	require.NoError(t, err)

	*now = start.Add(2 * time.Minute)
	assert.InDelta(t, 0.0, tr.Current("api_calls", model.WindowMinute), 0.001)
}

func TestTracker_UnrecordedPairReadsZero(t *testing.T) {
	tr := NewTracker()
	assert.InDelta(t, 0.0, tr.Current("never", model.WindowHour), 0.001)
}

func TestTracker_Reset(t *testing.T) {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tr, now := newTestTracker(start)

	_, err := tr.Record("api_calls", model.WindowHour, 42)
	require.NoError(t, err)

	*now = start.Add(10 * time.Minute)
	tr.Reset("api_calls", model.WindowHour)
	assert.InDelta(t, 0.0, tr.Current("api_calls", model.WindowHour), 0.001)

	// Reset re-anchors the window to the reset instant.
	total, err := tr.Record("api_calls", model.WindowHour, 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, total, 0.001)

	snap := tr.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, start.Add(10*time.Minute), snap[0].WindowStart)
}

func TestTracker_UnknownWindow(t *testing.T) {
	tr := NewTracker()
	_, err := tr.Record("api_calls", "eon", 1)
	assert.Error(t, err)
}

func TestTracker_Snapshot(t *testing.T) {
	tr, _ := newTestTracker(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	_, err := tr.Record("api_calls", model.WindowHour, 5)
	require.NoError(t, err)
	_, err = tr.Record("disk_mb", model.WindowDay, 9)
	require.NoError(t, err)

	snap := tr.Snapshot()
	require.Len(t, snap, 2)

	byResource := make(map[string]model.UsageSnapshot)
	for _, s := range snap {
		byResource[s.Resource] = s
	}
	assert.InDelta(t, 5.0, byResource["api_calls"].Current, 0.001)
	assert.InDelta(t, 9.0, byResource["disk_mb"].Current, 0.001)
}

func TestTracker_ConcurrentRecords(t *testing.T) {
	tr := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, err := tr.Record("api_calls", model.WindowHour, 1)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.InDelta(t, 1000.0, tr.Current("api_calls", model.WindowHour), 0.001)
}
