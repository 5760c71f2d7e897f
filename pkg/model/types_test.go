package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvestly/warden/pkg/model"
)

func TestTimeWindow_Duration(t *testing.T) {
	tests := []struct {
		window model.TimeWindow
		want   time.Duration
	}{
		{model.WindowMinute, time.Minute},
		{model.WindowHour, time.Hour},
		{model.WindowDay, 24 * time.Hour},
		{model.WindowWeek, 7 * 24 * time.Hour},
		{model.WindowMonth, 30 * 24 * time.Hour},
	}
	for _, tt := range tests {
		d, err := tt.window.Duration()
		require.NoError(t, err)
		assert.Equal(t, tt.want, d)
	}
}

func TestTimeWindow_DurationUnknown(t *testing.T) {
	_, err := model.TimeWindow("fortnight").Duration()
	assert.Error(t, err)
}

func TestResourceLimit_NormalizeDefaultsSoftLimit(t *testing.T) {
	limit := model.ResourceLimit{
		Resource:  "api_calls",
		Window:    model.WindowHour,
		HardLimit: 100,
	}
	require.NoError(t, limit.Normalize())
	assert.InDelta(t, 80.0, limit.SoftLimit, 0.001)
}

func TestResourceLimit_NormalizeRejectsInvalid(t *testing.T) {
	tests := []struct {
		name  string
		limit model.ResourceLimit
	}{
		{"missing resource", model.ResourceLimit{Window: model.WindowHour, HardLimit: 10}},
		{"unknown window", model.ResourceLimit{Resource: "x", Window: "eon", HardLimit: 10}},
		{"zero hard limit", model.ResourceLimit{Resource: "x", Window: model.WindowHour}},
		{"soft above hard", model.ResourceLimit{Resource: "x", Window: model.WindowHour, HardLimit: 10, SoftLimit: 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.limit.Normalize())
		})
	}
}

func TestAlertLevel_Rank(t *testing.T) {
	assert.Less(t, model.LevelInfo.Rank(), model.LevelWarning.Rank())
	assert.Less(t, model.LevelWarning.Rank(), model.LevelError.Rank())
	assert.Less(t, model.LevelError.Rank(), model.LevelCritical.Rank())
	assert.Equal(t, -1, model.AlertLevel("bogus").Rank())
}

func TestAlert_DedupKey(t *testing.T) {
	a := model.Alert{Source: "governor", Title: "Over limit"}
	b := model.Alert{Source: "governor", Title: "Over limit", Message: "different body"}
	c := model.Alert{Source: "health", Title: "Over limit"}

	assert.Equal(t, a.DedupKey(), b.DedupKey())
	assert.NotEqual(t, a.DedupKey(), c.DedupKey())
}

func TestAlert_IsSuppressed(t *testing.T) {
	now := time.Now().UTC()
	a := model.Alert{Status: model.AlertSuppressed, SuppressedUntil: now.Add(time.Hour)}
	assert.True(t, a.IsSuppressed(now))
	assert.False(t, a.IsSuppressed(now.Add(2*time.Hour)))

	active := model.Alert{Status: model.AlertActive, SuppressedUntil: now.Add(time.Hour)}
	assert.False(t, active.IsSuppressed(now))
}

func TestMetric_SeriesKey(t *testing.T) {
	m := model.Metric{Name: "cpu", Tags: map[string]string{"host": "a", "core": "0"}}
	same := model.Metric{Name: "cpu", Tags: map[string]string{"core": "0", "host": "a"}}
	other := model.Metric{Name: "cpu", Tags: map[string]string{"host": "b", "core": "0"}}
	bare := model.Metric{Name: "cpu"}

	assert.Equal(t, m.SeriesKey(), same.SeriesKey())
	assert.NotEqual(t, m.SeriesKey(), other.SeriesKey())
	assert.Equal(t, "cpu", bare.SeriesKey())
}

func TestMetricFilter_Matches(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := model.Metric{
		Name:      "latency",
		Timestamp: base,
		Tags:      map[string]string{"service": "api"},
	}

	assert.True(t, model.MetricFilter{}.Matches(&m))
	assert.True(t, model.MetricFilter{Names: []string{"other", "latency"}}.Matches(&m))
	assert.False(t, model.MetricFilter{Names: []string{"other"}}.Matches(&m))
	assert.True(t, model.MetricFilter{Tags: map[string]string{"service": "api"}}.Matches(&m))
	assert.False(t, model.MetricFilter{Tags: map[string]string{"service": "web"}}.Matches(&m))
	assert.True(t, model.MetricFilter{StartTime: base}.Matches(&m))
	assert.False(t, model.MetricFilter{StartTime: base.Add(time.Second)}.Matches(&m))
	assert.False(t, model.MetricFilter{EndTime: base}.Matches(&m))
	assert.True(t, model.MetricFilter{EndTime: base.Add(time.Second)}.Matches(&m))
}
