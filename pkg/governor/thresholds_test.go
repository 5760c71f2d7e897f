package governor_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvestly/warden/pkg/alerting"
	"github.com/harvestly/warden/pkg/governor"
	"github.com/harvestly/warden/pkg/model"
)

// With the real alert manager as sink, repeated threshold crossings
// inside the cooldown window collapse into a single alert per level.
func TestGovernor_ThresholdsWithAlertManager(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := alerting.NewManager(alerting.Config{}, nil, nil, logger)

	g := governor.New(governor.Config{}, mgr, nil, logger)
	require.NoError(t, g.SetLimit(model.ResourceLimit{
		Resource:  "api_calls",
		Window:    model.WindowHour,
		HardLimit: 100,
		SoftLimit: 80,
		Enabled:   true,
	}))

	for i := 1; i <= 99; i++ {
		allowed := g.RecordUsage("api_calls", 1, model.WindowHour)
		assert.True(t, allowed, "call %d should be allowed", i)
	}
	warnings := mgr.GetAlerts(model.AlertFilter{Level: model.LevelWarning})
	require.Len(t, warnings, 1)
	assert.Equal(t, "governor", warnings[0].Source)
	assert.Empty(t, mgr.GetAlerts(model.AlertFilter{Level: model.LevelCritical}))

	// The hundredth unit hits the hard limit: one critical alert, denial.
	assert.False(t, g.RecordUsage("api_calls", 1, model.WindowHour))
	assert.Len(t, mgr.GetAlerts(model.AlertFilter{Level: model.LevelCritical}), 1)
	assert.Len(t, mgr.GetAlerts(model.AlertFilter{Level: model.LevelWarning}), 1)

	// Further breaches inside the cooldown stay deduplicated.
	assert.False(t, g.RecordUsage("api_calls", 1, model.WindowHour))
	assert.Len(t, mgr.GetAlerts(model.AlertFilter{Level: model.LevelCritical}), 1)
}
