package health

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvestly/warden/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner() *Runner {
	r := NewRunner(nil, testLogger())
	r.sleep = func(time.Duration) {}
	return r
}

func failingProbe(msg string) ProbeFunc {
	return func(context.Context) ProbeResult {
		return ProbeResult{OK: false, Message: msg}
	}
}

func passingProbe() ProbeFunc {
	return func(context.Context) ProbeResult {
		return ProbeResult{OK: true}
	}
}

func TestRunner_RegisterStartsUnknown(t *testing.T) {
	r := newTestRunner()
	require.NoError(t, r.RegisterProbe(Spec{Name: "db", Probe: passingProbe(), Enabled: true}))

	report := r.GetReport()
	require.Contains(t, report.Components, "db")
	assert.Equal(t, model.StatusUnknown, report.Components["db"].Status)
}

func TestRunner_RegisterDuplicate(t *testing.T) {
	r := newTestRunner()
	require.NoError(t, r.RegisterProbe(Spec{Name: "db", Probe: passingProbe()}))
	assert.Error(t, r.RegisterProbe(Spec{Name: "db", Probe: passingProbe()}))
}

func TestRunner_RegisterValidation(t *testing.T) {
	r := newTestRunner()
	assert.Error(t, r.RegisterProbe(Spec{Probe: passingProbe()}))
	assert.Error(t, r.RegisterProbe(Spec{Name: "db"}))
}

func TestRunner_CheckUnknownComponent(t *testing.T) {
	r := newTestRunner()
	_, err := r.CheckComponent(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrProbeNotFound)
}

func TestRunner_ConsecutiveFailuresFlipUnhealthy(t *testing.T) {
	r := newTestRunner()
	require.NoError(t, r.RegisterProbe(Spec{Name: "db", Probe: failingProbe("connection refused"), Enabled: true}))

	h, err := r.CheckComponent(context.Background(), "db")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDegraded, h.Status)
	assert.Equal(t, 1, h.ConsecutiveFailures)

	h, err = r.CheckComponent(context.Background(), "db")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDegraded, h.Status)
	assert.Equal(t, 2, h.ConsecutiveFailures)

	// The third consecutive failure crosses into unhealthy, not before.
	h, err = r.CheckComponent(context.Background(), "db")
	require.NoError(t, err)
	assert.Equal(t, model.StatusUnhealthy, h.Status)
	assert.Equal(t, 3, h.ConsecutiveFailures)
	assert.Equal(t, "connection refused", h.Message)
}

func TestRunner_SuccessResetsFailureStreak(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	r := newTestRunner()
	require.NoError(t, r.RegisterProbe(Spec{
		Name: "cache",
		Probe: func(context.Context) ProbeResult {
			return ProbeResult{OK: !fail.Load()}
		},
		Enabled: true,
	}))

	for i := 0; i < 5; i++ {
		_, err := r.CheckComponent(context.Background(), "cache")
		require.NoError(t, err)
	}

	fail.Store(false)
	h, err := r.CheckComponent(context.Background(), "cache")
	require.NoError(t, err)
	assert.Equal(t, model.StatusHealthy, h.Status)
	assert.Equal(t, 0, h.ConsecutiveFailures)
	assert.Equal(t, int64(1), h.SuccessCount)
	assert.Equal(t, int64(5), h.FailureCount)
	assert.InDelta(t, 100.0/6.0, h.UptimePct, 0.01)
}

func TestRunner_RetrySucceedsWithinAttempts(t *testing.T) {
	var calls atomic.Int32
	r := newTestRunner()
	require.NoError(t, r.RegisterProbe(Spec{
		Name: "flaky",
		Probe: func(context.Context) ProbeResult {
			return ProbeResult{OK: calls.Add(1) >= 2}
		},
		Retries: 2,
		Enabled: true,
	}))

	h, err := r.CheckComponent(context.Background(), "flaky")
	require.NoError(t, err)
	assert.Equal(t, model.StatusHealthy, h.Status)
	// The first success short-circuits the remaining attempt.
	assert.Equal(t, int32(2), calls.Load())
}

func TestRunner_ProbeTimeout(t *testing.T) {
	r := newTestRunner()
	require.NoError(t, r.RegisterProbe(Spec{
		Name: "slow",
		Probe: func(ctx context.Context) ProbeResult {
			<-ctx.Done()
			return ProbeResult{OK: true}
		},
		Timeout: 50 * time.Millisecond,
		Enabled: true,
	}))

	h, err := r.CheckComponent(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDegraded, h.Status)
	assert.Contains(t, h.Message, "timed out")
}

func TestRunner_ObserversFireOnTransition(t *testing.T) {
	type transition struct {
		from, to model.HealthStatus
	}
	var seen []transition

	r := newTestRunner()
	r.OnTransition(func(name string, from, to model.HealthStatus, _ model.ComponentHealth) {
		assert.Equal(t, "db", name)
		seen = append(seen, transition{from, to})
	})
	require.NoError(t, r.RegisterProbe(Spec{Name: "db", Probe: failingProbe("down"), Enabled: true}))

	for i := 0; i < 4; i++ {
		_, err := r.CheckComponent(context.Background(), "db")
		require.NoError(t, err)
	}

	// unknown->degraded on the first failure, degraded->unhealthy on the
	// third; repeats in the same state stay silent.
	require.Len(t, seen, 2)
	assert.Equal(t, transition{model.StatusUnknown, model.StatusDegraded}, seen[0])
	assert.Equal(t, transition{model.StatusDegraded, model.StatusUnhealthy}, seen[1])
}

func TestRunner_CheckAllSkipsDisabled(t *testing.T) {
	var checked atomic.Int32
	r := newTestRunner()
	require.NoError(t, r.RegisterProbe(Spec{
		Name: "on",
		Probe: func(context.Context) ProbeResult {
			checked.Add(1)
			return ProbeResult{OK: true}
		},
		Enabled: true,
	}))
	require.NoError(t, r.RegisterProbe(Spec{
		Name: "off",
		Probe: func(context.Context) ProbeResult {
			checked.Add(1)
			return ProbeResult{OK: true}
		},
		Enabled: false,
	}))

	report := r.CheckAll(context.Background())

	assert.Equal(t, int32(1), checked.Load())
	assert.Equal(t, model.StatusHealthy, report.Components["on"].Status)
	assert.Equal(t, model.StatusUnknown, report.Components["off"].Status)
}

func TestRunner_LatencyCollected(t *testing.T) {
	collector := &fakeCollector{}
	r := NewRunner(collector, testLogger())
	r.sleep = func(time.Duration) {}
	require.NoError(t, r.RegisterProbe(Spec{
		Name: "db",
		Probe: func(context.Context) ProbeResult {
			return ProbeResult{OK: true, LatencyMS: 12.5}
		},
		Enabled: true,
	}))

	_, err := r.CheckComponent(context.Background(), "db")
	require.NoError(t, err)

	require.Len(t, collector.samples, 1)
	assert.Equal(t, "warden.probe.latency_ms", collector.samples[0].Name)
	assert.Equal(t, model.KindTimer, collector.samples[0].Kind)
	assert.InDelta(t, 12.5, collector.samples[0].Value, 0.001)
	assert.Equal(t, "db", collector.samples[0].Tags["component"])
}

func TestRunner_UnregisterRemovesComponent(t *testing.T) {
	r := newTestRunner()
	require.NoError(t, r.RegisterProbe(Spec{Name: "db", Probe: passingProbe(), Enabled: true}))
	r.UnregisterProbe("db")

	report := r.GetReport()
	assert.NotContains(t, report.Components, "db")
	_, err := r.CheckComponent(context.Background(), "db")
	assert.ErrorIs(t, err, ErrProbeNotFound)
}

type fakeCollector struct {
	samples []model.Metric
}

func (c *fakeCollector) Collect(name string, value float64, kind model.MetricKind, tags map[string]string) {
	c.samples = append(c.samples, model.Metric{Name: name, Value: value, Kind: kind, Tags: tags})
}
