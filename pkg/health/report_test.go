package health

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harvestly/warden/pkg/model"
)

func components(statuses map[string]model.HealthStatus) map[string]model.ComponentHealth {
	out := make(map[string]model.ComponentHealth, len(statuses))
	for name, status := range statuses {
		out[name] = model.ComponentHealth{Name: name, Status: status}
	}
	return out
}

func TestOverallStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses map[string]model.HealthStatus
		critical map[string]bool
		want     model.HealthStatus
	}{
		{
			name:     "no components",
			statuses: map[string]model.HealthStatus{},
			want:     model.StatusUnknown,
		},
		{
			name: "all healthy",
			statuses: map[string]model.HealthStatus{
				"a": model.StatusHealthy, "b": model.StatusHealthy, "c": model.StatusHealthy,
			},
			want: model.StatusHealthy,
		},
		{
			name: "critical unhealthy dominates a healthy majority",
			statuses: map[string]model.HealthStatus{
				"db": model.StatusUnhealthy,
				"a":  model.StatusHealthy, "b": model.StatusHealthy,
				"c": model.StatusHealthy, "d": model.StatusHealthy,
			},
			critical: map[string]bool{"db": true},
			want:     model.StatusUnhealthy,
		},
		{
			name: "majority unhealthy without critical",
			statuses: map[string]model.HealthStatus{
				"a": model.StatusUnhealthy, "b": model.StatusUnhealthy, "c": model.StatusHealthy,
			},
			want: model.StatusUnhealthy,
		},
		{
			name: "over thirty percent impaired",
			statuses: map[string]model.HealthStatus{
				"a": model.StatusUnhealthy, "b": model.StatusDegraded,
				"c": model.StatusHealthy, "d": model.StatusHealthy, "e": model.StatusHealthy,
			},
			want: model.StatusDegraded,
		},
		{
			name: "single degraded in a large pool stays degraded overall",
			statuses: map[string]model.HealthStatus{
				"a": model.StatusDegraded,
				"b": model.StatusHealthy, "c": model.StatusHealthy,
				"d": model.StatusHealthy, "e": model.StatusHealthy,
			},
			want: model.StatusDegraded,
		},
		{
			name: "unprobed components hold the system short of healthy",
			statuses: map[string]model.HealthStatus{
				"a": model.StatusHealthy, "b": model.StatusUnknown,
			},
			want: model.StatusDegraded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OverallStatus(components(tt.statuses), tt.critical)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOverallStatus_SameInputSameOutput(t *testing.T) {
	statuses := map[string]model.HealthStatus{
		"a": model.StatusUnhealthy, "b": model.StatusDegraded,
		"c": model.StatusHealthy, "d": model.StatusHealthy,
	}
	first := OverallStatus(components(statuses), nil)
	for i := 0; i < 50; i++ {
		assert.Equal(t, first, OverallStatus(components(statuses), nil))
	}
}
