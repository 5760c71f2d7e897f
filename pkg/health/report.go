package health

import "github.com/harvestly/warden/pkg/model"

// OverallStatus reduces a set of component states to one system-wide
// status. It is a pure function of its inputs. The check order matters:
// a critical component being unhealthy dominates everything else,
// regardless of how the rest of the population looks.
func OverallStatus(components map[string]model.ComponentHealth, critical map[string]bool) model.HealthStatus {
	if len(components) == 0 {
		return model.StatusUnknown
	}

	var unhealthy, degraded, healthy int
	for name, h := range components {
		switch h.Status {
		case model.StatusUnhealthy:
			if critical[name] {
				return model.StatusUnhealthy
			}
			unhealthy++
		case model.StatusDegraded:
			degraded++
		case model.StatusHealthy:
			healthy++
		case model.StatusUnknown:
			// Not yet probed; counts toward the population only.
		}
	}

	total := len(components)
	if unhealthy*2 > total {
		return model.StatusUnhealthy
	}
	if float64(unhealthy+degraded) > float64(total)*0.3 {
		return model.StatusDegraded
	}
	if healthy == total {
		return model.StatusHealthy
	}
	return model.StatusDegraded
}
