package governor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harvestly/warden/pkg/model"
)

var (
	// ErrLimitExists is returned when registering a duplicate limit.
	ErrLimitExists = errors.New("limit already registered")

	// ErrLimitNotFound is returned for operations on unknown limits.
	ErrLimitNotFound = errors.New("limit not found")
)

// AlertSink receives threshold alerts. Routing every raise through the
// alert manager keeps cooldown and dedup uniform across callers.
type AlertSink interface {
	Raise(title, message string, level model.AlertLevel, source string, metadata map[string]string) *model.Alert
}

// Collector receives the governor's own observability samples.
type Collector interface {
	Collect(name string, value float64, kind model.MetricKind, tags map[string]string)
}

// ThrottleFunc is invoked when a hard limit is breached. Callbacks must
// return quickly; delivery order is unspecified.
type ThrottleFunc func(resource string, current float64)

// Config tunes the governor.
type Config struct {
	// AutoThrottle enables throttle callback invocation on hard breaches.
	AutoThrottle bool

	// MonitorInterval is the utilization publishing tick.
	MonitorInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = time.Minute
	}
}

// Governor evaluates recorded usage against configured limits. A breach is
// an advisory signal: callers decide whether to reject, degrade, or
// continue when RecordUsage returns false.
type Governor struct {
	cfg     Config
	tracker *Tracker
	alerts  AlertSink
	metrics Collector
	logger  *slog.Logger

	mu        sync.RWMutex
	limits    map[string]*model.ResourceLimit
	throttles []ThrottleFunc
}

// New creates a governor. alerts and metrics may be nil.
func New(cfg Config, alerts AlertSink, metrics Collector, logger *slog.Logger) *Governor {
	cfg.applyDefaults()
	return &Governor{
		cfg:     cfg,
		tracker: NewTracker(),
		alerts:  alerts,
		metrics: metrics,
		logger:  logger,
		limits:  make(map[string]*model.ResourceLimit),
	}
}

// Tracker exposes the underlying usage tracker.
func (g *Governor) Tracker() *Tracker { return g.tracker }

// SetLimit registers a limit. At most one limit may exist per
// (resource, window) pair; duplicates are a configuration error.
func (g *Governor) SetLimit(limit model.ResourceLimit) error {
	if err := limit.Normalize(); err != nil {
		return err
	}
	key := counterKey(limit.Resource, limit.Window)

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.limits[key]; ok {
		return fmt.Errorf("%s/%s: %w", limit.Resource, limit.Window, ErrLimitExists)
	}
	g.limits[key] = &limit
	return nil
}

// UpdateLimit replaces an existing limit. In-flight counts are preserved:
// the counter is untouched, only the thresholds change.
func (g *Governor) UpdateLimit(limit model.ResourceLimit) error {
	if err := limit.Normalize(); err != nil {
		return err
	}
	key := counterKey(limit.Resource, limit.Window)

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.limits[key]; !ok {
		return fmt.Errorf("%s/%s: %w", limit.Resource, limit.Window, ErrLimitNotFound)
	}
	g.limits[key] = &limit
	return nil
}

// RemoveLimit deletes a limit.
func (g *Governor) RemoveLimit(resource string, window model.TimeWindow) error {
	key := counterKey(resource, window)
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.limits[key]; !ok {
		return fmt.Errorf("%s/%s: %w", resource, window, ErrLimitNotFound)
	}
	delete(g.limits, key)
	return nil
}

// GetLimit returns a copy of the limit for the pair.
func (g *Governor) GetLimit(resource string, window model.TimeWindow) (model.ResourceLimit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	limit, ok := g.limits[counterKey(resource, window)]
	if !ok {
		return model.ResourceLimit{}, fmt.Errorf("%s/%s: %w", resource, window, ErrLimitNotFound)
	}
	return *limit, nil
}

// ListLimits returns copies of all registered limits.
func (g *Governor) ListLimits() []model.ResourceLimit {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]model.ResourceLimit, 0, len(g.limits))
	for _, l := range g.limits {
		out = append(out, *l)
	}
	return out
}

// OnThrottle registers a throttle callback.
func (g *Governor) OnThrottle(fn ThrottleFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.throttles = append(g.throttles, fn)
}

// RecordUsage adds amount to the pair's rolling window and evaluates the
// configured thresholds. It performs no I/O and is safe to call on every
// unit of work. The returned bool is advisory: false means the hard limit
// is met or exceeded, enforcement stays with the caller.
func (g *Governor) RecordUsage(resource string, amount float64, window model.TimeWindow) bool {
	total, err := g.tracker.Record(resource, window, amount)
	if err != nil {
		g.logger.Error("record usage", "resource", resource, "window", window, "error", err)
		return true
	}

	g.mu.RLock()
	limit, ok := g.limits[counterKey(resource, window)]
	var limitCopy model.ResourceLimit
	if ok {
		limitCopy = *limit
	}
	throttles := make([]ThrottleFunc, len(g.throttles))
	copy(throttles, g.throttles)
	g.mu.RUnlock()

	if !ok || !limitCopy.Enabled {
		return true
	}

	switch {
	case total >= limitCopy.HardLimit:
		if g.alerts != nil {
			g.alerts.Raise(
				fmt.Sprintf("Resource %s/%s over hard limit", resource, window),
				fmt.Sprintf("%s usage %.2f reached hard limit %.2f for the current %s window",
					resource, total, limitCopy.HardLimit, window),
				model.LevelCritical,
				"governor",
				map[string]string{"resource": resource, "window": string(window)},
			)
		}
		if g.cfg.AutoThrottle {
			for _, fn := range throttles {
				fn(resource, total)
			}
		}
		g.logger.Warn("hard limit breached",
			"resource", resource,
			"window", window,
			"current", total,
			"hard_limit", limitCopy.HardLimit,
		)
		return false

	case total >= limitCopy.SoftLimit:
		if g.alerts != nil {
			g.alerts.Raise(
				fmt.Sprintf("Resource %s/%s approaching limit", resource, window),
				fmt.Sprintf("%s usage %.2f passed soft limit %.2f (hard limit %.2f) for the current %s window",
					resource, total, limitCopy.SoftLimit, limitCopy.HardLimit, window),
				model.LevelWarning,
				"governor",
				map[string]string{"resource": resource, "window": string(window)},
			)
		}
		return true

	default:
		return true
	}
}

// GetUsage returns the running total for a registered pair.
func (g *Governor) GetUsage(resource string, window model.TimeWindow) (float64, error) {
	g.mu.RLock()
	_, ok := g.limits[counterKey(resource, window)]
	g.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%s/%s: %w", resource, window, ErrLimitNotFound)
	}
	return g.tracker.Current(resource, window), nil
}

// ResetUsage zeroes a registered pair's counter. Operator action only;
// rollover never goes through here.
func (g *Governor) ResetUsage(resource string, window model.TimeWindow) error {
	g.mu.RLock()
	_, ok := g.limits[counterKey(resource, window)]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s/%s: %w", resource, window, ErrLimitNotFound)
	}
	g.tracker.Reset(resource, window)
	g.logger.Info("usage reset", "resource", resource, "window", window)
	return nil
}

// Snapshot returns copies of all live usage counters.
func (g *Governor) Snapshot() []model.UsageSnapshot {
	return g.tracker.Snapshot()
}

// Run publishes per-limit utilization gauges on the monitor interval until
// ctx is cancelled. A single tick's failure never kills the loop.
func (g *Governor) Run(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.publishUtilization()
		}
	}
}

func (g *Governor) publishUtilization() {
	if g.metrics == nil {
		return
	}

	g.mu.RLock()
	limits := make([]model.ResourceLimit, 0, len(g.limits))
	for _, l := range g.limits {
		limits = append(limits, *l)
	}
	g.mu.RUnlock()

	for _, limit := range limits {
		if !limit.Enabled || limit.HardLimit <= 0 {
			continue
		}
		current := g.tracker.Current(limit.Resource, limit.Window)
		g.metrics.Collect("warden.usage.utilization", current/limit.HardLimit, model.KindGauge,
			map[string]string{"resource": limit.Resource, "window": string(limit.Window)})
	}
}
