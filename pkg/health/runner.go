package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harvestly/warden/pkg/model"
)

// ErrProbeNotFound is returned for operations on unregistered components.
var ErrProbeNotFound = errors.New("probe not found")

// unhealthyAfter is the consecutive-failure count that flips a component
// from degraded to unhealthy.
const unhealthyAfter = 3

// retryBackoff is the fixed wait between probe attempts.
const retryBackoff = 500 * time.Millisecond

// ProbeResult is the structured outcome of one probe execution. Boolean
// probes are wrapped into the same shape.
type ProbeResult struct {
	OK        bool
	Message   string
	LatencyMS float64
	Metadata  map[string]string
}

// ProbeFunc checks one component. It must respect ctx cancellation.
type ProbeFunc func(ctx context.Context) ProbeResult

// BoolProbe adapts a plain success/failure function into a ProbeFunc.
func BoolProbe(fn func(ctx context.Context) bool) ProbeFunc {
	return func(ctx context.Context) ProbeResult {
		return ProbeResult{OK: fn(ctx)}
	}
}

// Spec describes a registered health check. Read-only to the runner.
type Spec struct {
	Name     string
	Type     string
	Probe    ProbeFunc
	Interval time.Duration
	Timeout  time.Duration
	Retries  int
	Critical bool
	Enabled  bool
}

func (s *Spec) applyDefaults() error {
	if s.Name == "" {
		return fmt.Errorf("health check spec requires a name")
	}
	if s.Probe == nil {
		return fmt.Errorf("health check %q requires a probe function", s.Name)
	}
	if s.Interval <= 0 {
		s.Interval = 30 * time.Second
	}
	if s.Timeout <= 0 {
		s.Timeout = 5 * time.Second
	}
	if s.Retries < 0 {
		s.Retries = 0
	}
	return nil
}

// Observer is notified synchronously on every status transition, before
// the triggering check call returns. Long work belongs in the observer's
// own goroutine.
type Observer func(name string, from, to model.HealthStatus, health model.ComponentHealth)

// Collector receives probe latency samples.
type Collector interface {
	Collect(name string, value float64, kind model.MetricKind, tags map[string]string)
}

// Runner executes registered probes on independent schedules, with
// per-attempt timeout and retry, and derives per-component plus
// system-wide health.
type Runner struct {
	logger  *slog.Logger
	metrics Collector

	mu        sync.Mutex
	specs     map[string]*Spec
	health    map[string]*model.ComponentHealth
	nextDue   map[string]time.Time
	inFlight  map[string]bool
	observers []Observer
	now       func() time.Time
	sleep     func(time.Duration)
}

// NewRunner creates an empty probe runner. metrics may be nil.
func NewRunner(metrics Collector, logger *slog.Logger) *Runner {
	return &Runner{
		logger:   logger,
		metrics:  metrics,
		specs:    make(map[string]*Spec),
		health:   make(map[string]*model.ComponentHealth),
		nextDue:  make(map[string]time.Time),
		inFlight: make(map[string]bool),
		now:      time.Now,
		sleep:    time.Sleep,
	}
}

// RegisterProbe adds a health check. The component starts in the unknown
// state until its first execution. Duplicate names are a setup error.
func (r *Runner) RegisterProbe(spec Spec) error {
	if err := spec.applyDefaults(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.specs[spec.Name]; ok {
		return fmt.Errorf("health check %q already registered", spec.Name)
	}
	r.specs[spec.Name] = &spec
	r.health[spec.Name] = &model.ComponentHealth{
		Name:   spec.Name,
		Type:   spec.Type,
		Status: model.StatusUnknown,
	}
	r.nextDue[spec.Name] = r.now().UTC()
	return nil
}

// UnregisterProbe removes a component and its health entry.
func (r *Runner) UnregisterProbe(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.specs, name)
	delete(r.health, name)
	delete(r.nextDue, name)
}

// OnTransition registers a status-transition observer.
func (r *Runner) OnTransition(obs Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, obs)
}

// CheckComponent executes the named probe with up to retries+1 attempts,
// each bounded by the spec timeout, with a short fixed backoff between
// attempts. The first success short-circuits. Observers fire before return
// if the status changed.
func (r *Runner) CheckComponent(ctx context.Context, name string) (model.ComponentHealth, error) {
	r.mu.Lock()
	spec, ok := r.specs[name]
	r.mu.Unlock()
	if !ok {
		return model.ComponentHealth{}, fmt.Errorf("component %q: %w", name, ErrProbeNotFound)
	}

	result := r.execute(ctx, spec)
	return r.apply(name, result), nil
}

// execute runs the probe attempts. Each attempt runs in its own goroutine
// so a hanging probe costs at most the attempt timeout.
func (r *Runner) execute(ctx context.Context, spec *Spec) ProbeResult {
	var result ProbeResult
	for attempt := 0; attempt <= spec.Retries; attempt++ {
		if attempt > 0 {
			r.sleep(retryBackoff)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, spec.Timeout)
		start := r.now()

		resCh := make(chan ProbeResult, 1)
		go func() {
			resCh <- spec.Probe(attemptCtx)
		}()

		select {
		case result = <-resCh:
		case <-attemptCtx.Done():
			result = ProbeResult{OK: false, Message: fmt.Sprintf("probe timed out after %s", spec.Timeout)}
		}
		cancel()

		if result.LatencyMS == 0 {
			result.LatencyMS = float64(r.now().Sub(start)) / float64(time.Millisecond)
		}
		if result.OK {
			break
		}
	}

	if r.metrics != nil {
		r.metrics.Collect("warden.probe.latency_ms", result.LatencyMS, model.KindTimer,
			map[string]string{"component": spec.Name})
	}
	return result
}

// apply folds a probe result into the component state and notifies
// observers on a transition.
func (r *Runner) apply(name string, result ProbeResult) model.ComponentHealth {
	now := r.now().UTC()

	r.mu.Lock()
	h, ok := r.health[name]
	if !ok {
		// Unregistered mid-check; report what we saw without storing it.
		r.mu.Unlock()
		status := model.StatusHealthy
		if !result.OK {
			status = model.StatusDegraded
		}
		return model.ComponentHealth{Name: name, Status: status, LastCheck: now, Message: result.Message}
	}

	old := h.Status
	h.LastCheck = now
	h.Message = result.Message
	if result.OK {
		h.Status = model.StatusHealthy
		h.ConsecutiveFailures = 0
		h.SuccessCount++
		h.LastSuccess = now
	} else {
		h.ConsecutiveFailures++
		h.FailureCount++
		h.LastFailure = now
		if h.ConsecutiveFailures >= unhealthyAfter {
			h.Status = model.StatusUnhealthy
		} else {
			h.Status = model.StatusDegraded
		}
	}
	if total := h.SuccessCount + h.FailureCount; total > 0 {
		h.UptimePct = float64(h.SuccessCount) / float64(total) * 100
	}
	snapshot := *h
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()

	if old != snapshot.Status {
		r.logger.Info("component status changed",
			"component", name,
			"from", old,
			"to", snapshot.Status,
			"consecutive_failures", snapshot.ConsecutiveFailures,
		)
		for _, obs := range observers {
			obs(name, old, snapshot.Status, snapshot)
		}
	}
	return snapshot
}

// CheckAll probes every enabled component concurrently and aggregates the
// results into a report. Components share no locks during probing, so one
// slow probe cannot block the rest.
func (r *Runner) CheckAll(ctx context.Context) model.HealthReport {
	r.mu.Lock()
	names := make([]string, 0, len(r.specs))
	for name, spec := range r.specs {
		if spec.Enabled {
			names = append(names, name)
		}
	}
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if _, err := r.CheckComponent(ctx, name); err != nil && !errors.Is(err, ErrProbeNotFound) {
				r.logger.Error("health check failed", "component", name, "error", err)
			}
		}(name)
	}
	wg.Wait()

	return r.GetReport()
}

// GetReport aggregates the current component states without probing.
func (r *Runner) GetReport() model.HealthReport {
	r.mu.Lock()
	components := make(map[string]model.ComponentHealth, len(r.health))
	critical := make(map[string]bool, len(r.specs))
	for name, h := range r.health {
		components[name] = *h
		if spec, ok := r.specs[name]; ok {
			critical[name] = spec.Critical
		}
	}
	r.mu.Unlock()

	return model.HealthReport{
		Overall:    OverallStatus(components, critical),
		Components: components,
		CheckedAt:  r.now().UTC(),
	}
}

// Run schedules probes on their individual intervals until ctx is
// cancelled. Due probes launch concurrently; a component never has two
// overlapping executions.
func (r *Runner) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runDue(ctx)
		}
	}
}

func (r *Runner) runDue(ctx context.Context) {
	now := r.now().UTC()

	r.mu.Lock()
	var due []string
	for name, spec := range r.specs {
		if !spec.Enabled || r.inFlight[name] {
			continue
		}
		if !now.Before(r.nextDue[name]) {
			due = append(due, name)
			r.nextDue[name] = now.Add(spec.Interval)
			r.inFlight[name] = true
		}
	}
	r.mu.Unlock()

	for _, name := range due {
		go func(name string) {
			defer func() {
				r.mu.Lock()
				delete(r.inFlight, name)
				r.mu.Unlock()
			}()
			if _, err := r.CheckComponent(ctx, name); err != nil && !errors.Is(err, ErrProbeNotFound) {
				r.logger.Error("scheduled health check failed", "component", name, "error", err)
			}
		}(name)
	}
}
