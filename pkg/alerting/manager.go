package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harvestly/warden/pkg/model"
	"github.com/harvestly/warden/pkg/notify"
	"github.com/harvestly/warden/pkg/storage"
)

// ErrAlertNotFound is returned by lifecycle calls for unknown alert ids.
var ErrAlertNotFound = errors.New("alert not found")

// Config tunes the alert manager. Zero values take the defaults.
type Config struct {
	// Cooldown is the dedup window for repeated (source, title) raises.
	Cooldown time.Duration

	// RetentionDays is how long resolved alerts are kept.
	RetentionDays int

	// SweepInterval is how often the retention sweep runs.
	SweepInterval time.Duration

	// FanoutTimeout bounds one asynchronous fanout.
	FanoutTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Minute
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Hour
	}
	if c.FanoutTimeout <= 0 {
		c.FanoutTimeout = time.Minute
	}
}

// Manager owns alert entities and their lifecycle. Raised alerts are
// deduplicated per (source, title) within the cooldown window, fanned out
// asynchronously, and mirrored to the store for history. The in-memory map
// stays authoritative for dedup and lifecycle.
type Manager struct {
	cfg        Config
	dispatcher *notify.Dispatcher
	store      storage.Store
	logger     *slog.Logger

	mu         sync.Mutex
	alerts     map[string]*model.Alert
	lastRaise  map[string]time.Time // dedup key -> last accepted raise
	lastByKey  map[string]string    // dedup key -> alert id
	rules      map[string]*Rule
	lastRule   map[string]time.Time // rule name -> last fire
	active     int
	now        func() time.Time
	fanoutWG   sync.WaitGroup
}

// NewManager creates an alert manager. dispatcher and store may be nil for
// callers that only want the in-memory lifecycle.
func NewManager(cfg Config, dispatcher *notify.Dispatcher, store storage.Store, logger *slog.Logger) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:        cfg,
		dispatcher: dispatcher,
		store:      store,
		logger:     logger,
		alerts:     make(map[string]*model.Alert),
		lastRaise:  make(map[string]time.Time),
		lastByKey:  make(map[string]string),
		rules:      make(map[string]*Rule),
		lastRule:   make(map[string]time.Time),
		now:        time.Now,
	}
}

// Raise creates a new alert, unless one with the same (source, title) was
// raised within the cooldown window; then the tracked alert is returned
// unchanged and nothing is dispatched.
func (m *Manager) Raise(title, message string, level model.AlertLevel, source string, metadata map[string]string) *model.Alert {
	now := m.now().UTC()
	key := source + ":" + title

	m.mu.Lock()
	if last, ok := m.lastRaise[key]; ok && now.Sub(last) < m.cfg.Cooldown {
		var existing *model.Alert
		if id, ok := m.lastByKey[key]; ok {
			if a, ok := m.alerts[id]; ok {
				copied := *a
				existing = &copied
			}
		}
		m.mu.Unlock()
		m.logger.Debug("alert deduplicated", "source", source, "title", title)
		return existing
	}

	alert := &model.Alert{
		ID:        uuid.New().String(),
		Title:     title,
		Message:   message,
		Level:     level,
		Source:    source,
		Status:    model.AlertActive,
		CreatedAt: now,
		Metadata:  metadata,
	}
	m.alerts[alert.ID] = alert
	m.lastRaise[key] = now
	m.lastByKey[key] = alert.ID
	m.active++
	snapshot := *alert
	m.mu.Unlock()

	m.logger.Warn("alert raised",
		"alert_id", alert.ID,
		"title", title,
		"level", level,
		"source", source,
	)

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := m.store.InsertAlert(ctx, &snapshot); err != nil {
			m.logger.Error("persist alert", "alert_id", alert.ID, "error", err)
		}
		cancel()
	}

	if m.dispatcher != nil && !snapshot.IsSuppressed(now) {
		m.fanoutWG.Add(1)
		go func() {
			defer m.fanoutWG.Done()
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.FanoutTimeout)
			defer cancel()
			res := m.dispatcher.Fanout(ctx, snapshot)
			m.logger.Info("alert fanout complete",
				"alert_id", snapshot.ID,
				"sent", res.Sent,
				"failed", res.Failed,
				"skipped", res.Skipped,
			)
		}()
	}

	return &snapshot
}

// Acknowledge marks an alert as acknowledged by the given actor.
func (m *Manager) Acknowledge(id, by string) error {
	return m.transition(id, func(a *model.Alert) {
		m.clearExpiredSuppression(a)
		if a.Status == model.AlertActive || a.Status == model.AlertSuppressed {
			if a.Status == model.AlertActive {
				m.active--
			}
			a.Status = model.AlertAcknowledged
			a.AcknowledgedBy = by
			a.AcknowledgedAt = m.now().UTC()
		}
	})
}

// Resolve marks an alert as resolved.
func (m *Manager) Resolve(id string) error {
	return m.transition(id, func(a *model.Alert) {
		if a.Status == model.AlertActive {
			m.active--
		}
		a.Status = model.AlertResolved
		a.ResolvedAt = m.now().UTC()
	})
}

// Suppress silences an alert for the given number of minutes.
func (m *Manager) Suppress(id string, minutes int) error {
	return m.transition(id, func(a *model.Alert) {
		if a.Status == model.AlertActive {
			m.active--
		}
		a.Status = model.AlertSuppressed
		a.SuppressedUntil = m.now().UTC().Add(time.Duration(minutes) * time.Minute)
	})
}

func (m *Manager) transition(id string, mutate func(*model.Alert)) error {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("alert %q: %w", id, ErrAlertNotFound)
	}
	mutate(alert)
	snapshot := *alert
	m.mu.Unlock()

	m.logger.Info("alert transition", "alert_id", id, "status", snapshot.Status)

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.store.UpdateAlert(ctx, &snapshot); err != nil && !errors.Is(err, storage.ErrNotFound) {
			m.logger.Error("persist alert transition", "alert_id", id, "error", err)
		}
	}
	return nil
}

// clearExpiredSuppression flips an expired suppression back to active.
// Expiry is lazy: it happens on the next lifecycle call touching the alert.
func (m *Manager) clearExpiredSuppression(a *model.Alert) {
	if a.Status == model.AlertSuppressed && !m.now().UTC().Before(a.SuppressedUntil) {
		a.Status = model.AlertActive
		a.SuppressedUntil = time.Time{}
		m.active++
	}
}

// Get returns a copy of the alert with the given id.
func (m *Manager) Get(id string) (*model.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %q: %w", id, ErrAlertNotFound)
	}
	copied := *alert
	return &copied, nil
}

// GetAlerts returns copies of tracked alerts matching the filter, newest
// first. A suppressed alert past its deadline matches as active, though its
// stored status is only rewritten by the next lifecycle call.
func (m *Manager) GetAlerts(filter model.AlertFilter) []model.Alert {
	now := m.now().UTC()
	cutoff := time.Time{}
	if filter.SinceHours > 0 {
		cutoff = now.Add(-time.Duration(filter.SinceHours) * time.Hour)
	}

	m.mu.Lock()
	out := make([]model.Alert, 0, len(m.alerts))
	for _, a := range m.alerts {
		effective := a.Status
		if effective == model.AlertSuppressed && !a.IsSuppressed(now) {
			effective = model.AlertActive
		}
		if filter.Status != "" && effective != filter.Status {
			continue
		}
		if filter.Level != "" && a.Level != filter.Level {
			continue
		}
		if filter.Source != "" && a.Source != filter.Source {
			continue
		}
		if !cutoff.IsZero() && a.CreatedAt.Before(cutoff) {
			continue
		}
		out = append(out, *a)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// ActiveCount returns the number of alerts currently in the active state.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Run executes the retention sweep on its interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.fanoutWG.Wait()
			return
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// sweep removes resolved alerts older than the retention horizon. Active
// and acknowledged alerts are never auto-removed.
func (m *Manager) sweep(ctx context.Context) {
	cutoff := m.now().UTC().AddDate(0, 0, -m.cfg.RetentionDays)

	m.mu.Lock()
	var removed int
	for id, a := range m.alerts {
		m.clearExpiredSuppression(a)
		if a.Status == model.AlertResolved && !a.ResolvedAt.IsZero() && a.ResolvedAt.Before(cutoff) {
			delete(m.alerts, id)
			removed++
		}
	}
	m.mu.Unlock()

	if m.store != nil {
		if n, err := m.store.DeleteResolvedAlertsBefore(ctx, cutoff); err != nil {
			m.logger.Error("retention sweep failed", "error", err)
		} else if n > 0 || removed > 0 {
			m.logger.Info("retention sweep completed", "removed_memory", removed, "removed_store", n)
		}
		return
	}
	if removed > 0 {
		m.logger.Info("retention sweep completed", "removed_memory", removed)
	}
}
