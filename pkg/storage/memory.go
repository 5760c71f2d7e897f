package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harvestly/warden/pkg/model"
)

// Memory is an in-memory Store for tests and ephemeral runs.
type Memory struct {
	mu      sync.RWMutex
	metrics []model.Metric
	alerts  map[string]model.Alert

	// FailInserts makes InsertMetrics return an error, for exercising
	// flush-retry paths in tests.
	FailInserts bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{alerts: make(map[string]model.Alert)}
}

func (s *Memory) InsertMetrics(_ context.Context, batch []model.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInserts {
		return fmt.Errorf("insert metrics: store unavailable")
	}
	for _, m := range batch {
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now().UTC()
		}
		s.metrics = append(s.metrics, m)
	}
	return nil
}

func (s *Memory) QueryMetrics(_ context.Context, filter model.MetricFilter) ([]model.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Metric
	for i := range s.metrics {
		if filter.Matches(&s.metrics[i]) {
			out = append(out, s.metrics[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Memory) DeleteMetricsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.metrics[:0]
	var removed int64
	for _, m := range s.metrics {
		if m.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.metrics = kept
	return removed, nil
}

func (s *Memory) InsertAlert(_ context.Context, alert *model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts[alert.ID] = *alert
	return nil
}

func (s *Memory) UpdateAlert(_ context.Context, alert *model.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.ID]; !ok {
		return fmt.Errorf("alert %q: %w", alert.ID, ErrNotFound)
	}
	s.alerts[alert.ID] = *alert
	return nil
}

func (s *Memory) QueryAlerts(_ context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := time.Time{}
	if filter.SinceHours > 0 {
		cutoff = time.Now().UTC().Add(-time.Duration(filter.SinceHours) * time.Hour)
	}

	var out []model.Alert
	for _, a := range s.alerts {
		if filter.Status != "" && a.Status != filter.Status {
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
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Memory) DeleteResolvedAlertsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, a := range s.alerts {
		if a.Status == model.AlertResolved && !a.ResolvedAt.IsZero() && a.ResolvedAt.Before(cutoff) {
			delete(s.alerts, id)
			removed++
		}
	}
	return removed, nil
}

func (s *Memory) Close() error { return nil }
