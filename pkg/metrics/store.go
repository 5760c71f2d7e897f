package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harvestly/warden/pkg/model"
	"github.com/harvestly/warden/pkg/storage"
)

// Config tunes the metrics store.
type Config struct {
	// FlushInterval is the periodic flush tick.
	FlushInterval time.Duration

	// BatchSize triggers an early flush when the buffer reaches it.
	BatchSize int

	// RetentionDays is the Cleanup horizon used by the daemon.
	RetentionDays int
}

func (c *Config) applyDefaults() {
	if c.FlushInterval <= 0 {
		c.FlushInterval = 10 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
}

// Store buffers samples in memory and flushes them to the backend when the
// batch size is reached or the flush interval elapses, whichever comes
// first. A failed flush returns the batch to the buffer; under persistent
// backend failure the buffer grows without bound, so its size is published
// as a sample of its own.
type Store struct {
	cfg     Config
	backend storage.Store
	logger  *slog.Logger

	mu     sync.Mutex
	buffer []model.Metric
	now    func() time.Time

	flushCh chan struct{}
}

// NewStore creates a metrics store over the given backend.
func NewStore(cfg Config, backend storage.Store, logger *slog.Logger) *Store {
	cfg.applyDefaults()
	return &Store{
		cfg:     cfg,
		backend: backend,
		logger:  logger,
		now:     time.Now,
		flushCh: make(chan struct{}, 1),
	}
}

// Collect appends one sample to the buffer.
func (s *Store) Collect(name string, value float64, kind model.MetricKind, tags map[string]string) {
	s.CollectBatch([]model.Metric{{
		Name:  name,
		Value: value,
		Kind:  kind,
		Tags:  tags,
	}})
}

// CollectBatch appends samples to the buffer, stamping ids and times.
func (s *Store) CollectBatch(batch []model.Metric) {
	now := s.now().UTC()

	s.mu.Lock()
	for _, m := range batch {
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		s.buffer = append(s.buffer, m)
	}
	full := len(s.buffer) >= s.cfg.BatchSize
	s.mu.Unlock()

	if full {
		select {
		case s.flushCh <- struct{}{}:
		default:
		}
	}
}

// BufferLen returns the number of buffered, unflushed samples.
func (s *Store) BufferLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buffer)
}

// Flush writes the buffered samples to the backend. On failure the batch
// is returned to the front of the buffer for the next attempt.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if len(s.buffer) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := s.buffer
	s.buffer = nil
	s.mu.Unlock()

	if err := s.backend.InsertMetrics(ctx, batch); err != nil {
		s.mu.Lock()
		s.buffer = append(batch, s.buffer...)
		s.mu.Unlock()
		return fmt.Errorf("flush metrics: %w", err)
	}

	s.logger.Debug("metrics flushed", "count", len(batch))
	return nil
}

// Run flushes on the configured interval, on batch-size triggers, and once
// more on shutdown. A failed tick logs and retries on the next one.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final best-effort flush with its own deadline.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.Flush(flushCtx); err != nil {
				s.logger.Error("final metrics flush failed", "error", err)
			}
			cancel()
			return
		case <-ticker.C:
			s.Collect("warden.metrics.buffer_size", float64(s.BufferLen()), model.KindGauge, nil)
			if err := s.Flush(ctx); err != nil {
				s.logger.Error("metrics flush failed", "error", err, "buffered", s.BufferLen())
			}
		case <-s.flushCh:
			if err := s.Flush(ctx); err != nil {
				s.logger.Error("metrics flush failed", "error", err, "buffered", s.BufferLen())
			}
		}
	}
}

// Query returns flushed samples matching the filter, newest first.
// Buffered samples are not visible until flushed.
func (s *Store) Query(ctx context.Context, filter model.MetricFilter) ([]model.Metric, error) {
	return s.backend.QueryMetrics(ctx, filter)
}

// Cleanup bulk-deletes samples older than the horizon.
func (s *Store) Cleanup(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = s.cfg.RetentionDays
	}
	cutoff := s.now().UTC().AddDate(0, 0, -days)
	removed, err := s.backend.DeleteMetricsBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup metrics: %w", err)
	}
	if removed > 0 {
		s.logger.Info("metrics cleanup completed", "removed", removed, "cutoff", cutoff)
	}
	return removed, nil
}
