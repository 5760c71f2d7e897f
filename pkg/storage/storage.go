package storage

import (
	"context"
	"errors"
	"time"

	"github.com/harvestly/warden/pkg/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store defines the persistence layer for metric samples and alert history.
type Store interface {
	// InsertMetrics persists a batch of samples in one transaction.
	InsertMetrics(ctx context.Context, batch []model.Metric) error

	// QueryMetrics retrieves samples matching the filter, newest first.
	QueryMetrics(ctx context.Context, filter model.MetricFilter) ([]model.Metric, error)

	// DeleteMetricsBefore bulk-deletes samples older than cutoff and
	// returns the number removed.
	DeleteMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// InsertAlert persists a newly raised alert.
	InsertAlert(ctx context.Context, alert *model.Alert) error

	// UpdateAlert rewrites the mutable lifecycle fields of an alert.
	UpdateAlert(ctx context.Context, alert *model.Alert) error

	// QueryAlerts retrieves alert history matching the filter, newest first.
	QueryAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error)

	// DeleteResolvedAlertsBefore bulk-deletes resolved alerts older than
	// cutoff and returns the number removed.
	DeleteResolvedAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases resources.
	Close() error
}
