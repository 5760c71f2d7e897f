package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/harvestly/warden/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLite implements the Store interface using an SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens or creates an SQLite database at the given path.
func NewSQLite(dbPath string) (*SQLite, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) InsertMetrics(ctx context.Context, batch []model.Metric) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metric insert: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO metric_samples (id, name, value, kind, tags, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare metric insert: %w", err)
	}
	defer stmt.Close()

	for i := range batch {
		m := &batch[i]
		if m.ID == "" {
			m.ID = uuid.New().String()
		}
		if m.Timestamp.IsZero() {
			m.Timestamp = time.Now().UTC()
		}
		tags, err := encodeTags(m.Tags)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := stmt.ExecContext(ctx, m.ID, m.Name, m.Value, string(m.Kind), tags, m.Timestamp); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert metric sample: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit metric insert: %w", err)
	}
	return nil
}

func (s *SQLite) QueryMetrics(ctx context.Context, filter model.MetricFilter) ([]model.Metric, error) {
	query := "SELECT id, name, value, kind, tags, timestamp FROM metric_samples"
	where, args := buildMetricWhere(filter)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY timestamp DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query metrics: %w", err)
	}
	defer rows.Close()

	var metrics []model.Metric
	for rows.Next() {
		var m model.Metric
		var kind, tags string
		if err := rows.Scan(&m.ID, &m.Name, &m.Value, &kind, &tags, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scan metric row: %w", err)
		}
		m.Kind = model.MetricKind(kind)
		if m.Tags, err = decodeTags(tags); err != nil {
			return nil, err
		}
		// Tag equality is matched here; JSON-encoded tags are opaque to SQL.
		if len(filter.Tags) > 0 && !tagsMatch(filter.Tags, m.Tags) {
			continue
		}
		metrics = append(metrics, m)
		if filter.Limit > 0 && len(metrics) >= filter.Limit {
			break
		}
	}
	return metrics, rows.Err()
}

func (s *SQLite) DeleteMetricsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM metric_samples WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete metrics: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLite) InsertAlert(ctx context.Context, alert *model.Alert) error {
	metadata, err := encodeTags(alert.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, title, message, level, source, status, acknowledged_by,
		                     acknowledged_at, resolved_at, suppressed_until, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID, alert.Title, alert.Message, string(alert.Level), alert.Source,
		string(alert.Status), alert.AcknowledgedBy,
		nullTime(alert.AcknowledgedAt), nullTime(alert.ResolvedAt), nullTime(alert.SuppressedUntil),
		metadata, alert.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *SQLite) UpdateAlert(ctx context.Context, alert *model.Alert) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET status = ?, acknowledged_by = ?, acknowledged_at = ?,
		                   resolved_at = ?, suppressed_until = ?
		 WHERE id = ?`,
		string(alert.Status), alert.AcknowledgedBy,
		nullTime(alert.AcknowledgedAt), nullTime(alert.ResolvedAt), nullTime(alert.SuppressedUntil),
		alert.ID,
	)
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("alert %q: %w", alert.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLite) QueryAlerts(ctx context.Context, filter model.AlertFilter) ([]model.Alert, error) {
	query := `SELECT id, title, message, level, source, status, acknowledged_by,
	                 acknowledged_at, resolved_at, suppressed_until, metadata, created_at
	          FROM alerts`

	var conditions []string
	var args []any
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Level != "" {
		conditions = append(conditions, "level = ?")
		args = append(args, string(filter.Level))
	}
	if filter.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.SinceHours > 0 {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, time.Now().UTC().Add(-time.Duration(filter.SinceHours)*time.Hour))
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []model.Alert
	for rows.Next() {
		var a model.Alert
		var level, status, metadata string
		var ackAt, resolvedAt, suppressedUntil sql.NullTime
		if err := rows.Scan(&a.ID, &a.Title, &a.Message, &level, &a.Source, &status,
			&a.AcknowledgedBy, &ackAt, &resolvedAt, &suppressedUntil, &metadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert row: %w", err)
		}
		a.Level = model.AlertLevel(level)
		a.Status = model.AlertStatus(status)
		a.AcknowledgedAt = ackAt.Time
		a.ResolvedAt = resolvedAt.Time
		a.SuppressedUntil = suppressedUntil.Time
		if a.Metadata, err = decodeTags(metadata); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (s *SQLite) DeleteResolvedAlertsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM alerts WHERE status = ? AND resolved_at < ?",
		string(model.AlertResolved), cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete resolved alerts: %w", err)
	}
	return result.RowsAffected()
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// buildMetricWhere constructs a SQL WHERE clause from a MetricFilter.
// Tag matching is done in Go after decoding.
func buildMetricWhere(filter model.MetricFilter) (string, []any) {
	var conditions []string
	var args []any

	if len(filter.Names) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(filter.Names)), ", ")
		conditions = append(conditions, "name IN ("+placeholders+")")
		for _, n := range filter.Names {
			args = append(args, n)
		}
	}
	if !filter.StartTime.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		conditions = append(conditions, "timestamp < ?")
		args = append(args, filter.EndTime)
	}

	return strings.Join(conditions, " AND "), args
}

func tagsMatch(want, have map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

func encodeTags(tags map[string]string) (string, error) {
	if len(tags) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("encode tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(raw string) (map[string]string, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var tags map[string]string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	return tags, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
