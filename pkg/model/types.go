package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeWindow is a rolling accounting period anchored to first use,
// not to wall-clock boundaries.
type TimeWindow string

const (
	WindowMinute TimeWindow = "minute"
	WindowHour   TimeWindow = "hour"
	WindowDay    TimeWindow = "day"
	WindowWeek   TimeWindow = "week"
	WindowMonth  TimeWindow = "month"
)

// Duration returns the length of the window. Month is a fixed 30 days;
// windows roll from their anchor time, so calendar drift is accepted.
func (w TimeWindow) Duration() (time.Duration, error) {
	switch w {
	case WindowMinute:
		return time.Minute, nil
	case WindowHour:
		return time.Hour, nil
	case WindowDay:
		return 24 * time.Hour, nil
	case WindowWeek:
		return 7 * 24 * time.Hour, nil
	case WindowMonth:
		return 30 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown time window %q", string(w))
	}
}

// ResourceLimit defines soft and hard thresholds for one (resource, window)
// pair. At most one enabled limit may exist per pair.
type ResourceLimit struct {
	Resource  string     `json:"resource" db:"resource" yaml:"resource"`
	Window    TimeWindow `json:"window" db:"window" yaml:"window"`
	HardLimit float64    `json:"hard_limit" db:"hard_limit" yaml:"hard_limit"`
	SoftLimit float64    `json:"soft_limit" db:"soft_limit" yaml:"soft_limit"`
	Enabled   bool       `json:"enabled" db:"enabled" yaml:"enabled"`
}

// Normalize fills the default soft limit (80% of hard) and validates.
func (l *ResourceLimit) Normalize() error {
	if l.Resource == "" {
		return fmt.Errorf("resource limit missing resource name")
	}
	if _, err := l.Window.Duration(); err != nil {
		return err
	}
	if l.HardLimit <= 0 {
		return fmt.Errorf("resource limit %q: hard limit must be positive", l.Resource)
	}
	if l.SoftLimit <= 0 {
		l.SoftLimit = l.HardLimit * 0.8
	}
	if l.SoftLimit > l.HardLimit {
		return fmt.Errorf("resource limit %q: soft limit exceeds hard limit", l.Resource)
	}
	return nil
}

// UsageSnapshot is a read-only copy of one usage counter.
type UsageSnapshot struct {
	Resource    string     `json:"resource"`
	Window      TimeWindow `json:"window"`
	Current     float64    `json:"current"`
	WindowStart time.Time  `json:"window_start"`
}

// HealthStatus is the probe-derived state of a monitored component.
type HealthStatus string

const (
	StatusUnknown   HealthStatus = "unknown"
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth tracks probe outcomes for one registered component.
type ComponentHealth struct {
	Name                string       `json:"name"`
	Type                string       `json:"type,omitempty"`
	Status              HealthStatus `json:"status"`
	LastCheck           time.Time    `json:"last_check"`
	LastSuccess         time.Time    `json:"last_success,omitzero"`
	LastFailure         time.Time    `json:"last_failure,omitzero"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	SuccessCount        int64        `json:"success_count"`
	FailureCount        int64        `json:"failure_count"`
	UptimePct           float64      `json:"uptime_pct"`
	Message             string       `json:"message,omitempty"`
}

// HealthReport aggregates all component states at one instant.
type HealthReport struct {
	Overall    HealthStatus               `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// AlertLevel orders alert severities.
type AlertLevel string

const (
	LevelInfo     AlertLevel = "info"
	LevelWarning  AlertLevel = "warning"
	LevelError    AlertLevel = "error"
	LevelCritical AlertLevel = "critical"
)

// Rank returns the numeric severity ordering; unknown levels rank lowest.
func (l AlertLevel) Rank() int {
	switch l {
	case LevelInfo:
		return 0
	case LevelWarning:
		return 1
	case LevelError:
		return 2
	case LevelCritical:
		return 3
	default:
		return -1
	}
}

// AlertStatus is the lifecycle state of an alert.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertSuppressed   AlertStatus = "suppressed"
)

// Alert is a raised incident. Status transitions are the only mutations
// after creation; alerts are removed only by the retention sweep.
type Alert struct {
	ID              string            `json:"alert_id" db:"id"`
	Title           string            `json:"title" db:"title"`
	Message         string            `json:"message" db:"message"`
	Level           AlertLevel        `json:"level" db:"level"`
	Source          string            `json:"source" db:"source"`
	Status          AlertStatus       `json:"status" db:"status"`
	CreatedAt       time.Time         `json:"timestamp" db:"created_at"`
	AcknowledgedBy  string            `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	AcknowledgedAt  time.Time         `json:"acknowledged_at,omitzero" db:"acknowledged_at"`
	ResolvedAt      time.Time         `json:"resolved_at,omitzero" db:"resolved_at"`
	SuppressedUntil time.Time         `json:"suppressed_until,omitzero" db:"suppressed_until"`
	Metadata        map[string]string `json:"metadata,omitempty" db:"metadata"`
}

// DedupKey identifies alerts for cooldown deduplication.
func (a *Alert) DedupKey() string {
	return a.Source + ":" + a.Title
}

// IsSuppressed reports whether the alert is suppressed at time now.
// A suppression past its deadline no longer applies even when the stored
// status has not been flipped back yet.
func (a *Alert) IsSuppressed(now time.Time) bool {
	return a.Status == AlertSuppressed && now.Before(a.SuppressedUntil)
}

// MetricKind classifies a collected sample.
type MetricKind string

const (
	KindCounter   MetricKind = "counter"
	KindGauge     MetricKind = "gauge"
	KindHistogram MetricKind = "histogram"
	KindTimer     MetricKind = "timer"
)

// Metric is a single immutable numeric sample. Identity is name plus the
// sorted tag set.
type Metric struct {
	ID        string            `json:"id" db:"id"`
	Name      string            `json:"name" db:"name"`
	Value     float64           `json:"value" db:"value"`
	Kind      MetricKind        `json:"kind" db:"kind"`
	Timestamp time.Time         `json:"timestamp" db:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty" db:"tags"`
}

// SeriesKey returns the identity key: name plus sorted tag pairs.
func (m *Metric) SeriesKey() string {
	if len(m.Tags) == 0 {
		return m.Name
	}
	keys := make([]string, 0, len(m.Tags))
	for k := range m.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(m.Name)
	for _, k := range keys {
		b.WriteByte(',')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(m.Tags[k])
	}
	return b.String()
}

// MetricFilter selects samples for queries and aggregation.
type MetricFilter struct {
	Names     []string          `json:"names,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	StartTime time.Time         `json:"start_time,omitzero"`
	EndTime   time.Time         `json:"end_time,omitzero"`
	Limit     int               `json:"limit,omitempty"`
}

// Matches reports whether the sample passes the filter. Limit does not
// participate; callers truncate after sorting.
func (f MetricFilter) Matches(m *Metric) bool {
	if len(f.Names) > 0 {
		found := false
		for _, n := range f.Names {
			if n == m.Name {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for k, v := range f.Tags {
		if m.Tags[k] != v {
			return false
		}
	}
	if !f.StartTime.IsZero() && m.Timestamp.Before(f.StartTime) {
		return false
	}
	if !f.EndTime.IsZero() && !m.Timestamp.Before(f.EndTime) {
		return false
	}
	return true
}

// AlertFilter selects alerts for operator queries.
type AlertFilter struct {
	Status     AlertStatus `json:"status,omitempty"`
	Level      AlertLevel  `json:"level,omitempty"`
	Source     string      `json:"source,omitempty"`
	SinceHours int         `json:"since_hours,omitempty"`
}
