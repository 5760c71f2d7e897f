package notify

import (
	"context"
	"errors"
	"time"

	"github.com/harvestly/warden/pkg/model"
)

// ErrChannelConfig reports an invalid channel configuration at setup time.
var ErrChannelConfig = errors.New("invalid channel config")

// Channel delivers one alert to one destination. Implementations must be
// safe for concurrent use and apply their own delivery timeout.
type Channel interface {
	// Name returns the channel identifier.
	Name() string

	// Send delivers an alert. A nil return means the delivery succeeded.
	Send(ctx context.Context, alert model.Alert) error
}

// Config controls whether and when a registered channel receives alerts.
type Config struct {
	Name     string           `json:"name"`
	MinLevel model.AlertLevel `json:"min_level"`
	Enabled  bool             `json:"enabled"`
}

// ShouldNotify reports whether the alert clears this channel's gate.
func (c Config) ShouldNotify(alert *model.Alert) bool {
	return c.Enabled && alert.Level.Rank() >= c.MinLevel.Rank()
}

// Payload is the stable wire shape delivered by webhook and file channels.
type Payload struct {
	AlertID   string            `json:"alert_id"`
	Title     string            `json:"title"`
	Message   string            `json:"message"`
	Level     model.AlertLevel  `json:"level"`
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	Status    model.AlertStatus `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewPayload builds the wire payload for an alert.
func NewPayload(alert model.Alert) Payload {
	return Payload{
		AlertID:   alert.ID,
		Title:     alert.Title,
		Message:   alert.Message,
		Level:     alert.Level,
		Source:    alert.Source,
		Timestamp: alert.CreatedAt,
		Status:    alert.Status,
		Metadata:  alert.Metadata,
	}
}

// FuncChannel adapts a caller-supplied function into a Channel.
type FuncChannel struct {
	ChannelName string
	Fn          func(ctx context.Context, alert model.Alert) error
}

func (f *FuncChannel) Name() string { return f.ChannelName }

func (f *FuncChannel) Send(ctx context.Context, alert model.Alert) error {
	return f.Fn(ctx, alert)
}
