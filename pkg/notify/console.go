package notify

import (
	"context"
	"log/slog"

	"github.com/harvestly/warden/pkg/model"
)

// ConsoleChannel emits alerts through a structured logger, keyed by level.
type ConsoleChannel struct {
	logger *slog.Logger
}

// NewConsoleChannel creates a console channel.
func NewConsoleChannel(logger *slog.Logger) *ConsoleChannel {
	return &ConsoleChannel{logger: logger}
}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) Send(ctx context.Context, alert model.Alert) error {
	attrs := []any{
		"alert_id", alert.ID,
		"title", alert.Title,
		"source", alert.Source,
		"message", alert.Message,
	}
	for k, v := range alert.Metadata {
		attrs = append(attrs, "meta_"+k, v)
	}

	switch alert.Level {
	case model.LevelInfo:
		c.logger.InfoContext(ctx, "alert", attrs...)
	case model.LevelWarning:
		c.logger.WarnContext(ctx, "alert", attrs...)
	case model.LevelError, model.LevelCritical:
		c.logger.ErrorContext(ctx, "alert", attrs...)
	default:
		c.logger.InfoContext(ctx, "alert", attrs...)
	}
	return nil
}
