package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/harvestly/warden/internal/config"
	"github.com/harvestly/warden/pkg/model"
	"github.com/harvestly/warden/pkg/notify"
	"github.com/harvestly/warden/pkg/storage"
)

func levelOrInfo(level string) model.AlertLevel {
	l := model.AlertLevel(level)
	if l.Rank() < 0 {
		return model.LevelInfo
	}
	return l
}

// Version is set at build time via ldflags.
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - resource governance and alerting for data-collection pipelines",
	Long: `Warden tracks resource usage against windowed soft/hard limits, probes
component health, manages alert lifecycles with deduplication, fans alerts
out to notification channels, and stores metrics with windowed aggregation.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.warden/config.yaml)")
}

// loadConfig loads the configuration.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// newLogger creates a structured logger from config.
func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler)
}

// initStore creates a storage backend from config.
func initStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "", "sqlite":
		return storage.NewSQLite(cfg.Storage.Path)
	case "memory":
		return storage.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// initDispatcher builds the notification dispatcher from the channel table.
func initDispatcher(cfg *config.Config, logger *slog.Logger) (*notify.Dispatcher, error) {
	dispatcher := notify.NewDispatcher(logger)
	channels := cfg.Channels

	if channels.Console.Enabled {
		ch := notify.NewConsoleChannel(logger)
		err := dispatcher.Register(notify.Config{
			Name:     ch.Name(),
			MinLevel: levelOrInfo(channels.Console.MinLevel),
			Enabled:  true,
		}, ch)
		if err != nil {
			return nil, err
		}
	}

	if channels.Webhook.Enabled {
		timeout, _ := time.ParseDuration(channels.Webhook.Timeout)
		ch, err := notify.NewWebhookChannel(notify.WebhookOptions{
			URL:     channels.Webhook.URL,
			Secret:  channels.Webhook.Secret,
			Headers: channels.Webhook.Headers,
			Timeout: timeout,
		})
		if err != nil {
			return nil, err
		}
		err = dispatcher.Register(notify.Config{
			Name:     ch.Name(),
			MinLevel: levelOrInfo(channels.Webhook.MinLevel),
			Enabled:  true,
		}, ch)
		if err != nil {
			return nil, err
		}
	}

	if channels.Email.Enabled {
		ch, err := notify.NewEmailChannel(notify.EmailOptions{
			Host:       channels.Email.Host,
			Port:       channels.Email.Port,
			Username:   channels.Email.Username,
			Password:   channels.Email.Password,
			From:       channels.Email.From,
			Recipients: channels.Email.Recipients,
		})
		if err != nil {
			return nil, err
		}
		err = dispatcher.Register(notify.Config{
			Name:     ch.Name(),
			MinLevel: levelOrInfo(channels.Email.MinLevel),
			Enabled:  true,
		}, ch)
		if err != nil {
			return nil, err
		}
	}

	if channels.File.Enabled {
		ch, err := notify.NewFileChannel(channels.File.Path, notify.FileFormat(channels.File.Format))
		if err != nil {
			return nil, err
		}
		err = dispatcher.Register(notify.Config{
			Name:     ch.Name(),
			MinLevel: levelOrInfo(channels.File.MinLevel),
			Enabled:  true,
		}, ch)
		if err != nil {
			return nil, err
		}
	}

	if channels.Slack.Enabled {
		ch, err := notify.NewSlackChannel(channels.Slack.WebhookURL, channels.Slack.Channel)
		if err != nil {
			return nil, err
		}
		err = dispatcher.Register(notify.Config{
			Name:     ch.Name(),
			MinLevel: levelOrInfo(channels.Slack.MinLevel),
			Enabled:  true,
		}, ch)
		if err != nil {
			return nil, err
		}
	}

	return dispatcher, nil
}
