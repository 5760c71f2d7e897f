package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/harvestly/warden/pkg/model"
)

// Config holds all Warden configuration.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Governor GovernorConfig `mapstructure:"governor"`
	Health   HealthConfig   `mapstructure:"health"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Channels ChannelsConfig `mapstructure:"channels"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// StorageConfig defines database settings.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // sqlite or memory
	Path   string `mapstructure:"path"`
}

// ServerConfig defines the operator API listener.
type ServerConfig struct {
	Listen       string `mapstructure:"listen"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// GovernorConfig defines resource governance settings.
type GovernorConfig struct {
	AutoThrottle    bool          `mapstructure:"auto_throttle"`
	MonitorInterval string        `mapstructure:"monitor_interval"`
	LimitsFile      string        `mapstructure:"limits_file"`
	Limits          []LimitConfig `mapstructure:"limits"`
}

// LimitConfig is one resource limit row in the config table.
type LimitConfig struct {
	Resource  string  `mapstructure:"resource" yaml:"resource"`
	Window    string  `mapstructure:"window" yaml:"window"`
	HardLimit float64 `mapstructure:"hard_limit" yaml:"hard_limit"`
	SoftLimit float64 `mapstructure:"soft_limit" yaml:"soft_limit"`
	Enabled   *bool   `mapstructure:"enabled" yaml:"enabled"`
}

// ToLimit converts a config row to a model limit. Enabled defaults to true.
func (l LimitConfig) ToLimit() model.ResourceLimit {
	enabled := true
	if l.Enabled != nil {
		enabled = *l.Enabled
	}
	return model.ResourceLimit{
		Resource:  l.Resource,
		Window:    model.TimeWindow(l.Window),
		HardLimit: l.HardLimit,
		SoftLimit: l.SoftLimit,
		Enabled:   enabled,
	}
}

// HealthConfig defines probe scheduling defaults.
type HealthConfig struct {
	DefaultInterval string `mapstructure:"default_interval"`
	DefaultTimeout  string `mapstructure:"default_timeout"`
	DefaultRetries  int    `mapstructure:"default_retries"`
}

// AlertsConfig defines alert lifecycle settings.
type AlertsConfig struct {
	CooldownSeconds int `mapstructure:"cooldown_seconds"`
	RetentionDays   int `mapstructure:"retention_days"`
}

// ChannelsConfig defines the notification channel table.
type ChannelsConfig struct {
	Email   EmailChannelConfig   `mapstructure:"email"`
	Webhook WebhookChannelConfig `mapstructure:"webhook"`
	File    FileChannelConfig    `mapstructure:"file"`
	Console ConsoleChannelConfig `mapstructure:"console"`
	Slack   SlackChannelConfig   `mapstructure:"slack"`
}

// EmailChannelConfig defines SMTP delivery.
type EmailChannelConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	MinLevel   string   `mapstructure:"min_level"`
	Host       string   `mapstructure:"host"`
	Port       int      `mapstructure:"port"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	From       string   `mapstructure:"from"`
	Recipients []string `mapstructure:"recipients"`
}

// WebhookChannelConfig defines HTTP POST delivery.
type WebhookChannelConfig struct {
	Enabled  bool              `mapstructure:"enabled"`
	MinLevel string            `mapstructure:"min_level"`
	URL      string            `mapstructure:"url"`
	Secret   string            `mapstructure:"secret"`
	Headers  map[string]string `mapstructure:"headers"`
	Timeout  string            `mapstructure:"timeout"`
}

// FileChannelConfig defines append-only log delivery.
type FileChannelConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	MinLevel string `mapstructure:"min_level"`
	Path     string `mapstructure:"path"`
	Format   string `mapstructure:"format"` // json or text
}

// ConsoleChannelConfig defines structured log delivery.
type ConsoleChannelConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	MinLevel string `mapstructure:"min_level"`
}

// SlackChannelConfig defines Slack webhook delivery.
type SlackChannelConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	MinLevel   string `mapstructure:"min_level"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// MetricsConfig defines the metrics store.
type MetricsConfig struct {
	FlushInterval string `mapstructure:"flush_interval"`
	BatchSize     int    `mapstructure:"batch_size"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("find home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".warden"))
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Defaults
	home, _ := os.UserHomeDir()
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", filepath.Join(home, ".warden", "warden.db"))
	v.SetDefault("server.listen", ":8090")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("governor.auto_throttle", true)
	v.SetDefault("governor.monitor_interval", "1m")
	v.SetDefault("health.default_interval", "30s")
	v.SetDefault("health.default_timeout", "5s")
	v.SetDefault("health.default_retries", 1)
	v.SetDefault("alerts.cooldown_seconds", 300)
	v.SetDefault("alerts.retention_days", 30)
	v.SetDefault("channels.console.enabled", true)
	v.SetDefault("channels.console.min_level", "info")
	v.SetDefault("channels.email.port", 587)
	v.SetDefault("channels.webhook.timeout", "10s")
	v.SetDefault("channels.file.format", "json")
	v.SetDefault("channels.slack.channel", "#warden-alerts")
	v.SetDefault("metrics.flush_interval", "10s")
	v.SetDefault("metrics.batch_size", 100)
	v.SetDefault("metrics.retention_days", 30)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Environment variables
	v.SetEnvPrefix("WARDEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

// ResourceLimits returns the configured limits, merging the inline table
// with the standalone limits file when one is set. Inline rows win on
// (resource, window) conflicts.
func (c *Config) ResourceLimits() ([]model.ResourceLimit, error) {
	seen := make(map[string]bool)
	var out []model.ResourceLimit

	for _, row := range c.Governor.Limits {
		limit := row.ToLimit()
		out = append(out, limit)
		seen[limit.Resource+"/"+string(limit.Window)] = true
	}

	if c.Governor.LimitsFile != "" {
		fromFile, err := LoadLimitsFile(c.Governor.LimitsFile)
		if err != nil {
			return nil, err
		}
		for _, limit := range fromFile {
			if seen[limit.Resource+"/"+string(limit.Window)] {
				continue
			}
			out = append(out, limit)
		}
	}
	return out, nil
}

type limitsFile struct {
	Limits []LimitConfig `yaml:"limits"`
}

// LoadLimitsFile reads a standalone resource limits table from a YAML file.
func LoadLimitsFile(path string) ([]model.ResourceLimit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read limits file: %w", err)
	}

	var file limitsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse limits file: %w", err)
	}

	out := make([]model.ResourceLimit, 0, len(file.Limits))
	for _, row := range file.Limits {
		out = append(out, row.ToLimit())
	}
	return out, nil
}
