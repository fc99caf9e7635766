// Package config handles TOML configuration for the KMS public access check.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultTopicARN is the SNS topic used when none is configured.
const DefaultTopicARN = "arn:aws:sns:us-east-1:906545278380:access-analyzer-kms-keys-findings"

// Notification channels.
const (
	ChannelSNS         = "sns"
	ChannelEventBridge = "eventbridge"
	ChannelSQS         = "sqs"
	ChannelNone        = "none"
)

// Config is the root configuration structure.
type Config struct {
	AWS      AWSConfig      `toml:"aws" yaml:"aws"`
	Analyzer AnalyzerConfig `toml:"analyzer" yaml:"analyzer"`
	KMS      KMSConfig      `toml:"kms" yaml:"kms"`
	Notify   NotifyConfig   `toml:"notify" yaml:"notify"`
	Filter   FilterConfig   `toml:"filter" yaml:"filter"`
	Scanner  ScannerConfig  `toml:"scanner" yaml:"scanner"`
	Storage  StorageConfig  `toml:"storage" yaml:"storage"`
	OTEL     OTELConfig     `toml:"otel" yaml:"otel"`
	Log      LogConfig      `toml:"log" yaml:"log"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Region  string `toml:"region" yaml:"region"`
	Profile string `toml:"profile" yaml:"profile"`
}

// AnalyzerConfig holds Access Analyzer settings.
type AnalyzerConfig struct {
	// ARN pins a specific analyzer and skips lookup.
	ARN             string        `toml:"arn" yaml:"arn"`
	NamePrefix      string        `toml:"name_prefix" yaml:"name_prefix"`
	PollAttempts    int           `toml:"poll_attempts" yaml:"poll_attempts"`
	PollIntervalStr string        `toml:"poll_interval" yaml:"poll_interval"`
	PollInterval    time.Duration `toml:"-" yaml:"-"`
	ListPageSize    int32         `toml:"list_page_size" yaml:"list_page_size"`
}

// KMSConfig holds key enumeration settings.
type KMSConfig struct {
	PageSize int32 `toml:"page_size" yaml:"page_size"`
}

// NotifyConfig selects and configures the notification channel.
type NotifyConfig struct {
	Channel     string `toml:"channel" yaml:"channel"`
	TopicARN    string `toml:"topic_arn" yaml:"topic_arn"`
	Subject     string `toml:"subject" yaml:"subject"`
	EventBus    string `toml:"event_bus" yaml:"event_bus"`
	EventSource string `toml:"event_source" yaml:"event_source"`
	DetailType  string `toml:"detail_type" yaml:"detail_type"`
	QueueURL    string `toml:"queue_url" yaml:"queue_url"`
}

// FilterConfig holds finding suppression settings.
type FilterConfig struct {
	AllowedKeys []string `toml:"allowed_keys" yaml:"allowed_keys"`
}

// ScannerConfig holds daemon scheduling settings.
type ScannerConfig struct {
	IntervalStr string        `toml:"interval" yaml:"interval"`
	Interval    time.Duration `toml:"-" yaml:"-"`
	OneShot     bool          `toml:"one_shot" yaml:"one_shot"`
	MetricsAddr string        `toml:"metrics_addr" yaml:"metrics_addr"`
}

// StorageConfig holds finding history settings. Empty Path disables history.
type StorageConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint" yaml:"endpoint"`
	Insecure    bool          `toml:"insecure" yaml:"insecure"`
	ServiceName string        `toml:"service_name" yaml:"service_name"`
	Traces      TracesConfig  `toml:"traces" yaml:"traces"`
	Metrics     MetricsConfig `toml:"metrics" yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled" yaml:"enabled"`
	SampleRate float64 `toml:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Load reads and parses a TOML or YAML config file, then applies
// environment overrides and defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is intentional user input
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg, os.LookupEnv)
	applyDefaults(cfg)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a config built from defaults and the environment only.
func Default() (*Config, error) {
	return FromEnv(os.LookupEnv)
}

func applyDefaults(cfg *Config) {
	if cfg.Analyzer.NamePrefix == "" {
		cfg.Analyzer.NamePrefix = "AccessAnalyzer-"
	}
	if cfg.Analyzer.PollAttempts == 0 {
		cfg.Analyzer.PollAttempts = 10
	}
	if cfg.Analyzer.PollIntervalStr == "" {
		cfg.Analyzer.PollIntervalStr = "500ms"
	}
	if cfg.Analyzer.ListPageSize == 0 {
		cfg.Analyzer.ListPageSize = 100
	}
	if cfg.KMS.PageSize == 0 {
		cfg.KMS.PageSize = 100
	}
	if cfg.Notify.Channel == "" {
		cfg.Notify.Channel = ChannelSNS
	}
	if cfg.Notify.TopicARN == "" {
		cfg.Notify.TopicARN = DefaultTopicARN
	}
	if cfg.Notify.Subject == "" {
		cfg.Notify.Subject = "Public access found for AWS KMS customer keys"
	}
	if cfg.Notify.EventSource == "" {
		cfg.Notify.EventSource = "access-analyzer-kms-function"
	}
	if cfg.Notify.DetailType == "" {
		cfg.Notify.DetailType = "Access Analyzer KMS Findings"
	}
	if cfg.Scanner.IntervalStr == "" {
		cfg.Scanner.IntervalStr = "1h"
	}
	if cfg.Scanner.MetricsAddr == "" {
		cfg.Scanner.MetricsAddr = ":9090"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "kmscheck"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}

func parseDurations(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Scanner.IntervalStr)
	if err != nil {
		return fmt.Errorf("parse interval %q: %w", cfg.Scanner.IntervalStr, err)
	}
	cfg.Scanner.Interval = d

	d, err = time.ParseDuration(cfg.Analyzer.PollIntervalStr)
	if err != nil {
		return fmt.Errorf("parse poll interval %q: %w", cfg.Analyzer.PollIntervalStr, err)
	}
	cfg.Analyzer.PollInterval = d
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.Analyzer.PollAttempts < 1 {
		return fmt.Errorf("analyzer: poll_attempts must be at least 1 (got %d)", c.Analyzer.PollAttempts)
	}
	if c.Analyzer.PollInterval <= 0 {
		return fmt.Errorf("analyzer: poll_interval must be positive (got %s)", c.Analyzer.PollInterval)
	}
	if c.Analyzer.ListPageSize < 1 || c.Analyzer.ListPageSize > 1000 {
		return fmt.Errorf("analyzer: list_page_size must be between 1 and 1000 (got %d)", c.Analyzer.ListPageSize)
	}
	if c.KMS.PageSize < 1 || c.KMS.PageSize > 1000 {
		return fmt.Errorf("kms: page_size must be between 1 and 1000 (got %d)", c.KMS.PageSize)
	}

	switch c.Notify.Channel {
	case ChannelSNS:
		if c.Notify.TopicARN == "" {
			return fmt.Errorf("notify: topic_arn required for channel %q", c.Notify.Channel)
		}
	case ChannelSQS:
		if c.Notify.QueueURL == "" {
			return fmt.Errorf("notify: queue_url required for channel %q", c.Notify.Channel)
		}
	case ChannelEventBridge, ChannelNone:
	default:
		return fmt.Errorf("notify: unknown channel %q", c.Notify.Channel)
	}

	if c.Scanner.Interval <= 0 && !c.Scanner.OneShot {
		return fmt.Errorf("scanner: interval must be positive (got %s)", c.Scanner.Interval)
	}

	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}
	return nil
}
