package config

import (
	"strconv"
	"strings"
)

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// Environment variables recognised by the check.
const (
	EnvTopicARN     = "SNS_TOPIC_ARN"
	EnvEventBus     = "EVENT_BUS_NAME"
	EnvQueueURL     = "QUEUE_URL"
	EnvChannel      = "NOTIFY_CHANNEL"
	EnvRegion       = "AWS_REGION"
	EnvAnalyzerARN  = "ANALYZER_ARN"
	EnvPollAttempts = "POLL_ATTEMPTS"
	EnvPollInterval = "POLL_INTERVAL"
	EnvLogLevel     = "LOG_LEVEL"
	EnvLogFormat    = "LOG_FORMAT"
	EnvAllowedKeys  = "ALLOWED_KEY_ARNS"
)

// FromEnv builds a config from defaults plus environment variables.
// This is how the Lambda handler is configured.
func FromEnv(lookup LookupFunc) (*Config, error) {
	cfg := &Config{}
	applyEnv(cfg, lookup)
	applyDefaults(cfg)
	if err := parseDurations(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields with any set environment variables.
// Unparseable numbers are ignored and the file/default value is kept.
func applyEnv(cfg *Config, lookup LookupFunc) {
	if v, ok := nonEmpty(lookup, EnvTopicARN); ok {
		cfg.Notify.TopicARN = v
	}
	if v, ok := nonEmpty(lookup, EnvEventBus); ok {
		cfg.Notify.EventBus = v
	}
	if v, ok := nonEmpty(lookup, EnvQueueURL); ok {
		cfg.Notify.QueueURL = v
	}
	if v, ok := nonEmpty(lookup, EnvChannel); ok {
		cfg.Notify.Channel = strings.ToLower(v)
	}
	if v, ok := nonEmpty(lookup, EnvRegion); ok && cfg.AWS.Region == "" {
		cfg.AWS.Region = v
	}
	if v, ok := nonEmpty(lookup, EnvAnalyzerARN); ok {
		cfg.Analyzer.ARN = v
	}
	if v, ok := nonEmpty(lookup, EnvPollAttempts); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Analyzer.PollAttempts = n
		}
	}
	if v, ok := nonEmpty(lookup, EnvPollInterval); ok {
		cfg.Analyzer.PollIntervalStr = v
	}
	if v, ok := nonEmpty(lookup, EnvLogLevel); ok {
		cfg.Log.Level = v
	}
	if v, ok := nonEmpty(lookup, EnvLogFormat); ok {
		cfg.Log.Format = v
	}
	if v, ok := nonEmpty(lookup, EnvAllowedKeys); ok {
		cfg.Filter.AllowedKeys = splitList(v)
	}
}

func nonEmpty(lookup LookupFunc, key string) (string, bool) {
	v, ok := lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
