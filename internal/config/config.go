// Package config holds all configuration types and loading logic for
// notifyq. Config structure never shrinks — fields are only added, never
// renamed or removed.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a notifyq server instance.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Cluster   ClusterConfig   `yaml:"cluster"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Dispatch  DispatchConfig  `yaml:"dispatch"`
	Auth      AuthConfig      `yaml:"auth"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Audit     AuditConfig     `yaml:"audit"`
}

// NodeConfig holds identity and network settings for this server node.
type NodeConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

// ClusterConfig controls zone/clustering behaviour.
// LocalZone, if set, is this instance's zone name — used by the scheduler's
// same_zone predicate. "auto" or "" keeps the local zone persisted in
// node.data_dir by an earlier run, if any; otherwise the instance is
// zoneless (always local).
type ClusterConfig struct {
	Enabled   bool     `yaml:"enabled"`
	LocalZone string   `yaml:"local_zone"`
	Peers     []string `yaml:"peers"`
}

// SchedulerConfig sets defaults used by the renotification scheduler.
type SchedulerConfig struct {
	// ReschedulePauseSeconds is how far in the future a dispatched-but-
	// inactive notification is rescheduled (default: 60 seconds).
	ReschedulePauseSeconds float64 `yaml:"reschedule_pause_seconds"`
	// DefaultIntervalSeconds is used when a notification reports an
	// interval of zero — guards against a zero-advance livelock in
	// DispatchCallback's ineligible branch.
	DefaultIntervalSeconds float64 `yaml:"default_interval_seconds"`
}

// DispatchConfig sizes the worker pool dispatch callbacks run on.
type DispatchConfig struct {
	// WorkerCount bounds how many DispatchCallback invocations may run
	// concurrently on the bounded gammazero/workerpool sized by this field
	// (see DESIGN.md).
	WorkerCount int `yaml:"worker_count"`
	// RatePerSecond and Burst throttle outbound delivery calls via one
	// golang.org/x/time/rate limiter shared by every notification,
	// independent of WorkerCount.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// AuthConfig controls API key authentication on the HTTP transport.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// WebhookConfig controls the delivery transport used by
// internal/delivery.WebhookTransport.
type WebhookConfig struct {
	URL           string `yaml:"url"`
	Secret        string `yaml:"secret"`
	TimeoutMs     int    `yaml:"timeout_ms"`
	RetryDelaysMs []int  `yaml:"retry_delays_ms"`
}

// AuditConfig controls the dispatch-history log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			DataDir: "./data",
		},
		Cluster: ClusterConfig{
			Enabled:   false,
			LocalZone: "",
			Peers:     []string{},
		},
		Scheduler: SchedulerConfig{
			ReschedulePauseSeconds: 60,
			DefaultIntervalSeconds: 300,
		},
		Dispatch: DispatchConfig{
			WorkerCount:   16,
			RatePerSecond: 1,
			Burst:         5,
		},
		Auth: AuthConfig{
			Enabled: false,
			APIKey:  "",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		Webhook: WebhookConfig{
			TimeoutMs:     5_000,
			RetryDelaysMs: []int{1_000, 5_000, 30_000},
		},
		Audit: AuditConfig{
			Enabled: true,
			Path:    "./data/audit.db",
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error,
// making it easy to run notifyq with no config file at all.
//
// After loading the file, environment variables are applied as overrides:
//
//	NOTIFYQ_AUTH_API_KEY — sets auth.api_key and enables auth (auth.enabled = true)
//	NOTIFYQ_DATA_DIR     — sets node.data_dir
//	NOTIFYQ_PORT         — sets node.port
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("NOTIFYQ_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
		cfg.Auth.Enabled = true
	}
	if v := os.Getenv("NOTIFYQ_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("NOTIFYQ_PORT"); v != "" {
		var p int
		if _, err := fmt.Sscanf(v, "%d", &p); err == nil && p > 0 {
			cfg.Node.Port = p
		}
	}
}

// Validate checks that the config values are consistent and within
// acceptable ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Node.Port < 1 || c.Node.Port > 65535 {
		return errors.New("node.port must be between 1 and 65535")
	}
	if c.Node.DataDir == "" {
		return errors.New("node.data_dir must not be empty")
	}
	if c.Scheduler.ReschedulePauseSeconds <= 0 {
		return errors.New("scheduler.reschedule_pause_seconds must be > 0")
	}
	if c.Scheduler.DefaultIntervalSeconds <= 0 {
		return errors.New("scheduler.default_interval_seconds must be > 0")
	}
	if c.Dispatch.WorkerCount < 1 {
		return errors.New("dispatch.worker_count must be at least 1")
	}
	if c.Dispatch.RatePerSecond <= 0 {
		return errors.New("dispatch.rate_per_second must be > 0")
	}
	if c.Dispatch.Burst < 1 {
		return errors.New("dispatch.burst must be at least 1")
	}
	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return errors.New("metrics.port must be between 1 and 65535")
	}
	return nil
}
