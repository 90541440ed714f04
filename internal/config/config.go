package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvAPIURL overrides api.base_url when set
const EnvAPIURL = "FOLLOWUP_API_URL"

const (
	MinPollInterval = 3 * time.Second
	MaxPollInterval = 30 * time.Second
)

// Config is the main configuration structure
type Config struct {
	API      APIConfig      `yaml:"api"`
	Session  SessionConfig  `yaml:"session"`
	Activity ActivityConfig `yaml:"activity"`
	Agent    AgentConfig    `yaml:"agent"`
	Cache    CacheConfig    `yaml:"cache"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// APIConfig contains backend connection settings
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"` // Per-request timeout (default: 30s)
}

// SessionConfig contains local state settings
type SessionConfig struct {
	StateDir string `yaml:"state_dir"` // Token, cache and TUI log live here
}

// ActivityConfig contains activity console settings
type ActivityConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"` // Default: 3s, allowed 3s..30s
}

// AgentConfig contains agent run settings
type AgentConfig struct {
	BusyTimeout time.Duration `yaml:"busy_timeout"` // How long the run button stays disabled (default: 10s)
}

// CacheConfig contains snapshot cache settings
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // Default: <state_dir>/cache.db
}

// MetricsConfig contains Prometheus metrics settings
type MetricsConfig struct {
	Enabled    bool     `yaml:"enabled"`
	ListenAddr string   `yaml:"listen_addr"` // Default: :9191
	Path       string   `yaml:"path"`        // Default: /metrics
	AllowedIPs []string `yaml:"allowed_ips"` // IP addresses/CIDRs allowed to access metrics
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultPath returns the config location used when --config is not given
func DefaultPath() string {
	return filepath.Join(defaultStateDir(), "config.yaml")
}

func defaultStateDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "followup")
	}
	return ".followup"
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{Cache: CacheConfig{Enabled: true}}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.API.BaseURL = v
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.API.BaseURL == "" {
		c.API.BaseURL = "http://localhost:8000"
	}
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.Timeout == 0 {
		c.API.Timeout = 30 * time.Second
	}

	if c.Session.StateDir == "" {
		c.Session.StateDir = defaultStateDir()
	}
	c.Session.StateDir = expandHome(c.Session.StateDir)

	if c.Activity.PollInterval == 0 {
		c.Activity.PollInterval = MinPollInterval
	}
	if c.Agent.BusyTimeout == 0 {
		c.Agent.BusyTimeout = 10 * time.Second
	}

	if c.Cache.Path == "" {
		c.Cache.Path = filepath.Join(c.Session.StateDir, "cache.db")
	}
	c.Cache.Path = expandHome(c.Cache.Path)

	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9191"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate validates the configuration
func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL)
	}
	if c.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must not be negative")
	}

	if c.Activity.PollInterval < MinPollInterval || c.Activity.PollInterval > MaxPollInterval {
		return fmt.Errorf("activity.poll_interval must be between %s and %s, got %s",
			MinPollInterval, MaxPollInterval, c.Activity.PollInterval)
	}
	if c.Agent.BusyTimeout < 0 {
		return fmt.Errorf("agent.busy_timeout must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

// TokenPath returns the session token file
func (c *Config) TokenPath() string {
	return filepath.Join(c.Session.StateDir, "token")
}

// LogPath returns the file the dashboard logs to
func (c *Config) LogPath() string {
	return filepath.Join(c.Session.StateDir, "followup.log")
}
