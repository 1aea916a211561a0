package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir string `toml:"data_dir"`
	LogDir  string `toml:"log_dir"`
	APIBind string `toml:"api_bind"`
}

// Workflow contains daemon timing and recovery policy settings.
type Workflow struct {
	QueuePollInterval      int  `toml:"queue_poll_interval"`
	ErrorRetryInterval     int  `toml:"error_retry_interval"`
	HeartbeatInterval      int  `toml:"heartbeat_interval"`
	HeartbeatTimeout       int  `toml:"heartbeat_timeout"`
	EnrichInterval         int  `toml:"enrich_interval"`
	ReapInterval           int  `toml:"reap_interval"`
	CountReclaimedAttempts bool `toml:"count_reclaimed_attempts"`
}

// Retry contains default retry policy values stamped onto new jobs.
type Retry struct {
	MaxAttempts       int `toml:"max_attempts"`
	BackoffSeconds    int `toml:"backoff_seconds"`
	MaxBackoffSeconds int `toml:"max_backoff_seconds"`
}

// Provider describes one external generation backend.
type Provider struct {
	Name                string   `toml:"name"`
	Endpoint            string   `toml:"endpoint"`
	APIKey              string   `toml:"api_key"`
	TimeoutSeconds      int      `toml:"timeout_seconds"`
	PollIntervalSeconds int      `toml:"poll_interval_seconds"`
	Capabilities        []string `toml:"capabilities"`
}

// WorkerPool configures one pool of workers specialized for a job type,
// with an ordered provider fallback chain.
type WorkerPool struct {
	JobType     string   `toml:"job_type"`
	Concurrency int      `toml:"concurrency"`
	Providers   []string `toml:"providers"`
	FetchLimit  int      `toml:"fetch_limit"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for fabrick.
type Config struct {
	Paths     Paths        `toml:"paths"`
	Workflow  Workflow     `toml:"workflow"`
	Retry     Retry        `toml:"retry"`
	Providers []Provider   `toml:"providers"`
	Workers   []WorkerPool `toml:"workers"`
	Logging   Logging      `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/fabrick/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized. The second return value
// is the path that was consulted; the third reports whether it existed.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}

	projectPath, err := filepath.Abs("fabrick.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// WriteSample writes the embedded sample config to the provided path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	if err := os.WriteFile(expanded, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// EnsureDirectories creates the data and log directories when missing.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// ProviderByName returns the provider config matching name.
func (c *Config) ProviderByName(name string) (Provider, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return Provider{}, false
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	for i := range c.Workers {
		c.Workers[i].JobType = strings.ToLower(strings.TrimSpace(c.Workers[i].JobType))
		if c.Workers[i].Concurrency <= 0 {
			c.Workers[i].Concurrency = 1
		}
		if c.Workers[i].FetchLimit <= 0 {
			c.Workers[i].FetchLimit = c.Workers[i].Concurrency
		}
	}
	for i := range c.Providers {
		c.Providers[i].Name = strings.TrimSpace(c.Providers[i].Name)
		if c.Providers[i].TimeoutSeconds <= 0 {
			c.Providers[i].TimeoutSeconds = defaultProviderTimeoutSeconds
		}
		if c.Providers[i].PollIntervalSeconds <= 0 {
			c.Providers[i].PollIntervalSeconds = defaultProviderPollSeconds
		}
	}
	return nil
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}
	if trimmed == "~" || strings.HasPrefix(trimmed, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return "", fmt.Errorf("resolve path %s: %w", path, err)
	}
	return abs, nil
}
