package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"

	"fabrick/internal/config"
)

func TestLoadDefaultConfigExpandsPathsAndAppliesDefaults(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "fabrick")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.Paths.LogDir != filepath.Join(wantData, "logs") {
		t.Fatalf("unexpected log dir: %q", cfg.Paths.LogDir)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7719" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Fatalf("unexpected max attempts: %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Retry.BackoffSeconds != 30 || cfg.Retry.MaxBackoffSeconds != 600 {
		t.Fatalf("unexpected backoff defaults: %d/%d", cfg.Retry.BackoffSeconds, cfg.Retry.MaxBackoffSeconds)
	}
	if cfg.Workflow.HeartbeatInterval != config.Default().Workflow.HeartbeatInterval {
		t.Fatalf("unexpected heartbeat interval: %d", cfg.Workflow.HeartbeatInterval)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
}

func TestLoadCustomPathNormalizesWorkersAndProviders(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "fabrick.toml")

	type payload struct {
		Workflow struct {
			HeartbeatInterval int `toml:"heartbeat_interval"`
			HeartbeatTimeout  int `toml:"heartbeat_timeout"`
		} `toml:"workflow"`
		Providers []config.Provider   `toml:"providers"`
		Workers   []config.WorkerPool `toml:"workers"`
	}
	custom := payload{}
	custom.Workflow.HeartbeatInterval = 20
	custom.Workflow.HeartbeatTimeout = 200
	custom.Providers = []config.Provider{{
		Name:         "render-farm",
		Endpoint:     "https://render.example.com",
		Capabilities: []string{"base_video"},
	}}
	custom.Workers = []config.WorkerPool{{
		JobType:     " Base_Video ",
		Concurrency: 4,
		Providers:   []string{"render-farm"},
	}}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Workflow.HeartbeatInterval != 20 {
		t.Fatalf("expected heartbeat interval 20, got %d", cfg.Workflow.HeartbeatInterval)
	}
	if cfg.Workers[0].JobType != "base_video" {
		t.Fatalf("expected normalized job type, got %q", cfg.Workers[0].JobType)
	}
	if cfg.Workers[0].FetchLimit != 4 {
		t.Fatalf("expected fetch limit to default to concurrency, got %d", cfg.Workers[0].FetchLimit)
	}
	if cfg.Providers[0].TimeoutSeconds != 300 {
		t.Fatalf("expected provider timeout default, got %d", cfg.Providers[0].TimeoutSeconds)
	}
	if cfg.Providers[0].PollIntervalSeconds != 5 {
		t.Fatalf("expected provider poll default, got %d", cfg.Providers[0].PollIntervalSeconds)
	}
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	base := func() config.Config {
		cfg := config.Default()
		cfg.Providers = []config.Provider{{
			Name:         "render-farm",
			Endpoint:     "https://render.example.com",
			Capabilities: []string{"base_video"},
		}}
		cfg.Workers = []config.WorkerPool{{
			JobType:     "base_video",
			Concurrency: 1,
			FetchLimit:  1,
			Providers:   []string{"render-farm"},
		}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "missing data dir",
			mutate:  func(c *config.Config) { c.Paths.DataDir = "" },
			wantErr: "paths.data_dir",
		},
		{
			name: "heartbeat interval not below timeout",
			mutate: func(c *config.Config) {
				c.Workflow.HeartbeatInterval = 120
				c.Workflow.HeartbeatTimeout = 120
			},
			wantErr: "heartbeat_interval must be shorter",
		},
		{
			name:    "max backoff below backoff",
			mutate:  func(c *config.Config) { c.Retry.MaxBackoffSeconds = 10 },
			wantErr: "max_backoff_seconds",
		},
		{
			name: "duplicate provider name",
			mutate: func(c *config.Config) {
				c.Providers = append(c.Providers, c.Providers[0])
			},
			wantErr: "duplicate provider name",
		},
		{
			name:    "provider without capabilities",
			mutate:  func(c *config.Config) { c.Providers[0].Capabilities = nil },
			wantErr: "declares no capabilities",
		},
		{
			name:    "worker references unknown provider",
			mutate:  func(c *config.Config) { c.Workers[0].Providers = []string{"ghost"} },
			wantErr: "unknown provider",
		},
		{
			name:    "worker job type outside provider capabilities",
			mutate:  func(c *config.Config) { c.Workers[0].JobType = "narration_audio" },
			wantErr: "cannot produce",
		},
		{
			name:    "worker with empty chain",
			mutate:  func(c *config.Config) { c.Workers[0].Providers = nil },
			wantErr: "empty provider chain",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("unexpected error %q, want substring %q", err, tc.wantErr)
			}
		})
	}

	cfg := base()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected base config to validate: %v", err)
	}
}

func TestWriteSampleRefusesExistingFile(t *testing.T) {
	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "config.toml")

	if err := config.WriteSample(path); err != nil {
		t.Fatalf("WriteSample failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(data), "[workflow]") {
		t.Fatal("expected sample config to contain workflow section")
	}
	if err := config.WriteSample(path); err == nil {
		t.Fatal("expected second WriteSample to fail")
	}
}
