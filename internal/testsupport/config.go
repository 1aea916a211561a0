package testsupport

import (
	"path/filepath"
	"testing"

	"fabrick/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults a single stub provider and worker pool so validation passes.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"
	cfg.Workflow.QueuePollInterval = 1
	cfg.Workflow.EnrichInterval = 1
	cfg.Workflow.ReapInterval = 1
	cfg.Providers = []config.Provider{
		{
			Name:                "stub",
			Endpoint:            "http://127.0.0.1:0",
			TimeoutSeconds:      5,
			PollIntervalSeconds: 1,
			Capabilities:        []string{"narration_audio", "music_audio", "base_video", "image", "lip_sync", "caption_overlay"},
		},
	}
	cfg.Workers = []config.WorkerPool{
		{JobType: "narration_audio", Concurrency: 1, Providers: []string{"stub"}},
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithRetry overrides the retry policy on the test config.
func WithRetry(maxAttempts, backoffSeconds, maxBackoffSeconds int) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Retry.MaxAttempts = maxAttempts
		cfg.Retry.BackoffSeconds = backoffSeconds
		cfg.Retry.MaxBackoffSeconds = maxBackoffSeconds
	}
}

// WithWorkerPools replaces the configured worker pools.
func WithWorkerPools(pools ...config.WorkerPool) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Workers = pools
	}
}
