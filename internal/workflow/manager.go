package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"fabrick/internal/config"
	"fabrick/internal/decompose"
	"fabrick/internal/logging"
	"fabrick/internal/provider"
	"fabrick/internal/queue"
	"fabrick/internal/worker"
)

// Manager coordinates the background loops and worker pools.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	registry *provider.Registry
	logger   *slog.Logger

	pools             []*worker.Pool
	registryTemplates decompose.Registry

	pollInterval   time.Duration
	reapInterval   time.Duration
	enrichInterval time.Duration
	errorInterval  time.Duration

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// NewManager constructs a manager with one worker pool per configured pool
// entry. Provider chains are resolved up front so misconfiguration fails at
// startup rather than mid-run.
func NewManager(cfg *config.Config, store *queue.Store, registry *provider.Registry, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:               cfg,
		store:             store,
		registry:          registry,
		logger:            logger,
		registryTemplates: decompose.DefaultRegistry(),
		pollInterval:      time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		reapInterval:      time.Duration(cfg.Workflow.ReapInterval) * time.Second,
		enrichInterval:    time.Duration(cfg.Workflow.EnrichInterval) * time.Second,
		errorInterval:     time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second,
	}

	for _, pool := range cfg.Workers {
		chain, err := registry.Chain(pool.Providers)
		if err != nil {
			return nil, fmt.Errorf("worker pool %s: %w", pool.JobType, err)
		}
		wp, err := worker.NewPool(worker.Options{
			Store:              store,
			Chain:              chain,
			Logger:             logger,
			JobType:            pool.JobType,
			Concurrency:        pool.Concurrency,
			FetchLimit:         pool.FetchLimit,
			PollInterval:       m.pollInterval,
			ErrorRetryInterval: m.errorInterval,
			HeartbeatInterval:  time.Duration(cfg.Workflow.HeartbeatInterval) * time.Second,
		})
		if err != nil {
			return nil, err
		}
		m.pools = append(m.pools, wp)
	}
	return m, nil
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

// LastError returns the most recent background loop error, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Running reports whether background processing is active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}
