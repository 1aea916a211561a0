package workflow

import (
	"context"
	"errors"
	"time"

	"fabrick/internal/logging"
)

// Start begins background processing: the promoter, reaper, and enricher
// loops plus every worker pool.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if len(m.pools) == 0 {
		m.mu.Unlock()
		return errors.New("no worker pools configured")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(3 + len(m.pools))
	m.mu.Unlock()

	go m.runPromoter(runCtx)
	go m.runReaper(runCtx)
	go m.runEnricher(runCtx)
	for _, pool := range m.pools {
		pool := pool
		go func() {
			defer m.wg.Done()
			_ = pool.Run(runCtx)
		}()
	}

	m.logger.Info("workflow started",
		logging.Int("worker_pools", len(m.pools)),
		logging.String(logging.FieldEventType, "workflow_started"),
	)
	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stopped"))
}

// runPromoter periodically moves pending jobs whose dependencies all
// completed into the ready pool.
func (m *Manager) runPromoter(ctx context.Context) {
	defer m.wg.Done()
	logger := logging.NewComponentLogger(m.logger, "promoter")
	for {
		if !m.sleep(ctx, m.pollInterval) {
			return
		}
		promoted, err := m.store.PromoteReady(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.setLastError(err)
			logger.Error("dependency promotion failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			if !m.sleep(ctx, m.errorInterval) {
				return
			}
			continue
		}
		if promoted > 0 {
			logger.Info("jobs promoted to ready", logging.Int64("count", promoted))
		}
	}
}

// runReaper periodically reclaims running jobs with expired heartbeats.
func (m *Manager) runReaper(ctx context.Context) {
	defer m.wg.Done()
	logger := logging.NewComponentLogger(m.logger, "reaper")
	timeout := time.Duration(m.cfg.Workflow.HeartbeatTimeout) * time.Second
	for {
		if !m.sleep(ctx, m.reapInterval) {
			return
		}
		cutoff := time.Now().Add(-timeout)
		reclaimed, err := m.store.ReapStaleWorkers(ctx, cutoff, m.cfg.Workflow.CountReclaimedAttempts)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.setLastError(err)
			logger.Error("stale worker reap failed",
				logging.Error(err),
				logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			continue
		}
		if reclaimed > 0 {
			logger.Warn("reclaimed jobs from stale workers",
				logging.Int64("count", reclaimed),
				logging.String(logging.FieldEventType, "stale_workers_reaped"),
			)
		}
	}
}

// runEnricher periodically scans decomposed manifests and enriches those
// whose jobs have all reached a terminal state.
func (m *Manager) runEnricher(ctx context.Context) {
	defer m.wg.Done()
	logger := logging.NewComponentLogger(m.logger, "enricher")
	for {
		if !m.sleep(ctx, m.enrichInterval) {
			return
		}
		if err := m.enrichSettled(ctx, logger); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.setLastError(err)
			logger.Error("timeline enrichment sweep failed", logging.Error(err))
		}
	}
}

// sleep waits for d or cancellation; it reports false when the context ended.
func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
