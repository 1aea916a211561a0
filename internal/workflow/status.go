package workflow

import (
	"context"

	"fabrick/internal/queue"
)

// PoolStatus describes one worker pool.
type PoolStatus struct {
	JobType     string `json:"jobType"`
	WorkerID    string `json:"workerId"`
	Concurrency int    `json:"concurrency"`
}

// StatusSummary is the runtime view served by the status API.
type StatusSummary struct {
	Running   bool                `json:"running"`
	LastError string              `json:"lastError,omitempty"`
	Queue     queue.HealthSummary `json:"queue"`
	Pools     []PoolStatus        `json:"pools"`
}

// Status reports the manager's runtime state plus aggregated queue counts.
func (m *Manager) Status(ctx context.Context) (StatusSummary, error) {
	health, err := m.store.Health(ctx)
	if err != nil {
		return StatusSummary{}, err
	}

	summary := StatusSummary{
		Running: m.Running(),
		Queue:   health,
	}
	if err := m.LastError(); err != nil {
		summary.LastError = err.Error()
	}
	for _, pool := range m.pools {
		summary.Pools = append(summary.Pools, PoolStatus{
			JobType:     pool.JobType(),
			WorkerID:    pool.WorkerID(),
			Concurrency: pool.Concurrency(),
		})
	}
	return summary, nil
}
