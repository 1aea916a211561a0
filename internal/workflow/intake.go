package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"fabrick/internal/decompose"
	"fabrick/internal/logging"
	"fabrick/internal/manifest"
	"fabrick/internal/queue"
	"fabrick/internal/services"
)

// SubmitResult reports what intake produced for a manifest.
type SubmitResult struct {
	ManifestID string
	JobCount   int
	Duplicates int
}

// SubmitManifest validates a manifest, persists it, and decomposes it into
// the job graph. Decomposition is idempotent: resubmitting an already
// decomposed manifest creates no new jobs. Cyclic dependency graphs are
// rejected before any job row is written.
func (m *Manager) SubmitManifest(ctx context.Context, data []byte) (*SubmitResult, error) {
	parsed, err := manifest.Parse(data)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "submit", "manifest rejected", err)
	}
	parsed.EnsureID()
	ctx = services.WithManifestID(ctx, parsed.ID)
	logger := logging.WithContext(ctx, logging.NewComponentLogger(m.logger, "intake"))

	jobs, err := decompose.Decompose(parsed, m.registryTemplates, decompose.Options{
		MaxAttempts:       m.cfg.Retry.MaxAttempts,
		BackoffSeconds:    m.cfg.Retry.BackoffSeconds,
		MaxBackoffSeconds: m.cfg.Retry.MaxBackoffSeconds,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "workflow", "submit", "decomposition failed", err)
	}

	scenesJSON, err := json.Marshal(parsed.Scenes)
	if err != nil {
		return nil, fmt.Errorf("encode scenes: %w", err)
	}
	metadataJSON := ""
	if len(parsed.Metadata) > 0 {
		encoded, err := json.Marshal(parsed.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		metadataJSON = string(encoded)
	}

	record := &queue.ManifestRecord{
		ID:           parsed.ID,
		Title:        parsed.Title,
		ScenesJSON:   string(scenesJSON),
		MetadataJSON: metadataJSON,
	}
	if err := m.store.CreateManifest(ctx, record); err != nil && !errors.Is(err, queue.ErrDuplicateManifest) {
		return nil, err
	}

	result := &SubmitResult{ManifestID: parsed.ID}
	for _, job := range jobs {
		if err := m.store.CreateJob(ctx, job); err != nil {
			if errors.Is(err, queue.ErrDuplicateJob) {
				result.Duplicates++
				continue
			}
			return nil, err
		}
		result.JobCount++
	}

	// Attempt the advance even on resubmission: a manifest stuck in
	// received after a partial first submit must still reach decomposed,
	// or enrichment would never pick it up. ErrConflict means it already
	// moved on.
	if err := m.store.TransitionManifest(ctx, parsed.ID, queue.ManifestReceived, queue.ManifestDecomposed); err != nil && !queue.IsConflict(err) {
		return nil, err
	}

	logger.Info("manifest submitted",
		logging.Int("jobs_created", result.JobCount),
		logging.Int("jobs_existing", result.Duplicates),
		logging.Int("scenes", len(parsed.Scenes)),
		logging.String(logging.FieldEventType, "manifest_submitted"),
	)
	return result, nil
}

// RetryJob is the operator escape hatch for a dead-lettered job: the job and
// its cascade victims return to pending with a fresh attempt budget, and the
// manifest's enrichment output is cleared so the timeline recomputes once the
// revived graph settles.
func (m *Manager) RetryJob(ctx context.Context, jobID string) error {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return services.Wrap(services.ErrNotFound, "workflow", "retry", fmt.Sprintf("job %s not found", jobID), nil)
	}
	if err := m.store.ResetDeadLetter(ctx, jobID); err != nil {
		return err
	}
	if err := m.store.ResetEnrichment(ctx, job.ManifestID); err != nil {
		return err
	}
	m.logger.Info("job reset for retry",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldManifestID, job.ManifestID),
		logging.String(logging.FieldEventType, "job_retried"),
	)
	return nil
}

// CancelJob dead-letters a job on operator request. A running worker notices
// before its next fallback provider and abandons the work.
func (m *Manager) CancelJob(ctx context.Context, jobID string) error {
	if err := m.store.MarkDeadLetter(ctx, jobID, "cancelled by operator"); err != nil {
		return err
	}
	m.logger.Info("job cancelled",
		logging.String(logging.FieldJobID, jobID),
		logging.String(logging.FieldEventType, "job_cancelled"),
	)
	return nil
}
