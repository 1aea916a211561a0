package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fabrick/internal/logging"
	"fabrick/internal/provider"
	"fabrick/internal/queue"
	"fabrick/internal/services"
)

// attemptOutcome records one provider invocation inside a job attempt. The
// full trail is persisted as the job result so operators can see which
// providers were tried and why the chain moved on.
type attemptOutcome struct {
	Provider  string `json:"provider"`
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
	Permanent bool   `json:"permanent,omitempty"`
}

type jobResult struct {
	Provider        string           `json:"provider"`
	AssetURL        string           `json:"assetUrl"`
	DurationSeconds float64          `json:"durationSeconds,omitempty"`
	MimeType        string           `json:"mimeType,omitempty"`
	Trail           []attemptOutcome `json:"trail"`
}

// execute walks the provider fallback chain for a claimed job. Transient and
// permanent provider errors both fall through to the next provider; only
// exhausting the whole chain fails the attempt. Between providers the worker
// checks for external cancellation and stops without touching the job when
// ownership was lost.
func (p *Pool) execute(ctx context.Context, job *queue.Job) {
	ctx = services.WithJobID(ctx, job.ID)
	ctx = services.WithManifestID(ctx, job.ManifestID)
	ctx = services.WithWorkerID(ctx, p.workerID)
	logger := logging.WithContext(ctx, p.logger).With(
		logging.String(logging.FieldJobType, job.Type),
		logging.String(logging.FieldSceneID, job.SceneID),
	)

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go p.heartbeatLoop(hbCtx, &wg, job.ID)
	defer func() {
		stopHeartbeat()
		wg.Wait()
	}()

	logger.Info("job started", logging.Int("attempt", job.Attempts+1))

	trail := make([]attemptOutcome, 0, len(p.chain))
	for i, prov := range p.chain {
		if i > 0 && p.cancelled(ctx, job.ID) {
			logger.Info("job ownership lost, abandoning remaining providers",
				logging.String(logging.FieldEventType, "job_cancelled"),
			)
			return
		}
		if ctx.Err() != nil {
			return
		}

		asset, err := prov.Invoke(ctx, []byte(job.Payload))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			permanent := provider.IsPermanent(err)
			trail = append(trail, attemptOutcome{
				Provider:  prov.Name(),
				Error:     err.Error(),
				Permanent: permanent,
			})
			logger.Warn("provider invocation failed",
				logging.String(logging.FieldProvider, prov.Name()),
				logging.Bool("permanent", permanent),
				logging.Error(err),
			)
			continue
		}

		trail = append(trail, attemptOutcome{Provider: prov.Name(), Succeeded: true})
		p.complete(ctx, logger, job, prov.Name(), asset, trail)
		return
	}

	p.fail(ctx, logger, job, trail)
}

func (p *Pool) complete(ctx context.Context, logger *slog.Logger, job *queue.Job, providerName string, asset *provider.Asset, trail []attemptOutcome) {
	result := jobResult{
		Provider:        providerName,
		AssetURL:        asset.URL,
		DurationSeconds: asset.DurationSeconds,
		MimeType:        asset.MimeType,
		Trail:           trail,
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		logger.Error("encode job result", logging.Error(err))
		encoded = []byte("{}")
	}

	now := time.Now().UTC()
	err = p.store.Transition(ctx, job.ID, queue.StatusRunning, queue.StatusCompleted, queue.TransitionFields{
		ClearWorker:    true,
		ClearHeartbeat: true,
		CompletedAt:    &now,
		Result:         string(encoded),
		SetResult:      true,
		OutputURL:      asset.URL,
		SetOutputURL:   true,
		OwnedBy:        p.workerID,
	})
	if err != nil {
		if queue.IsConflict(err) {
			logger.Info("completion lost to another actor, discarding result",
				logging.String(logging.FieldEventType, "completion_conflict"),
			)
			return
		}
		logger.Error("failed to mark job completed", logging.Error(err))
		return
	}

	logger.Info("job completed",
		logging.String(logging.FieldProvider, providerName),
		logging.String("asset_url", asset.URL),
		logging.String(logging.FieldEventType, "job_completed"),
	)
}

// fail records the exhausted chain, moves the job to failed, and lets the
// retry policy decide between backoff and the dead-letter queue.
func (p *Pool) fail(ctx context.Context, logger *slog.Logger, job *queue.Job, trail []attemptOutcome) {
	reason := "all providers failed"
	if len(trail) > 0 {
		reason = trail[len(trail)-1].Error
	}
	encoded, err := json.Marshal(jobResult{Trail: trail})
	if err != nil {
		encoded = []byte("{}")
	}

	err = p.store.Transition(ctx, job.ID, queue.StatusRunning, queue.StatusFailed, queue.TransitionFields{
		ClearWorker:    true,
		ClearHeartbeat: true,
		ErrorMessage:   reason,
		SetError:       true,
		Result:         string(encoded),
		SetResult:      true,
		OwnedBy:        p.workerID,
	})
	if err != nil {
		if queue.IsConflict(err) {
			logger.Info("failure lost to another actor",
				logging.String(logging.FieldEventType, "failure_conflict"),
			)
			return
		}
		logger.Error("failed to mark job failed", logging.Error(err))
		return
	}

	willRetry, err := p.store.RetryOrDeadLetter(ctx, job.ID, reason)
	if err != nil {
		logger.Error("retry decision failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "inspect the job row and retry manually"),
		)
		return
	}
	if willRetry {
		logger.Warn("job failed, retry scheduled",
			logging.Int("attempt", job.Attempts+1),
			logging.Int("max_attempts", job.MaxAttempts),
			logging.String(logging.FieldEventType, "job_retry_scheduled"),
		)
		return
	}
	logger.Error("job dead-lettered",
		logging.String("reason", reason),
		logging.String(logging.FieldEventType, "job_dead_letter"),
	)
}
