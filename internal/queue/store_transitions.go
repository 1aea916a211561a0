package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TransitionFields carries the optional columns a transition may set. A nil
// pointer leaves the column unchanged; the Clear flags null it out.
type TransitionFields struct {
	WorkerID       string
	SetWorker      bool
	ClearWorker    bool
	HeartbeatAt    *time.Time
	ClearHeartbeat bool
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Result         string
	SetResult      bool
	OutputURL      string
	SetOutputURL   bool
	ErrorMessage   string
	SetError       bool
	NextRetryAt    *time.Time
	ClearNextRetry bool

	// OwnedBy, when set, additionally conditions the update on the job
	// still belonging to that worker, so a reaped-and-reclaimed job cannot
	// be finished by its previous owner.
	OwnedBy string
}

// Transition atomically moves a job from expected to next, applying fields in
// the same statement. It returns ErrConflict when the job's current status is
// not expected (including when another actor already dead-lettered it), and
// ErrNotFound when the job does not exist. Every status change in the system
// goes through here.
func (s *Store) Transition(ctx context.Context, jobID string, expected, next Status, fields TransitionFields) error {
	set := []string{"status = ?", "updated_at = ?"}
	args := []any{next, time.Now().UTC().Format(time.RFC3339Nano)}

	if fields.SetWorker {
		set = append(set, "worker_id = ?")
		args = append(args, fields.WorkerID)
	} else if fields.ClearWorker {
		set = append(set, "worker_id = NULL")
	}
	if fields.HeartbeatAt != nil {
		set = append(set, "heartbeat_at = ?")
		args = append(args, nullableTime(fields.HeartbeatAt))
	} else if fields.ClearHeartbeat {
		set = append(set, "heartbeat_at = NULL")
	}
	if fields.StartedAt != nil {
		set = append(set, "started_at = ?")
		args = append(args, nullableTime(fields.StartedAt))
	}
	if fields.CompletedAt != nil {
		set = append(set, "completed_at = ?")
		args = append(args, nullableTime(fields.CompletedAt))
	}
	if fields.SetResult {
		set = append(set, "result_json = ?")
		args = append(args, nullableString(fields.Result))
	}
	if fields.SetOutputURL {
		set = append(set, "output_url = ?")
		args = append(args, nullableString(fields.OutputURL))
	}
	if fields.SetError {
		set = append(set, "error_message = ?")
		args = append(args, nullableString(fields.ErrorMessage))
	}
	if fields.NextRetryAt != nil {
		set = append(set, "next_retry_at = ?")
		args = append(args, nullableTime(fields.NextRetryAt))
	} else if fields.ClearNextRetry {
		set = append(set, "next_retry_at = NULL")
	}

	where := `WHERE id = ? AND status = ? AND is_dead_letter = 0`
	args = append(args, jobID, expected)
	if fields.OwnedBy != "" {
		where += ` AND worker_id = ?`
		args = append(args, fields.OwnedBy)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET `+strings.Join(set, ", ")+` `+where,
		args...,
	)
	if err != nil {
		return fmt.Errorf("transition %s: %w", jobID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	current, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if fields.OwnedBy != "" && current.Status == expected && current.WorkerID != fields.OwnedBy {
		return fmt.Errorf("%w: job %s is owned by %q, not %q", ErrConflict, jobID, current.WorkerID, fields.OwnedBy)
	}
	return fmt.Errorf("%w: job %s is %s, expected %s", ErrConflict, jobID, current.Status, expected)
}

// Claim is the ready-to-running transition a worker performs to take
// ownership. Exactly one concurrent caller wins; the rest get ErrConflict.
func (s *Store) Claim(ctx context.Context, jobID, workerID string) error {
	now := time.Now().UTC()
	return s.Transition(ctx, jobID, StatusReady, StatusRunning, TransitionFields{
		WorkerID:       workerID,
		SetWorker:      true,
		HeartbeatAt:    &now,
		StartedAt:      &now,
		ClearNextRetry: true,
	})
}

// RetryOrDeadLetter decides what happens to a failed job: schedule a retry
// with capped exponential backoff, or dead-letter it and cascade the failure
// to every dependent so none is left waiting forever. The returned flag
// reports whether the job will be retried.
func (s *Store) RetryOrDeadLetter(ctx context.Context, jobID, reason string) (bool, error) {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if job.IsDeadLetter {
		return false, nil
	}

	attempts := job.Attempts + 1
	now := time.Now().UTC()

	if attempts < job.MaxAttempts {
		retryAt := now.Add(job.RetryPolicy.Backoff(attempts))
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs
            SET status = ?, attempts = ?, next_retry_at = ?, worker_id = NULL,
                heartbeat_at = NULL, error_message = ?, updated_at = ?
            WHERE id = ? AND status = ? AND is_dead_letter = 0`,
			StatusReady,
			attempts,
			retryAt.Format(time.RFC3339Nano),
			nullableString(reason),
			now.Format(time.RFC3339Nano),
			jobID,
			StatusFailed,
		)
		if err != nil {
			return false, fmt.Errorf("schedule retry for %s: %w", jobID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		if affected == 0 {
			return false, fmt.Errorf("%w: job %s is no longer failed", ErrConflict, jobID)
		}
		return true, nil
	}

	if err := s.deadLetter(ctx, jobID, reason, attempts); err != nil {
		return false, err
	}
	return false, nil
}

// MarkDeadLetter terminally fails a job regardless of its current status and
// cascades to dependents. It is used for external cancellation and by the
// retry policy when the attempt budget is exhausted.
func (s *Store) MarkDeadLetter(ctx context.Context, jobID, reason string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if job.IsDeadLetter {
		return nil
	}
	return s.deadLetter(ctx, jobID, reason, job.Attempts)
}

func (s *Store) deadLetter(ctx context.Context, jobID, reason string, attempts int) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
        SET status = ?, attempts = ?, is_dead_letter = 1, dead_letter_reason = ?,
            worker_id = NULL, heartbeat_at = NULL, next_retry_at = NULL, updated_at = ?
        WHERE id = ? AND is_dead_letter = 0`,
		StatusDeadLetter,
		attempts,
		nullableString(reason),
		now,
		jobID,
	)
	if err != nil {
		return fmt.Errorf("dead-letter %s: %w", jobID, err)
	}
	return s.cascadeDeadLetter(ctx, jobID)
}

// cascadeDeadLetter walks the dependency graph downstream from the failed job
// and dead-letters every non-completed dependent, recursively.
func (s *Store) cascadeDeadLetter(ctx context.Context, jobID string) error {
	failed, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if failed == nil {
		return nil
	}
	jobs, err := s.JobsByManifest(ctx, failed.ManifestID)
	if err != nil {
		return err
	}

	dependents := make(map[string][]*Job)
	for _, job := range jobs {
		for _, dep := range job.DependsOn {
			dependents[dep] = append(dependents[dep], job)
		}
	}

	frontier := []string{jobID}
	visited := map[string]struct{}{jobID: {}}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, dep := range dependents[next] {
			if _, seen := visited[dep.ID]; seen {
				continue
			}
			visited[dep.ID] = struct{}{}
			if dep.Status == StatusCompleted || dep.IsDeadLetter {
				continue
			}
			_, err := s.db.ExecContext(
				ctx,
				`UPDATE jobs
                SET status = ?, is_dead_letter = 1, dead_letter_reason = ?,
                    worker_id = NULL, heartbeat_at = NULL, next_retry_at = NULL, updated_at = ?
                WHERE id = ? AND is_dead_letter = 0 AND status != ?`,
				StatusDeadLetter,
				UpstreamFailureReason,
				now,
				dep.ID,
				StatusCompleted,
			)
			if err != nil {
				return fmt.Errorf("cascade dead-letter %s: %w", dep.ID, err)
			}
			frontier = append(frontier, dep.ID)
		}
	}
	return nil
}

// UpdateHeartbeat refreshes the liveness timestamp for a running job. The
// update is conditioned on ownership so a reclaimed job cannot be revived by
// its previous worker's stale heartbeat loop.
func (s *Store) UpdateHeartbeat(ctx context.Context, jobID, workerID string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs SET heartbeat_at = ?, updated_at = ?
        WHERE id = ? AND worker_id = ? AND status = ?`,
		now, now, jobID, workerID, StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReapStaleWorkers returns running jobs with expired heartbeats to the ready
// pool. By default the attempt counter is untouched: the job never got a fair
// chance to fail. With countAttempt set, reclamation is charged like a failed
// attempt and can dead-letter a job at the budget.
func (s *Store) ReapStaleWorkers(ctx context.Context, cutoff time.Time, countAttempt bool) (int64, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
        WHERE status = ? AND heartbeat_at IS NOT NULL AND heartbeat_at < ?`,
		StatusRunning,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("query stale jobs: %w", err)
	}
	stale := make([]*Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			rows.Close()
			return 0, err
		}
		stale = append(stale, job)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var reclaimed int64
	now := time.Now().UTC()
	for _, job := range stale {
		attempts := job.Attempts
		if countAttempt {
			attempts++
			if attempts >= job.MaxAttempts {
				if err := s.deadLetter(ctx, job.ID, "worker lost and attempt budget exhausted", attempts); err != nil {
					return reclaimed, err
				}
				reclaimed++
				continue
			}
		}
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs
            SET status = ?, attempts = ?, worker_id = NULL, heartbeat_at = NULL, updated_at = ?
            WHERE id = ? AND status = ? AND is_dead_letter = 0`,
			StatusReady,
			attempts,
			now.Format(time.RFC3339Nano),
			job.ID,
			StatusRunning,
		)
		if err != nil {
			return reclaimed, fmt.Errorf("reclaim job %s: %w", job.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return reclaimed, err
		}
		reclaimed += affected
	}
	return reclaimed, nil
}

// ResetDeadLetter is the operator escape hatch: it revives a dead-lettered
// job with a fresh attempt budget and re-pends dependents that were killed by
// the cascade, so a fixed upstream can be retried without resubmitting the
// whole manifest.
func (s *Store) ResetDeadLetter(ctx context.Context, jobID string) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return fmt.Errorf("%w: job %s", ErrNotFound, jobID)
	}
	if !job.IsDeadLetter {
		return fmt.Errorf("%w: job %s is not dead-lettered", ErrConflict, jobID)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
        SET status = ?, attempts = 0, is_dead_letter = 0, dead_letter_reason = NULL,
            error_message = NULL, next_retry_at = NULL, updated_at = ?
        WHERE id = ?`,
		StatusPending, now, jobID,
	); err != nil {
		return fmt.Errorf("reset dead-letter %s: %w", jobID, err)
	}

	// Revive cascade victims downstream of this job.
	jobs, err := s.JobsByManifest(ctx, job.ManifestID)
	if err != nil {
		return err
	}
	dependents := make(map[string][]*Job)
	for _, j := range jobs {
		for _, dep := range j.DependsOn {
			dependents[dep] = append(dependents[dep], j)
		}
	}
	frontier := []string{jobID}
	visited := map[string]struct{}{jobID: {}}
	for len(frontier) > 0 {
		next := frontier[0]
		frontier = frontier[1:]
		for _, dep := range dependents[next] {
			if _, seen := visited[dep.ID]; seen {
				continue
			}
			visited[dep.ID] = struct{}{}
			if !dep.IsDeadLetter || dep.DeadLetterReason != UpstreamFailureReason {
				continue
			}
			if _, err := s.db.ExecContext(
				ctx,
				`UPDATE jobs
                SET status = ?, attempts = 0, is_dead_letter = 0, dead_letter_reason = NULL,
                    error_message = NULL, next_retry_at = NULL, updated_at = ?
                WHERE id = ? AND is_dead_letter = 1`,
				StatusPending, now, dep.ID,
			); err != nil {
				return fmt.Errorf("revive dependent %s: %w", dep.ID, err)
			}
			frontier = append(frontier, dep.ID)
		}
	}
	return nil
}

// IsConflict reports whether err represents a lost transition race.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
