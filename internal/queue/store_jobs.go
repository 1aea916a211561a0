package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateJob inserts a job in pending status. A job whose identifier already
// exists reports ErrDuplicateJob, which makes re-decomposition of an
// already-decomposed manifest an observable no-op.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	var dependsOnJSON any
	if len(job.DependsOn) > 0 {
		encoded, err := json.Marshal(job.DependsOn)
		if err != nil {
			return fmt.Errorf("encode depends_on: %w", err)
		}
		dependsOnJSON = string(encoded)
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, manifest_id, scene_id, type, payload_json, status, priority,
            depends_on_json, attempts, max_attempts, backoff_seconds,
            max_backoff_seconds, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.ManifestID,
		job.SceneID,
		job.Type,
		nullableString(job.Payload),
		StatusPending,
		job.Priority,
		dependsOnJSON,
		0,
		job.MaxAttempts,
		job.RetryPolicy.BackoffSeconds,
		job.RetryPolicy.MaxBackoffSeconds,
		timestamp,
		timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
		}
		return fmt.Errorf("insert job: %w", err)
	}

	job.Status = StatusPending
	job.CreatedAt = now
	job.UpdatedAt = now
	return nil
}

// GetJob fetches a job by identifier.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// GetReadyJobs returns dispatch candidates ordered by priority then age.
// Jobs whose next retry lies in the future are excluded. The result is a
// candidate list, not a claim: callers still race through Transition and the
// loser re-polls.
func (s *Store) GetReadyJobs(ctx context.Context, typeFilter string, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	query := `SELECT ` + jobColumns + ` FROM jobs
        WHERE status = ? AND (next_retry_at IS NULL OR next_retry_at <= ?)`
	args := []any{StatusReady, now}
	if typeFilter != "" {
		query += ` AND type = ?`
		args = append(args, typeFilter)
	}
	query += ` ORDER BY priority DESC, created_at ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query ready jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// JobsByManifest returns every job belonging to a manifest ordered by creation.
func (s *Store) JobsByManifest(ctx context.Context, manifestID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE manifest_id = ? ORDER BY created_at, id`,
		manifestID,
	)
	if err != nil {
		return nil, fmt.Errorf("query manifest jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// List returns jobs filtered by status set (or all jobs when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY created_at, id`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// PromoteReady moves pending jobs whose every dependency completed into the
// ready status. Promotion is expressed through conditioned updates, so a
// concurrent pass over the same rows cannot double-promote.
func (s *Store) PromoteReady(ctx context.Context) (int64, error) {
	pending, err := s.List(ctx, StatusPending)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	statusByID := make(map[string]Status)
	for _, job := range pending {
		for _, dep := range job.DependsOn {
			statusByID[dep] = ""
		}
	}
	if len(statusByID) > 0 {
		ids := make([]any, 0, len(statusByID))
		for id := range statusByID {
			ids = append(ids, id)
		}
		rows, err := s.db.QueryContext(
			ctx,
			`SELECT id, status FROM jobs WHERE id IN (`+makePlaceholders(len(ids))+`)`,
			ids...,
		)
		if err != nil {
			return 0, fmt.Errorf("query dependency statuses: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			var status Status
			if err := rows.Scan(&id, &status); err != nil {
				return 0, err
			}
			statusByID[id] = status
		}
		if err := rows.Err(); err != nil {
			return 0, err
		}
	}

	var promoted int64
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, job := range pending {
		satisfied := true
		for _, dep := range job.DependsOn {
			if statusByID[dep] != StatusCompleted {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}
		res, err := s.db.ExecContext(
			ctx,
			`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
			StatusReady, now, job.ID, StatusPending,
		)
		if err != nil {
			return promoted, fmt.Errorf("promote job %s: %w", job.ID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return promoted, err
		}
		promoted += affected
	}
	return promoted, nil
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusPending:
			health.Pending += count
		case StatusReady:
			health.Ready += count
		case StatusRunning:
			health.Running += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		case StatusDeadLetter:
			health.DeadLetter += count
		}
	}
	return health, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
