package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"fabrick/internal/config"
)

// Store manages job and manifest persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the job database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.DataDir, "fabrick.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the on-disk location of the database.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

const jobColumns = "id, manifest_id, scene_id, type, payload_json, status, priority, depends_on_json, attempts, max_attempts, backoff_seconds, max_backoff_seconds, worker_id, heartbeat_at, started_at, completed_at, result_json, output_url, error_message, is_dead_letter, dead_letter_reason, next_retry_at, created_at, updated_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id               string
		manifestID       string
		sceneID          string
		jobType          string
		payload          sql.NullString
		statusStr        string
		priority         int
		dependsOn        sql.NullString
		attempts         int
		maxAttempts      int
		backoffSeconds   int
		maxBackoff       int
		workerID         sql.NullString
		heartbeatRaw     sql.NullString
		startedRaw       sql.NullString
		completedRaw     sql.NullString
		result           sql.NullString
		outputURL        sql.NullString
		errorMessage     sql.NullString
		isDeadLetter     sql.NullInt64
		deadLetterReason sql.NullString
		nextRetryRaw     sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&manifestID,
		&sceneID,
		&jobType,
		&payload,
		&statusStr,
		&priority,
		&dependsOn,
		&attempts,
		&maxAttempts,
		&backoffSeconds,
		&maxBackoff,
		&workerID,
		&heartbeatRaw,
		&startedRaw,
		&completedRaw,
		&result,
		&outputURL,
		&errorMessage,
		&isDeadLetter,
		&deadLetterReason,
		&nextRetryRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:          id,
		ManifestID:  manifestID,
		SceneID:     sceneID,
		Type:        jobType,
		Payload:     payload.String,
		Status:      Status(statusStr),
		Priority:    priority,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
		RetryPolicy: RetryPolicy{
			BackoffSeconds:    backoffSeconds,
			MaxBackoffSeconds: maxBackoff,
		},
		WorkerID:         workerID.String,
		Result:           result.String,
		OutputURL:        outputURL.String,
		ErrorMessage:     errorMessage.String,
		DeadLetterReason: deadLetterReason.String,
	}
	if isDeadLetter.Valid {
		job.IsDeadLetter = isDeadLetter.Int64 != 0
	}
	if dependsOn.Valid && dependsOn.String != "" {
		if err := json.Unmarshal([]byte(dependsOn.String), &job.DependsOn); err != nil {
			return nil, fmt.Errorf("decode depends_on for %s: %w", id, err)
		}
	}

	job.HeartbeatAt = parseNullableTime(heartbeatRaw)
	job.StartedAt = parseNullableTime(startedRaw)
	job.CompletedAt = parseNullableTime(completedRaw)
	job.NextRetryAt = parseNullableTime(nextRetryRaw)
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(raw sql.NullString) *time.Time {
	if !raw.Valid {
		return nil
	}
	t, err := parseTimeString(raw.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
