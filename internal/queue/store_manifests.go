package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const manifestColumns = "id, title, status, scenes_json, metadata_json, timeline_json, incomplete_reason, enriched_at, created_at, updated_at"

// CreateManifest persists a new manifest record in received status.
func (s *Store) CreateManifest(ctx context.Context, record *ManifestRecord) error {
	if record == nil {
		return errors.New("manifest record is nil")
	}
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO manifests (id, title, status, scenes_json, metadata_json, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.Title,
		ManifestReceived,
		record.ScenesJSON,
		nullableString(record.MetadataJSON),
		timestamp,
		timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateManifest, record.ID)
		}
		return fmt.Errorf("insert manifest: %w", err)
	}
	record.Status = ManifestReceived
	record.CreatedAt = now
	record.UpdatedAt = now
	return nil
}

// GetManifest fetches a manifest record by identifier.
func (s *Store) GetManifest(ctx context.Context, id string) (*ManifestRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+manifestColumns+` FROM manifests WHERE id = ?`, id)
	record, err := scanManifest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get manifest: %w", err)
	}
	return record, nil
}

// ListManifests returns all manifests ordered by creation time.
func (s *Store) ListManifests(ctx context.Context) ([]*ManifestRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+manifestColumns+` FROM manifests ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list manifests: %w", err)
	}
	defer rows.Close()

	var records []*ManifestRecord
	for rows.Next() {
		record, err := scanManifest(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// ManifestsByStatus returns manifests matching a status ordered by creation time.
func (s *Store) ManifestsByStatus(ctx context.Context, status ManifestStatus) ([]*ManifestRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT `+manifestColumns+` FROM manifests WHERE status = ? ORDER BY created_at, id`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("query manifests by status: %w", err)
	}
	defer rows.Close()

	var records []*ManifestRecord
	for rows.Next() {
		record, err := scanManifest(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// TransitionManifest atomically advances a manifest's status, mirroring the
// job transition guard.
func (s *Store) TransitionManifest(ctx context.Context, id string, expected, next ManifestStatus) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE manifests SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		next,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		expected,
	)
	if err != nil {
		return fmt.Errorf("transition manifest %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: manifest %s not in %s", ErrConflict, id, expected)
	}
	return nil
}

// SetTimeline writes the enrichment output exactly once. A manifest that was
// already enriched reports ErrConflict; enrichment is never re-applied.
func (s *Store) SetTimeline(ctx context.Context, id, timelineJSON string, status ManifestStatus, incompleteReason string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE manifests
        SET status = ?, timeline_json = ?, incomplete_reason = ?, enriched_at = ?, updated_at = ?
        WHERE id = ? AND enriched_at IS NULL`,
		status,
		timelineJSON,
		nullableString(incompleteReason),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("set timeline %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: manifest %s already enriched", ErrConflict, id)
	}
	return nil
}

// ResetEnrichment clears a manifest's enrichment output and returns it to
// decomposed so a revived job graph can settle and enrich again. Used by the
// operator retry path after dead-lettered jobs are reset.
func (s *Store) ResetEnrichment(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE manifests
        SET status = ?, timeline_json = NULL, incomplete_reason = NULL, enriched_at = NULL, updated_at = ?
        WHERE id = ?`,
		ManifestDecomposed,
		now,
		id,
	)
	if err != nil {
		return fmt.Errorf("reset enrichment %s: %w", id, err)
	}
	return nil
}

func scanManifest(scanner interface{ Scan(dest ...any) error }) (*ManifestRecord, error) {
	var (
		id               string
		title            string
		statusStr        string
		scenes           string
		metadata         sql.NullString
		timeline         sql.NullString
		incompleteReason sql.NullString
		enrichedRaw      sql.NullString
		createdRaw       sql.NullString
		updatedRaw       sql.NullString
	)
	if err := scanner.Scan(
		&id,
		&title,
		&statusStr,
		&scenes,
		&metadata,
		&timeline,
		&incompleteReason,
		&enrichedRaw,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	record := &ManifestRecord{
		ID:               id,
		Title:            title,
		Status:           ManifestStatus(statusStr),
		ScenesJSON:       scenes,
		MetadataJSON:     metadata.String,
		TimelineJSON:     timeline.String,
		IncompleteReason: incompleteReason.String,
	}
	record.EnrichedAt = parseNullableTime(enrichedRaw)
	if created, err := parseTimeString(createdRaw.String); err == nil {
		record.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		record.UpdatedAt = updated
	}
	return record, nil
}
