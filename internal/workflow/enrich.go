package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"fabrick/internal/logging"
	"fabrick/internal/manifest"
	"fabrick/internal/queue"
	"fabrick/internal/timeline"
)

// EnrichSettled walks decomposed manifests and enriches every one whose jobs
// have all reached a terminal state. Manifests with unsettled jobs are left
// for the next sweep. The background enricher loop calls this periodically.
func (m *Manager) EnrichSettled(ctx context.Context) error {
	return m.enrichSettled(ctx, logging.NewComponentLogger(m.logger, "enricher"))
}

func (m *Manager) enrichSettled(ctx context.Context, logger *slog.Logger) error {
	manifests, err := m.store.ManifestsByStatus(ctx, queue.ManifestDecomposed)
	if err != nil {
		return err
	}
	for _, record := range manifests {
		if err := m.enrichManifest(ctx, logger, record); err != nil {
			if queue.IsConflict(err) {
				continue
			}
			return err
		}
	}
	return nil
}

func (m *Manager) enrichManifest(ctx context.Context, logger *slog.Logger, record *queue.ManifestRecord) error {
	jobs, err := m.store.JobsByManifest(ctx, record.ID)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		return nil
	}
	for _, job := range jobs {
		if !job.Status.IsTerminal() {
			return nil
		}
	}

	var scenes []manifest.Scene
	if err := json.Unmarshal([]byte(record.ScenesJSON), &scenes); err != nil {
		return fmt.Errorf("decode scenes for manifest %s: %w", record.ID, err)
	}

	states := sceneStates(jobs)
	entries := timeline.Enrich(scenes, states)
	encoded, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("encode timeline for manifest %s: %w", record.ID, err)
	}

	status := queue.ManifestEnriched
	reason := ""
	if !timeline.Complete(entries) {
		status = queue.ManifestIncomplete
		incomplete := 0
		for _, e := range entries {
			if e.Incomplete {
				incomplete++
				if reason == "" {
					reason = fmt.Sprintf("scene %s: %s", e.SceneID, e.Reason)
				}
			}
		}
		reason = fmt.Sprintf("%d of %d scenes incomplete (%s)", incomplete, len(entries), reason)
	}

	if err := m.store.SetTimeline(ctx, record.ID, string(encoded), status, reason); err != nil {
		return err
	}

	logger.Info("manifest enriched",
		logging.String(logging.FieldManifestID, record.ID),
		logging.String("status", string(status)),
		logging.Int("scenes", len(entries)),
		logging.String(logging.FieldEventType, "manifest_enriched"),
	)
	return nil
}

// sceneStates reduces a manifest's job rows to per-scene completion. A scene
// is complete only when every one of its jobs completed; any dead-lettered
// job marks it incomplete with the surfaced reason.
func sceneStates(jobs []*queue.Job) map[string]timeline.SceneState {
	states := make(map[string]timeline.SceneState)
	for _, job := range jobs {
		state, seen := states[job.SceneID]
		if !seen {
			state = timeline.SceneState{Complete: true}
		}
		if job.IsDeadLetter {
			state.Complete = false
			if state.Reason == "" {
				state.Reason = job.DeadLetterReason
			}
		} else if job.Status != queue.StatusCompleted {
			state.Complete = false
		}
		states[job.SceneID] = state
	}
	return states
}
