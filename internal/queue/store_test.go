package queue_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"fabrick/internal/queue"
	"fabrick/internal/testsupport"
)

func seedJob(id, manifestID, sceneID string, deps ...string) *queue.Job {
	return &queue.Job{
		ID:          id,
		ManifestID:  manifestID,
		SceneID:     sceneID,
		Type:        queue.TypeNarrationAudio,
		Payload:     "{}",
		DependsOn:   deps,
		MaxAttempts: 3,
		RetryPolicy: queue.RetryPolicy{BackoffSeconds: 30, MaxBackoffSeconds: 600},
	}
}

func seedManifest(t *testing.T, store *queue.Store, id string) {
	t.Helper()
	testsupport.NewManifestRecord(t, store, &queue.ManifestRecord{
		ID:         id,
		Title:      "Test " + id,
		ScenesJSON: "[]",
	})
}

func TestCreateJobRejectsDuplicates(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedManifest(t, store, "m1")

	job := seedJob("m1:s1:narration_audio", "m1", "s1")
	testsupport.NewJob(t, store, job)

	dup := seedJob("m1:s1:narration_audio", "m1", "s1")
	err := store.CreateJob(ctx, dup)
	if !errors.Is(err, queue.ErrDuplicateJob) {
		t.Fatalf("expected ErrDuplicateJob, got %v", err)
	}

	fetched, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched == nil || fetched.Status != queue.StatusPending {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}
}

func TestClaimResolvesRaceToOneWinner(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedManifest(t, store, "m1")

	job := seedJob("m1:s1:narration_audio", "m1", "s1")
	testsupport.NewJob(t, store, job)
	if err := store.Transition(ctx, job.ID, queue.StatusPending, queue.StatusReady, queue.TransitionFields{}); err != nil {
		t.Fatalf("promote to ready: %v", err)
	}

	if err := store.Claim(ctx, job.ID, "worker-a"); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	err := store.Claim(ctx, job.ID, "worker-b")
	if !queue.IsConflict(err) {
		t.Fatalf("expected conflict on second claim, got %v", err)
	}

	fetched, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.WorkerID != "worker-a" {
		t.Fatalf("expected worker-a to own the job, got %q", fetched.WorkerID)
	}
	if fetched.HeartbeatAt == nil || fetched.StartedAt == nil {
		t.Fatal("claim should stamp heartbeat and start timestamps")
	}
}

func TestTransitionRejectsDeadLetteredJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedManifest(t, store, "m1")

	job := seedJob("m1:s1:narration_audio", "m1", "s1")
	testsupport.NewJob(t, store, job)
	if err := store.MarkDeadLetter(ctx, job.ID, "cancelled by operator"); err != nil {
		t.Fatalf("MarkDeadLetter failed: %v", err)
	}

	err := store.Transition(ctx, job.ID, queue.StatusDeadLetter, queue.StatusReady, queue.TransitionFields{})
	if !queue.IsConflict(err) {
		t.Fatalf("expected conflict transitioning a dead-lettered job, got %v", err)
	}
}

func TestRetryScheduleAndDeadLetter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedManifest(t, store, "m1")

	job := seedJob("m1:s1:narration_audio", "m1", "s1")
	testsupport.NewJob(t, store, job)

	expectedDelays := []time.Duration{30 * time.Second, 60 * time.Second}
	for attempt, want := range expectedDelays {
		if err := store.Transition(ctx, job.ID, queue.StatusPending, queue.StatusFailed, queue.TransitionFields{}); err != nil {
			t.Fatalf("force failed status: %v", err)
		}
		before := time.Now()
		willRetry, err := store.RetryOrDeadLetter(ctx, job.ID, fmt.Sprintf("boom %d", attempt+1))
		if err != nil {
			t.Fatalf("RetryOrDeadLetter failed: %v", err)
		}
		if !willRetry {
			t.Fatalf("attempt %d should schedule a retry", attempt+1)
		}

		fetched, err := store.GetJob(ctx, job.ID)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if fetched.Status != queue.StatusReady {
			t.Fatalf("retried job should be ready, got %s", fetched.Status)
		}
		if fetched.Attempts != attempt+1 {
			t.Fatalf("expected %d attempts, got %d", attempt+1, fetched.Attempts)
		}
		if fetched.NextRetryAt == nil {
			t.Fatal("retried job should carry next_retry_at")
		}
		delay := fetched.NextRetryAt.Sub(before)
		if delay < want-2*time.Second || delay > want+2*time.Second {
			t.Fatalf("attempt %d: expected backoff near %s, got %s", attempt+1, want, delay)
		}

		// Back to pending so the next round can force failed again.
		if err := store.Transition(ctx, job.ID, queue.StatusReady, queue.StatusPending, queue.TransitionFields{ClearNextRetry: true}); err != nil {
			t.Fatalf("reset to pending: %v", err)
		}
	}

	if err := store.Transition(ctx, job.ID, queue.StatusPending, queue.StatusFailed, queue.TransitionFields{}); err != nil {
		t.Fatalf("force failed status: %v", err)
	}
	willRetry, err := store.RetryOrDeadLetter(ctx, job.ID, "boom 3")
	if err != nil {
		t.Fatalf("RetryOrDeadLetter failed: %v", err)
	}
	if willRetry {
		t.Fatal("third failure should dead-letter, not retry")
	}
	fetched, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if !fetched.IsDeadLetter || fetched.Status != queue.StatusDeadLetter {
		t.Fatalf("expected dead-lettered job, got %#v", fetched)
	}
	if fetched.Attempts != 3 {
		t.Fatalf("expected 3 attempts recorded, got %d", fetched.Attempts)
	}
	if fetched.DeadLetterReason != "boom 3" {
		t.Fatalf("unexpected dead letter reason %q", fetched.DeadLetterReason)
	}
}

func TestGetReadyJobsExcludesFutureRetries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedManifest(t, store, "m1")

	ready := seedJob("m1:s1:narration_audio", "m1", "s1")
	testsupport.NewJob(t, store, ready)
	if err := store.Transition(ctx, ready.ID, queue.StatusPending, queue.StatusReady, queue.TransitionFields{}); err != nil {
		t.Fatalf("promote ready: %v", err)
	}

	backedOff := seedJob("m1:s2:narration_audio", "m1", "s2")
	testsupport.NewJob(t, store, backedOff)
	future := time.Now().Add(time.Hour)
	if err := store.Transition(ctx, backedOff.ID, queue.StatusPending, queue.StatusReady, queue.TransitionFields{NextRetryAt: &future}); err != nil {
		t.Fatalf("promote with backoff: %v", err)
	}

	jobs, err := store.GetReadyJobs(ctx, queue.TypeNarrationAudio, 10)
	if err != nil {
		t.Fatalf("GetReadyJobs failed: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != ready.ID {
		t.Fatalf("expected only the immediately ready job, got %d jobs", len(jobs))
	}
}

func TestPromoteReadyWaitsForDependencies(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedManifest(t, store, "m1")

	upstream := seedJob("m1:s1:narration_audio", "m1", "s1")
	testsupport.NewJob(t, store, upstream)
	downstream := seedJob("m1:s1:caption_overlay", "m1", "s1", upstream.ID)
	downstream.Type = queue.TypeCaptionOverlay
	testsupport.NewJob(t, store, downstream)

	promoted, err := store.PromoteReady(ctx)
	if err != nil {
		t.Fatalf("PromoteReady failed: %v", err)
	}
	if promoted != 1 {
		t.Fatalf("expected 1 promotion (no dependencies), got %d", promoted)
	}

	fetched, err := store.GetJob(ctx, downstream.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.Status != queue.StatusPending {
		t.Fatalf("dependent job should stay pending, got %s", fetched.Status)
	}

	if err := store.Transition(ctx, upstream.ID, queue.StatusReady, queue.StatusCompleted, queue.TransitionFields{}); err != nil {
		t.Fatalf("complete upstream: %v", err)
	}
	promoted, err = store.PromoteReady(ctx)
	if err != nil {
		t.Fatalf("PromoteReady failed: %v", err)
	}
	if promoted != 1 {
		t.Fatalf("expected dependent promotion, got %d", promoted)
	}
	fetched, err = store.GetJob(ctx, downstream.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.Status != queue.StatusReady {
		t.Fatalf("dependent job should be ready, got %s", fetched.Status)
	}
}

func TestDeadLetterCascadesToDependents(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedManifest(t, store, "m1")

	root := seedJob("m1:s1:narration_audio", "m1", "s1")
	root.MaxAttempts = 1
	testsupport.NewJob(t, store, root)
	mid := seedJob("m1:s1:caption_overlay", "m1", "s1", root.ID)
	mid.Type = queue.TypeCaptionOverlay
	testsupport.NewJob(t, store, mid)
	leaf := seedJob("m1:s1:lip_sync", "m1", "s1", mid.ID)
	leaf.Type = queue.TypeLipSync
	testsupport.NewJob(t, store, leaf)
	unrelated := seedJob("m1:s2:narration_audio", "m1", "s2")
	testsupport.NewJob(t, store, unrelated)

	if err := store.Transition(ctx, root.ID, queue.StatusPending, queue.StatusFailed, queue.TransitionFields{}); err != nil {
		t.Fatalf("force failed status: %v", err)
	}
	willRetry, err := store.RetryOrDeadLetter(ctx, root.ID, "provider exploded")
	if err != nil {
		t.Fatalf("RetryOrDeadLetter failed: %v", err)
	}
	if willRetry {
		t.Fatal("single-attempt job should dead-letter immediately")
	}

	for _, id := range []string{mid.ID, leaf.ID} {
		fetched, err := store.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if !fetched.IsDeadLetter {
			t.Fatalf("job %s should be cascade dead-lettered", id)
		}
		if fetched.DeadLetterReason != queue.UpstreamFailureReason {
			t.Fatalf("job %s: unexpected reason %q", id, fetched.DeadLetterReason)
		}
	}

	fetched, err := store.GetJob(ctx, unrelated.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.IsDeadLetter {
		t.Fatal("unrelated job must not be dead-lettered by the cascade")
	}
}

func TestResetDeadLetterRevivesCascadeVictims(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedManifest(t, store, "m1")

	root := seedJob("m1:s1:narration_audio", "m1", "s1")
	root.MaxAttempts = 1
	testsupport.NewJob(t, store, root)
	dependent := seedJob("m1:s1:caption_overlay", "m1", "s1", root.ID)
	dependent.Type = queue.TypeCaptionOverlay
	testsupport.NewJob(t, store, dependent)
	cancelled := seedJob("m1:s2:narration_audio", "m1", "s2")
	testsupport.NewJob(t, store, cancelled)

	if err := store.Transition(ctx, root.ID, queue.StatusPending, queue.StatusFailed, queue.TransitionFields{}); err != nil {
		t.Fatalf("force failed status: %v", err)
	}
	if _, err := store.RetryOrDeadLetter(ctx, root.ID, "provider exploded"); err != nil {
		t.Fatalf("RetryOrDeadLetter failed: %v", err)
	}
	if err := store.MarkDeadLetter(ctx, cancelled.ID, "cancelled by operator"); err != nil {
		t.Fatalf("MarkDeadLetter failed: %v", err)
	}

	if err := store.ResetDeadLetter(ctx, root.ID); err != nil {
		t.Fatalf("ResetDeadLetter failed: %v", err)
	}

	for _, id := range []string{root.ID, dependent.ID} {
		fetched, err := store.GetJob(ctx, id)
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if fetched.IsDeadLetter || fetched.Status != queue.StatusPending || fetched.Attempts != 0 {
			t.Fatalf("job %s should be revived as pending with a fresh budget, got %#v", id, fetched)
		}
	}

	fetched, err := store.GetJob(ctx, cancelled.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if !fetched.IsDeadLetter {
		t.Fatal("operator-cancelled job must stay dead-lettered")
	}
}

func TestReapStaleWorkersKeepsAttempts(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedManifest(t, store, "m1")

	job := seedJob("m1:s1:narration_audio", "m1", "s1")
	testsupport.NewJob(t, store, job)
	if err := store.Transition(ctx, job.ID, queue.StatusPending, queue.StatusReady, queue.TransitionFields{}); err != nil {
		t.Fatalf("promote ready: %v", err)
	}
	if err := store.Claim(ctx, job.ID, "worker-a"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// Cutoff in the future makes the fresh heartbeat look expired.
	reclaimed, err := store.ReapStaleWorkers(ctx, time.Now().Add(time.Minute), false)
	if err != nil {
		t.Fatalf("ReapStaleWorkers failed: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", reclaimed)
	}

	fetched, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.Status != queue.StatusReady {
		t.Fatalf("reclaimed job should be ready, got %s", fetched.Status)
	}
	if fetched.WorkerID != "" || fetched.HeartbeatAt != nil {
		t.Fatalf("reclaimed job should drop ownership, got worker=%q", fetched.WorkerID)
	}
	if fetched.Attempts != 0 {
		t.Fatalf("reclamation must not charge attempts, got %d", fetched.Attempts)
	}
}

func TestReapStaleWorkersCountingAttemptsCanDeadLetter(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedManifest(t, store, "m1")

	job := seedJob("m1:s1:narration_audio", "m1", "s1")
	job.MaxAttempts = 1
	testsupport.NewJob(t, store, job)
	if err := store.Transition(ctx, job.ID, queue.StatusPending, queue.StatusReady, queue.TransitionFields{}); err != nil {
		t.Fatalf("promote ready: %v", err)
	}
	if err := store.Claim(ctx, job.ID, "worker-a"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	reclaimed, err := store.ReapStaleWorkers(ctx, time.Now().Add(time.Minute), true)
	if err != nil {
		t.Fatalf("ReapStaleWorkers failed: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed job, got %d", reclaimed)
	}

	fetched, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if !fetched.IsDeadLetter {
		t.Fatal("charged reclamation at the budget should dead-letter")
	}
}

func TestStaleHeartbeatCannotReviveReclaimedJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedManifest(t, store, "m1")

	job := seedJob("m1:s1:narration_audio", "m1", "s1")
	testsupport.NewJob(t, store, job)
	if err := store.Transition(ctx, job.ID, queue.StatusPending, queue.StatusReady, queue.TransitionFields{}); err != nil {
		t.Fatalf("promote ready: %v", err)
	}
	if err := store.Claim(ctx, job.ID, "worker-a"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if _, err := store.ReapStaleWorkers(ctx, time.Now().Add(time.Minute), false); err != nil {
		t.Fatalf("ReapStaleWorkers failed: %v", err)
	}

	if err := store.UpdateHeartbeat(ctx, job.ID, "worker-a"); err != nil {
		t.Fatalf("UpdateHeartbeat failed: %v", err)
	}
	fetched, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.HeartbeatAt != nil {
		t.Fatal("heartbeat from the previous owner must not land after reclamation")
	}
}

func TestManifestTimelineWritesOnce(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedManifest(t, store, "m1")

	if err := store.TransitionManifest(ctx, "m1", queue.ManifestReceived, queue.ManifestDecomposed); err != nil {
		t.Fatalf("TransitionManifest failed: %v", err)
	}
	if err := store.SetTimeline(ctx, "m1", `[{"sceneId":"s1"}]`, queue.ManifestEnriched, ""); err != nil {
		t.Fatalf("SetTimeline failed: %v", err)
	}

	err := store.SetTimeline(ctx, "m1", `[]`, queue.ManifestEnriched, "")
	if !queue.IsConflict(err) {
		t.Fatalf("expected conflict on second enrichment, got %v", err)
	}

	record, err := store.GetManifest(ctx, "m1")
	if err != nil {
		t.Fatalf("GetManifest failed: %v", err)
	}
	if record.TimelineJSON != `[{"sceneId":"s1"}]` {
		t.Fatalf("timeline should keep the first write, got %q", record.TimelineJSON)
	}
	if record.EnrichedAt == nil {
		t.Fatal("enriched manifest should carry enriched_at")
	}

	if err := store.ResetEnrichment(ctx, "m1"); err != nil {
		t.Fatalf("ResetEnrichment failed: %v", err)
	}
	record, err = store.GetManifest(ctx, "m1")
	if err != nil {
		t.Fatalf("GetManifest failed: %v", err)
	}
	if record.Status != queue.ManifestDecomposed || record.EnrichedAt != nil {
		t.Fatalf("reset manifest should return to decomposed, got %#v", record)
	}
}

func TestOwnershipConditionedTransition(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	seedManifest(t, store, "m1")

	job := seedJob("m1:s1:narration_audio", "m1", "s1")
	testsupport.NewJob(t, store, job)
	if err := store.Transition(ctx, job.ID, queue.StatusPending, queue.StatusReady, queue.TransitionFields{}); err != nil {
		t.Fatalf("promote to ready: %v", err)
	}
	if err := store.Claim(ctx, job.ID, "worker-a"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// A previous owner whose job was reclaimed and re-claimed must not be
	// able to finish it out from under the current one.
	err := store.Transition(ctx, job.ID, queue.StatusRunning, queue.StatusCompleted, queue.TransitionFields{
		ClearWorker: true,
		OwnedBy:     "worker-b",
	})
	if !queue.IsConflict(err) {
		t.Fatalf("expected conflict for non-owner completion, got %v", err)
	}

	fetched, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if fetched.Status != queue.StatusRunning || fetched.WorkerID != "worker-a" {
		t.Fatalf("non-owner must not alter the job, got %#v", fetched)
	}

	if err := store.Transition(ctx, job.ID, queue.StatusRunning, queue.StatusCompleted, queue.TransitionFields{
		ClearWorker: true,
		OwnedBy:     "worker-a",
	}); err != nil {
		t.Fatalf("owner completion failed: %v", err)
	}
}
