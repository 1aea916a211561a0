package testsupport

import (
	"context"
	"testing"

	"fabrick/internal/config"
	"fabrick/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewJob inserts a minimal job row for tests and returns it.
func NewJob(t testing.TB, store *queue.Store, job *queue.Job) *queue.Job {
	t.Helper()

	if err := store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("store.CreateJob: %v", err)
	}
	return job
}

// NewManifestRecord inserts a manifest record for tests and returns it.
func NewManifestRecord(t testing.TB, store *queue.Store, record *queue.ManifestRecord) *queue.ManifestRecord {
	t.Helper()

	if err := store.CreateManifest(context.Background(), record); err != nil {
		t.Fatalf("store.CreateManifest: %v", err)
	}
	return record
}
