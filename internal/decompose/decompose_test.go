package decompose_test

import (
	"errors"
	"testing"

	"fabrick/internal/decompose"
	"fabrick/internal/manifest"
	"fabrick/internal/queue"
)

func sampleManifest() *manifest.Manifest {
	return &manifest.Manifest{
		ID:    "m1",
		Title: "Sample",
		Scenes: []manifest.Scene{
			{
				ID:                "s1",
				Purpose:           "hook",
				Brief:             "Opening scene",
				DurationSeconds:   10,
				RequiredArtifacts: []manifest.ArtifactKind{manifest.ArtifactTalkingAvatar},
			},
			{
				ID:                "s2",
				Purpose:           "body",
				Brief:             "Main scene",
				DurationSeconds:   8,
				RequiredArtifacts: []manifest.ArtifactKind{manifest.ArtifactNarrationAudio, manifest.ArtifactMusicAudio},
			},
		},
	}
}

func opts() decompose.Options {
	return decompose.Options{MaxAttempts: 3, BackoffSeconds: 30, MaxBackoffSeconds: 600}
}

func TestDecomposeExpandsCompositeArtifacts(t *testing.T) {
	jobs, err := decompose.Decompose(sampleManifest(), nil, opts())
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}

	byID := make(map[string]*queue.Job, len(jobs))
	for _, job := range jobs {
		byID[job.ID] = job
	}
	if len(jobs) != 5 {
		t.Fatalf("expected 5 jobs, got %d", len(jobs))
	}

	lipSync, ok := byID["m1:s1:lip_sync"]
	if !ok {
		t.Fatal("talking avatar should produce a lip sync job")
	}
	wantDeps := []string{"m1:s1:base_video", "m1:s1:narration_audio"}
	if len(lipSync.DependsOn) != len(wantDeps) {
		t.Fatalf("unexpected lip sync deps: %v", lipSync.DependsOn)
	}
	for i, dep := range wantDeps {
		if lipSync.DependsOn[i] != dep {
			t.Fatalf("dep %d: expected %s, got %s", i, dep, lipSync.DependsOn[i])
		}
	}

	for _, id := range []string{"m1:s1:base_video", "m1:s1:narration_audio", "m1:s2:narration_audio", "m1:s2:music_audio"} {
		job, ok := byID[id]
		if !ok {
			t.Fatalf("missing job %s", id)
		}
		if len(job.DependsOn) != 0 {
			t.Fatalf("job %s should have no dependencies, got %v", id, job.DependsOn)
		}
	}
}

func TestDecomposeEarlierScenesGetHigherPriority(t *testing.T) {
	jobs, err := decompose.Decompose(sampleManifest(), nil, opts())
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	var s1, s2 int
	for _, job := range jobs {
		switch job.SceneID {
		case "s1":
			s1 = job.Priority
		case "s2":
			s2 = job.Priority
		}
	}
	if s1 <= s2 {
		t.Fatalf("scene 1 jobs should outrank scene 2: %d vs %d", s1, s2)
	}
}

func TestDecomposeIsDeterministic(t *testing.T) {
	first, err := decompose.Decompose(sampleManifest(), nil, opts())
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	second, err := decompose.Decompose(sampleManifest(), nil, opts())
	if err != nil {
		t.Fatalf("Decompose failed: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("job counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID || first[i].Payload != second[i].Payload {
			t.Fatalf("job %d differs between runs: %s vs %s", i, first[i].ID, second[i].ID)
		}
	}
}

func TestDecomposeRejectsCycles(t *testing.T) {
	reg := decompose.Registry{
		"tangled": []decompose.Template{
			{JobType: queue.TypeBaseVideo, Needs: []string{queue.TypeLipSync}},
			{JobType: queue.TypeLipSync, Needs: []string{queue.TypeBaseVideo}},
		},
	}
	m := &manifest.Manifest{
		ID:    "m1",
		Title: "Cycle",
		Scenes: []manifest.Scene{
			{ID: "s1", DurationSeconds: 5, RequiredArtifacts: []manifest.ArtifactKind{"tangled"}},
		},
	}

	_, err := decompose.Decompose(m, reg, opts())
	var cycleErr *decompose.CyclicDependencyError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected CyclicDependencyError, got %v", err)
	}
	if len(cycleErr.Remaining) != 2 {
		t.Fatalf("expected both jobs in the cycle report, got %v", cycleErr.Remaining)
	}
}

func TestDecomposeRejectsUnknownArtifact(t *testing.T) {
	m := sampleManifest()
	m.Scenes[0].RequiredArtifacts = []manifest.ArtifactKind{"hologram"}
	if _, err := decompose.Decompose(m, nil, opts()); err == nil {
		t.Fatal("expected error for unknown artifact kind")
	}
}
