package timeline_test

import (
	"testing"

	"fabrick/internal/manifest"
	"fabrick/internal/timeline"
)

func scenes(durations ...float64) []manifest.Scene {
	purposes := []string{"hook", "body", "cta"}
	result := make([]manifest.Scene, 0, len(durations))
	for i, d := range durations {
		result = append(result, manifest.Scene{
			ID:              sceneID(i),
			Purpose:         purposes[i%len(purposes)],
			DurationSeconds: d,
		})
	}
	return result
}

func sceneID(i int) string {
	return string(rune('a' + i))
}

func allComplete(scenes []manifest.Scene) map[string]timeline.SceneState {
	states := make(map[string]timeline.SceneState, len(scenes))
	for _, scene := range scenes {
		states[scene.ID] = timeline.SceneState{Complete: true}
	}
	return states
}

func TestEnrichAccumulatesStartTimes(t *testing.T) {
	input := scenes(10, 8, 12)
	entries := timeline.Enrich(input, allComplete(input))

	wantStarts := []float64{0, 10, 18}
	wantHints := []int{1, 2, 3}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	for i, entry := range entries {
		if entry.StartAtSec != wantStarts[i] {
			t.Fatalf("entry %d: expected start %v, got %v", i, wantStarts[i], entry.StartAtSec)
		}
		if entry.OrderingHint != wantHints[i] {
			t.Fatalf("entry %d: expected hint %d, got %d", i, wantHints[i], entry.OrderingHint)
		}
	}
}

func TestEnrichIsIdempotent(t *testing.T) {
	input := scenes(5, 7)
	states := allComplete(input)
	first := timeline.Enrich(input, states)
	second := timeline.Enrich(input, states)

	for i := range first {
		if first[i].SceneID != second[i].SceneID ||
			first[i].StartAtSec != second[i].StartAtSec ||
			first[i].OrderingHint != second[i].OrderingHint ||
			first[i].Transition != second[i].Transition {
			t.Fatalf("entry %d not stable: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestEnrichExcludesIncompleteScenesFromClock(t *testing.T) {
	input := scenes(10, 8, 12)
	states := allComplete(input)
	states[input[1].ID] = timeline.SceneState{Complete: false, Reason: "upstream dependency failed"}

	entries := timeline.Enrich(input, states)
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}

	if !entries[1].Incomplete {
		t.Fatal("dead scene should be marked incomplete")
	}
	if entries[1].Reason != "upstream dependency failed" {
		t.Fatalf("incomplete scene should surface the reason, got %q", entries[1].Reason)
	}
	if entries[1].OrderingHint != 0 {
		t.Fatal("incomplete scene should not receive an ordering hint")
	}

	if entries[0].StartAtSec != 0 || entries[0].OrderingHint != 1 {
		t.Fatalf("first scene should enrich normally, got %+v", entries[0])
	}
	if entries[2].StartAtSec != 10 || entries[2].OrderingHint != 2 {
		t.Fatalf("third scene should close the gap, got %+v", entries[2])
	}

	if timeline.Complete(entries) {
		t.Fatal("timeline with an incomplete scene must not report complete")
	}
}

func TestEffectsForPurposeLookup(t *testing.T) {
	hook := timeline.EffectsFor("hook")
	if hook.Transition != "hard_cut" {
		t.Fatalf("unexpected hook transition %q", hook.Transition)
	}
	cta := timeline.EffectsFor("cta")
	if cta.Transition != "fade_to_black" {
		t.Fatalf("unexpected cta transition %q", cta.Transition)
	}

	fallback := timeline.EffectsFor("interlude")
	body := timeline.EffectsFor("body")
	if fallback.Transition != body.Transition {
		t.Fatalf("unknown purpose should use the default set, got %q", fallback.Transition)
	}
}
