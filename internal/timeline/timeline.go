package timeline

import (
	"fabrick/internal/manifest"
)

// SceneState reports whether every job under a scene completed. Reason
// carries the dead-letter reason when it did not.
type SceneState struct {
	Complete bool
	Reason   string
}

// Entry is one scene on the enriched timeline. Incomplete scenes keep their
// place in the list with Incomplete set but receive no start time or
// ordering hint.
type Entry struct {
	SceneID      string   `json:"sceneId"`
	StartAtSec   float64  `json:"startAtSec"`
	OrderingHint int      `json:"orderingHint"`
	Effects      []string `json:"effects"`
	Transition   string   `json:"transition"`
	Incomplete   bool     `json:"incomplete,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

// EffectSet is the deterministic effect and transition assignment for a
// scene purpose.
type EffectSet struct {
	Effects    []string
	Transition string
}

var purposeEffects = map[string]EffectSet{
	"hook": {Effects: []string{"zoom_in", "text_pop"}, Transition: "hard_cut"},
	"body": {Effects: []string{"ken_burns"}, Transition: "cross_fade"},
	"cta":  {Effects: []string{"pulse", "arrow_overlay"}, Transition: "fade_to_black"},
}

var defaultEffects = EffectSet{Effects: []string{"ken_burns"}, Transition: "cross_fade"}

// EffectsFor returns the effect set for a scene purpose, falling back to the
// default set when the purpose is unrecognized.
func EffectsFor(purpose string) EffectSet {
	if set, ok := purposeEffects[purpose]; ok {
		return set
	}
	return defaultEffects
}

// Enrich walks scenes in manifest order and assigns start times and ordering
// hints. The running clock advances by each complete scene's duration;
// incomplete scenes are excluded from the clock so the remaining scenes stay
// contiguous for the renderer.
func Enrich(scenes []manifest.Scene, states map[string]SceneState) []Entry {
	entries := make([]Entry, 0, len(scenes))
	currentTime := 0.0
	hint := 0
	for _, scene := range scenes {
		state := states[scene.ID]
		if !state.Complete {
			entries = append(entries, Entry{
				SceneID:    scene.ID,
				Incomplete: true,
				Reason:     state.Reason,
			})
			continue
		}
		hint++
		set := EffectsFor(scene.Purpose)
		entries = append(entries, Entry{
			SceneID:      scene.ID,
			StartAtSec:   currentTime,
			OrderingHint: hint,
			Effects:      set.Effects,
			Transition:   set.Transition,
		})
		currentTime += scene.DurationSeconds
	}
	return entries
}

// Complete reports whether every scene on the timeline enriched.
func Complete(entries []Entry) bool {
	for _, e := range entries {
		if e.Incomplete {
			return false
		}
	}
	return true
}
