package manifest_test

import (
	"errors"
	"testing"

	"fabrick/internal/manifest"
	"fabrick/internal/services"
)

const validDoc = `
id: promo-1
title: Product launch promo
scenes:
  - id: s1
    purpose: hook
    brief: Grab attention fast
    duration_seconds: 6
    required_artifacts:
      - talking_avatar
  - id: s2
    purpose: body
    brief: Explain the product
    duration_seconds: 18.5
    required_artifacts:
      - narration_audio
      - music_audio
metadata:
  campaign: spring
`

func TestParseValidManifest(t *testing.T) {
	m, err := manifest.Parse([]byte(validDoc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.ID != "promo-1" {
		t.Fatalf("unexpected id %q", m.ID)
	}
	if len(m.Scenes) != 2 {
		t.Fatalf("expected 2 scenes, got %d", len(m.Scenes))
	}
	if m.Scenes[1].DurationSeconds != 18.5 {
		t.Fatalf("unexpected duration %v", m.Scenes[1].DurationSeconds)
	}
	if m.Metadata["campaign"] != "spring" {
		t.Fatalf("unexpected metadata %v", m.Metadata)
	}
	if total := m.TotalDurationSeconds(); total != 24.5 {
		t.Fatalf("unexpected total duration %v", total)
	}
}

func TestParseAssignsIDWhenMissing(t *testing.T) {
	doc := `
title: Untitled
scenes:
  - id: s1
    duration_seconds: 5
    required_artifacts: [narration_audio]
`
	m, err := manifest.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.ID == "" {
		t.Fatal("expected a generated manifest id")
	}
}

func TestParseRejectsInvalidManifests(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{
			name: "missing title",
			doc: `
scenes:
  - id: s1
    duration_seconds: 5
    required_artifacts: [narration_audio]
`,
		},
		{
			name: "no scenes",
			doc: `
title: Empty
scenes: []
`,
		},
		{
			name: "zero duration",
			doc: `
title: Bad duration
scenes:
  - id: s1
    duration_seconds: 0
    required_artifacts: [narration_audio]
`,
		},
		{
			name: "unknown artifact",
			doc: `
title: Bad artifact
scenes:
  - id: s1
    duration_seconds: 5
    required_artifacts: [hologram]
`,
		},
		{
			name: "no artifacts",
			doc: `
title: No artifacts
scenes:
  - id: s1
    duration_seconds: 5
    required_artifacts: []
`,
		},
		{
			name: "duplicate scene ids",
			doc: `
title: Duplicates
scenes:
  - id: s1
    duration_seconds: 5
    required_artifacts: [narration_audio]
  - id: s1
    duration_seconds: 5
    required_artifacts: [music_audio]
`,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := manifest.Parse([]byte(tc.doc))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation marker, got %v", err)
			}
		})
	}
}

func TestParseArtifactKind(t *testing.T) {
	kind, ok := manifest.ParseArtifactKind(" Talking_Avatar ")
	if !ok || kind != manifest.ArtifactTalkingAvatar {
		t.Fatalf("expected talking_avatar, got %q ok=%v", kind, ok)
	}
	if _, ok := manifest.ParseArtifactKind("hologram"); ok {
		t.Fatal("unknown kind should not parse")
	}
}
