package manifest

import (
	"strings"

	"github.com/google/uuid"
)

// ArtifactKind identifies one kind of generated media artifact a scene needs.
type ArtifactKind string

const (
	ArtifactNarrationAudio ArtifactKind = "narration_audio"
	ArtifactMusicAudio     ArtifactKind = "music_audio"
	ArtifactBaseVideo      ArtifactKind = "base_video"
	ArtifactImage          ArtifactKind = "image"
	// ArtifactTalkingAvatar is composite: it expands into a base video job,
	// a narration audio job, and a lip-sync job depending on both.
	ArtifactTalkingAvatar ArtifactKind = "talking_avatar"
	// ArtifactCaptionOverlay depends on the scene's narration audio.
	ArtifactCaptionOverlay ArtifactKind = "caption_overlay"
)

var allArtifactKinds = []ArtifactKind{
	ArtifactNarrationAudio,
	ArtifactMusicAudio,
	ArtifactBaseVideo,
	ArtifactImage,
	ArtifactTalkingAvatar,
	ArtifactCaptionOverlay,
}

var artifactKindSet = func() map[ArtifactKind]struct{} {
	set := make(map[ArtifactKind]struct{}, len(allArtifactKinds))
	for _, kind := range allArtifactKinds {
		set[kind] = struct{}{}
	}
	return set
}()

// AllArtifactKinds returns the ordered list of known artifact kinds.
func AllArtifactKinds() []ArtifactKind {
	cp := make([]ArtifactKind, len(allArtifactKinds))
	copy(cp, allArtifactKinds)
	return cp
}

// KnownArtifact reports whether kind names a supported artifact.
func KnownArtifact(kind ArtifactKind) bool {
	_, ok := artifactKindSet[kind]
	return ok
}

// ParseArtifactKind converts a string into a known ArtifactKind.
func ParseArtifactKind(value string) (ArtifactKind, bool) {
	normalized := ArtifactKind(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := artifactKindSet[normalized]
	return normalized, ok
}

// Scene is a timed segment of the final production.
type Scene struct {
	ID                string         `yaml:"id" json:"id" validate:"required"`
	Purpose           string         `yaml:"purpose" json:"purpose"`
	Brief             string         `yaml:"brief" json:"brief"`
	DurationSeconds   float64        `yaml:"duration_seconds" json:"durationSeconds" validate:"gt=0"`
	RequiredArtifacts []ArtifactKind `yaml:"required_artifacts" json:"requiredArtifacts" validate:"min=1,dive,artifactkind"`
}

// Manifest is the top-level declarative production request. Once decomposed
// it is immutable; revisions get a fresh identifier.
type Manifest struct {
	ID       string            `yaml:"id" json:"id"`
	Title    string            `yaml:"title" json:"title" validate:"required"`
	Scenes   []Scene           `yaml:"scenes" json:"scenes" validate:"min=1,dive"`
	Metadata map[string]string `yaml:"metadata" json:"metadata"`
}

// EnsureID assigns a fresh identifier when none was provided.
func (m *Manifest) EnsureID() {
	if strings.TrimSpace(m.ID) == "" {
		m.ID = uuid.NewString()
	}
}

// TotalDurationSeconds sums the scene durations in manifest order.
func (m *Manifest) TotalDurationSeconds() float64 {
	var total float64
	for _, scene := range m.Scenes {
		total += scene.DurationSeconds
	}
	return total
}

// SceneByID returns the scene with the given id.
func (m *Manifest) SceneByID(id string) (Scene, bool) {
	for _, scene := range m.Scenes {
		if scene.ID == id {
			return scene, true
		}
	}
	return Scene{}, false
}
