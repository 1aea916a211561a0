package decompose

import (
	"encoding/json"
	"fmt"
	"sort"

	"fabrick/internal/manifest"
	"fabrick/internal/queue"
)

// Template names one job a scene artifact expands into, plus the job types
// within the same scene it consumes output from.
type Template struct {
	JobType string
	Needs   []string
}

// Registry maps artifact kinds to their job templates. Composite artifacts
// expand to several templates whose Needs edges mirror data dependencies.
type Registry map[manifest.ArtifactKind][]Template

// DefaultRegistry returns the built-in artifact catalog.
func DefaultRegistry() Registry {
	return Registry{
		manifest.ArtifactNarrationAudio: {
			{JobType: queue.TypeNarrationAudio},
		},
		manifest.ArtifactMusicAudio: {
			{JobType: queue.TypeMusicAudio},
		},
		manifest.ArtifactBaseVideo: {
			{JobType: queue.TypeBaseVideo},
		},
		manifest.ArtifactImage: {
			{JobType: queue.TypeImage},
		},
		manifest.ArtifactTalkingAvatar: {
			{JobType: queue.TypeBaseVideo},
			{JobType: queue.TypeNarrationAudio},
			{JobType: queue.TypeLipSync, Needs: []string{queue.TypeBaseVideo, queue.TypeNarrationAudio}},
		},
		manifest.ArtifactCaptionOverlay: {
			{JobType: queue.TypeNarrationAudio},
			{JobType: queue.TypeCaptionOverlay, Needs: []string{queue.TypeNarrationAudio}},
		},
	}
}

// Options carries the retry defaults stamped onto every produced job.
type Options struct {
	MaxAttempts       int
	BackoffSeconds    int
	MaxBackoffSeconds int
}

// Payload is the JSON document handed to generation providers.
type Payload struct {
	ManifestID      string  `json:"manifestId"`
	SceneID         string  `json:"sceneId"`
	Purpose         string  `json:"purpose,omitempty"`
	Brief           string  `json:"brief,omitempty"`
	DurationSeconds float64 `json:"durationSeconds"`
	Artifact        string  `json:"artifact"`
}

// JobID builds the deterministic identifier for a job. Determinism is what
// makes re-decomposition collide with the existing rows instead of creating
// a second graph.
func JobID(manifestID, sceneID, jobType string) string {
	return manifestID + ":" + sceneID + ":" + jobType
}

// Decompose expands a manifest into jobs with dependency edges, using reg to
// resolve artifacts (nil means the default catalog). It returns
// CyclicDependencyError when the implied graph is not a DAG; in that case no
// job should be persisted.
func Decompose(m *manifest.Manifest, reg Registry, opts Options) ([]*queue.Job, error) {
	if reg == nil {
		reg = DefaultRegistry()
	}

	byID := make(map[string]*queue.Job)
	var order []string

	for i, scene := range m.Scenes {
		// Earlier scenes carry higher priority so dispatch roughly follows
		// final assembly order when the queue is contended.
		priority := len(m.Scenes) - i

		for _, artifact := range scene.RequiredArtifacts {
			templates, ok := reg[artifact]
			if !ok {
				return nil, fmt.Errorf("no job templates for artifact %q", artifact)
			}
			for _, tpl := range templates {
				id := JobID(m.ID, scene.ID, tpl.JobType)
				job, exists := byID[id]
				if !exists {
					payload, err := json.Marshal(Payload{
						ManifestID:      m.ID,
						SceneID:         scene.ID,
						Purpose:         scene.Purpose,
						Brief:           scene.Brief,
						DurationSeconds: scene.DurationSeconds,
						Artifact:        tpl.JobType,
					})
					if err != nil {
						return nil, fmt.Errorf("encode payload for %s: %w", id, err)
					}
					job = &queue.Job{
						ID:          id,
						ManifestID:  m.ID,
						SceneID:     scene.ID,
						Type:        tpl.JobType,
						Payload:     string(payload),
						Priority:    priority,
						MaxAttempts: opts.MaxAttempts,
						RetryPolicy: queue.RetryPolicy{
							BackoffSeconds:    opts.BackoffSeconds,
							MaxBackoffSeconds: opts.MaxBackoffSeconds,
						},
					}
					byID[id] = job
					order = append(order, id)
				}
				for _, need := range tpl.Needs {
					depID := JobID(m.ID, scene.ID, need)
					job.DependsOn = appendUnique(job.DependsOn, depID)
				}
			}
		}
	}

	jobs := make([]*queue.Job, 0, len(order))
	for _, id := range order {
		job := byID[id]
		sort.Strings(job.DependsOn)
		jobs = append(jobs, job)
	}

	if err := validateAcyclic(jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

func appendUnique(list []string, value string) []string {
	for _, existing := range list {
		if existing == value {
			return list
		}
	}
	return append(list, value)
}
