package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	// StatusPending is assigned at decomposition; dependencies are not yet satisfied.
	StatusPending Status = "pending"
	// StatusReady means every dependency completed and the job awaits a worker.
	StatusReady Status = "ready"
	// StatusRunning means exactly one worker owns the job.
	StatusRunning Status = "running"
	// StatusCompleted is terminal success.
	StatusCompleted Status = "completed"
	// StatusFailed is a transient stop; the retry policy decides what happens next.
	StatusFailed Status = "failed"
	// StatusDeadLetter is terminal failure after exhausted retries or cascade.
	StatusDeadLetter Status = "dead_letter"
)

var allStatuses = []Status{
	StatusPending,
	StatusReady,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusDeadLetter,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusDeadLetter
}

// Job type names produced by decomposition. Several providers may be able to
// produce the same type; worker pools are keyed by it.
const (
	TypeNarrationAudio = "narration_audio"
	TypeMusicAudio     = "music_audio"
	TypeBaseVideo      = "base_video"
	TypeImage          = "image"
	TypeLipSync        = "lip_sync"
	TypeCaptionOverlay = "caption_overlay"
)

// AllJobTypes returns the job types decomposition can produce.
func AllJobTypes() []string {
	return []string{
		TypeNarrationAudio,
		TypeMusicAudio,
		TypeBaseVideo,
		TypeImage,
		TypeLipSync,
		TypeCaptionOverlay,
	}
}

// UpstreamFailureReason is the dead-letter reason recorded on jobs killed by
// a failed dependency.
const UpstreamFailureReason = "upstream dependency failed"

// RetryPolicy captures the backoff parameters stamped onto a job at creation.
type RetryPolicy struct {
	BackoffSeconds    int `json:"backoffSeconds"`
	MaxBackoffSeconds int `json:"maxBackoffSeconds"`
}

// Job is one atomic unit of generation work.
type Job struct {
	ID               string
	ManifestID       string
	SceneID          string
	Type             string
	Payload          string
	Status           Status
	Priority         int
	DependsOn        []string
	Attempts         int
	MaxAttempts      int
	RetryPolicy      RetryPolicy
	WorkerID         string
	HeartbeatAt      *time.Time
	StartedAt        *time.Time
	CompletedAt      *time.Time
	Result           string
	OutputURL        string
	ErrorMessage     string
	IsDeadLetter     bool
	DeadLetterReason string
	NextRetryAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Backoff returns the capped exponential delay before retry attempt number
// attempts (1-based count of failures so far).
func (p RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := p.BackoffSeconds
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= p.MaxBackoffSeconds {
			delay = p.MaxBackoffSeconds
			break
		}
	}
	if p.MaxBackoffSeconds > 0 && delay > p.MaxBackoffSeconds {
		delay = p.MaxBackoffSeconds
	}
	return time.Duration(delay) * time.Second
}

// ManifestStatus tracks a manifest through intake, rendering, and enrichment.
type ManifestStatus string

const (
	ManifestReceived   ManifestStatus = "received"
	ManifestDecomposed ManifestStatus = "decomposed"
	ManifestEnriched   ManifestStatus = "enriched"
	ManifestIncomplete ManifestStatus = "incomplete"
)

// ManifestRecord is the persisted form of a manifest plus its enrichment
// output. Scenes and timeline are stored as JSON documents; the scenes
// document is immutable after creation while the timeline document is
// written exactly once by the enricher.
type ManifestRecord struct {
	ID               string
	Title            string
	Status           ManifestStatus
	ScenesJSON       string
	MetadataJSON     string
	TimelineJSON     string
	IncompleteReason string
	EnrichedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Ready      int
	Running    int
	Completed  int
	Failed     int
	DeadLetter int
}
