package api

import (
	"encoding/json"
	"time"

	"fabrick/internal/queue"
	"fabrick/internal/workflow"
)

// JobView is the wire representation of a queue job.
type JobView struct {
	ID               string          `json:"id"`
	ManifestID       string          `json:"manifestId"`
	SceneID          string          `json:"sceneId"`
	Type             string          `json:"type"`
	Status           string          `json:"status"`
	Priority         int             `json:"priority"`
	DependsOn        []string        `json:"dependsOn,omitempty"`
	Attempts         int             `json:"attempts"`
	MaxAttempts      int             `json:"maxAttempts"`
	WorkerID         string          `json:"workerId,omitempty"`
	OutputURL        string          `json:"outputUrl,omitempty"`
	ErrorMessage     string          `json:"errorMessage,omitempty"`
	IsDeadLetter     bool            `json:"isDeadLetter"`
	DeadLetterReason string          `json:"deadLetterReason,omitempty"`
	Result           json.RawMessage `json:"result,omitempty"`
	NextRetryAt      *time.Time      `json:"nextRetryAt,omitempty"`
	HeartbeatAt      *time.Time      `json:"heartbeatAt,omitempty"`
	StartedAt        *time.Time      `json:"startedAt,omitempty"`
	CompletedAt      *time.Time      `json:"completedAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// ManifestView is the wire representation of a manifest record. Scenes and
// timeline pass through as raw JSON documents.
type ManifestView struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Status           string          `json:"status"`
	Scenes           json.RawMessage `json:"scenes,omitempty"`
	Metadata         json.RawMessage `json:"metadata,omitempty"`
	Timeline         json.RawMessage `json:"timeline,omitempty"`
	IncompleteReason string          `json:"incompleteReason,omitempty"`
	EnrichedAt       *time.Time      `json:"enrichedAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

// SubmitResponse reports decomposition results for a submitted manifest.
type SubmitResponse struct {
	ManifestID   string `json:"manifestId"`
	JobsCreated  int    `json:"jobsCreated"`
	JobsExisting int    `json:"jobsExisting"`
}

// JobListResponse wraps a job listing.
type JobListResponse struct {
	Jobs []JobView `json:"jobs"`
}

// JobResponse wraps a single job.
type JobResponse struct {
	Job JobView `json:"job"`
}

// ManifestListResponse wraps a manifest listing.
type ManifestListResponse struct {
	Manifests []ManifestView `json:"manifests"`
}

// ManifestResponse pairs a manifest with its job graph.
type ManifestResponse struct {
	Manifest ManifestView `json:"manifest"`
	Jobs     []JobView    `json:"jobs"`
}

// StatusResponse is the daemon status document.
type StatusResponse struct {
	Running      bool                   `json:"running"`
	PID          int                    `json:"pid"`
	QueueDBPath  string                 `json:"queueDbPath"`
	LockFilePath string                 `json:"lockFilePath"`
	Workflow     workflow.StatusSummary `json:"workflow"`
}

// ErrorResponse carries an API error message.
type ErrorResponse struct {
	Error string `json:"error"`
}

// FromJob converts a queue job to its wire form.
func FromJob(job *queue.Job) JobView {
	view := JobView{
		ID:               job.ID,
		ManifestID:       job.ManifestID,
		SceneID:          job.SceneID,
		Type:             job.Type,
		Status:           string(job.Status),
		Priority:         job.Priority,
		DependsOn:        job.DependsOn,
		Attempts:         job.Attempts,
		MaxAttempts:      job.MaxAttempts,
		WorkerID:         job.WorkerID,
		OutputURL:        job.OutputURL,
		ErrorMessage:     job.ErrorMessage,
		IsDeadLetter:     job.IsDeadLetter,
		DeadLetterReason: job.DeadLetterReason,
		NextRetryAt:      job.NextRetryAt,
		HeartbeatAt:      job.HeartbeatAt,
		StartedAt:        job.StartedAt,
		CompletedAt:      job.CompletedAt,
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
	}
	if job.Result != "" {
		view.Result = json.RawMessage(job.Result)
	}
	return view
}

// FromJobs converts a job slice to wire form.
func FromJobs(jobs []*queue.Job) []JobView {
	views := make([]JobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, FromJob(job))
	}
	return views
}

// FromManifest converts a manifest record to its wire form.
func FromManifest(record *queue.ManifestRecord) ManifestView {
	view := ManifestView{
		ID:               record.ID,
		Title:            record.Title,
		Status:           string(record.Status),
		IncompleteReason: record.IncompleteReason,
		EnrichedAt:       record.EnrichedAt,
		CreatedAt:        record.CreatedAt,
		UpdatedAt:        record.UpdatedAt,
	}
	if record.ScenesJSON != "" {
		view.Scenes = json.RawMessage(record.ScenesJSON)
	}
	if record.MetadataJSON != "" {
		view.Metadata = json.RawMessage(record.MetadataJSON)
	}
	if record.TimelineJSON != "" {
		view.Timeline = json.RawMessage(record.TimelineJSON)
	}
	return view
}
