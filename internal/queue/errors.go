package queue

import "errors"

// ErrConflict indicates a transition's expected status did not match the
// job's current status. For workers racing over a claim this is not a
// failure: it means another worker won and the caller should re-poll.
var ErrConflict = errors.New("status conflict")

// ErrDuplicateJob indicates a job with the same identifier already exists.
// Decomposition relies on this for idempotent re-runs.
var ErrDuplicateJob = errors.New("duplicate job")

// ErrDuplicateManifest indicates the manifest identifier is already persisted.
var ErrDuplicateManifest = errors.New("duplicate manifest")

// ErrNotFound indicates the referenced job or manifest does not exist.
var ErrNotFound = errors.New("record not found")
