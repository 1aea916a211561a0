// Package queue persists production jobs and manifests in SQLite and is the
// single authority for job state.
//
// Every status change flows through the Transition primitive: a
// status-conditioned UPDATE that fails with ErrConflict when the job is not
// in the expected state. Callers never read a job, compute a new status in
// memory, and write it back unconditionally; under concurrent workers that
// would lose updates. Claiming a job, completing it, failing it, reaping a
// stale worker, and external cancellation are all expressed as transitions,
// so a race between two actors resolves to exactly one winner.
//
// The database is transient storage for in-flight productions rather than a
// long-term archive. Schema changes bump the version in schema.go; users
// clear the database to adopt the new schema.
package queue
