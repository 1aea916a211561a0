// Package timeline computes the enriched scene timeline for a decomposed
// manifest once every job under each scene has reached a terminal state.
// Enrichment is pure: given the same scene order, durations, and completion
// states it always produces the same timeline.
package timeline
