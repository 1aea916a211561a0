// Package decompose expands a validated manifest into the dependency graph
// of atomic generation jobs. The expansion is pure: the same scene always
// yields the same job identifiers and edges, which keeps re-decomposition
// idempotent against the store's duplicate detection. The implied graph is
// verified acyclic before anything is persisted.
package decompose
