// Package workflow coordinates the production pipeline: manifest intake and
// decomposition, dependency promotion, worker pools, stale-worker reaping,
// and timeline enrichment. The Manager owns the background loops; all state
// lives in the queue store.
package workflow
