// Package worker executes claimed jobs against an ordered provider fallback
// chain. Each pool is specialized for one job type and runs a bounded number
// of jobs concurrently; ownership and liveness are mediated entirely through
// the queue store's conditional transitions and heartbeats.
package worker
