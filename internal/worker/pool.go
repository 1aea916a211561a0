package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"fabrick/internal/logging"
	"fabrick/internal/provider"
	"fabrick/internal/queue"
)

// Pool runs jobs of a single type with bounded concurrency. It polls the
// store for ready jobs, claims them through the conditional transition, and
// executes the provider fallback chain for each claim.
type Pool struct {
	store  *queue.Store
	chain  []provider.Provider
	logger *slog.Logger

	jobType     string
	workerID    string
	concurrency int
	fetchLimit  int

	pollInterval       time.Duration
	errorRetryInterval time.Duration
	heartbeatInterval  time.Duration
}

// Options configures a pool.
type Options struct {
	Store              *queue.Store
	Chain              []provider.Provider
	Logger             *slog.Logger
	JobType            string
	Concurrency        int
	FetchLimit         int
	PollInterval       time.Duration
	ErrorRetryInterval time.Duration
	HeartbeatInterval  time.Duration
}

// NewPool builds a pool. The worker id identifies this process in job
// ownership records and survives for the pool's lifetime.
func NewPool(opts Options) (*Pool, error) {
	if opts.Store == nil {
		return nil, errors.New("worker pool requires a store")
	}
	if len(opts.Chain) == 0 {
		return nil, fmt.Errorf("worker pool for %s has no providers", opts.JobType)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	fetchLimit := opts.FetchLimit
	if fetchLimit <= 0 {
		fetchLimit = concurrency
	}
	heartbeatInterval := opts.HeartbeatInterval
	if heartbeatInterval <= 0 {
		heartbeatInterval = 15 * time.Second
	}
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &Pool{
		store:              opts.Store,
		chain:              opts.Chain,
		logger:             logging.NewComponentLogger(logger, "worker-"+opts.JobType),
		jobType:            opts.JobType,
		workerID:           fmt.Sprintf("%s-%s-%s", hostname, opts.JobType, uuid.NewString()[:8]),
		concurrency:        concurrency,
		fetchLimit:         fetchLimit,
		pollInterval:       opts.PollInterval,
		errorRetryInterval: opts.ErrorRetryInterval,
		heartbeatInterval:  heartbeatInterval,
	}, nil
}

// WorkerID returns the pool's ownership identifier.
func (p *Pool) WorkerID() string { return p.workerID }

// JobType returns the job type this pool executes.
func (p *Pool) JobType() string { return p.jobType }

// Concurrency returns the pool's in-flight job limit.
func (p *Pool) Concurrency() int { return p.concurrency }

// Run polls for ready jobs until the context is cancelled. Claim races lost
// to other workers are skipped silently; execution errors are absorbed by the
// retry policy and never stop the loop.
//
// A job is claimed only after a concurrency slot is held: a claim made while
// the pool is saturated would sit in running with a stamped heartbeat and no
// heartbeat loop, so the pool would own more jobs than its limit allows.
func (p *Pool) Run(ctx context.Context) error {
	group := new(errgroup.Group)
	group.SetLimit(p.concurrency)
	defer group.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		jobs, err := p.store.GetReadyJobs(ctx, p.jobType, p.fetchLimit)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			p.logger.Error("failed to fetch ready jobs",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check queue database access"),
			)
			p.sleep(ctx, p.errorRetryInterval)
			continue
		}

		launched := 0
		for _, job := range jobs {
			job := job
			if !group.TryGo(func() error {
				p.claimAndExecute(ctx, job)
				return nil
			}) {
				break
			}
			launched++
		}

		if launched == 0 {
			p.sleep(ctx, p.pollInterval)
		}
	}
}

// claimAndExecute runs inside a held concurrency slot. A lost claim race is
// not an error; the candidate simply belongs to someone else now.
func (p *Pool) claimAndExecute(ctx context.Context, job *queue.Job) {
	if err := p.store.Claim(ctx, job.ID, p.workerID); err != nil {
		if queue.IsConflict(err) || errors.Is(err, context.Canceled) {
			return
		}
		p.logger.Warn("claim failed",
			logging.String(logging.FieldJobID, job.ID),
			logging.Error(err),
		)
		return
	}
	p.execute(ctx, job)
}

func (p *Pool) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// heartbeatLoop refreshes the job's liveness timestamp until cancelled. The
// store conditions the update on ownership, so a loop outliving a reclaim is
// harmless.
func (p *Pool) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup, jobID string) {
	defer wg.Done()
	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	logger := logging.WithContext(ctx, p.logger)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.store.UpdateHeartbeat(ctx, jobID, p.workerID); err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				logger.Warn("heartbeat update failed", logging.Error(err))
			}
		}
	}
}

// cancelled re-reads the job and reports whether another actor took it away
// while this worker held it (external dead-letter or reaper reclaim).
func (p *Pool) cancelled(ctx context.Context, jobID string) bool {
	current, err := p.store.GetJob(ctx, jobID)
	if err != nil || current == nil {
		return false
	}
	if current.IsDeadLetter {
		return true
	}
	return current.Status != queue.StatusRunning || current.WorkerID != p.workerID
}
