package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/queuekit/pkg/logger"
	"github.com/dmitrymomot/queuekit/pkg/metrics"
	"github.com/dmitrymomot/queuekit/pkg/ratelimit"
)

// dispatchRateKey is the token bucket key gating job starts.
const dispatchRateKey = "jobqueue:dispatch"

// Dispatcher selects the next eligible job for free worker slots. Selection
// itself is atomic inside the storage (ClaimNextJob); the dispatcher layers
// on top of it:
//
//   - a token-bucket cap on jobs started per time window, independent of
//     worker slot availability;
//   - transparent retry of claim conflicts so racing slots never observe
//     ErrDispatchConflict;
//   - bounded exponential backoff when the storage is unreachable, so an
//     outage pauses dispatch instead of crashing the process;
//   - the stalled-job reaper loop that returns expired leases to the queue.
type Dispatcher struct {
	repo    DispatcherRepository
	reaper  ReaperRepository
	limiter ratelimit.RateLimiter

	lease        time.Duration
	reapInterval time.Duration
	collector    metrics.Collector
	logger       *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a new Dispatcher. When the repository also implements
// ReaperRepository (all bundled storages do), the reaper is wired
// automatically; WithReaper overrides it.
func NewDispatcher(repo DispatcherRepository, opts ...DispatcherOption) (*Dispatcher, error) {
	if repo == nil {
		return nil, ErrStorageNil
	}

	options := &dispatcherOptions{
		lease:        5 * time.Minute,
		reapInterval: 15 * time.Second,
		collector:    metrics.Noop{},
		logger:       slog.Default(),
	}
	if reaper, ok := repo.(ReaperRepository); ok {
		options.reaper = reaper
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Dispatcher{
		repo:         repo,
		reaper:       options.reaper,
		limiter:      options.limiter,
		lease:        options.lease,
		reapInterval: options.reapInterval,
		collector:    options.collector,
		logger:       options.logger,
	}, nil
}

// Next claims the next eligible job for the given worker slot. It returns
// ErrNoJobToClaim when the queue is idle or the rate limit defers the start;
// both are normal polling outcomes, not failures.
//
// The rate limit caps jobs started, not polls: a token is reserved before
// the claim and returned when the queue turns out to be idle, so idle
// polling leaves the dispatch budget intact for the next burst.
func (d *Dispatcher) Next(ctx context.Context, workerID uuid.UUID) (*Job, error) {
	if d.limiter != nil {
		res, err := d.limiter.Allow(ctx, dispatchRateKey)
		if err != nil {
			return nil, fmt.Errorf("rate limit check failed: %w", err)
		}
		if !res.Allowed() {
			d.collector.DispatchDenied()
			return nil, ErrNoJobToClaim
		}
	}

	job, err := d.claim(ctx, workerID)
	if err != nil {
		if d.limiter != nil && errors.Is(err, ErrNoJobToClaim) {
			if rerr := d.limiter.Return(ctx, dispatchRateKey, 1); rerr != nil {
				d.logger.Debug("failed to return dispatch token", logger.Error(rerr))
			}
		}
		return nil, err
	}
	return job, nil
}

// claim runs the conflict-retry and outage-backoff loop around ClaimNextJob.
func (d *Dispatcher) claim(ctx context.Context, workerID uuid.UUID) (*Job, error) {
	for attempt := 1; ; attempt++ {
		job, err := d.repo.ClaimNextJob(ctx, workerID, d.lease)
		switch {
		case err == nil:
			return job, nil
		case errors.Is(err, ErrDispatchConflict):
			// Another slot won the race; try the next job immediately.
			continue
		case errors.Is(err, ErrStoreUnavailable):
			d.logger.Warn("queue storage unreachable, backing off",
				logger.Attempt(attempt),
				logger.Error(err))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(storeRetryDelay(attempt)):
			}
		default:
			return nil, err
		}
	}
}

// Stats returns the storage's per-state job counts.
func (d *Dispatcher) Stats(ctx context.Context) (Stats, error) {
	return d.repo.Stats(ctx)
}

// Start launches the stalled-job reaper loop. It is a no-op when no reaper
// repository is available.
func (d *Dispatcher) Start(ctx context.Context) error {
	if d.reaper == nil {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return fmt.Errorf("dispatcher already started")
	}

	ctx, d.cancel = context.WithCancel(ctx)

	d.wg.Add(1)
	go d.reapLoop(ctx)

	return nil
}

// Stop terminates the reaper loop and waits for it to exit.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) reapLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			recovered, err := d.reaper.RequeueStalled(ctx, time.Now())
			if err != nil {
				d.logger.Error("failed to requeue stalled jobs", logger.Error(err))
				continue
			}
			if recovered > 0 {
				d.collector.JobsReaped(recovered)
				d.logger.Warn("requeued stalled jobs",
					slog.Int("count", recovered))
			}
		}
	}
}

// storeRetryDelay bounds reconnect attempts: min(attempt*50ms, 2s).
func storeRetryDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * 50 * time.Millisecond
	if d > 2*time.Second {
		return 2 * time.Second
	}
	return d
}
