package jobqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/queuekit/pkg/eventbus"
	"github.com/dmitrymomot/queuekit/pkg/logger"
	"github.com/dmitrymomot/queuekit/pkg/metrics"
)

// Worker holds a bounded set of concurrent execution slots. Each free slot
// asks the dispatcher for the next job, invokes the registered handler for
// the job type and reports the outcome back to storage, publishing lifecycle
// events on the bus as it goes.
type Worker struct {
	dispatcher *Dispatcher
	repo       WorkerRepository
	bus        *eventbus.Bus
	handlers   map[string]Handler
	name       string
	workerID   uuid.UUID
	sem        chan struct{}
	wg         sync.WaitGroup
	mu         sync.RWMutex
	stopMu     sync.Mutex // Protects stopping state and WaitGroup operations

	pullInterval    time.Duration
	shutdownTimeout time.Duration
	backoff         Backoff
	collector       metrics.Collector
	logger          *slog.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	stopping atomic.Bool
}

// NewWorker creates a new worker pool pulling jobs from the dispatcher.
func NewWorker(dispatcher *Dispatcher, repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if dispatcher == nil {
		return nil, ErrStorageNil
	}
	if repo == nil {
		return nil, ErrStorageNil
	}

	workerID := uuid.New()
	hostname, _ := os.Hostname()

	options := &workerOptions{
		name:            fmt.Sprintf("%s-%s", hostname, workerID.String()[:8]),
		concurrency:     1,
		pullInterval:    time.Second,
		shutdownTimeout: 10 * time.Second,
		backoff:         DefaultBackoff,
		collector:       metrics.Noop{},
		logger:          slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Worker{
		dispatcher:      dispatcher,
		repo:            repo,
		bus:             options.bus,
		handlers:        make(map[string]Handler),
		name:            options.name,
		workerID:        workerID,
		sem:             make(chan struct{}, options.concurrency),
		pullInterval:    options.pullInterval,
		shutdownTimeout: options.shutdownTimeout,
		backoff:         options.backoff,
		collector:       options.collector,
		logger:          options.logger,
	}, nil
}

// RegisterHandler registers a handler for its job type. The last handler
// registered for a type wins.
func (w *Worker) RegisterHandler(handler Handler) error {
	if handler == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.handlers[handler.Type()] = handler
	return nil
}

// RegisterHandlers registers multiple handlers.
func (w *Worker) RegisterHandlers(handlers ...Handler) error {
	for _, h := range handlers {
		if err := w.RegisterHandler(h); err != nil {
			return err
		}
	}
	return nil
}

// Start begins processing jobs in the background.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return fmt.Errorf("worker already started")
	}

	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	w.stopping.Store(false)

	go w.run()

	w.logger.Info("worker started",
		logger.Worker(w.name),
		slog.Int("concurrency", cap(w.sem)))

	return nil
}

// Stop gracefully shuts down the worker: no new jobs are claimed and
// in-flight handlers get the shutdown timeout to finish. Handlers still
// running after the grace period are abandoned; their leases expire and the
// reaper returns the jobs to the queue.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return fmt.Errorf("worker not started")
	}

	w.stopMu.Lock()
	w.stopping.Store(true)
	w.stopMu.Unlock()

	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	w.logger.Info("worker stopping, waiting for active jobs", logger.Worker(w.name))

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker stopped", logger.Worker(w.name))
		return nil
	case <-time.After(w.shutdownTimeout):
		w.logger.Warn("worker shutdown grace period elapsed, abandoning active jobs",
			logger.Worker(w.name))
		return fmt.Errorf("worker shutdown timed out after %s", w.shutdownTimeout)
	}
}

// Run starts the worker and returns a function suitable for errgroup.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}

		<-ctx.Done()

		return w.Stop()
	}
}

// run is the main processing loop.
func (w *Worker) run() {
	ticker := time.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			select {
			case w.sem <- struct{}{}:
				// Don't add to the WaitGroup after Stop() starts.
				w.stopMu.Lock()
				if w.stopping.Load() {
					w.stopMu.Unlock()
					<-w.sem
					return
				}
				w.wg.Add(1)
				w.stopMu.Unlock()

				go func() {
					defer w.wg.Done()
					defer func() { <-w.sem }()
					w.drain()
				}()
			default:
				// All slots busy, skip this tick.
			}
		}
	}
}

// drain claims and processes jobs until the queue is idle, keeping the slot
// occupied between jobs so a burst empties without waiting for ticks.
func (w *Worker) drain() {
	for {
		if w.ctx.Err() != nil || w.stopping.Load() {
			return
		}

		job, err := w.dispatcher.Next(w.ctx, w.workerID)
		if err != nil {
			if !errors.Is(err, ErrNoJobToClaim) && !errors.Is(err, context.Canceled) {
				w.logger.Error("failed to claim job",
					logger.Worker(w.name),
					logger.Error(err))
			}
			return
		}

		w.processJob(job)
	}
}

// processJob executes one claimed job with its handler.
func (w *Worker) processJob(job *Job) {
	start := time.Now()
	attempt := job.AttemptsMade + 1

	w.collector.JobStarted(job.Type)
	w.publish(eventbus.ChannelJobStarted, job.UserID, JobStartedEvent{
		JobID:   job.ID,
		Type:    job.Type,
		UserID:  job.UserID,
		Attempt: attempt,
		Worker:  w.name,
	})

	w.mu.RLock()
	handler, ok := w.handlers[job.Type]
	w.mu.RUnlock()

	if !ok {
		// No registered handler: retrying cannot help, fail permanently.
		w.failJob(job, attempt, fmt.Errorf("%w: %s", ErrHandlerNotFound, job.Type))
		return
	}

	handle := &JobHandle{
		ID:      job.ID,
		Type:    job.Type,
		UserID:  job.UserID,
		Attempt: attempt,
		Payload: job.Payload,
	}
	handle.report = func(progress int) {
		if err := w.repo.UpdateProgress(w.ctx, job.ID, progress); err != nil {
			w.logger.Debug("failed to record job progress",
				logger.JobID(job.ID),
				logger.Error(err))
		}
		w.publish(eventbus.ChannelJobProgress, job.UserID, JobProgressEvent{
			JobID:    job.ID,
			Type:     job.Type,
			UserID:   job.UserID,
			Progress: progress,
		})
	}

	result, err := w.invoke(handler, handle)
	duration := time.Since(start)

	if err != nil {
		w.handleFailure(job, attempt, err, duration)
		return
	}

	w.handleSuccess(job, result, duration)
}

// invoke runs the handler with panic recovery. Handler contexts are detached
// from the worker lifecycle so graceful shutdown lets jobs finish.
func (w *Worker) invoke(handler Handler, handle *JobHandle) (result json.RawMessage, retErr error) {
	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in handler: %v", r)
			w.logger.Error("handler panicked",
				logger.Worker(w.name),
				logger.JobID(handle.ID),
				logger.JobType(handle.Type),
				slog.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), w.dispatcher.lease)
	defer cancel()

	return handler.Handle(ctx, handle)
}

func (w *Worker) handleSuccess(job *Job, result json.RawMessage, duration time.Duration) {
	// Outcomes are recorded even during shutdown, so the reporting context
	// survives worker cancellation.
	ctx := context.WithoutCancel(w.ctx)

	if err := w.repo.CompleteJob(ctx, job.ID, result); err != nil {
		w.logger.Error("failed to mark job completed",
			logger.JobID(job.ID),
			logger.Error(err))
		return
	}

	w.collector.JobCompleted(job.Type, duration)
	w.logger.Info("job completed",
		logger.Worker(w.name),
		logger.JobID(job.ID),
		logger.JobType(job.Type),
		logger.Duration(duration))

	var decoded any
	if len(result) > 0 {
		// Body must round-trip through JSON for downstream consumers.
		_ = json.Unmarshal(result, &decoded)
	}

	w.publish(eventbus.ChannelJobCompleted, job.UserID, JobCompletedEvent{
		JobID:    job.ID,
		Type:     job.Type,
		UserID:   job.UserID,
		Result:   decoded,
		Duration: duration,
		Worker:   w.name,
	})
}

func (w *Worker) handleFailure(job *Job, attempt int, execErr error, duration time.Duration) {
	w.logger.Error("job attempt failed",
		logger.Worker(w.name),
		logger.JobID(job.ID),
		logger.JobType(job.Type),
		logger.Attempt(attempt),
		slog.Int("max_attempts", job.MaxAttempts),
		logger.Duration(duration),
		logger.Error(execErr))

	if attempt < job.MaxAttempts {
		delay := w.backoff.Delay(attempt)
		nextEligibleAt := time.Now().Add(delay)

		if err := w.repo.DelayJob(context.WithoutCancel(w.ctx), job.ID, execErr.Error(), nextEligibleAt); err != nil {
			w.logger.Error("failed to schedule job retry",
				logger.JobID(job.ID),
				logger.Error(err))
			return
		}

		w.collector.JobRetried(job.Type)
		w.logger.Info("job retry scheduled",
			logger.JobID(job.ID),
			logger.Attempt(attempt),
			slog.Duration("delay", delay))
		return
	}

	w.failJob(job, attempt, execErr)
}

// failJob records a permanent failure and publishes the terminal event.
func (w *Worker) failJob(job *Job, attempt int, execErr error) {
	if err := w.repo.FailJob(context.WithoutCancel(w.ctx), job.ID, execErr.Error()); err != nil {
		w.logger.Error("failed to mark job failed",
			logger.JobID(job.ID),
			logger.Error(err))
		return
	}

	w.collector.JobFailed(job.Type)
	w.logger.Warn("job failed permanently",
		logger.Worker(w.name),
		logger.JobID(job.ID),
		logger.JobType(job.Type),
		slog.Int("attempts_made", attempt))

	w.publish(eventbus.ChannelJobFailed, job.UserID, JobFailedEvent{
		JobID:        job.ID,
		Type:         job.Type,
		UserID:       job.UserID,
		Error:        execErr.Error(),
		AttemptsMade: attempt,
	})
}

// publish emits a lifecycle event, best effort. A nil bus disables events.
func (w *Worker) publish(channel, recipient string, body any) {
	if w.bus == nil {
		return
	}

	if err := w.bus.Publish(w.ctx, eventbus.Event{
		Channel:   channel,
		Recipient: recipient,
		Body:      body,
	}); err != nil {
		w.logger.Debug("failed to publish lifecycle event",
			logger.Channel(channel),
			logger.Error(err))
	}
}

// WorkerInfo returns identifying information about the worker process.
func (w *Worker) WorkerInfo() (id string, name string, pid int) {
	return w.workerID.String(), w.name, os.Getpid()
}
