// Package jobqueue provides a priority job queue with at-least-once delivery.
//
// The package is organised around four components that interact only through
// small repository interfaces, keeping the business logic decoupled from
// persistence:
//
//   - Producer   — validates and enqueues jobs
//   - Dispatcher — atomically claims the next eligible job, rate limits
//     dispatch, and runs the stalled-job reaper
//   - Worker     — a bounded pool executing registered handlers and
//     publishing lifecycle events
//   - Storage    — MemoryStorage, RedisStorage, and PgStorage implement the
//     repository interfaces
//
// # Ordering
//
// Jobs carry a priority from 1 (highest) to 10 (lowest). A lower value always
// dispatches before a higher one; within a priority level jobs are strictly
// FIFO by insertion order. Retries re-enter the queue at their original
// priority after an exponential, capped backoff delay.
//
// # Delivery semantics
//
// Claims grant a time-limited lease. A worker that crashes or stalls past its
// lease loses the job to the reaper, which returns it to the queue with its
// attempt counter intact, so handlers must tolerate duplicate execution.
//
// # Usage
//
//	store := jobqueue.NewMemoryStorage()
//	defer store.Close()
//
//	producer, _ := jobqueue.NewProducer(store)
//	dispatcher, _ := jobqueue.NewDispatcher(store)
//	worker, _ := jobqueue.NewWorker(dispatcher, store,
//	    jobqueue.WithConcurrency(10),
//	)
//
//	_ = worker.RegisterHandler(jobqueue.NewJobHandler("send_email",
//	    func(ctx context.Context, p EmailPayload, job *jobqueue.JobHandle) (any, error) {
//	        job.ReportProgress(50)
//	        return nil, send(ctx, p)
//	    }))
//
//	_ = dispatcher.Start(ctx)
//	_ = worker.Start(ctx)
//
// # Error Handling
//
// Package-level sentinel errors (e.g. ErrInvalidPriority, ErrNoJobToClaim)
// signal violations of business invariants and can be checked with errors.Is.
package jobqueue
