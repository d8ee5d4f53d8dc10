package jobqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProducerRepository defines the interface for job admission.
type ProducerRepository interface {
	// CreateJob persists a new job. It assigns the insertion sequence number
	// and rejects duplicate ids with ErrDuplicateJobID instead of overwriting.
	CreateJob(ctx context.Context, job *Job) error

	// GetJob returns a snapshot of the job or ErrJobNotFound.
	GetJob(ctx context.Context, id string) (*Job, error)
}

// DispatcherRepository defines the interface for job selection.
type DispatcherRepository interface {
	// ClaimNextJob atomically selects the next eligible job: lowest priority
	// value first, earliest sequence among ties, delayed jobs included once
	// their eligibility time has passed. The claimed job transitions to
	// active with its progress reset to 0, its attempt lease set to
	// now+lease, and its owner recorded. Returns ErrNoJobToClaim when no job
	// is eligible. At most one concurrent caller can claim a given job.
	ClaimNextJob(ctx context.Context, workerID uuid.UUID, lease time.Duration) (*Job, error)

	// Stats returns per-state job counts.
	Stats(ctx context.Context) (Stats, error)
}

// WorkerRepository defines the interface for outcome reporting.
type WorkerRepository interface {
	// CompleteJob records the result and transitions active -> completed.
	// The terminal payload is set exactly once.
	CompleteJob(ctx context.Context, id string, result json.RawMessage) error

	// FailJob increments the attempt counter, records the failure reason and
	// transitions active -> failed. Terminal.
	FailJob(ctx context.Context, id string, reason string) error

	// DelayJob increments the attempt counter, records the failure reason and
	// transitions active -> delayed until nextEligibleAt.
	DelayJob(ctx context.Context, id string, reason string, nextEligibleAt time.Time) error

	// UpdateProgress sets the job progress (0-100) for the current attempt.
	UpdateProgress(ctx context.Context, id string, progress int) error

	// ExtendLease pushes the attempt lease forward for long-running jobs.
	ExtendLease(ctx context.Context, id string, d time.Duration) error
}

// ReaperRepository defines the interface for stalled-job recovery.
type ReaperRepository interface {
	// RequeueStalled returns every active job whose lease expired before now
	// back to the queued state, preserving its attempt counter, and reports
	// how many jobs were recovered. This is the at-least-once guarantee for
	// jobs whose worker disappeared without reporting an outcome.
	RequeueStalled(ctx context.Context, now time.Time) (int, error)
}

// Storage combines all repository interfaces. Concrete backends (memory,
// Redis, Postgres) implement the full set; components depend only on the
// slice they need.
type Storage interface {
	ProducerRepository
	DispatcherRepository
	WorkerRepository
	ReaperRepository
}
