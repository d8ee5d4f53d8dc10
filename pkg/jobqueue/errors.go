package jobqueue

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrValidation groups all admission validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidPriority is returned when priority is outside the 1-10 range.
	ErrInvalidPriority = fmt.Errorf("%w: priority must be between 1 and 10", ErrValidation)

	// ErrEmptyJobType is returned when a job is submitted without a type.
	ErrEmptyJobType = fmt.Errorf("%w: job type cannot be empty", ErrValidation)

	// ErrInvalidMaxAttempts is returned when max attempts is not positive.
	ErrInvalidMaxAttempts = fmt.Errorf("%w: max attempts must be at least 1", ErrValidation)

	// ErrJobNotFound is returned when a job id is unknown to the storage.
	ErrJobNotFound = errors.New("job not found")

	// ErrDuplicateJobID is returned when a job id already exists in storage.
	ErrDuplicateJobID = errors.New("job with this id already exists")

	// ErrNoJobToClaim is returned by claim when no eligible job is available.
	// It is an idle signal, not a failure.
	ErrNoJobToClaim = errors.New("no job available to claim")

	// ErrDispatchConflict is returned when two claimers raced for one job.
	// The dispatcher retries it transparently; it never surfaces to callers.
	ErrDispatchConflict = errors.New("job was claimed by another dispatcher")

	// ErrStoreUnavailable is returned when the durable backend is unreachable.
	ErrStoreUnavailable = errors.New("queue storage unavailable")

	// ErrInvalidJobState is returned when a state transition is not allowed
	// from the job's current state.
	ErrInvalidJobState = errors.New("job is not in the expected state")

	// ErrStorageNil is returned when a nil storage is provided.
	ErrStorageNil = errors.New("storage cannot be nil")

	// ErrPayloadMarshal is returned when payload serialization fails.
	ErrPayloadMarshal = errors.New("failed to marshal payload to JSON")

	// ErrNoHandlers is returned when a worker is started without handlers.
	ErrNoHandlers = errors.New("no job handlers registered")

	// ErrHandlerNotFound signals that a claimed job had no registered handler.
	ErrHandlerNotFound = errors.New("no handler registered for job type")

	// ErrResultAlreadySet is returned when a terminal payload is written twice.
	ErrResultAlreadySet = errors.New("terminal result already recorded")
)
