package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Handler executes jobs of a single type. The returned raw message is
	// recorded as the job result on success.
	Handler interface {
		Type() string
		Handle(ctx context.Context, job *JobHandle) (json.RawMessage, error)
	}

	// JobHandlerFunc is the typed callback wrapped by NewJobHandler.
	JobHandlerFunc[T any] func(ctx context.Context, payload T, job *JobHandle) (any, error)
)

// NewJobHandler adapts a typed function into a Handler. The job payload is
// decoded into T before the callback runs; the callback's return value is
// encoded as the job result.
func NewJobHandler[T any](jobType string, handler JobHandlerFunc[T]) Handler {
	return &typedHandler[T]{
		jobType: jobType,
		handler: handler,
	}
}

type typedHandler[T any] struct {
	jobType string
	handler JobHandlerFunc[T]
}

func (h *typedHandler[T]) Type() string {
	return h.jobType
}

func (h *typedHandler[T]) Handle(ctx context.Context, job *JobHandle) (json.RawMessage, error) {
	var payload T
	if len(job.Payload) > 0 {
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, fmt.Errorf("failed to decode %q payload: %w", h.jobType, err)
		}
	}

	result, err := h.handler(ctx, payload, job)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %q result: %w", h.jobType, err)
	}
	return encoded, nil
}

// JobHandle is the runtime view of a job passed by reference to handlers.
// It is separate from the persisted record: handlers see the immutable
// identity and payload plus a progress-reporting capability, never the
// storage-owned mutable state.
type JobHandle struct {
	ID      string
	Type    string
	UserID  string
	Attempt int
	Payload json.RawMessage

	lastProgress int
	report       func(progress int)
}

// ReportProgress reports handler progress in percent. Values are clamped to
// 0-100 and kept monotonic within the attempt; regressions are ignored.
// Progress is UI feedback, not a correctness signal, so reporting errors are
// swallowed downstream.
func (j *JobHandle) ReportProgress(progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress <= j.lastProgress {
		return
	}
	j.lastProgress = progress

	if j.report != nil {
		j.report(progress)
	}
}
