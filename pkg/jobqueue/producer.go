package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/queuekit/pkg/logger"
	"github.com/dmitrymomot/queuekit/pkg/metrics"
)

// Producer validates and admits new jobs into the queue storage.
type Producer struct {
	repo               ProducerRepository
	defaultMaxAttempts int
	defaultPriority    Priority
	collector          metrics.Collector
	logger             *slog.Logger
}

// NewProducer creates a new Producer.
func NewProducer(repo ProducerRepository, opts ...ProducerOption) (*Producer, error) {
	if repo == nil {
		return nil, ErrStorageNil
	}

	options := &producerOptions{
		defaultMaxAttempts: 3,
		defaultPriority:    PriorityDefault,
		collector:          metrics.Noop{},
		logger:             slog.Default(),
	}

	for _, opt := range opts {
		opt(options)
	}

	return &Producer{
		repo:               repo,
		defaultMaxAttempts: options.defaultMaxAttempts,
		defaultPriority:    options.defaultPriority,
		collector:          options.collector,
		logger:             options.logger,
	}, nil
}

// Submit validates the input, builds a job record and admits it.
// The payload is serialized to JSON and passed unmodified to the handler.
func (p *Producer) Submit(ctx context.Context, jobType string, payload any, opts ...SubmitOption) (*Job, error) {
	if strings.TrimSpace(jobType) == "" {
		return nil, ErrEmptyJobType
	}

	options := &submitOptions{
		priority:    p.defaultPriority,
		maxAttempts: p.defaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(options)
	}

	if !options.priority.Valid() {
		return nil, ErrInvalidPriority
	}
	if options.maxAttempts < 1 {
		return nil, ErrInvalidMaxAttempts
	}

	job, err := p.buildJob(jobType, payload, options)
	if err != nil {
		return nil, err
	}

	if err := p.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job %q of type %q: %w", job.ID, job.Type, err)
	}

	p.collector.JobEnqueued(job.Type)
	p.logger.Debug("job enqueued",
		logger.JobID(job.ID),
		logger.JobType(job.Type),
		slog.Int("priority", int(job.Priority)))

	return job, nil
}

func (p *Producer) buildJob(jobType string, payload any, options *submitOptions) (*Job, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: payload of type %T: %w", ErrPayloadMarshal, payload, err)
		}
		raw = data
	}

	now := time.Now()

	id := options.jobID
	if id == "" {
		id = newJobID(jobType, now)
	}

	job := &Job{
		ID:          id,
		Type:        jobType,
		Payload:     raw,
		Priority:    options.priority,
		State:       StateQueued,
		MaxAttempts: options.maxAttempts,
		UserID:      options.userID,
		CreatedAt:   now,
	}

	if options.delay > 0 {
		eligible := now.Add(options.delay)
		job.State = StateDelayed
		job.NextEligibleAt = &eligible
	}

	return job, nil
}

// newJobID combines type, timestamp and a random suffix. Collisions are
// negligible but still rejected by the storage rather than overwritten.
func newJobID(jobType string, now time.Time) string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("%s-%d-%s", jobType, now.UnixMilli(), suffix)
}
