package jobqueue

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/queuekit/pkg/metrics"
)

// ProducerOption is a functional option for configuring a Producer.
type ProducerOption func(*producerOptions)

type producerOptions struct {
	defaultMaxAttempts int
	defaultPriority    Priority
	collector          metrics.Collector
	logger             *slog.Logger
}

// WithDefaultMaxAttempts sets the max attempts applied when Submit is called
// without WithMaxAttempts.
func WithDefaultMaxAttempts(n int) ProducerOption {
	return func(o *producerOptions) {
		if n > 0 {
			o.defaultMaxAttempts = n
		}
	}
}

// WithDefaultPriority sets the priority applied when Submit is called without
// WithPriority.
func WithDefaultPriority(p Priority) ProducerOption {
	return func(o *producerOptions) {
		if p.Valid() {
			o.defaultPriority = p
		}
	}
}

// WithProducerCollector sets the metrics collector for the producer.
func WithProducerCollector(c metrics.Collector) ProducerOption {
	return func(o *producerOptions) {
		if c != nil {
			o.collector = c
		}
	}
}

// WithProducerLogger sets the logger for the producer.
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(o *producerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// SubmitOption is a functional option for the Submit method.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	jobID       string
	priority    Priority
	maxAttempts int
	userID      string
	delay       time.Duration
}

// WithJobID sets a caller-supplied job id instead of a generated one.
func WithJobID(id string) SubmitOption {
	return func(o *submitOptions) {
		if id != "" {
			o.jobID = id
		}
	}
}

// WithPriority sets the scheduling priority (1-10, lower dispatches first).
func WithPriority(p Priority) SubmitOption {
	return func(o *submitOptions) {
		o.priority = p
	}
}

// WithMaxAttempts sets how many times the job may be attempted.
func WithMaxAttempts(n int) SubmitOption {
	return func(o *submitOptions) {
		o.maxAttempts = n
	}
}

// WithUserID attributes the job to a user; lifecycle notifications for the
// job are targeted at this recipient.
func WithUserID(userID string) SubmitOption {
	return func(o *submitOptions) {
		o.userID = userID
	}
}

// WithDelay defers the job's first eligibility by the given duration.
func WithDelay(d time.Duration) SubmitOption {
	return func(o *submitOptions) {
		if d > 0 {
			o.delay = d
		}
	}
}
