package jobqueue

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/queuekit/pkg/eventbus"
	"github.com/dmitrymomot/queuekit/pkg/metrics"
)

// WorkerOption is a functional option for configuring a Worker.
type WorkerOption func(*workerOptions)

type workerOptions struct {
	name            string
	concurrency     int
	pullInterval    time.Duration
	shutdownTimeout time.Duration
	backoff         Backoff
	bus             *eventbus.Bus
	collector       metrics.Collector
	logger          *slog.Logger
}

// WithWorkerName sets a human-readable worker name used in logs and events.
func WithWorkerName(name string) WorkerOption {
	return func(o *workerOptions) {
		if name != "" {
			o.name = name
		}
	}
}

// WithConcurrency sets the number of jobs processed in parallel.
func WithConcurrency(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithPullInterval sets how often idle slots poll for work.
func WithPullInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pullInterval = d
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for in-flight jobs.
func WithShutdownTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithRetryBackoff sets the retry delay schedule for failed attempts.
func WithRetryBackoff(b Backoff) WorkerOption {
	return func(o *workerOptions) {
		if b.Base > 0 && b.Max > 0 {
			o.backoff = b
		}
	}
}

// WithEventBus wires lifecycle event publishing. Without it the worker
// processes jobs silently.
func WithEventBus(bus *eventbus.Bus) WorkerOption {
	return func(o *workerOptions) {
		o.bus = bus
	}
}

// WithWorkerCollector sets the metrics collector for the worker.
func WithWorkerCollector(c metrics.Collector) WorkerOption {
	return func(o *workerOptions) {
		if c != nil {
			o.collector = c
		}
	}
}

// WithWorkerLogger sets the logger for the worker.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
