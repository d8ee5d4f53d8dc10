package jobqueue

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/queuekit/pkg/metrics"
	"github.com/dmitrymomot/queuekit/pkg/ratelimit"
)

// DispatcherOption is a functional option for configuring a Dispatcher.
type DispatcherOption func(*dispatcherOptions)

type dispatcherOptions struct {
	reaper       ReaperRepository
	limiter      ratelimit.RateLimiter
	lease        time.Duration
	reapInterval time.Duration
	collector    metrics.Collector
	logger       *slog.Logger
}

// WithRateLimiter caps how many jobs may be started per time window.
func WithRateLimiter(limiter ratelimit.RateLimiter) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.limiter = limiter
	}
}

// WithLease sets the attempt lease granted on claim. A job whose lease
// expires without an outcome is requeued by the reaper, so the lease should
// exceed the expected handler runtime.
func WithLease(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.lease = d
		}
	}
}

// WithReapInterval sets how often expired leases are swept.
func WithReapInterval(d time.Duration) DispatcherOption {
	return func(o *dispatcherOptions) {
		if d > 0 {
			o.reapInterval = d
		}
	}
}

// WithReaper overrides the reaper repository.
func WithReaper(r ReaperRepository) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.reaper = r
	}
}

// WithDispatcherCollector sets the metrics collector for the dispatcher.
func WithDispatcherCollector(c metrics.Collector) DispatcherOption {
	return func(o *dispatcherOptions) {
		if c != nil {
			o.collector = c
		}
	}
}

// WithDispatcherLogger sets the logger for the dispatcher.
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(o *dispatcherOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
