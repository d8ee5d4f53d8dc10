package metrics

import "time"

// Collector is the capability components use to report operational counters.
// It is injected explicitly instead of relying on ambient process-wide state,
// which keeps every component unit-testable in isolation.
type Collector interface {
	// JobEnqueued is called when a job is admitted to the queue.
	JobEnqueued(jobType string)

	// JobStarted is called when a job is dispatched to a worker slot.
	JobStarted(jobType string)

	// JobCompleted is called when a handler finishes successfully.
	JobCompleted(jobType string, duration time.Duration)

	// JobFailed is called when a job fails permanently.
	JobFailed(jobType string)

	// JobRetried is called when a failed attempt is scheduled for retry.
	JobRetried(jobType string)

	// JobsReaped is called when stalled jobs are returned to the queue.
	JobsReaped(count int)

	// DispatchDenied is called when the rate limiter defers a dispatch.
	DispatchDenied()

	// EventPublished is called per event accepted by the bus.
	EventPublished(channel string)

	// EventDropped is called when an event could not be delivered to a
	// subscriber (slow consumer or closed subscription).
	EventDropped(channel string)

	// NotificationDelivered is called per successful notification delivery.
	NotificationDelivered(targeted bool)

	// NotificationDropped is called when delivery to a recipient failed.
	NotificationDropped()
}

// Noop is a Collector that discards every observation. It is the default
// wherever a collector is not injected.
type Noop struct{}

func (Noop) JobEnqueued(string)                  {}
func (Noop) JobStarted(string)                   {}
func (Noop) JobCompleted(string, time.Duration)  {}
func (Noop) JobFailed(string)                    {}
func (Noop) JobRetried(string)                   {}
func (Noop) JobsReaped(int)                      {}
func (Noop) DispatchDenied()                     {}
func (Noop) EventPublished(string)               {}
func (Noop) EventDropped(string)                 {}
func (Noop) NotificationDelivered(bool)          {}
func (Noop) NotificationDropped()                {}
