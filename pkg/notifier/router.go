package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/queuekit/pkg/eventbus"
	"github.com/dmitrymomot/queuekit/pkg/jobqueue"
	"github.com/dmitrymomot/queuekit/pkg/logger"
	"github.com/dmitrymomot/queuekit/pkg/metrics"
)

// Router consumes queue lifecycle events from the bus and turns each one into
// a notification, delivered to the event's recipient when one is named and
// broadcast to everyone otherwise. System broadcasts always reach every
// connection regardless of the recipient field.
//
// The router owns no durable state: it routes over live connection state held
// by the deliverer.
type Router struct {
	bus       *eventbus.Bus
	deliverer Deliverer
	collector metrics.Collector
	logger    *slog.Logger

	mu   sync.Mutex
	subs []*eventbus.Subscription
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterCollector sets the metrics collector for the router.
func WithRouterCollector(c metrics.Collector) RouterOption {
	return func(r *Router) {
		if c != nil {
			r.collector = c
		}
	}
}

// WithRouterLogger sets the logger for the router.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRouter creates a Router publishing into the given deliverer.
func NewRouter(bus *eventbus.Bus, deliverer Deliverer, opts ...RouterOption) (*Router, error) {
	if bus == nil {
		return nil, ErrBusNil
	}
	if deliverer == nil {
		return nil, ErrDelivererNil
	}

	r := &Router{
		bus:       bus,
		deliverer: deliverer,
		collector: metrics.Noop{},
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Start subscribes the router to the queue lifecycle channels and the system
// broadcast channel. It returns once the subscriptions are registered.
func (r *Router) Start(ctx context.Context) error {
	channels := []string{
		eventbus.ChannelJobStarted,
		eventbus.ChannelJobProgress,
		eventbus.ChannelJobCompleted,
		eventbus.ChannelJobFailed,
		eventbus.ChannelSystemBroadcast,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.subs) > 0 {
		return fmt.Errorf("router already started")
	}

	for _, channel := range channels {
		sub, err := r.bus.Subscribe(ctx, channel, r.route)
		if err != nil {
			for _, s := range r.subs {
				s.Close()
			}
			r.subs = nil
			return fmt.Errorf("failed to subscribe to %s: %w", channel, err)
		}
		r.subs = append(r.subs, sub)
	}

	return nil
}

// Stop unsubscribes from all channels.
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.subs {
		s.Close()
	}
	r.subs = nil
	return nil
}

// route builds the notification for one event and delivers it. Delivery
// errors are non-fatal: they are logged and skipped for that recipient only.
func (r *Router) route(ctx context.Context, ev eventbus.Event) {
	n := buildNotification(ev)

	// System broadcasts ignore the recipient field entirely.
	if ev.Channel == eventbus.ChannelSystemBroadcast || !n.Targeted() {
		if err := r.deliverer.Broadcast(ctx, n); err != nil {
			r.collector.NotificationDropped()
			r.logger.Error("failed to broadcast notification",
				slog.String("event", n.Event),
				logger.Error(err))
			return
		}
		r.collector.NotificationDelivered(false)
		return
	}

	// Emit both the specific event name and the generic one so subscribers
	// can listen narrowly or broadly.
	generic := n
	generic.Event = EventGeneric

	for _, out := range []Notification{n, generic} {
		if err := r.deliverer.Deliver(ctx, n.UserID, out); err != nil {
			r.collector.NotificationDropped()
			r.logger.Error("failed to deliver notification",
				slog.String("event", out.Event),
				logger.UserID(n.UserID),
				logger.Error(err))
			continue
		}
		r.collector.NotificationDelivered(true)
	}
}

// timeRounding keeps durations in messages readable.
const timeRounding = time.Millisecond

// buildNotification maps a bus event to a user-facing notification record.
func buildNotification(ev eventbus.Event) Notification {
	typ := TypeInfo
	title := "Notification"
	message := ""

	switch ev.Channel {
	case eventbus.ChannelJobStarted:
		title = "Task started"
		if b, ok := ev.Body.(jobqueue.JobStartedEvent); ok {
			message = fmt.Sprintf("Task %s (%s) started, attempt %d", b.JobID, b.Type, b.Attempt)
		}
	case eventbus.ChannelJobProgress:
		title = "Task progress"
		if b, ok := ev.Body.(jobqueue.JobProgressEvent); ok {
			message = fmt.Sprintf("Task %s is %d%% done", b.JobID, b.Progress)
		}
	case eventbus.ChannelJobCompleted:
		typ = TypeSuccess
		title = "Task completed"
		if b, ok := ev.Body.(jobqueue.JobCompletedEvent); ok {
			message = fmt.Sprintf("Task %s (%s) finished in %s", b.JobID, b.Type, b.Duration.Round(timeRounding))
		}
	case eventbus.ChannelJobFailed:
		typ = TypeError
		title = "Task failed"
		if b, ok := ev.Body.(jobqueue.JobFailedEvent); ok {
			message = fmt.Sprintf("Task %s (%s) failed after %d attempts: %s", b.JobID, b.Type, b.AttemptsMade, b.Error)
		}
	case eventbus.ChannelSystemBroadcast:
		title = "Announcement"
		if s, ok := ev.Body.(string); ok {
			message = s
		}
	}

	return New(typ, ev.Channel, ev.Recipient, title, message, ev.Body)
}
