package eventbus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/queuekit/pkg/logger"
	"github.com/dmitrymomot/queuekit/pkg/metrics"
)

// HandlerFunc consumes events delivered to a subscription.
type HandlerFunc func(ctx context.Context, event Event)

// Bus is an in-process publish/subscribe channel. Delivery is fire-and-forget
// and best-effort: a publish with no subscribers succeeds silently, a slow
// subscriber has events dropped rather than blocking the publisher, and
// events published in sequence to one channel reach each subscriber in
// publication order.
type Bus struct {
	mu       sync.RWMutex
	channels map[string]map[string]*Subscription
	closed   bool

	bufferSize int
	logger     *slog.Logger
	collector  metrics.Collector
	wg         sync.WaitGroup
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithBufferSize sets the per-subscription buffer (default 64, minimum 1).
func WithBufferSize(n int) BusOption {
	return func(b *Bus) {
		if n > 0 {
			b.bufferSize = n
		}
	}
}

// WithBusLogger sets the logger for the bus.
func WithBusLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithBusCollector sets the metrics collector for the bus.
func WithBusCollector(c metrics.Collector) BusOption {
	return func(b *Bus) {
		if c != nil {
			b.collector = c
		}
	}
}

// NewBus creates a new event bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		channels:   make(map[string]map[string]*Subscription),
		bufferSize: 64,
		logger:     slog.Default(),
		collector:  metrics.Noop{},
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Publish delivers the event to every current subscriber of its channel.
// An event whose body cannot be serialized is logged and dropped without
// failing the bus; publication of other events continues.
func (b *Bus) Publish(ctx context.Context, event Event) error {
	if event.Channel == "" {
		return ErrEmptyChannel
	}

	// Reject bodies downstream consumers could never decode. The bus keeps
	// running: the bad event is dropped, not propagated as a failure.
	if event.Body != nil {
		if _, err := json.Marshal(event.Body); err != nil {
			b.logger.Error("dropping event with unserializable body",
				logger.Channel(event.Channel),
				logger.Error(err))
			b.collector.EventDropped(event.Channel)
			return nil
		}
	}

	if event.At.IsZero() {
		event.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	b.collector.EventPublished(event.Channel)

	subs, exists := b.channels[event.Channel]
	if !exists {
		// No subscribers is not an error.
		return nil
	}

	for _, sub := range subs {
		select {
		case sub.events <- event:
		default:
			// Slow consumer: drop for this subscriber only.
			b.logger.Debug("dropping event for slow subscriber",
				logger.Channel(event.Channel),
				slog.String("subscription_id", sub.id))
			b.collector.EventDropped(event.Channel)
		}
	}

	return nil
}

// Subscribe registers a handler for a channel. The handler runs on a
// dedicated goroutine per subscription; a panicking handler is recovered and
// logged so one bad subscriber cannot take down the bus. The subscription is
// closed when ctx is cancelled or Close is called on the returned handle.
func (b *Bus) Subscribe(ctx context.Context, channel string, handler HandlerFunc) (*Subscription, error) {
	if channel == "" {
		return nil, ErrEmptyChannel
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}

	sub := &Subscription{
		id:      uuid.NewString(),
		channel: channel,
		events:  make(chan Event, b.bufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}

	subs, exists := b.channels[channel]
	if !exists {
		subs = make(map[string]*Subscription)
		b.channels[channel] = subs
	}
	subs[sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go sub.consume(ctx, handler)

	if ctx.Done() != nil {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			select {
			case <-ctx.Done():
				_ = sub.Close()
			case <-sub.done:
			}
		}()
	}

	return sub, nil
}

// SubscriberCount returns the number of subscriptions on a channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.channels[channel])
}

// Close shuts down the bus and every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	subs := make([]*Subscription, 0)
	for _, chSubs := range b.channels {
		for _, sub := range chSubs {
			subs = append(subs, sub)
		}
	}
	clear(b.channels)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.markClosed()
	}

	b.wg.Wait()
	return nil
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, exists := b.channels[sub.channel]; exists {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(b.channels, sub.channel)
		}
	}
}

// Subscription is the handle returned by Subscribe.
type Subscription struct {
	id        string
	channel   string
	events    chan Event
	done      chan struct{}
	bus       *Bus
	closeOnce sync.Once
}

// ID returns the unique subscription id.
func (s *Subscription) ID() string { return s.id }

// Channel returns the subscribed channel name.
func (s *Subscription) Channel() string { return s.channel }

// Close unsubscribes and stops the handler goroutine after it drains
// already-buffered events.
func (s *Subscription) Close() error {
	s.bus.unsubscribe(s)
	s.markClosed()
	return nil
}

func (s *Subscription) markClosed() {
	s.closeOnce.Do(func() {
		close(s.events)
		close(s.done)
	})
}

func (s *Subscription) consume(ctx context.Context, handler HandlerFunc) {
	defer s.bus.wg.Done()

	for event := range s.events {
		s.handle(ctx, handler, event)
	}
}

func (s *Subscription) handle(ctx context.Context, handler HandlerFunc, event Event) {
	defer func() {
		if r := recover(); r != nil {
			s.bus.logger.Error("event handler panicked",
				logger.Channel(s.channel),
				slog.String("subscription_id", s.id),
				slog.Any("panic", r))
		}
	}()

	handler(ctx, event)
}
