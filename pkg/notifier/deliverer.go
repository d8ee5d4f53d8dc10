package notifier

import (
	"context"
	"log/slog"

	"github.com/dmitrymomot/queuekit/pkg/logger"
)

// Deliverer pushes notifications to connected clients. Deliver targets one
// user; Broadcast fans out to every connection regardless of owner.
type Deliverer interface {
	Deliver(ctx context.Context, userID string, n Notification) error
	Broadcast(ctx context.Context, n Notification) error
}

// NoOpDeliverer discards everything. Useful in tests and for producers that
// run without a realtime surface.
type NoOpDeliverer struct{}

func (NoOpDeliverer) Deliver(ctx context.Context, userID string, n Notification) error {
	return nil
}

func (NoOpDeliverer) Broadcast(ctx context.Context, n Notification) error {
	return nil
}

// MultiDeliverer fans notifications out over several delivery channels,
// best effort. One failing channel never blocks the others.
type MultiDeliverer struct {
	deliverers []Deliverer
	logger     *slog.Logger
}

// MultiDelivererOption configures a MultiDeliverer.
type MultiDelivererOption func(*MultiDeliverer)

// WithMultiDelivererLogger sets the logger for the MultiDeliverer.
func WithMultiDelivererLogger(logger *slog.Logger) MultiDelivererOption {
	return func(m *MultiDeliverer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMultiDeliverer creates a multi-channel deliverer.
func NewMultiDeliverer(deliverers []Deliverer, opts ...MultiDelivererOption) *MultiDeliverer {
	m := &MultiDeliverer{
		deliverers: deliverers,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Deliver sends the notification to the user through every channel.
func (m *MultiDeliverer) Deliver(ctx context.Context, userID string, n Notification) error {
	for i, d := range m.deliverers {
		if err := d.Deliver(ctx, userID, n); err != nil {
			m.logger.Error("failed to deliver notification",
				slog.String("notification_id", n.ID),
				logger.UserID(userID),
				slog.Int("deliverer_index", i),
				logger.Error(err))
			continue
		}
	}
	return nil
}

// Broadcast sends the notification to every connection on every channel.
func (m *MultiDeliverer) Broadcast(ctx context.Context, n Notification) error {
	for i, d := range m.deliverers {
		if err := d.Broadcast(ctx, n); err != nil {
			m.logger.Error("failed to broadcast notification",
				slog.String("notification_id", n.ID),
				slog.Int("deliverer_index", i),
				logger.Error(err))
			continue
		}
	}
	return nil
}
