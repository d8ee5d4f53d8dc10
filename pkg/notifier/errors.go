package notifier

import "errors"

var (
	// ErrBusNil is returned when a router is created without an event bus.
	ErrBusNil = errors.New("event bus cannot be nil")

	// ErrDelivererNil is returned when a router is created without a deliverer.
	ErrDelivererNil = errors.New("deliverer cannot be nil")

	// ErrRegistryClosed is returned by connection operations after Close.
	ErrRegistryClosed = errors.New("connection registry is closed")
)
