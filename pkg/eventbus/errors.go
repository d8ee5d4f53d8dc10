package eventbus

import "errors"

var (
	// ErrBusClosed is returned when publishing or subscribing after Close.
	ErrBusClosed = errors.New("event bus is closed")

	// ErrEmptyChannel is returned when no channel name is given.
	ErrEmptyChannel = errors.New("channel name cannot be empty")

	// ErrNilHandler is returned when subscribing without a handler.
	ErrNilHandler = errors.New("handler cannot be nil")
)
