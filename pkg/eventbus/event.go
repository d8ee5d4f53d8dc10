package eventbus

import "time"

// Lifecycle channels published by the worker pool. Custom channels are
// allowed; these constants only name the fixed set.
const (
	ChannelJobStarted      = "task:started"
	ChannelJobProgress     = "task:progress"
	ChannelJobCompleted    = "task:completed"
	ChannelJobFailed       = "task:failed"
	ChannelSystemBroadcast = "system:broadcast"
)

// Event is a transient value carried by the bus. Events are never persisted:
// a subscriber connected after publication misses it.
type Event struct {
	// Channel names the stream the event belongs to.
	Channel string

	// Recipient optionally targets a single recipient. Empty means
	// broadcast-to-all for routing layers on top of the bus.
	Recipient string

	// Body is the opaque structured payload describing the event.
	Body any

	// At is the publication time, set by the bus.
	At time.Time
}
