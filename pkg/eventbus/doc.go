// Package eventbus provides an in-process publish/subscribe channel carrying
// job lifecycle events from the worker pool to interested listeners.
//
// Events are ephemeral: nothing is persisted, there is no replay, and a
// subscriber connected after publication misses the event (at-most-once,
// best-effort). Per channel, events published in sequence by one publisher
// reach each subscriber in publication order; no ordering is guaranteed
// across channels.
//
//	bus := eventbus.NewBus()
//	sub, _ := bus.Subscribe(ctx, eventbus.ChannelJobCompleted, func(ctx context.Context, ev eventbus.Event) {
//	    // react to completion
//	})
//	defer sub.Close()
package eventbus
