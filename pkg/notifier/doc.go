// Package notifier routes queue lifecycle events to connected clients.
//
// The Router subscribes to the event bus channels published by the worker
// pool and converts each event into a notification record. Notifications
// carrying a recipient go only to that user's connections; the rest, and all
// system broadcasts, fan out to every connection.
//
// Delivery is a capability, not a transport: the Router talks to a Deliverer
// and the bundled Registry implements it with in-memory per-user connection
// channels. Transport layers obtain a Connection via Registry.Connect and
// stream Notification values to the client however they like.
package notifier
