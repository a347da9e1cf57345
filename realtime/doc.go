// Package realtime consumes the backend's change feed and turns row changes
// into cache invalidations and notifications.
//
// A Source opens a Stream for a channel and a set of table filters. Subscribe
// runs one reader goroutine per subscription and passes each event to a
// Handler. A Bridge is a Handler that maps events to cache keys (invalidated
// once per event) and to notifications.
//
// There is no reconnect logic. When the stream ends the subscription moves
// to the unsubscribed state and the caller decides whether to subscribe
// again.
package realtime
