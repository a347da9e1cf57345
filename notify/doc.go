// Package notify delivers user-facing notifications (toasts) for mutation
// outcomes and realtime events.
//
// A Notifier receives one Notification per call. Implementations here log
// them, record them in memory, push them onto a buffered channel, or fan out
// to several notifiers.
package notify
