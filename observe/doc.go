// Package observe provides logging, tracing and metrics for backend, cache
// and function operations.
//
// It is a pure instrumentation library. Consumers build an Observer once at
// startup and pass its Logger and Middleware to the packages that perform
// I/O (backend, realtime, persist, functions).
package observe
