// Package health reports whether the sync layer's dependencies are usable.
//
// Checkers cover the hosted backend (Ping), the realtime subscription, the
// query cache, and the persistence storage. An Aggregator runs them in
// parallel under one deadline and the HTTP handlers expose the result:
//
//	agg := health.NewAggregator(health.WithLogger(logger))
//	agg.Register(health.NewPingChecker("backend", client))
//	agg.Register(health.NewCacheChecker(store, 10000))
//	health.RegisterHandlers(mux, agg)
//
// /healthz is a liveness probe, /readyz answers 503 when any check is
// unhealthy, and /health returns the per-check JSON report.
package health
