// Package resilience protects calls to the hosted backend.
//
// It provides a circuit breaker, a token-bucket rate limiter, a concurrency
// bulkhead and a timeout, composed by Executor. Failed calls are not
// retried; the caller surfaces the error and the user repeats the action.
//
//	exec := resilience.NewExecutor(
//	    resilience.WithRateLimiter(resilience.NewRateLimiter(resilience.RateLimiterConfig{Rate: 20, Burst: 5})),
//	    resilience.WithCircuitBreaker(resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 5})),
//	    resilience.WithTimeout(10*time.Second),
//	)
//	err := exec.Execute(ctx, func(ctx context.Context) error {
//	    return client.do(ctx, req)
//	})
//
// Config is the YAML form of the same settings; NewExecutorFromConfig builds
// an Executor from it.
package resilience
