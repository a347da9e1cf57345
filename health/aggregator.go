package health

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/jonwraymond/querysync/observe"
)

// Aggregator runs registered checkers under one deadline and logs status
// transitions.
type Aggregator struct {
	timeout time.Duration
	logger  observe.Logger
	now     func() time.Time

	mu       sync.RWMutex
	checkers map[string]Checker
	order    []string
	last     map[string]Status
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithTimeout bounds CheckAll. Default: 10 seconds.
func WithTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithLogger logs each checker's status changes.
func WithLogger(l observe.Logger) AggregatorOption {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewAggregator creates a new health aggregator.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		timeout:  10 * time.Second,
		logger:   observe.NopLogger(),
		now:      time.Now,
		checkers: make(map[string]Checker),
		last:     make(map[string]Status),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register adds checker under its Name, replacing any checker of that name.
func (a *Aggregator) Register(checker Checker) {
	a.mu.Lock()
	defer a.mu.Unlock()

	name := checker.Name()
	if _, exists := a.checkers[name]; !exists {
		a.order = append(a.order, name)
	}
	a.checkers[name] = checker
}

// Unregister removes a checker.
func (a *Aggregator) Unregister(name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.checkers, name)
	delete(a.last, name)
	a.order = slices.DeleteFunc(a.order, func(n string) bool { return n == name })
}

// CheckerNames returns the names of all checkers in registration order.
func (a *Aggregator) CheckerNames() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.order)
}

// Check runs a single named health check.
func (a *Aggregator) Check(ctx context.Context, name string) (Result, error) {
	a.mu.RLock()
	checker, ok := a.checkers[name]
	a.mu.RUnlock()
	if !ok {
		return Result{}, ErrCheckerNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	result := a.runCheck(ctx, checker)
	a.record(ctx, name, result)
	return result, nil
}

// CheckAll runs every checker in parallel and returns results by name.
func (a *Aggregator) CheckAll(ctx context.Context) map[string]Result {
	a.mu.RLock()
	checkers := make(map[string]Checker, len(a.checkers))
	for name, checker := range a.checkers {
		checkers[name] = checker
	}
	a.mu.RUnlock()

	results := make(map[string]Result, len(checkers))
	if len(checkers) == 0 {
		return results
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for name, checker := range checkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := a.runCheck(ctx, checker)
			mu.Lock()
			results[name] = result
			mu.Unlock()
		}()
	}
	wg.Wait()

	for name, result := range results {
		a.record(ctx, name, result)
	}
	return results
}

// OverallStatus is the worst status among results; healthy when empty.
func OverallStatus(results map[string]Result) Status {
	overall := StatusHealthy
	for _, r := range results {
		if r.Status > overall {
			overall = r.Status
		}
	}
	return overall
}

func (a *Aggregator) runCheck(ctx context.Context, checker Checker) Result {
	start := a.now()

	// Buffered so a checker that ignores ctx does not leak a blocked send.
	resultCh := make(chan Result, 1)
	go func() {
		resultCh <- checker.Check(ctx)
	}()

	var result Result
	select {
	case result = <-resultCh:
	case <-ctx.Done():
		result = Unhealthy("check timed out", ErrCheckTimeout)
	}
	result.Duration = a.now().Sub(start)
	result.Timestamp = start
	return result
}

func (a *Aggregator) record(ctx context.Context, name string, r Result) {
	a.mu.Lock()
	prev, seen := a.last[name]
	if _, registered := a.checkers[name]; registered {
		a.last[name] = r.Status
	}
	a.mu.Unlock()

	if seen && prev == r.Status {
		return
	}
	fields := []observe.Field{
		observe.F("check", name),
		observe.F("status", r.Status.String()),
		observe.F("message", r.Message),
	}
	if r.Error != nil {
		fields = append(fields, observe.Err(r.Error))
	}
	switch r.Status {
	case StatusHealthy:
		if seen {
			a.logger.Info(ctx, "health check recovered", fields...)
		}
	case StatusDegraded:
		a.logger.Warn(ctx, "health check degraded", fields...)
	default:
		a.logger.Error(ctx, "health check failing", fields...)
	}
}
