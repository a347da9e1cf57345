package mutation

import (
	"context"
	"errors"

	"github.com/jonwraymond/querysync/cache"
	"github.com/jonwraymond/querysync/notify"
	"github.com/jonwraymond/querysync/observe"
)

// errSkip tells Run to leave a key untouched. It is never returned to callers.
var errSkip = errors.New("mutation: skip patch")

// Spec declares a mutation and its side effects.
type Spec struct {
	// Name identifies the mutation in logs and spans ("mark_paid").
	Name string
	// Resource is the backend table or RPC the mutation writes to.
	Resource string
	// Optimistic patches applied before the write.
	Optimistic []Patch
	// Invalidate lists key prefixes invalidated after a successful write.
	Invalidate []cache.Key

	SuccessTitle   string
	SuccessMessage string
	FailureTitle   string
}

func (s Spec) successTitle() string {
	if s.SuccessTitle != "" {
		return s.SuccessTitle
	}
	return "Operação concluída"
}

func (s Spec) failureTitle() string {
	if s.FailureTitle != "" {
		return s.FailureTitle
	}
	return "Erro na operação"
}

// Runner executes mutation specs against a store.
type Runner struct {
	store    *cache.Store
	notifier notify.Notifier
	logger   observe.Logger
	mw       *observe.Middleware
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithNotifier sets where outcome notifications go.
func WithNotifier(n notify.Notifier) RunnerOption {
	return func(r *Runner) {
		if n != nil {
			r.notifier = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l observe.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMiddleware instruments each mutation.
func WithMiddleware(mw *observe.Middleware) RunnerOption {
	return func(r *Runner) {
		if mw != nil {
			r.mw = mw
		}
	}
}

// NewRunner creates a Runner.
func NewRunner(store *cache.Store, opts ...RunnerOption) (*Runner, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	r := &Runner{
		store:    store,
		notifier: notify.Nop(),
		logger:   observe.NopLogger(),
		mw:       observe.NopMiddleware(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Store returns the runner's cache.
func (r *Runner) Store() *cache.Store {
	return r.store
}

// Notifier returns the runner's notifier.
func (r *Runner) Notifier() notify.Notifier {
	return r.notifier
}

// Run performs a mutation:
//
//  1. snapshot every optimistic key;
//  2. apply the optimistic patches;
//  3. call fn;
//  4. on success commit, invalidate spec.Invalidate and send one success
//     notification;
//  5. on failure roll back and send one error notification carrying the
//     error text.
func Run[T any](ctx context.Context, r *Runner, spec Spec, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if spec.Name == "" {
		return zero, ErrMissingName
	}

	meta := observe.OperationMeta{Kind: observe.KindMutation, Resource: spec.Resource, Name: spec.Name}
	log := r.logger.WithOperation(meta)

	var tx *Transaction
	if len(spec.Optimistic) > 0 {
		keys := make([]cache.Key, 0, len(spec.Optimistic))
		for _, p := range spec.Optimistic {
			keys = append(keys, p.Key)
		}
		var err error
		tx, err = Begin(r.store, keys...)
		if err != nil {
			return zero, err
		}
		for _, p := range spec.Optimistic {
			err := tx.ApplyFunc(p.Key, p.Category, p.Update)
			if errors.Is(err, errSkip) {
				continue
			}
			if err != nil {
				if rbErr := tx.Rollback(); rbErr != nil {
					log.Error(ctx, "rollback failed", observe.Err(rbErr))
				}
				r.notifier.Notify(ctx, notify.Failure(spec.failureTitle(), err).WithSource(spec.Resource))
				return zero, err
			}
		}
	}

	var result T
	err := r.mw.Run(ctx, meta, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)
		return err
	})
	if err != nil {
		if tx != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error(ctx, "rollback failed", observe.Err(rbErr))
			}
		}
		r.notifier.Notify(ctx, notify.Failure(spec.failureTitle(), err).WithSource(spec.Resource))
		return zero, err
	}

	if tx != nil {
		if err := tx.Commit(); err != nil {
			log.Warn(ctx, "commit failed", observe.Err(err))
		}
	}
	for _, k := range spec.Invalidate {
		r.store.InvalidatePrefix(k)
	}
	r.notifier.Notify(ctx, notify.Success(spec.successTitle(), spec.SuccessMessage).WithSource(spec.Resource))
	return result, nil
}
