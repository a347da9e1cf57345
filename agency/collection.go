package agency

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/querysync/backend"
	"github.com/jonwraymond/querysync/cache"
	"github.com/jonwraymond/querysync/mutation"
	"github.com/jonwraymond/querysync/observe"
)

// Deps are the collaborators shared by every collection.
type Deps struct {
	Store   *cache.Store
	Backend *backend.Client
	// Runner executes mutations. Default: a runner over Store without
	// notifications.
	Runner *mutation.Runner
	Logger observe.Logger
	// Now stamps paid_at and similar fields. Default: time.Now.
	Now func() time.Time
}

func (d Deps) withDefaults() (Deps, error) {
	if d.Store == nil {
		return d, ErrNilStore
	}
	if d.Backend == nil {
		return d, ErrNilBackend
	}
	if d.Runner == nil {
		r, err := mutation.NewRunner(d.Store)
		if err != nil {
			return d, err
		}
		d.Runner = r
	}
	if d.Logger == nil {
		d.Logger = observe.NopLogger()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d, nil
}

// Collection is the cached query and mutation surface of one table.
//
// Contract:
// - Keys: {root}, {root, "list", params}, {root, "detail", id}.
// - Reads: go through the cache; the category decides staleness.
// - Writes: invalidate {root} on success and notify once either way.
type Collection[T any] struct {
	deps     Deps
	table    string
	category cache.Category
	noun     string
}

// NewCollection creates a collection over table. noun names one record in
// notifications ("Cliente", "Fatura").
func NewCollection[T any](deps Deps, table string, category cache.Category, noun string) (*Collection[T], error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if err := cache.NewKey(table).Validate(); err != nil {
		return nil, err
	}
	return &Collection[T]{deps: deps, table: table, category: category, noun: noun}, nil
}

// Table returns the backend table name, which is also the cache root.
func (c *Collection[T]) Table() string { return c.table }

// Category returns the cache category of the collection.
func (c *Collection[T]) Category() cache.Category { return c.category }

// Key returns the root key covering every cached query of the collection.
func (c *Collection[T]) Key() cache.Key { return cache.NewKey(c.table) }

// ListKey returns the cache key of q.
func (c *Collection[T]) ListKey(q backend.Query) cache.Key {
	return cache.NewKey(c.table, "list", q.KeyParams())
}

// DetailKey returns the cache key of one record.
func (c *Collection[T]) DetailKey(id string) cache.Key {
	return cache.NewKey(c.table, "detail", id)
}

// List returns the rows matching q.
func (c *Collection[T]) List(ctx context.Context, q backend.Query) ([]T, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return cache.FetchData(ctx, c.deps.Store, c.ListKey(q), c.category, func(ctx context.Context) ([]T, error) {
		rows, err := backend.SelectAs[T](ctx, c.deps.Backend, c.table, q)
		if rows == nil && err == nil {
			rows = []T{}
		}
		return rows, err
	})
}

// Get returns one record by id.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	if id == "" {
		var zero T
		return zero, ErrMissingID
	}
	return cache.FetchData(ctx, c.deps.Store, c.DetailKey(id), c.category, func(ctx context.Context) (T, error) {
		return backend.SingleAs[T](ctx, c.deps.Backend, c.table, backend.Query{}.Where(backend.Eq("id", id)))
	})
}

// Prefetch warms the cache for q. Failures are logged and dropped.
func (c *Collection[T]) Prefetch(ctx context.Context, q backend.Query) {
	if err := q.Validate(); err != nil {
		c.deps.Logger.Warn(ctx, "prefetch skipped", observe.F("table", c.table), observe.Err(err))
		return
	}
	c.deps.Store.Prefetch(ctx, c.ListKey(q), c.category, func(ctx context.Context) ([]byte, error) {
		raw, err := c.deps.Backend.Select(ctx, c.table, q)
		return []byte(raw), err
	})
}

// Create inserts row and returns the stored record.
func (c *Collection[T]) Create(ctx context.Context, row any) (T, error) {
	return mutation.Run(ctx, c.deps.Runner, mutation.Spec{
		Name:         "create",
		Resource:     c.table,
		Invalidate:   []cache.Key{c.Key()},
		SuccessTitle: c.noun + " criado(a)",
		FailureTitle: "Erro ao criar " + c.noun,
	}, func(ctx context.Context) (T, error) {
		return backend.InsertOne[T](ctx, c.deps.Backend, c.table, row)
	})
}

// Update patches the record id and returns it.
func (c *Collection[T]) Update(ctx context.Context, id string, patch any) (T, error) {
	return c.patchRecord(ctx, mutation.Spec{Name: "update"}, id, patch)
}

// patchRecord updates one record with spec's side effects. Resource, the
// root invalidation and missing titles are filled in.
func (c *Collection[T]) patchRecord(ctx context.Context, spec mutation.Spec, id string, patch any) (T, error) {
	if id == "" {
		var zero T
		return zero, ErrMissingID
	}
	spec.Resource = c.table
	spec.Invalidate = append([]cache.Key{c.Key()}, spec.Invalidate...)
	if spec.SuccessTitle == "" {
		spec.SuccessTitle = c.noun + " atualizado(a)"
	}
	if spec.FailureTitle == "" {
		spec.FailureTitle = "Erro ao atualizar " + c.noun
	}
	return mutation.Run(ctx, c.deps.Runner, spec, func(ctx context.Context) (T, error) {
		return backend.UpdateOne[T](ctx, c.deps.Backend, c.table, []backend.Filter{backend.Eq("id", id)}, patch)
	})
}

// Delete removes the record id.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrMissingID
	}
	_, err := mutation.Run(ctx, c.deps.Runner, mutation.Spec{
		Name:         "delete",
		Resource:     c.table,
		Invalidate:   []cache.Key{c.Key()},
		SuccessTitle: c.noun + " excluído(a)",
		FailureTitle: "Erro ao excluir " + c.noun,
	}, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.deps.Backend.Delete(ctx, c.table, []backend.Filter{backend.Eq("id", id)})
	})
	return err
}

// cachedLists returns the list keys currently cached for the collection.
func (c *Collection[T]) cachedLists() []cache.Key {
	prefix := cache.NewKey(c.table, "list")
	var out []cache.Key
	for _, k := range c.deps.Store.Keys() {
		if k.HasPrefix(prefix) {
			out = append(out, k)
		}
	}
	return out
}

// optimisticField builds patches that set one record's field through set in
// the cached detail and in every cached list holding the record.
func optimisticField[T any](c *Collection[T], id string, match func(*T) bool, set func(*T)) []mutation.Patch {
	patches := []mutation.Patch{mutation.PatchJSON(c.DetailKey(id), c.category, set)}
	for _, k := range c.cachedLists() {
		patches = append(patches, mutation.PatchEach(k, c.category, func(v *T) {
			if match(v) {
				set(v)
			}
		}))
	}
	return patches
}

func validatePeriod(period string) error {
	if _, err := time.Parse("2006-01", period); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidPeriod, period)
	}
	return nil
}
