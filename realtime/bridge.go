package realtime

import (
	"context"
	"sync"

	"github.com/jonwraymond/querysync/cache"
	"github.com/jonwraymond/querysync/notify"
	"github.com/jonwraymond/querysync/observe"
)

// KeyFunc derives the cache keys an event makes stale. Returned keys are
// prefixes: every cached key starting with one of them is invalidated.
type KeyFunc func(e Event) []cache.Key

// NotifyFunc derives a notification from an event. ok is false when the
// event should not notify.
type NotifyFunc func(e Event) (n notify.Notification, ok bool)

// Rule binds a filter to invalidations and a notification.
type Rule struct {
	Name   string
	Filter Filter
	Keys   []KeyFunc
	Notify NotifyFunc
}

// Keys returns a KeyFunc yielding fixed keys.
func Keys(keys ...cache.Key) KeyFunc {
	return func(Event) []cache.Key { return keys }
}

// RecordKey returns a KeyFunc yielding {root, "detail", <column value>}.
// Events without the column yield nothing.
func RecordKey(root, column string) KeyFunc {
	return func(e Event) []cache.Key {
		v, ok := e.Field(column)
		if !ok {
			return nil
		}
		return []cache.Key{cache.NewKey(root, "detail", v)}
	}
}

// Bridge turns events into cache invalidations and notifications.
//
// Contract:
// - Concurrency: Handle is safe for concurrent use; rules may be added
//   while events are handled.
// - Invalidation: for one event each cached entry is invalidated at most
//   once, however many rules or prefixes cover it. Entries no rule covers
//   are untouched.
type Bridge struct {
	store    *cache.Store
	notifier notify.Notifier
	logger   observe.Logger

	mu    sync.RWMutex
	rules []Rule
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithNotifier sets where event notifications go.
func WithNotifier(n notify.Notifier) BridgeOption {
	return func(b *Bridge) {
		if n != nil {
			b.notifier = n
		}
	}
}

// WithBridgeLogger sets the logger.
func WithBridgeLogger(l observe.Logger) BridgeOption {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// NewBridge creates a bridge over store.
func NewBridge(store *cache.Store, opts ...BridgeOption) (*Bridge, error) {
	if store == nil {
		return nil, cache.ErrNilStore
	}
	b := &Bridge{store: store, notifier: notify.Nop(), logger: observe.NopLogger()}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// InvalidateOn adds a rule invalidating the keys derived by keyFuncs when an
// event matches f.
func (b *Bridge) InvalidateOn(f Filter, keyFuncs ...KeyFunc) *Bridge {
	return b.AddRules(Rule{Filter: f, Keys: keyFuncs})
}

// NotifyOn adds a rule sending the notification derived by fn when an event
// matches f.
func (b *Bridge) NotifyOn(f Filter, fn NotifyFunc) *Bridge {
	return b.AddRules(Rule{Filter: f, Notify: fn})
}

// AddRules appends rules.
func (b *Bridge) AddRules(rules ...Rule) *Bridge {
	b.mu.Lock()
	b.rules = append(b.rules, rules...)
	b.mu.Unlock()
	return b
}

// Filters returns the distinct filters of all rules, for Subscribe.
func (b *Bridge) Filters() []Filter {
	b.mu.RLock()
	defer b.mu.RUnlock()

	seen := make(map[string]bool)
	var out []Filter
	for _, r := range b.rules {
		id := r.Filter.schema() + "." + r.Filter.Table + "?" + r.Filter.ServerFilter()
		for _, t := range r.Filter.Events {
			id += "&" + string(t)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, r.Filter)
	}
	return out
}

// Handle applies every matching rule to e. It is a Handler.
func (b *Bridge) Handle(ctx context.Context, e Event) error {
	b.mu.RLock()
	var matched []Rule
	for _, r := range b.rules {
		if r.Filter.Matches(e) {
			matched = append(matched, r)
		}
	}
	b.mu.RUnlock()
	if len(matched) == 0 {
		return nil
	}

	var prefixes []cache.Key
	for _, r := range matched {
		for _, fn := range r.Keys {
			for _, k := range fn(e) {
				if err := k.Validate(); err != nil {
					b.logger.Warn(ctx, "rule produced invalid key", observe.F("rule", r.Name), observe.Err(err))
					continue
				}
				prefixes = append(prefixes, k)
			}
		}
	}
	if n := b.invalidate(prefixes); n > 0 {
		b.logger.Debug(ctx, "invalidated from change feed",
			observe.F("table", e.Table), observe.F("event", string(e.Type)), observe.F("entries", n))
	}

	for _, r := range matched {
		if r.Notify == nil {
			continue
		}
		if n, ok := r.Notify(e); ok {
			b.notifier.Notify(ctx, n.WithSource("realtime:"+e.Table))
		}
	}
	return nil
}

// invalidate marks every cached key under any prefix, once each, and
// returns how many were marked.
func (b *Bridge) invalidate(prefixes []cache.Key) int {
	if len(prefixes) == 0 {
		return 0
	}
	affected := make(map[string]cache.Key)
	for _, k := range b.store.Keys() {
		for _, p := range prefixes {
			if k.HasPrefix(p) {
				affected[k.String()] = k
				break
			}
		}
	}
	n := 0
	for _, k := range affected {
		if b.store.Invalidate(k) {
			n++
		}
	}
	return n
}

var _ Handler = (*Bridge)(nil).Handle
