package health

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jonwraymond/querysync/cache"
	"github.com/jonwraymond/querysync/persist"
	"github.com/jonwraymond/querysync/realtime"
)

// Pinger is implemented by backend.Client and persist.RedisStorage.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports unhealthy when Ping fails.
type PingChecker struct {
	name   string
	pinger Pinger
}

// NewPingChecker creates a PingChecker.
func NewPingChecker(name string, p Pinger) *PingChecker {
	return &PingChecker{name: name, pinger: p}
}

// Name returns the checker name.
func (c *PingChecker) Name() string { return c.name }

// Check pings the dependency.
func (c *PingChecker) Check(ctx context.Context) Result {
	if err := c.pinger.Ping(ctx); err != nil {
		return Unhealthy(c.name+" unreachable", err)
	}
	return Healthy(c.name + " reachable")
}

// CacheChecker reports the query cache size. More than MaxEntries entries
// is degraded; garbage collection is probably not running.
type CacheChecker struct {
	store      *cache.Store
	maxEntries int
}

// NewCacheChecker creates a CacheChecker. maxEntries <= 0 disables the limit.
func NewCacheChecker(store *cache.Store, maxEntries int) *CacheChecker {
	return &CacheChecker{store: store, maxEntries: maxEntries}
}

// Name returns "cache".
func (c *CacheChecker) Name() string { return "cache" }

// Check counts entries and stale entries.
func (c *CacheChecker) Check(context.Context) Result {
	keys := c.store.Keys()
	stale := 0
	for _, k := range keys {
		if st, ok := c.store.State(k); ok && (st.Stale || st.Invalidated) {
			stale++
		}
	}
	details := map[string]any{"entries": len(keys), "stale": stale}
	if c.maxEntries > 0 {
		details["max_entries"] = c.maxEntries
		if len(keys) > c.maxEntries {
			return Degraded(fmt.Sprintf("cache holds %d entries, limit %d", len(keys), c.maxEntries)).WithDetails(details)
		}
	}
	return Healthy(fmt.Sprintf("cache holds %d entries", len(keys))).WithDetails(details)
}

// RealtimeChecker reports the change-feed subscription. A lost feed is
// degraded: cached data is still served and refetched when stale.
type RealtimeChecker struct {
	sub *realtime.Subscription
}

// NewRealtimeChecker creates a RealtimeChecker. A nil subscription means the
// feed is disabled.
func NewRealtimeChecker(sub *realtime.Subscription) *RealtimeChecker {
	return &RealtimeChecker{sub: sub}
}

// Name returns "realtime".
func (c *RealtimeChecker) Name() string { return "realtime" }

// Check reads the subscription state.
func (c *RealtimeChecker) Check(context.Context) Result {
	if c.sub == nil {
		return Healthy("realtime disabled")
	}
	delivered, failed := c.sub.Stats()
	details := map[string]any{
		"channel":   c.sub.Channel(),
		"state":     c.sub.State().String(),
		"delivered": delivered,
		"failed":    failed,
	}
	if c.sub.State() != realtime.StateSubscribed {
		r := Degraded("realtime feed not subscribed").WithDetails(details)
		r.Error = c.sub.Err()
		return r
	}
	return Healthy("realtime feed subscribed").WithDetails(details)
}

// ProbeKey is the storage key written by PersistChecker.
const ProbeKey = "querysync-health-probe"

// PersistChecker writes, reads back and removes a probe value.
type PersistChecker struct {
	storage persist.Storage
	now     func() time.Time
}

// NewPersistChecker creates a PersistChecker.
func NewPersistChecker(storage persist.Storage) *PersistChecker {
	return &PersistChecker{storage: storage, now: time.Now}
}

// Name returns "persist".
func (c *PersistChecker) Name() string { return "persist" }

// Check round-trips the probe. A failure is degraded: the cache still works
// without persistence.
func (c *PersistChecker) Check(ctx context.Context) Result {
	probe := []byte(strconv.FormatInt(c.now().UnixNano(), 10))
	if err := c.storage.Save(ctx, ProbeKey, probe); err != nil {
		return failed("persist storage write failed", err)
	}
	defer func() { _ = c.storage.Remove(context.WithoutCancel(ctx), ProbeKey) }()

	got, err := c.storage.Load(ctx, ProbeKey)
	if err != nil {
		return failed("persist storage read failed", err)
	}
	if !bytes.Equal(got, probe) {
		return failed("persist storage returned a different value", ErrCheckFailed)
	}
	return Healthy("persist storage round-trip ok")
}

func failed(msg string, err error) Result {
	r := Degraded(msg)
	r.Error = err
	return r
}

var (
	_ Checker = (*PingChecker)(nil)
	_ Checker = (*CacheChecker)(nil)
	_ Checker = (*RealtimeChecker)(nil)
	_ Checker = (*PersistChecker)(nil)
)
