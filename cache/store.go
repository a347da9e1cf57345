package cache

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/querysync/observe"
)

// Fetcher loads the authoritative JSON payload for a key.
type Fetcher func(ctx context.Context) ([]byte, error)

// ChangeKind describes a store mutation reported to listeners.
type ChangeKind int

const (
	ChangeSet ChangeKind = iota
	ChangeInvalidate
	ChangeRemove
	ChangeClear
)

func (c ChangeKind) String() string {
	switch c {
	case ChangeSet:
		return "set"
	case ChangeInvalidate:
		return "invalidate"
	case ChangeRemove:
		return "remove"
	case ChangeClear:
		return "clear"
	default:
		return "unknown"
	}
}

// Change is delivered to OnChange listeners. Key is nil for ChangeClear.
type Change struct {
	Kind ChangeKind
	Key  Key
}

// EntryState is a read-only view of an entry's metadata.
type EntryState struct {
	Key           Key
	Category      Category
	UpdatedAt     time.Time
	LastAccess    time.Time
	Stale         bool
	Invalidated   bool
	Invalidations int
}

// EntrySnapshot is the persisted form of an entry.
type EntrySnapshot struct {
	Key       Key
	Category  Category
	Data      []byte
	UpdatedAt time.Time
}

type entry struct {
	key           Key
	segments      []string
	category      Category
	data          []byte
	updatedAt     time.Time
	lastAccess    time.Time
	invalidated   bool
	invalidations int
	// gen increases on every invalidation; fetches started under an older
	// generation do not write back.
	gen uint64
}

// Store is the in-memory query cache.
//
// Contract:
// - Concurrency: safe for concurrent use. Listeners run outside the lock.
// - Ownership: byte slices passed in or returned are copies.
// - Errors: fetch errors are returned to the caller and never cached.
type Store struct {
	mu       sync.RWMutex
	entries  map[string]*entry
	policies PolicyTable
	now      func() time.Time
	logger   observe.Logger

	flights singleflight.Group

	listenerMu   sync.Mutex
	listeners    map[int]func(Change)
	nextListener int

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPolicyTable replaces the built-in policy table.
func WithPolicyTable(t PolicyTable) StoreOption {
	return func(s *Store) {
		if t != nil {
			s.policies = t
		}
	}
}

// WithClock sets the time source. Tests use it to move time forward.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger used for best-effort failures.
func WithLogger(l observe.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		entries:   make(map[string]*entry),
		policies:  DefaultPolicyTable(),
		now:       time.Now,
		logger:    observe.NopLogger(),
		listeners: make(map[int]func(Change)),
		bgCtx:     ctx,
		bgCancel:  cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the policy the store applies to c.
func (s *Store) Policy(c Category) Policy {
	return s.policies.Lookup(c)
}

// Get returns a copy of the cached payload for key and marks the entry used.
func (s *Store) Get(key Key) ([]byte, bool) {
	id := key.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	e.lastAccess = s.now()
	return clone(e.data), true
}

// Set stores data for key. An empty category keeps the entry's current
// category, or standard for new entries.
func (s *Store) Set(key Key, category Category, data []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	s.write(key.String(), key, category, data, s.now())
	s.emit(Change{Kind: ChangeSet, Key: key})
	return nil
}

func (s *Store) write(id string, key Key, category Category, data []byte, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeLocked(id, key, category, data, updatedAt)
}

func (s *Store) writeLocked(id string, key Key, category Category, data []byte, updatedAt time.Time) {
	e, ok := s.entries[id]
	if !ok {
		e = &entry{key: cloneKey(key), segments: key.canonicalSegments(), category: CategoryStandard}
		s.entries[id] = e
	}
	if category != "" {
		e.category = category
	}
	e.data = clone(data)
	e.updatedAt = updatedAt
	e.lastAccess = s.now()
	e.invalidated = false
}

// State returns the metadata of key's entry.
func (s *Store) State(key Key) (EntryState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.String()]
	if !ok {
		return EntryState{}, false
	}
	return s.stateLocked(e, s.now()), true
}

func (s *Store) stateLocked(e *entry, now time.Time) EntryState {
	return EntryState{
		Key:           cloneKey(e.key),
		Category:      e.category,
		UpdatedAt:     e.updatedAt,
		LastAccess:    e.lastAccess,
		Stale:         e.invalidated || s.policies.Lookup(e.category).IsStale(e.updatedAt, now),
		Invalidated:   e.invalidated,
		Invalidations: e.invalidations,
	}
}

// Fetch returns the payload for key, loading it with fetch when needed.
//
//   - fresh entry: returned as is;
//   - stale entry: returned as is, and a background refetch is started;
//   - missing or invalidated entry: fetched before returning.
//
// Concurrent fetches of the same key share one call to fetch.
func (s *Store) Fetch(ctx context.Context, key Key, category Category, fetch Fetcher) ([]byte, error) {
	if s == nil {
		return nil, ErrNilStore
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	id := key.String()

	s.mu.Lock()
	now := s.now()
	if e, ok := s.entries[id]; ok && !e.invalidated {
		e.lastAccess = now
		data := clone(e.data)
		stale := s.policies.Lookup(e.category).IsStale(e.updatedAt, now)
		gen := e.gen
		s.mu.Unlock()

		if stale {
			s.refreshInBackground(id, gen, key, category, fetch)
		}
		return data, nil
	}
	gen := s.genLocked(id)
	s.mu.Unlock()

	return s.fetchNow(ctx, id, gen, key, category, fetch)
}

// Prefetch warms key if it is missing, invalidated or stale. Failures are
// logged and dropped.
func (s *Store) Prefetch(ctx context.Context, key Key, category Category, fetch Fetcher) {
	if err := key.Validate(); err != nil {
		s.logger.Warn(ctx, "prefetch skipped", observe.F("key", key.String()), observe.Err(err))
		return
	}
	id := key.String()

	s.mu.RLock()
	e, ok := s.entries[id]
	fresh := ok && !e.invalidated && !s.policies.Lookup(e.category).IsStale(e.updatedAt, s.now())
	gen := uint64(0)
	if ok {
		gen = e.gen
	}
	s.mu.RUnlock()

	if fresh {
		return
	}
	if _, err := s.fetchNow(ctx, id, gen, key, category, fetch); err != nil {
		s.logger.Warn(ctx, "prefetch failed", observe.F("key", id), observe.Err(err))
	}
}

func (s *Store) genLocked(id string) uint64 {
	if e, ok := s.entries[id]; ok {
		return e.gen
	}
	return 0
}

// fetchNow runs fetch once per key and generation. The shared call does not
// inherit the first caller's cancellation; each caller stops waiting when
// its own ctx is done.
func (s *Store) fetchNow(ctx context.Context, id string, gen uint64, key Key, category Category, fetch Fetcher) ([]byte, error) {
	flight := id + "#" + strconv.FormatUint(gen, 10)
	shared := context.WithoutCancel(ctx)
	ch := s.flights.DoChan(flight, func() (any, error) {
		data, err := fetch(shared)
		if err != nil {
			return nil, err
		}
		s.writeIfCurrent(id, gen, key, category, data)
		return data, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return clone(res.Val.([]byte)), nil
	}
}

// writeIfCurrent stores data unless the key was invalidated after the fetch
// started.
func (s *Store) writeIfCurrent(id string, gen uint64, key Key, category Category, data []byte) {
	s.mu.Lock()
	if current := s.genLocked(id); current != gen {
		s.mu.Unlock()
		s.logger.Debug(context.Background(), "discarding fetch result superseded by invalidation",
			observe.F("key", id))
		return
	}
	s.writeLocked(id, key, category, data, s.now())
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeSet, Key: key})
}

func (s *Store) refreshInBackground(id string, gen uint64, key Key, category Category, fetch Fetcher) {
	if s.bgCtx.Err() != nil {
		return
	}
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		if _, err := s.fetchNow(s.bgCtx, id, gen, key, category, fetch); err != nil {
			s.logger.Warn(s.bgCtx, "background refetch failed", observe.F("key", id), observe.Err(err))
		}
	}()
}

// Invalidate marks key stale so the next Fetch reloads it. It reports
// whether the key was cached.
func (s *Store) Invalidate(key Key) bool {
	s.mu.Lock()
	e, ok := s.entries[key.String()]
	if ok {
		invalidateLocked(e)
	}
	s.mu.Unlock()

	if ok {
		s.emit(Change{Kind: ChangeInvalidate, Key: key})
	}
	return ok
}

// InvalidatePrefix invalidates every key starting with prefix and returns
// how many entries were marked.
func (s *Store) InvalidatePrefix(prefix Key) int {
	want := prefix.canonicalSegments()

	s.mu.Lock()
	var hit []Key
	for _, e := range s.entries {
		if hasSegmentPrefix(e.segments, want) {
			invalidateLocked(e)
			hit = append(hit, cloneKey(e.key))
		}
	}
	s.mu.Unlock()

	for _, k := range hit {
		s.emit(Change{Kind: ChangeInvalidate, Key: k})
	}
	return len(hit)
}

func invalidateLocked(e *entry) {
	e.invalidated = true
	e.invalidations++
	e.gen++
}

// Remove deletes key. It reports whether the key was cached.
func (s *Store) Remove(key Key) bool {
	s.mu.Lock()
	_, ok := s.entries[key.String()]
	delete(s.entries, key.String())
	s.mu.Unlock()

	if ok {
		s.emit(Change{Kind: ChangeRemove, Key: key})
	}
	return ok
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	s.entries = make(map[string]*entry)
	s.mu.Unlock()
	s.emit(Change{Kind: ChangeClear})
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Keys returns all keys ordered by canonical form.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	keys := make([]Key, len(ids))
	for i, id := range ids {
		keys[i] = cloneKey(s.entries[id].key)
	}
	s.mu.RUnlock()
	return keys
}

// Sweep removes entries that have gone unread for longer than their
// category's GC time. It returns how many were removed.
func (s *Store) Sweep() int {
	now := s.now()

	s.mu.Lock()
	var removed []Key
	for id, e := range s.entries {
		if s.policies.Lookup(e.category).Collectable(e.lastAccess, now) {
			delete(s.entries, id)
			removed = append(removed, e.key)
		}
	}
	s.mu.Unlock()

	for _, k := range removed {
		s.emit(Change{Kind: ChangeRemove, Key: k})
	}
	return len(removed)
}

// RunGC calls Sweep every interval until ctx is done.
func (s *Store) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug(ctx, "cache sweep", observe.F("removed", n))
			}
		}
	}
}

// RunRefetch reloads key every RefetchInterval of category until ctx is
// done. Fetch failures are logged; the loop keeps going.
func (s *Store) RunRefetch(ctx context.Context, key Key, category Category, fetch Fetcher) error {
	if err := key.Validate(); err != nil {
		return err
	}
	p := s.policies.Lookup(category)
	if !p.Refetches() {
		return fmt.Errorf("%w: %s", ErrNoRefetchInterval, category)
	}

	ticker := time.NewTicker(p.RefetchInterval)
	defer ticker.Stop()

	id := key.String()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.mu.RLock()
			gen := s.genLocked(id)
			s.mu.RUnlock()
			if _, err := s.fetchNow(ctx, id, gen, key, category, fetch); err != nil {
				s.logger.Warn(ctx, "interval refetch failed", observe.F("key", id), observe.Err(err))
			}
		}
	}
}

// Snapshot returns every entry ordered by key.
func (s *Store) Snapshot() []EntrySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]EntrySnapshot, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, EntrySnapshot{
			Key:       cloneKey(e.key),
			Category:  e.category,
			Data:      clone(e.data),
			UpdatedAt: e.updatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Entry returns a copy of key's entry.
func (s *Store) Entry(key Key) (EntrySnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key.String()]
	if !ok {
		return EntrySnapshot{}, false
	}
	return EntrySnapshot{
		Key:       cloneKey(e.key),
		Category:  e.category,
		Data:      clone(e.data),
		UpdatedAt: e.updatedAt,
	}, true
}

// Put writes snap as is, keeping its update time. Unlike Restore it always
// replaces the current entry.
func (s *Store) Put(snap EntrySnapshot) error {
	if err := snap.Key.Validate(); err != nil {
		return err
	}
	s.write(snap.Key.String(), snap.Key, snap.Category, snap.Data, snap.UpdatedAt)
	s.emit(Change{Kind: ChangeSet, Key: snap.Key})
	return nil
}

// Restore loads snapshots. Entries already present with newer data win.
// Invalid snapshots are skipped. It returns how many entries were loaded.
func (s *Store) Restore(snaps []EntrySnapshot) int {
	var loaded []Key

	s.mu.Lock()
	for _, snap := range snaps {
		if err := snap.Key.Validate(); err != nil {
			continue
		}
		id := snap.Key.String()
		if e, ok := s.entries[id]; ok && !e.updatedAt.Before(snap.UpdatedAt) {
			continue
		}
		s.writeLocked(id, snap.Key, snap.Category, snap.Data, snap.UpdatedAt)
		loaded = append(loaded, snap.Key)
	}
	s.mu.Unlock()

	for _, k := range loaded {
		s.emit(Change{Kind: ChangeSet, Key: k})
	}
	return len(loaded)
}

// OnChange registers fn for every store change and returns a function that
// removes it.
func (s *Store) OnChange(fn func(Change)) (remove func()) {
	s.listenerMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenerMu.Unlock()

	return func() {
		s.listenerMu.Lock()
		delete(s.listeners, id)
		s.listenerMu.Unlock()
	}
}

func (s *Store) emit(c Change) {
	s.listenerMu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenerMu.Unlock()

	for _, fn := range fns {
		fn(c)
	}
}

// Close stops background refetches and waits for them to return.
func (s *Store) Close() {
	s.bgCancel()
	s.bg.Wait()
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneKey(k Key) Key {
	out := make(Key, len(k))
	copy(out, k)
	return out
}
