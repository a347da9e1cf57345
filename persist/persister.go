package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/querysync/cache"
	"github.com/jonwraymond/querysync/observe"
)

// DefaultKey is the storage key of the blob.
const DefaultKey = "querysync-cache"

// Config configures a Persister.
type Config struct {
	// Key is the storage key of the blob.
	// Default: DefaultKey
	Key string
	// MaxAge discards blobs older than this at restore time.
	// Default: 24 hours
	MaxAge time.Duration
	// Throttle is the minimum delay between writes made by Watch.
	// Default: 1 second
	Throttle time.Duration
	// Denylist selects entries that are never written.
	// Default: DefaultDenylist()
	Denylist *Denylist
	// Now is the clock. Default: time.Now
	Now    func() time.Time
	Logger observe.Logger
}

// Persister writes a cache.Store to a Storage and reads it back.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Errors: Restore never fails because of stored data; unreadable or
//   expired blobs are logged and give an empty cache.
type Persister struct {
	storage Storage
	cfg     Config
}

// New creates a Persister.
func New(storage Storage, cfg Config) (*Persister, error) {
	if storage == nil {
		return nil, ErrNilStorage
	}
	if cfg.Key == "" {
		cfg.Key = DefaultKey
	}
	if err := validateStorageKey(cfg.Key); err != nil {
		return nil, err
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.Throttle <= 0 {
		cfg.Throttle = time.Second
	}
	if cfg.Denylist == nil {
		d := DefaultDenylist()
		cfg.Denylist = &d
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = observe.NopLogger()
	}
	return &Persister{storage: storage, cfg: cfg}, nil
}

// Key returns the storage key of the blob.
func (p *Persister) Key() string { return p.cfg.Key }

// MaxAge returns the configured maximum blob age.
func (p *Persister) MaxAge() time.Duration { return p.cfg.MaxAge }

// Persist writes every allowed entry of store and returns how many were
// written. Denied entries are filtered before encoding, so they never reach
// the storage.
func (p *Persister) Persist(ctx context.Context, store *cache.Store) (int, error) {
	if store == nil {
		return 0, ErrNilStore
	}
	snaps := store.Snapshot()
	allowed := snaps[:0]
	for _, s := range snaps {
		if !p.cfg.Denylist.Denies(s.Key, s.Category) {
			allowed = append(allowed, s)
		}
	}

	blob, skipped := NewBlob(allowed, p.cfg.Now())
	if skipped > 0 {
		p.cfg.Logger.Debug(ctx, "skipped entries without json data", observe.F("count", skipped))
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return 0, fmt.Errorf("persist: encode blob: %w", err)
	}
	if err := p.storage.Save(ctx, p.cfg.Key, data); err != nil {
		p.cfg.Logger.Warn(ctx, "cache persist failed",
			observe.F("key", p.cfg.Key), observe.F("bytes", len(data)), observe.Err(err))
		return 0, err
	}
	return len(blob.Queries), nil
}

// Restore loads the blob into store and returns how many entries were
// restored. A missing, unreadable or expired blob restores nothing; expired
// and unreadable blobs are removed.
func (p *Persister) Restore(ctx context.Context, store *cache.Store) (int, error) {
	if store == nil {
		return 0, ErrNilStore
	}
	log := p.cfg.Logger.With(observe.F("key", p.cfg.Key))

	data, err := p.storage.Load(ctx, p.cfg.Key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		log.Warn(ctx, "cache restore failed, starting cold", observe.Err(err))
		return 0, nil
	}

	blob, err := DecodeBlob(data)
	if err != nil {
		log.Warn(ctx, "discarding unreadable cache blob", observe.Err(err))
		p.remove(ctx)
		return 0, nil
	}
	if age := blob.Age(p.cfg.Now()); age > p.cfg.MaxAge {
		log.Info(ctx, "discarding expired cache blob",
			observe.F("age", age.String()), observe.F("max_age", p.cfg.MaxAge.String()))
		p.remove(ctx)
		return 0, nil
	}

	snaps := blob.Snapshots()
	allowed := snaps[:0]
	for _, s := range snaps {
		if !p.cfg.Denylist.Denies(s.Key, s.Category) {
			allowed = append(allowed, s)
		}
	}
	n := store.Restore(allowed)
	log.Debug(ctx, "cache restored", observe.F("entries", n))
	return n, nil
}

func (p *Persister) remove(ctx context.Context) {
	if err := p.storage.Remove(ctx, p.cfg.Key); err != nil {
		p.cfg.Logger.Warn(ctx, "remove cache blob failed", observe.Err(err))
	}
}

// Inspect returns the stored blob.
func (p *Persister) Inspect(ctx context.Context) (Blob, error) {
	data, err := p.storage.Load(ctx, p.cfg.Key)
	if err != nil {
		return Blob{}, err
	}
	return DecodeBlob(data)
}

// Purge removes the stored blob.
func (p *Persister) Purge(ctx context.Context) error {
	return p.storage.Remove(ctx, p.cfg.Key)
}

// Watch persists store after it changes, at most once per Throttle, until
// ctx is done. Pending changes are flushed before it returns. Write
// failures are logged.
func (p *Persister) Watch(ctx context.Context, store *cache.Store) error {
	if store == nil {
		return ErrNilStore
	}
	dirty := make(chan struct{}, 1)
	remove := store.OnChange(func(cache.Change) {
		select {
		case dirty <- struct{}{}:
		default:
		}
	})
	defer remove()

	flush := func(ctx context.Context) {
		_, _ = p.Persist(ctx, store)
	}
	for {
		select {
		case <-ctx.Done():
			select {
			case <-dirty:
				flush(context.WithoutCancel(ctx))
			default:
			}
			return nil
		case <-dirty:
		}

		timer := time.NewTimer(p.cfg.Throttle)
		select {
		case <-ctx.Done():
			timer.Stop()
			flush(context.WithoutCancel(ctx))
			return nil
		case <-timer.C:
		}
		// Changes made while waiting are included in this write.
		select {
		case <-dirty:
		default:
		}
		flush(ctx)
	}
}
