package mutation

import (
	"fmt"
	"sync"

	"github.com/jonwraymond/querysync/cache"
)

// State is the lifecycle position of a Transaction.
type State int

const (
	StatePending State = iota
	StateApplied
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateApplied:
		return "applied"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

type snapshot struct {
	key   cache.Key
	entry cache.EntrySnapshot
	had   bool
	// invalidated and invalidations record the entry's freshness at Begin.
	invalidated   bool
	invalidations int
}

// Transaction is a snapshot-apply-commit/rollback unit over cache keys.
//
// Contract:
// - Concurrency: safe for concurrent use, but it does not coordinate with
//   other transactions on the same key. The last write wins.
// - Lifecycle: after Commit or Rollback every method returns
//   ErrTransactionClosed.
type Transaction struct {
	mu    sync.Mutex
	store *cache.Store
	snaps map[string]snapshot
	order []string
	state State
}

// Begin snapshots the current value of every key.
func Begin(store *cache.Store, keys ...cache.Key) (*Transaction, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	tx := &Transaction{store: store, snaps: make(map[string]snapshot, len(keys))}
	for _, k := range keys {
		if err := k.Validate(); err != nil {
			return nil, err
		}
		tx.snapshotLocked(k)
	}
	return tx, nil
}

func (tx *Transaction) snapshotLocked(k cache.Key) {
	id := k.String()
	if _, ok := tx.snaps[id]; ok {
		return
	}
	entry, had := tx.store.Entry(k)
	snap := snapshot{key: k, entry: entry, had: had}
	if st, ok := tx.store.State(k); ok {
		snap.invalidated = st.Invalidated
		snap.invalidations = st.Invalidations
	}
	tx.snaps[id] = snap
	tx.order = append(tx.order, id)
}

// State returns the transaction state.
func (tx *Transaction) State() State {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Keys returns the keys covered by the transaction in snapshot order.
func (tx *Transaction) Keys() []cache.Key {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	out := make([]cache.Key, 0, len(tx.order))
	for _, id := range tx.order {
		out = append(out, tx.snaps[id].key)
	}
	return out
}

// Apply writes data speculatively. Keys not passed to Begin are snapshotted
// first.
func (tx *Transaction) Apply(key cache.Key, category cache.Category, data []byte) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closedLocked() {
		return ErrTransactionClosed
	}
	if err := key.Validate(); err != nil {
		return err
	}
	tx.snapshotLocked(key)
	if err := tx.store.Set(key, category, data); err != nil {
		return err
	}
	tx.state = StateApplied
	return nil
}

// ApplyFunc computes the speculative value from the current one.
func (tx *Transaction) ApplyFunc(key cache.Key, category cache.Category, update func(prev []byte, ok bool) ([]byte, error)) error {
	prev, ok := tx.store.Get(key)
	next, err := update(prev, ok)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPatch, key, err)
	}
	return tx.Apply(key, category, next)
}

// Commit closes the transaction and invalidates every covered key so the
// next read fetches authoritative data.
func (tx *Transaction) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closedLocked() {
		return ErrTransactionClosed
	}
	for _, id := range tx.order {
		tx.store.Invalidate(tx.snaps[id].key)
	}
	tx.state = StateCommitted
	return nil
}

// Rollback restores every snapshot. Keys that were absent at snapshot time
// are removed. A key that was invalidated before Begin, or while the
// transaction was open, stays invalidated after its value is restored.
func (tx *Transaction) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.closedLocked() {
		return ErrTransactionClosed
	}
	var firstErr error
	for i := len(tx.order) - 1; i >= 0; i-- {
		snap := tx.snaps[tx.order[i]]
		if !snap.had {
			tx.store.Remove(snap.key)
			continue
		}
		reinvalidate := snap.invalidated
		if st, ok := tx.store.State(snap.key); ok && st.Invalidations > snap.invalidations {
			reinvalidate = true
		}
		if err := tx.store.Put(snap.entry); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if reinvalidate {
			tx.store.Invalidate(snap.key)
		}
	}
	tx.state = StateRolledBack
	return firstErr
}

func (tx *Transaction) closedLocked() bool {
	return tx.state == StateCommitted || tx.state == StateRolledBack
}
