// Package mutation implements optimistic writes against the query cache.
//
// A Transaction snapshots the cached value of each affected key, applies a
// speculative value, and then either commits (invalidating the keys so the
// next read refetches) or rolls back to the snapshot. Run wraps the
// transaction around a backend call and emits exactly one notification for
// the outcome.
package mutation
