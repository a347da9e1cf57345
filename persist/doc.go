// Package persist saves the query cache to durable storage and restores it
// on startup.
//
// The whole cache is written as one JSON blob under a fixed storage key:
//
//	{"queries":[{"queryKey":[...],"queryHash":"...","category":"...","data":...,"dataUpdatedAt":<ms>}],"timestamp":<ms>}
//
// Restore discards a blob older than the configured maximum age. Entries
// matched by the Denylist are never written. Storage and parse failures are
// logged and leave the cache empty (a cold start); they never stop the
// application.
//
// Three storages are provided: MemoryStorage (with an optional byte quota),
// FileStorage (one file per key, replaced atomically) and RedisStorage
// (shared between instances, expiring with the maximum age).
package persist
