package persist

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonwraymond/querysync/cache"
)

// Blob is the persisted form of the cache.
type Blob struct {
	Queries []Query `json:"queries"`
	// Timestamp is when the blob was written, in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// Query is one persisted cache entry.
type Query struct {
	QueryKey      cache.Key       `json:"queryKey"`
	QueryHash     string          `json:"queryHash"`
	Category      cache.Category  `json:"category,omitempty"`
	Data          json.RawMessage `json:"data"`
	DataUpdatedAt int64           `json:"dataUpdatedAt"`
}

// WrittenAt returns Timestamp as a time.
func (b Blob) WrittenAt() time.Time {
	return time.UnixMilli(b.Timestamp)
}

// Age returns how old the blob is at now. A timestamp in the future counts
// as age zero.
func (b Blob) Age(now time.Time) time.Duration {
	age := now.Sub(b.WrittenAt())
	if age < 0 {
		return 0
	}
	return age
}

// Snapshots converts the blob back to cache entries. Entries whose hash does
// not match their key are dropped.
func (b Blob) Snapshots() []cache.EntrySnapshot {
	out := make([]cache.EntrySnapshot, 0, len(b.Queries))
	for _, q := range b.Queries {
		if q.QueryHash != "" && q.QueryHash != q.QueryKey.Hash() {
			continue
		}
		out = append(out, cache.EntrySnapshot{
			Key:       q.QueryKey,
			Category:  q.Category,
			Data:      []byte(q.Data),
			UpdatedAt: time.UnixMilli(q.DataUpdatedAt),
		})
	}
	return out
}

// NewBlob builds a blob from snapshots. Entries whose data is not JSON are
// skipped and counted.
func NewBlob(snaps []cache.EntrySnapshot, now time.Time) (Blob, int) {
	b := Blob{Queries: make([]Query, 0, len(snaps)), Timestamp: now.UnixMilli()}
	skipped := 0
	for _, s := range snaps {
		if !json.Valid(s.Data) {
			skipped++
			continue
		}
		b.Queries = append(b.Queries, Query{
			QueryKey:      s.Key,
			QueryHash:     s.Key.Hash(),
			Category:      s.Category,
			Data:          json.RawMessage(s.Data),
			DataUpdatedAt: s.UpdatedAt.UnixMilli(),
		})
	}
	return b, skipped
}

// DecodeBlob parses a stored blob.
func DecodeBlob(data []byte) (Blob, error) {
	var b Blob
	if err := json.Unmarshal(data, &b); err != nil {
		return Blob{}, fmt.Errorf("%w: %w", ErrInvalidBlob, err)
	}
	if b.Timestamp <= 0 {
		return Blob{}, fmt.Errorf("%w: missing timestamp", ErrInvalidBlob)
	}
	return b, nil
}
