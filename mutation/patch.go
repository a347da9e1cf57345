package mutation

import (
	"encoding/json"
	"fmt"

	"github.com/jonwraymond/querysync/cache"
)

// Patch describes one speculative cache write.
type Patch struct {
	Key      cache.Key
	Category cache.Category
	// Update receives the cached payload (ok is false when absent) and
	// returns the value the UI should see while the write is in flight.
	Update func(prev []byte, ok bool) ([]byte, error)
}

// PatchJSON builds a Patch that decodes the cached value into T, lets fn
// modify it and encodes the result. Absent keys are skipped.
func PatchJSON[T any](key cache.Key, category cache.Category, fn func(*T)) Patch {
	return Patch{
		Key:      key,
		Category: category,
		Update: func(prev []byte, ok bool) ([]byte, error) {
			if !ok {
				return nil, errSkip
			}
			var v T
			if err := json.Unmarshal(prev, &v); err != nil {
				return nil, fmt.Errorf("decode cached value: %w", err)
			}
			fn(&v)
			return json.Marshal(v)
		},
	}
}

// PatchEach builds a Patch over a cached JSON array of T, applying fn to
// each element. Absent keys are skipped.
func PatchEach[T any](key cache.Key, category cache.Category, fn func(*T)) Patch {
	return PatchJSON[[]T](key, category, func(items *[]T) {
		for i := range *items {
			fn(&(*items)[i])
		}
	})
}
