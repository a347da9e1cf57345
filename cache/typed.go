package cache

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetData decodes the cached payload for key into T.
func GetData[T any](s *Store, key Key) (T, bool, error) {
	var out T
	data, ok := s.Get(key)
	if !ok {
		return out, false, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, true, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return out, true, nil
}

// SetData encodes v and stores it under key.
func SetData[T any](s *Store, key Key, category Category, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return s.Set(key, category, data)
}

// FetchData is the typed form of Store.Fetch.
func FetchData[T any](ctx context.Context, s *Store, key Key, category Category, fetch func(ctx context.Context) (T, error)) (T, error) {
	var out T
	data, err := s.Fetch(ctx, key, category, func(ctx context.Context) ([]byte, error) {
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return out, nil
}
