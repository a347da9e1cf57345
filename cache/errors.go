package cache

import "errors"

// Sentinel errors for cache operations.
var (
	ErrNilStore          = errors.New("cache: store is nil")
	ErrInvalidKey        = errors.New("cache: key is invalid")
	ErrKeyTooLong        = errors.New("cache: key exceeds max length")
	ErrInvalidPolicy     = errors.New("cache: invalid policy")
	ErrNoRefetchInterval = errors.New("cache: category has no refetch interval")
)
