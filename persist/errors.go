package persist

import "errors"

var (
	// ErrNotFound is returned by a Storage when the key holds nothing.
	ErrNotFound = errors.New("persist: not found")

	// ErrQuotaExceeded is returned when a save would exceed the storage quota.
	ErrQuotaExceeded = errors.New("persist: quota exceeded")

	// ErrInvalidKey is returned for storage keys that are empty or unsafe as
	// file names.
	ErrInvalidKey = errors.New("persist: invalid storage key")

	// ErrNilStorage is returned when a Persister is created without storage.
	ErrNilStorage = errors.New("persist: nil storage")

	// ErrNilStore is returned when no cache store is given.
	ErrNilStore = errors.New("persist: nil store")

	// ErrInvalidBlob is returned when a stored blob cannot be decoded.
	ErrInvalidBlob = errors.New("persist: invalid blob")
)
