package agency

import "errors"

var (
	// ErrNilStore is returned when Deps has no cache store.
	ErrNilStore = errors.New("agency: nil store")

	// ErrNilBackend is returned when Deps has no backend client.
	ErrNilBackend = errors.New("agency: nil backend")

	// ErrMissingID is returned when a record id is empty.
	ErrMissingID = errors.New("agency: missing id")

	// ErrInvalidStatus is returned for a status the entity does not know.
	ErrInvalidStatus = errors.New("agency: invalid status")

	// ErrInvalidPeriod is returned for a period not shaped YYYY-MM.
	ErrInvalidPeriod = errors.New("agency: invalid period")
)
