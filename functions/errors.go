package functions

import "errors"

var (
	// ErrNilBackend is returned by NewServer without a backend client.
	ErrNilBackend = errors.New("functions: backend client is nil")

	// ErrNilCompleter is returned by NewServer without a completer.
	ErrNilCompleter = errors.New("functions: completer is nil")

	// ErrNilAuth is returned by NewServer without an auth middleware.
	ErrNilAuth = errors.New("functions: auth middleware is nil")

	// ErrBadRequest wraps request validation failures.
	ErrBadRequest = errors.New("functions: bad request")

	// ErrEmptyCompletion is returned when the model produced no text.
	ErrEmptyCompletion = errors.New("functions: empty completion")
)
