package mutation

import "errors"

// Sentinel errors for mutation operations.
var (
	ErrNilStore          = errors.New("mutation: store is nil")
	ErrNoKeys            = errors.New("mutation: no keys given")
	ErrTransactionClosed = errors.New("mutation: transaction already closed")
	ErrMissingName       = errors.New("mutation: spec name is required")
	ErrPatch             = errors.New("mutation: optimistic patch failed")
)
