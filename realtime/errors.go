package realtime

import "errors"

// Sentinel errors for realtime operations.
var (
	ErrNilSource      = errors.New("realtime: source is nil")
	ErrNilHandler     = errors.New("realtime: handler is nil")
	ErrInvalidFilter  = errors.New("realtime: invalid filter")
	ErrMissingURL     = errors.New("realtime: url is required")
	ErrMissingChannel = errors.New("realtime: channel name is required")
	ErrStreamClosed   = errors.New("realtime: stream closed")
	ErrJoinRejected   = errors.New("realtime: channel join rejected")
)
