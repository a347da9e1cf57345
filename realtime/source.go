package realtime

import (
	"context"
	"sync"
)

// Stream delivers events of one opened channel.
//
// Contract:
// - Concurrency: Recv is called from a single goroutine; Close may be called
//   concurrently with Recv and makes it return.
// - Errors: Recv returns ErrStreamClosed (or a transport error) once the
//   stream has ended. Ended streams are not reopened.
type Stream interface {
	Recv(ctx context.Context) (Event, error)
	Close() error
}

// Source opens streams.
type Source interface {
	Open(ctx context.Context, channel string, filters []Filter) (Stream, error)
}

// Handler processes one event. Returned errors are logged by the
// subscription and never stop it.
type Handler func(ctx context.Context, e Event) error

// ChanSource is an in-process Source fed through Publish. The command line
// tools use it for dry runs and tests use it to drive subscriptions.
type ChanSource struct {
	buffer  int
	streams chan *ChanStream
}

// NewChanSource creates a source whose streams buffer up to buffer events.
func NewChanSource(buffer int) *ChanSource {
	if buffer < 1 {
		buffer = 1
	}
	return &ChanSource{buffer: buffer, streams: make(chan *ChanStream, 16)}
}

// Open returns a new stream. Events published afterwards reach it.
func (s *ChanSource) Open(ctx context.Context, channel string, filters []Filter) (Stream, error) {
	st := &ChanStream{events: make(chan Event, s.buffer), closed: make(chan struct{})}
	select {
	case s.streams <- st:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return st, nil
}

// Streams yields every stream opened on the source, in order.
func (s *ChanSource) Streams() <-chan *ChanStream {
	return s.streams
}

// ChanStream is a stream opened on a ChanSource.
type ChanStream struct {
	events chan Event
	closed chan struct{}
	once   sync.Once
}

// Publish delivers e unless the stream is closed.
func (st *ChanStream) Publish(ctx context.Context, e Event) error {
	select {
	case <-st.closed:
		return ErrStreamClosed
	default:
	}
	select {
	case st.events <- e:
		return nil
	case <-st.closed:
		return ErrStreamClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv returns the next published event.
func (st *ChanStream) Recv(ctx context.Context) (Event, error) {
	select {
	case e := <-st.events:
		return e, nil
	case <-st.closed:
		return Event{}, ErrStreamClosed
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Close ends the stream.
func (st *ChanStream) Close() error {
	st.once.Do(func() { close(st.closed) })
	return nil
}
