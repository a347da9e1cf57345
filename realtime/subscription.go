package realtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/jonwraymond/querysync/observe"
)

// SubState is the state of a Subscription.
type SubState int32

const (
	StateSubscribed SubState = iota
	StateUnsubscribed
)

func (s SubState) String() string {
	if s == StateSubscribed {
		return "subscribed"
	}
	return "unsubscribed"
}

// Subscription reads one stream and hands its events to a Handler.
//
// Contract:
// - Concurrency: methods are safe for concurrent use.
// - Lifecycle: a subscription starts subscribed and moves to unsubscribed
//   once, either by Unsubscribe or when the stream ends.
// - Errors: handler errors are logged and counted; they never end the
//   subscription.
type Subscription struct {
	id      string
	channel string
	filters []Filter
	stream  Stream
	handler Handler
	logger  observe.Logger
	mw      *observe.Middleware

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	state         atomic.Int32
	delivered     atomic.Int64
	handlerErrors atomic.Int64

	mu  sync.Mutex
	err error
}

// Option configures a Subscription.
type Option func(*Subscription)

// WithLogger sets the logger.
func WithLogger(l observe.Logger) Option {
	return func(s *Subscription) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMiddleware instruments each handled event.
func WithMiddleware(mw *observe.Middleware) Option {
	return func(s *Subscription) {
		if mw != nil {
			s.mw = mw
		}
	}
}

// Subscribe opens channel on src and starts delivering events that match
// any of filters to h.
func Subscribe(ctx context.Context, src Source, channel string, filters []Filter, h Handler, opts ...Option) (*Subscription, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	if h == nil {
		return nil, ErrNilHandler
	}
	if strings.TrimSpace(channel) == "" {
		return nil, ErrMissingChannel
	}
	if len(filters) == 0 {
		return nil, fmt.Errorf("%w: at least one filter is required", ErrInvalidFilter)
	}
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return nil, err
		}
	}

	s := &Subscription{
		id:      uuid.NewString(),
		channel: channel,
		filters: append([]Filter(nil), filters...),
		handler: h,
		logger:  observe.NopLogger(),
		mw:      observe.NopMiddleware(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(observe.F("subscription.id", s.id), observe.F("channel", channel))

	stream, err := src.Open(ctx, channel, s.filters)
	if err != nil {
		return nil, fmt.Errorf("realtime: open %s: %w", channel, err)
	}
	s.stream = stream

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.state.Store(int32(StateSubscribed))

	go s.run(runCtx)
	s.logger.Info(ctx, "subscribed", observe.F("filters", len(filters)))
	return s, nil
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.done)
	defer s.state.Store(int32(StateUnsubscribed))

	for {
		e, err := s.stream.Recv(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, ErrStreamClosed) {
				s.logger.Warn(ctx, "change feed ended", observe.Err(err))
				s.setErr(err)
			}
			return
		}
		if !s.matches(e) {
			continue
		}
		s.delivered.Add(1)
		s.handle(ctx, e)
	}
}

func (s *Subscription) handle(ctx context.Context, e Event) {
	meta := observe.OperationMeta{
		Kind:     observe.KindRealtime,
		Resource: e.Table,
		Name:     strings.ToLower(string(e.Type)),
	}
	err := s.mw.Run(ctx, meta, func(ctx context.Context) error {
		return s.handler(ctx, e)
	})
	if err != nil {
		s.handlerErrors.Add(1)
		s.logger.Warn(ctx, "event handler failed",
			observe.F("table", e.Table), observe.F("event", string(e.Type)), observe.Err(err))
	}
}

func (s *Subscription) matches(e Event) bool {
	for _, f := range s.filters {
		if f.Matches(e) {
			return true
		}
	}
	return false
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// Unsubscribe releases the stream and waits for the reader goroutine to
// return. Calling it more than once is a no-op.
func (s *Subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		s.cancel()
		err = s.stream.Close()
		<-s.done
		s.logger.Info(context.Background(), "unsubscribed",
			observe.F("delivered", s.delivered.Load()), observe.F("handler_errors", s.handlerErrors.Load()))
	})
	return err
}

// ID returns the subscription's unique id.
func (s *Subscription) ID() string { return s.id }

// Channel returns the channel name.
func (s *Subscription) Channel() string { return s.channel }

// State returns the current state.
func (s *Subscription) State() SubState { return SubState(s.state.Load()) }

// Done is closed when the reader goroutine has returned.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns the transport error that ended the stream, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Stats returns how many events were handled and how many handler calls
// failed.
func (s *Subscription) Stats() (delivered, failed int64) {
	return s.delivered.Load(), s.handlerErrors.Load()
}
