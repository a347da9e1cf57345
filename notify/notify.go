package notify

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/querysync/observe"
)

// Level is the severity shown to the user.
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// Notification is one message for the user.
type Notification struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
	Source  string    `json:"source,omitempty"`
}

// Notifier delivers notifications.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: delivery is best effort; Notify never fails the caller.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, n Notification) { f(ctx, n) }

func newNotification(level Level, title, message string) Notification {
	return Notification{
		ID:      uuid.NewString(),
		Level:   level,
		Title:   title,
		Message: message,
		Time:    time.Now(),
	}
}

// Success builds a success notification.
func Success(title, message string) Notification {
	return newNotification(LevelSuccess, title, message)
}

// Failure builds an error notification whose message is err's text.
func Failure(title string, err error) Notification {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return newNotification(LevelError, title, msg)
}

// Info builds an informational notification.
func Info(title, message string) Notification {
	return newNotification(LevelInfo, title, message)
}

// Warning builds a warning notification.
func Warning(title, message string) Notification {
	return newNotification(LevelWarning, title, message)
}

// WithSource returns a copy of n tagged with source.
func (n Notification) WithSource(source string) Notification {
	n.Source = source
	return n
}

// Nop returns a Notifier that discards everything.
func Nop() Notifier {
	return NotifierFunc(func(context.Context, Notification) {})
}

// ErrChannelClosed is returned by Channel.Close when called twice.
var ErrChannelClosed = errors.New("notify: channel closed")

// Channel is a buffered notification queue. When the buffer is full new
// notifications are dropped and counted.
type Channel struct {
	mu      sync.RWMutex
	ch      chan Notification
	closed  bool
	dropped atomic.Int64
}

// NewChannel creates a Channel with the given buffer size (minimum 1).
func NewChannel(size int) *Channel {
	if size < 1 {
		size = 1
	}
	return &Channel{ch: make(chan Notification, size)}
}

// Notify enqueues n without blocking.
func (c *Channel) Notify(_ context.Context, n Notification) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.dropped.Add(1)
		return
	}
	select {
	case c.ch <- n:
	default:
		c.dropped.Add(1)
	}
}

// C returns the receive side of the queue.
func (c *Channel) C() <-chan Notification {
	return c.ch
}

// Dropped returns how many notifications were discarded.
func (c *Channel) Dropped() int64 {
	return c.dropped.Load()
}

// Close closes the queue. Later notifications are dropped.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	c.closed = true
	close(c.ch)
	return nil
}

// LogNotifier writes notifications to a logger. Errors log at error level,
// warnings at warn, everything else at info.
type LogNotifier struct {
	logger observe.Logger
}

// NewLogNotifier creates a LogNotifier. A nil logger discards output.
func NewLogNotifier(logger observe.Logger) *LogNotifier {
	if logger == nil {
		logger = observe.NopLogger()
	}
	return &LogNotifier{logger: logger}
}

// Notify logs n.
func (l *LogNotifier) Notify(ctx context.Context, n Notification) {
	fields := []observe.Field{
		observe.F("notification.id", n.ID),
		observe.F("notification.level", string(n.Level)),
		observe.F("notification.message", n.Message),
	}
	if n.Source != "" {
		fields = append(fields, observe.F("notification.source", n.Source))
	}
	switch n.Level {
	case LevelError:
		l.logger.Error(ctx, n.Title, fields...)
	case LevelWarning:
		l.logger.Warn(ctx, n.Title, fields...)
	default:
		l.logger.Info(ctx, n.Title, fields...)
	}
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu  sync.Mutex
	all []Notification
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Notify records n.
func (r *Recorder) Notify(_ context.Context, n Notification) {
	r.mu.Lock()
	r.all = append(r.all, n)
	r.mu.Unlock()
}

// All returns a copy of the recorded notifications in arrival order.
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.all))
	copy(out, r.all)
	return out
}

// Len returns the number of recorded notifications.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.all)
}

// Reset discards recorded notifications.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.all = nil
	r.mu.Unlock()
}

// Multi fans notifications out to several notifiers in order.
type Multi []Notifier

// Notify delivers n to every non-nil notifier.
func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, target := range m {
		if target != nil {
			target.Notify(ctx, n)
		}
	}
}

var (
	_ Notifier = NotifierFunc(nil)
	_ Notifier = (*Channel)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = (*Recorder)(nil)
	_ Notifier = Multi(nil)
)
