package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jonwraymond/querysync/cache"
)

func openedStream(t *testing.T, src *ChanSource) *ChanStream {
	t.Helper()
	select {
	case st := <-src.Streams():
		return st
	case <-time.After(time.Second):
		t.Fatal("no stream opened")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSubscribe_Validation(t *testing.T) {
	ctx := context.Background()
	src := NewChanSource(1)
	h := func(context.Context, Event) error { return nil }
	filters := []Filter{Table("invoices")}

	if _, err := Subscribe(ctx, nil, "c", filters, h); !errors.Is(err, ErrNilSource) {
		t.Errorf("nil source error = %v", err)
	}
	if _, err := Subscribe(ctx, src, "c", filters, nil); !errors.Is(err, ErrNilHandler) {
		t.Errorf("nil handler error = %v", err)
	}
	if _, err := Subscribe(ctx, src, " ", filters, h); !errors.Is(err, ErrMissingChannel) {
		t.Errorf("blank channel error = %v", err)
	}
	if _, err := Subscribe(ctx, src, "c", nil, h); !errors.Is(err, ErrInvalidFilter) {
		t.Errorf("no filters error = %v", err)
	}
}

func TestSubscription_DeliversAndUnsubscribes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	src := NewChanSource(8)
	var mu sync.Mutex
	var got []Event
	sub, err := Subscribe(context.Background(), src, "invoices-feed", []Filter{Table("invoices")},
		func(_ context.Context, e Event) error {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
			return nil
		})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if sub.State() != StateSubscribed {
		t.Errorf("State() = %s, want subscribed", sub.State())
	}

	st := openedStream(t, src)
	ctx := context.Background()
	_ = st.Publish(ctx, invoiceEvent(EventUpdate, "pago"))
	_ = st.Publish(ctx, Event{Type: EventInsert, Table: "tasks"})
	_ = st.Publish(ctx, invoiceEvent(EventInsert, "pendente"))

	waitFor(t, func() bool {
		delivered, _ := sub.Stats()
		return delivered == 2
	})

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("second Unsubscribe() error = %v", err)
	}
	if sub.State() != StateUnsubscribed {
		t.Errorf("State() = %s, want unsubscribed", sub.State())
	}
	select {
	case <-sub.Done():
	default:
		t.Error("Done() not closed after Unsubscribe()")
	}
	if err := st.Publish(ctx, invoiceEvent(EventUpdate, "pago")); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("Publish() after unsubscribe error = %v, want ErrStreamClosed", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 || got[0].Type != EventUpdate || got[1].Type != EventInsert {
		t.Errorf("delivered = %+v", got)
	}
}

func TestSubscription_HandlerErrorsAreSwallowed(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	src := NewChanSource(4)
	calls := 0
	var mu sync.Mutex
	sub, err := Subscribe(context.Background(), src, "c", []Filter{Table("invoices")},
		func(context.Context, Event) error {
			mu.Lock()
			calls++
			mu.Unlock()
			return errors.New("handler broke")
		})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer sub.Unsubscribe()

	st := openedStream(t, src)
	for i := 0; i < 3; i++ {
		_ = st.Publish(context.Background(), invoiceEvent(EventUpdate, "pago"))
	}
	waitFor(t, func() bool {
		_, failed := sub.Stats()
		return failed == 3
	})
	if sub.State() != StateSubscribed {
		t.Errorf("State() = %s, want subscribed after handler errors", sub.State())
	}
}

func TestSubscription_StreamEndUnsubscribes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	src := NewChanSource(1)
	sub, err := Subscribe(context.Background(), src, "c", []Filter{Table("invoices")},
		func(context.Context, Event) error { return nil })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	st := openedStream(t, src)
	_ = st.Close()

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription did not end with the stream")
	}
	if sub.State() != StateUnsubscribed {
		t.Errorf("State() = %s, want unsubscribed", sub.State())
	}
	if sub.Err() != nil {
		t.Errorf("Err() = %v, want nil for a closed stream", sub.Err())
	}
	_ = sub.Unsubscribe()
}

func TestSubscription_BridgeEndToEnd(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	store := seededStore(t)
	bridge, _ := NewBridge(store)
	bridge.InvalidateOn(Table("invoices"), Keys(cache.NewKey("invoices")))

	src := NewChanSource(4)
	sub, err := Subscribe(context.Background(), src, "agency", bridge.Filters(), bridge.Handle)
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	st := openedStream(t, src)
	_ = st.Publish(context.Background(), invoiceEvent(EventUpdate, "pago"))

	waitFor(t, func() bool {
		s, _ := store.State(cache.NewKey("invoices", "detail", "inv-1"))
		return s.Invalidations == 1
	})
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if s, _ := store.State(cache.NewKey("tasks")); s.Invalidated {
		t.Error("tasks invalidated by invoices event")
	}
}
