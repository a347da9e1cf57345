package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonwraymond/querysync/backend"
	"github.com/jonwraymond/querysync/backend/backendtest"
	"github.com/jonwraymond/querysync/cache"
	"github.com/jonwraymond/querysync/persist"
	"github.com/jonwraymond/querysync/realtime"
)

func TestPingChecker_Backend(t *testing.T) {
	srv := backendtest.NewServer()
	defer srv.Close()

	client, err := backend.New(backend.Config{BaseURL: srv.URL, APIKey: "anon"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c := NewPingChecker("backend", client)
	if r := c.Check(context.Background()); r.Status != StatusHealthy {
		t.Fatalf("Check() = %+v, want healthy", r)
	}

	srv.Close()
	if r := c.Check(context.Background()); r.Status != StatusUnhealthy || r.Error == nil {
		t.Errorf("Check() after server stop = %+v, want unhealthy", r)
	}
}

func TestCacheChecker(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	store := cache.NewStore(cache.WithClock(func() time.Time { return now }))
	defer store.Close()

	_ = store.Set(cache.NewKey("clients"), cache.CategoryStandard, []byte(`[]`))
	_ = store.Set(cache.NewKey("invoices"), cache.CategoryCritical, []byte(`[]`))
	store.Invalidate(cache.NewKey("invoices"))

	r := NewCacheChecker(store, 1).Check(context.Background())
	if r.Status != StatusDegraded {
		t.Errorf("Check() over limit = %+v, want degraded", r)
	}
	if r.Details["entries"] != 2 || r.Details["stale"] != 1 {
		t.Errorf("Details = %v, want 2 entries, 1 stale", r.Details)
	}

	if r := NewCacheChecker(store, 0).Check(context.Background()); r.Status != StatusHealthy {
		t.Errorf("Check() without limit = %+v, want healthy", r)
	}
}

func TestRealtimeChecker(t *testing.T) {
	if r := NewRealtimeChecker(nil).Check(context.Background()); r.Status != StatusHealthy {
		t.Errorf("nil subscription = %+v, want healthy", r)
	}

	src := realtime.NewChanSource(1)
	sub, err := realtime.Subscribe(context.Background(), src, "realtime:public",
		[]realtime.Filter{realtime.Table("invoices")},
		func(context.Context, realtime.Event) error { return nil })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	c := NewRealtimeChecker(sub)
	r := c.Check(context.Background())
	if r.Status != StatusHealthy || r.Details["channel"] != "realtime:public" {
		t.Errorf("Check() subscribed = %+v", r)
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if r := c.Check(context.Background()); r.Status != StatusDegraded {
		t.Errorf("Check() unsubscribed = %+v, want degraded", r)
	}
}

type brokenStorage struct{ persist.Storage }

func (brokenStorage) Save(context.Context, string, []byte) error { return persist.ErrQuotaExceeded }

func TestPersistChecker(t *testing.T) {
	mem := persist.NewMemoryStorage(0)
	if r := NewPersistChecker(mem).Check(context.Background()); r.Status != StatusHealthy {
		t.Fatalf("Check() = %+v, want healthy", r)
	}
	if _, err := mem.Load(context.Background(), ProbeKey); !errors.Is(err, persist.ErrNotFound) {
		t.Errorf("probe left behind: Load() error = %v", err)
	}

	r := NewPersistChecker(brokenStorage{mem}).Check(context.Background())
	if r.Status != StatusDegraded || !errors.Is(r.Error, persist.ErrQuotaExceeded) {
		t.Errorf("Check() with failing storage = %+v, want degraded quota error", r)
	}
}
