package persist

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/querysync/cache"
	"github.com/jonwraymond/querysync/observe"
)

var testNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

// spyStorage records every saved payload.
type spyStorage struct {
	*MemoryStorage
	mu    sync.Mutex
	saves [][]byte
}

func newSpyStorage() *spyStorage {
	return &spyStorage{MemoryStorage: NewMemoryStorage(0)}
}

func (s *spyStorage) Save(ctx context.Context, key string, data []byte) error {
	s.mu.Lock()
	s.saves = append(s.saves, append([]byte(nil), data...))
	s.mu.Unlock()
	return s.MemoryStorage.Save(ctx, key, data)
}

func (s *spyStorage) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.saves)
}

func newTestPersister(t *testing.T, storage Storage, now *time.Time, logs *bytes.Buffer) *Persister {
	t.Helper()
	cfg := Config{MaxAge: time.Hour, Throttle: 10 * time.Millisecond, Now: func() time.Time { return *now }}
	if logs != nil {
		cfg.Logger = observe.NewLoggerWithWriter("debug", logs)
	}
	p, err := New(storage, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func seedStore(t *testing.T, store *cache.Store, entries map[string]cache.Category) {
	t.Helper()
	for id, cat := range entries {
		k, err := cache.ParseKey(id)
		if err != nil {
			t.Fatal(err)
		}
		if err := store.Put(cache.EntrySnapshot{Key: k, Category: cat, Data: []byte(`{"v":1}`), UpdatedAt: testNow.Add(-time.Minute)}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestPersister_RoundTrip(t *testing.T) {
	ctx := context.Background()
	now := testNow
	storage := NewMemoryStorage(0)
	p := newTestPersister(t, storage, &now, nil)

	src := cache.NewStore()
	defer src.Close()
	seedStore(t, src, map[string]cache.Category{
		`["invoices","detail","inv-1"]`:           cache.CategoryCritical,
		`["clients","list",{"order":"name.asc"}]`: cache.CategoryStandard,
		`["chart_of_accounts"]`:                   cache.CategoryReference,
	})

	n, err := p.Persist(ctx, src)
	if err != nil || n != 3 {
		t.Fatalf("Persist() = %d, %v; want 3", n, err)
	}

	now = testNow.Add(30 * time.Minute)
	dst := cache.NewStore()
	defer dst.Close()
	n, err = p.Restore(ctx, dst)
	if err != nil || n != 3 {
		t.Fatalf("Restore() = %d, %v; want 3", n, err)
	}
	for _, want := range src.Snapshot() {
		got, ok := dst.Entry(want.Key)
		if !ok {
			t.Errorf("%s not restored", want.Key)
			continue
		}
		if !bytes.Equal(got.Data, want.Data) || got.Category != want.Category || !got.UpdatedAt.Equal(want.UpdatedAt) {
			t.Errorf("restored %s = %+v, want %+v", want.Key, got, want)
		}
	}
}

func TestPersister_ExpiredBlobRestoresEmpty(t *testing.T) {
	ctx := context.Background()
	now := testNow
	storage := NewMemoryStorage(0)
	p := newTestPersister(t, storage, &now, nil)

	src := cache.NewStore()
	defer src.Close()
	seedStore(t, src, map[string]cache.Category{`["clients"]`: cache.CategoryStandard})
	if _, err := p.Persist(ctx, src); err != nil {
		t.Fatal(err)
	}

	now = testNow.Add(time.Hour + time.Millisecond)
	dst := cache.NewStore()
	defer dst.Close()
	n, err := p.Restore(ctx, dst)
	if err != nil || n != 0 {
		t.Errorf("Restore() = %d, %v; want 0", n, err)
	}
	if dst.Len() != 0 {
		t.Errorf("Len() = %d after expired restore, want 0", dst.Len())
	}
	if _, err := storage.Load(ctx, DefaultKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired blob still stored: %v", err)
	}
}

func TestPersister_DeniedKeysNeverWritten(t *testing.T) {
	ctx := context.Background()
	now := testNow
	storage := newSpyStorage()
	p := newTestPersister(t, storage, &now, nil)

	store := cache.NewStore()
	defer store.Close()
	seedStore(t, store, map[string]cache.Category{
		`["auth","session"]`:             cache.CategoryStandard,
		`["integrations","accessToken"]`: cache.CategoryStandard,
		`["settings","api_key"]`:         cache.CategoryStandard,
		`["dashboard","live_metrics"]`:   cache.CategoryStandard,
		`["notifications"]`:              cache.CategoryRealtime,
		`["invoices","detail","inv-1"]`:  cache.CategoryCritical,
		`["tokenization_settings"]`:      cache.CategoryStandard,
	})

	n, err := p.Persist(ctx, store)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("Persist() wrote %d entries, want 2", n)
	}
	for _, payload := range storage.saves {
		for _, denied := range []string{"session", "accessToken", "api_key", "live_metrics", "notifications"} {
			if bytes.Contains(payload, []byte(denied)) {
				t.Errorf("saved payload contains %q: %s", denied, payload)
			}
		}
	}

	blob, err := p.Inspect(ctx)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	var roots []string
	for _, q := range blob.Queries {
		roots = append(roots, q.QueryKey.Root())
	}
	if strings.Join(roots, ",") != "invoices,tokenization_settings" {
		t.Errorf("persisted roots = %v", roots)
	}
}

func TestPersister_StorageFailuresAreLogged(t *testing.T) {
	ctx := context.Background()
	now := testNow
	var logs bytes.Buffer
	p := newTestPersister(t, NewMemoryStorage(16), &now, &logs)

	store := cache.NewStore()
	defer store.Close()
	seedStore(t, store, map[string]cache.Category{`["clients"]`: cache.CategoryStandard})

	if _, err := p.Persist(ctx, store); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Persist() error = %v, want ErrQuotaExceeded", err)
	}
	if !strings.Contains(logs.String(), "cache persist failed") {
		t.Errorf("log = %s, want persist failure", logs.String())
	}
}

func TestPersister_CorruptBlobColdStart(t *testing.T) {
	ctx := context.Background()
	now := testNow
	var logs bytes.Buffer
	storage := NewMemoryStorage(0)
	p := newTestPersister(t, storage, &now, &logs)

	for _, blob := range []string{`not json`, `{"queries":[]}`} {
		_ = storage.Save(ctx, DefaultKey, []byte(blob))
		store := cache.NewStore()
		n, err := p.Restore(ctx, store)
		store.Close()
		if err != nil || n != 0 {
			t.Errorf("Restore(%s) = %d, %v; want cold start", blob, n, err)
		}
		if _, err := storage.Load(ctx, DefaultKey); !errors.Is(err, ErrNotFound) {
			t.Errorf("unreadable blob %s was kept", blob)
		}
	}
	if !strings.Contains(logs.String(), "discarding unreadable cache blob") {
		t.Errorf("log = %s", logs.String())
	}
}

func TestPersister_RestoreSkipsTamperedAndDenied(t *testing.T) {
	ctx := context.Background()
	now := testNow
	storage := NewMemoryStorage(0)
	p := newTestPersister(t, storage, &now, nil)

	blob := `{"timestamp":` + strconv.FormatInt(testNow.UnixMilli(), 10) + `,"queries":[` +
		`{"queryKey":["clients"],"queryHash":"0000000000000000","data":[],"dataUpdatedAt":1},` +
		`{"queryKey":["user","password"],"data":{},"dataUpdatedAt":1},` +
		`{"queryKey":["tasks"],"category":"dynamic","data":[],"dataUpdatedAt":1}]}`
	_ = storage.Save(ctx, DefaultKey, []byte(blob))

	store := cache.NewStore()
	defer store.Close()
	n, _ := p.Restore(ctx, store)
	if n != 1 {
		t.Fatalf("Restore() = %d, want 1", n)
	}
	if _, ok := store.Get(cache.NewKey("tasks")); !ok {
		t.Error("tasks not restored")
	}
}

func TestPersister_Watch(t *testing.T) {
	now := testNow
	storage := newSpyStorage()
	p := newTestPersister(t, storage, &now, nil)
	store := cache.NewStore()
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Watch(ctx, store) }()

	// Let Watch register its listener before writing.
	deadline := time.Now().Add(2 * time.Second)
	for storage.saveCount() == 0 {
		_ = store.Set(cache.NewKey("clients"), cache.CategoryStandard, []byte(`[]`))
		if time.Now().After(deadline) {
			t.Fatal("Watch did not persist")
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = store.Set(cache.NewKey("tasks"), cache.CategoryDynamic, []byte(`[]`))
	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}

	blob, err := p.Inspect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(blob.Queries) != 2 {
		t.Errorf("persisted %d entries after Watch, want 2 (final flush)", len(blob.Queries))
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Config{}); !errors.Is(err, ErrNilStorage) {
		t.Errorf("New(nil) error = %v, want ErrNilStorage", err)
	}
	if _, err := New(NewMemoryStorage(0), Config{Key: "../x"}); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("New(bad key) error = %v, want ErrInvalidKey", err)
	}
	p, _ := New(NewMemoryStorage(0), Config{})
	if p.Key() != DefaultKey || p.MaxAge() != 24*time.Hour {
		t.Errorf("defaults = %q, %v", p.Key(), p.MaxAge())
	}
}
