package mutation

import (
	"context"
	"errors"
	"testing"

	"github.com/jonwraymond/querysync/cache"
	"github.com/jonwraymond/querysync/notify"
)

type invoice struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func newRunner(t *testing.T) (*Runner, *cache.Store, *notify.Recorder) {
	t.Helper()
	store := cache.NewStore()
	t.Cleanup(store.Close)
	rec := notify.NewRecorder()
	r, err := NewRunner(store, WithNotifier(rec))
	if err != nil {
		t.Fatalf("NewRunner() error = %v", err)
	}
	return r, store, rec
}

func markPaidSpec(detail, list cache.Key) Spec {
	return Spec{
		Name:     "mark_paid",
		Resource: "invoices",
		Optimistic: []Patch{
			PatchJSON[invoice](detail, cache.CategoryCritical, func(inv *invoice) { inv.Status = "pago" }),
			PatchEach[invoice](list, cache.CategoryCritical, func(inv *invoice) {
				if inv.ID == "inv-1" {
					inv.Status = "pago"
				}
			}),
		},
		Invalidate:   []cache.Key{cache.NewKey("invoices"), cache.NewKey("finance")},
		SuccessTitle: "Fatura marcada como paga",
		FailureTitle: "Erro ao marcar fatura como paga",
	}
}

func TestRun_FailureRollsBackAndNotifiesOnce(t *testing.T) {
	r, store, rec := newRunner(t)
	ctx := context.Background()
	detail := cache.NewKey("invoices", "detail", "inv-1")
	list := cache.NewKey("invoices", "list", map[string]any{})
	_ = cache.SetData(store, detail, cache.CategoryCritical, invoice{ID: "inv-1", Status: "pendente"})
	_ = cache.SetData(store, list, cache.CategoryCritical, []invoice{{ID: "inv-1", Status: "pendente"}, {ID: "inv-2", Status: "pendente"}})

	backendErr := errors.New(`new row for relation "invoices" violates check constraint`)
	var seenDuringCall string
	_, err := Run(ctx, r, markPaidSpec(detail, list), func(ctx context.Context) (struct{}, error) {
		inv, _, _ := cache.GetData[invoice](store, detail)
		seenDuringCall = inv.Status
		return struct{}{}, backendErr
	})
	if !errors.Is(err, backendErr) {
		t.Fatalf("Run() error = %v, want backend error", err)
	}
	if seenDuringCall != "pago" {
		t.Errorf("status during call = %q, want pago", seenDuringCall)
	}

	inv, _, _ := cache.GetData[invoice](store, detail)
	if inv.Status != "pendente" {
		t.Errorf("status after rollback = %q, want pendente", inv.Status)
	}
	items, _, _ := cache.GetData[[]invoice](store, list)
	if items[0].Status != "pendente" {
		t.Errorf("list status after rollback = %q, want pendente", items[0].Status)
	}

	all := rec.All()
	if len(all) != 1 {
		t.Fatalf("notifications = %d, want 1", len(all))
	}
	if all[0].Level != notify.LevelError || all[0].Message != backendErr.Error() {
		t.Errorf("notification = %+v, want error with backend text", all[0])
	}
}

func TestRun_SuccessCommitsAndInvalidates(t *testing.T) {
	r, store, rec := newRunner(t)
	ctx := context.Background()
	detail := cache.NewKey("invoices", "detail", "inv-1")
	list := cache.NewKey("invoices", "list", map[string]any{})
	summary := cache.NewKey("finance", "summary", "2025-03")
	other := cache.NewKey("tasks")
	_ = cache.SetData(store, detail, cache.CategoryCritical, invoice{ID: "inv-1", Status: "pendente"})
	_ = store.Set(summary, cache.CategoryCritical, []byte(`{}`))
	_ = store.Set(other, cache.CategoryDynamic, []byte(`[]`))

	got, err := Run(ctx, r, markPaidSpec(detail, list), func(ctx context.Context) (invoice, error) {
		return invoice{ID: "inv-1", Status: "pago"}, nil
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got.Status != "pago" {
		t.Errorf("Run() = %+v", got)
	}

	for _, k := range []cache.Key{detail, summary} {
		if st, _ := store.State(k); !st.Invalidated {
			t.Errorf("%s not invalidated", k)
		}
	}
	if st, _ := store.State(other); st.Invalidated {
		t.Error("unrelated key invalidated")
	}
	if _, ok := store.Get(list); ok {
		t.Error("absent list key was created by optimistic patch")
	}

	all := rec.All()
	if len(all) != 1 || all[0].Level != notify.LevelSuccess || all[0].Title != "Fatura marcada como paga" {
		t.Errorf("notifications = %+v, want one success", all)
	}
}

func TestRun_PatchDecodeFailure(t *testing.T) {
	r, store, rec := newRunner(t)
	detail := cache.NewKey("invoices", "detail", "inv-1")
	_ = store.Set(detail, cache.CategoryCritical, []byte(`"not an invoice"`))

	called := false
	_, err := Run(context.Background(), r, Spec{
		Name:       "mark_paid",
		Optimistic: []Patch{PatchJSON[invoice](detail, cache.CategoryCritical, func(inv *invoice) { inv.Status = "pago" })},
	}, func(context.Context) (int, error) {
		called = true
		return 0, nil
	})
	if !errors.Is(err, ErrPatch) {
		t.Fatalf("Run() error = %v, want ErrPatch", err)
	}
	if called {
		t.Error("backend called after patch failure")
	}
	got, _ := store.Get(detail)
	if string(got) != `"not an invoice"` {
		t.Errorf("cache changed: %s", got)
	}
	if rec.Len() != 1 {
		t.Errorf("notifications = %d, want 1", rec.Len())
	}
}

func TestRun_RequiresName(t *testing.T) {
	r, _, rec := newRunner(t)
	_, err := Run(context.Background(), r, Spec{}, func(context.Context) (int, error) { return 0, nil })
	if !errors.Is(err, ErrMissingName) {
		t.Errorf("Run() error = %v, want ErrMissingName", err)
	}
	if rec.Len() != 0 {
		t.Errorf("notifications = %d, want 0", rec.Len())
	}
}

func TestNewRunner_NilStore(t *testing.T) {
	if _, err := NewRunner(nil); !errors.Is(err, ErrNilStore) {
		t.Errorf("NewRunner(nil) error = %v, want ErrNilStore", err)
	}
}
