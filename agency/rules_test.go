package agency

import (
	"context"
	"strings"
	"testing"

	"github.com/jonwraymond/querysync/cache"
	"github.com/jonwraymond/querysync/notify"
	"github.com/jonwraymond/querysync/realtime"
)

func newRulesBridge(t *testing.T) (*cache.Store, *notify.Recorder, *realtime.Bridge) {
	t.Helper()
	store := cache.NewStore()
	t.Cleanup(store.Close)
	for _, k := range []cache.Key{
		cache.NewKey("invoices", "detail", "inv-1"),
		cache.NewKey("invoices", "list", map[string]any{"status": "eq.pendente"}),
		cache.NewKey("finance", "summary", "2025-03"),
		cache.NewKey("clients", "list", map[string]any{}),
		cache.NewKey("tasks", "detail", "t1"),
	} {
		if err := store.Set(k, cache.CategoryStandard, []byte(`{}`)); err != nil {
			t.Fatal(err)
		}
	}
	rec := notify.NewRecorder()
	b, err := realtime.NewBridge(store, realtime.WithNotifier(rec))
	if err != nil {
		t.Fatal(err)
	}
	b.AddRules(RealtimeRules()...)
	return store, rec, b
}

func invalidated(store *cache.Store) map[string]bool {
	out := make(map[string]bool)
	for _, k := range store.Keys() {
		if st, _ := store.State(k); st.Invalidated {
			out[k.Root()] = true
		}
	}
	return out
}

func TestRealtimeRules_InvoiceOverdue(t *testing.T) {
	store, rec, b := newRulesBridge(t)
	e := realtime.Event{
		Type:  realtime.EventUpdate,
		Table: "invoices",
		Old:   map[string]any{"id": "inv-1", "status": InvoicePending},
		New:   map[string]any{"id": "inv-1", "number": "NF-0042", "status": InvoiceOverdue},
	}
	if err := b.Handle(context.Background(), e); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	got := invalidated(store)
	if !got["invoices"] || !got["finance"] || got["clients"] || got["tasks"] {
		t.Errorf("invalidated roots = %v, want invoices and finance", got)
	}
	for _, k := range store.Keys() {
		if st, _ := store.State(k); st.Invalidations > 1 {
			t.Errorf("%s invalidated %d times, want once", k, st.Invalidations)
		}
	}

	all := rec.All()
	if len(all) != 1 || all[0].Level != notify.LevelWarning || !strings.Contains(all[0].Message, "NF-0042") {
		t.Fatalf("notifications = %+v", all)
	}
	if all[0].Source != "realtime:invoices" {
		t.Errorf("Source = %q", all[0].Source)
	}

	// Already overdue: no second warning.
	e.Old["status"] = InvoiceOverdue
	_ = b.Handle(context.Background(), e)
	if rec.Len() != 1 {
		t.Errorf("notifications = %d after repeated update, want 1", rec.Len())
	}
}

func TestRealtimeRules_PaymentFailed(t *testing.T) {
	store, rec, b := newRulesBridge(t)
	e := realtime.Event{
		Type:  realtime.EventInsert,
		Table: "payments",
		New:   map[string]any{"id": "pay-9", "invoice_id": "inv-1", "status": "failed", "failure_reason": "cartão recusado"},
	}
	_ = b.Handle(context.Background(), e)

	if st, _ := store.State(cache.NewKey("invoices", "detail", "inv-1")); st.Invalidations != 1 {
		t.Errorf("invoice detail invalidations = %d, want 1", st.Invalidations)
	}
	all := rec.All()
	if len(all) != 1 || all[0].Level != notify.LevelError || !strings.Contains(all[0].Message, "cartão recusado") {
		t.Errorf("notifications = %+v", all)
	}
}

func TestRealtimeRules_TaskPublished(t *testing.T) {
	store, rec, b := newRulesBridge(t)
	_ = b.Handle(context.Background(), realtime.Event{
		Type:  realtime.EventUpdate,
		Table: "tasks",
		Old:   map[string]any{"id": "t1", "status": TaskReview},
		New:   map[string]any{"id": "t1", "title": "Carrossel de março", "status": TaskPublished},
	})

	got := invalidated(store)
	if !got["tasks"] || got["invoices"] || got["finance"] {
		t.Errorf("invalidated roots = %v, want tasks only", got)
	}
	if all := rec.All(); len(all) != 1 || all[0].Message != "Carrossel de março" {
		t.Errorf("notifications = %+v", all)
	}
}

func TestRealtimeRules_FiltersAreValid(t *testing.T) {
	for _, r := range RealtimeRules() {
		if err := r.Filter.Validate(); err != nil {
			t.Errorf("rule %s: %v", r.Name, err)
		}
	}
}
