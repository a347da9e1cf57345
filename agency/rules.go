package agency

import (
	"fmt"

	"github.com/jonwraymond/querysync/cache"
	"github.com/jonwraymond/querysync/notify"
	"github.com/jonwraymond/querysync/realtime"
)

// RealtimeRules returns the bridge rules of the agency tables. Every change
// to a table invalidates its cache root; invoice, payment and payroll
// changes also invalidate the financial summaries.
func RealtimeRules() []realtime.Rule {
	root := func(roots ...string) realtime.KeyFunc {
		keys := make([]cache.Key, len(roots))
		for i, r := range roots {
			keys[i] = cache.NewKey(r)
		}
		return realtime.Keys(keys...)
	}
	return []realtime.Rule{
		{Name: "clients", Filter: realtime.Table("clients"), Keys: []realtime.KeyFunc{root("clients")}},
		{Name: "contracts", Filter: realtime.Table("contracts"), Keys: []realtime.KeyFunc{root("contracts")}},
		{Name: "proposals", Filter: realtime.Table("proposals"), Keys: []realtime.KeyFunc{root("proposals")}},
		{Name: "calendar", Filter: realtime.Table("calendar_events"), Keys: []realtime.KeyFunc{root("calendar_events")}},
		{Name: "invoices", Filter: realtime.Table("invoices"), Keys: []realtime.KeyFunc{root("invoices", financeRoot)}},
		{Name: "payroll", Filter: realtime.Table("payroll_items"), Keys: []realtime.KeyFunc{root("payroll_items", financeRoot)}},
		{Name: "tasks", Filter: realtime.Table("tasks"), Keys: []realtime.KeyFunc{root("tasks")}},
		{
			Name:   "invoice-overdue",
			Filter: realtime.Table("invoices", realtime.EventUpdate).Where("status", InvoiceOverdue),
			Notify: statusChanged(InvoiceOverdue, func(e realtime.Event) notify.Notification {
				return notify.Warning("Fatura em atraso", "Fatura "+label(e, "number")+" venceu sem pagamento")
			}),
		},
		{
			Name:   "task-published",
			Filter: realtime.Table("tasks", realtime.EventUpdate).Where("status", TaskPublished),
			Notify: statusChanged(TaskPublished, func(e realtime.Event) notify.Notification {
				return notify.Success("Tarefa publicada", label(e, "title"))
			}),
		},
		{
			Name:   "payments",
			Filter: realtime.Table("payments", realtime.EventInsert, realtime.EventUpdate),
			Keys:   []realtime.KeyFunc{root("invoices", financeRoot), realtime.RecordKey("invoices", "invoice_id")},
			Notify: paymentNotice,
		},
	}
}

// statusChanged notifies only when the row moved into status, not when an
// already matching row is updated again.
func statusChanged(status string, build func(realtime.Event) notify.Notification) realtime.NotifyFunc {
	return func(e realtime.Event) (notify.Notification, bool) {
		if old, ok := e.OldField("status"); ok && old == status {
			return notify.Notification{}, false
		}
		return build(e), true
	}
}

func paymentNotice(e realtime.Event) (notify.Notification, bool) {
	status, _ := e.Field("status")
	invoice := label(e, "invoice_id")
	switch status {
	case "failed", "falhou":
		reason, ok := e.Field("failure_reason")
		if !ok {
			reason = "motivo não informado"
		}
		return notify.Failure("Pagamento falhou", fmt.Errorf("fatura %s: %s", invoice, reason)), true
	case "succeeded", "confirmado":
		return notify.Success("Pagamento confirmado", "Fatura "+invoice), true
	}
	return notify.Notification{}, false
}

func label(e realtime.Event, column string) string {
	if v, ok := e.Field(column); ok {
		return v
	}
	return e.ID()
}
