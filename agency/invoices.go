package agency

import (
	"context"
	"fmt"
	"slices"

	"github.com/jonwraymond/querysync/backend"
	"github.com/jonwraymond/querysync/cache"
	"github.com/jonwraymond/querysync/mutation"
)

// Invoices is the invoice collection.
type Invoices struct {
	*Collection[Invoice]
}

// NewInvoices creates the invoice collection. Invoices are financial data
// and use the critical category.
func NewInvoices(deps Deps) (*Invoices, error) {
	c, err := NewCollection[Invoice](deps, "invoices", cache.CategoryCritical, "Fatura")
	if err != nil {
		return nil, err
	}
	return &Invoices{Collection: c}, nil
}

// ByStatus lists invoices with status, earliest due date first.
func (i *Invoices) ByStatus(ctx context.Context, status string) ([]Invoice, error) {
	if !slices.Contains(invoiceStatuses, status) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	q := backend.Query{Order: []backend.Order{{Column: "due_date"}}}.Where(backend.Eq("status", status))
	return i.List(ctx, q)
}

// ByClient lists a client's invoices, latest due date first.
func (i *Invoices) ByClient(ctx context.Context, clientID string) ([]Invoice, error) {
	if clientID == "" {
		return nil, ErrMissingID
	}
	q := backend.Query{Order: []backend.Order{{Column: "due_date", Descending: true}}}.Where(backend.Eq("client_id", clientID))
	return i.List(ctx, q)
}

// MarkPaid sets the invoice status to pago and stamps paid_at with today's
// date. The cached detail and cached lists show the new status while the
// write is in flight; a rejected write restores them and sends one error
// notification with the backend message. Success also invalidates the
// financial summaries.
func (i *Invoices) MarkPaid(ctx context.Context, id string) (Invoice, error) {
	paidAt := i.deps.Now().Format("2006-01-02")
	set := func(v *Invoice) {
		v.Status = InvoicePaid
		v.PaidAt = &paidAt
	}
	spec := mutation.Spec{
		Name:         "mark_paid",
		Optimistic:   optimisticField(i.Collection, id, func(v *Invoice) bool { return v.ID == id }, set),
		Invalidate:   []cache.Key{cache.NewKey(financeRoot)},
		SuccessTitle: "Fatura marcada como paga",
		FailureTitle: "Erro ao marcar fatura como paga",
	}
	return i.patchRecord(ctx, spec, id, map[string]any{"status": InvoicePaid, "paid_at": paidAt})
}

// Cancel sets the invoice status to cancelado.
func (i *Invoices) Cancel(ctx context.Context, id string) (Invoice, error) {
	spec := mutation.Spec{
		Name:         "cancel",
		Invalidate:   []cache.Key{cache.NewKey(financeRoot)},
		SuccessTitle: "Fatura cancelada",
	}
	return i.patchRecord(ctx, spec, id, map[string]any{"status": InvoiceCancelled})
}
