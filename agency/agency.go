package agency

import (
	"context"

	"github.com/jonwraymond/querysync/backend"
	"github.com/jonwraymond/querysync/cache"
)

// Agency groups the collections of one tenant over a shared store.
type Agency struct {
	Clients   *Collection[Client]
	Contracts *Collection[Contract]
	Proposals *Collection[Proposal]
	Calendar  *Collection[CalendarEvent]
	Invoices  *Invoices
	Tasks     *Tasks
	Payroll   *Payroll
	Finance   *Finance
}

// New builds every collection over deps.
func New(deps Deps) (*Agency, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	a := &Agency{}
	if a.Clients, err = NewCollection[Client](deps, "clients", cache.CategoryStandard, "Cliente"); err != nil {
		return nil, err
	}
	if a.Contracts, err = NewCollection[Contract](deps, "contracts", cache.CategoryStandard, "Contrato"); err != nil {
		return nil, err
	}
	if a.Proposals, err = NewCollection[Proposal](deps, "proposals", cache.CategoryStandard, "Proposta"); err != nil {
		return nil, err
	}
	if a.Calendar, err = NewCollection[CalendarEvent](deps, "calendar_events", cache.CategoryDynamic, "Evento"); err != nil {
		return nil, err
	}
	if a.Invoices, err = NewInvoices(deps); err != nil {
		return nil, err
	}
	if a.Tasks, err = NewTasks(deps); err != nil {
		return nil, err
	}
	if a.Payroll, err = NewPayroll(deps); err != nil {
		return nil, err
	}
	if a.Finance, err = NewFinance(deps); err != nil {
		return nil, err
	}
	return a, nil
}

// Warm prefetches the dashboard queries. Failures are logged and never
// returned.
func (a *Agency) Warm(ctx context.Context, period string) {
	a.Clients.Prefetch(ctx, backend.Query{Order: []backend.Order{{Column: "name"}}})
	a.Invoices.Prefetch(ctx, backend.Query{Order: []backend.Order{{Column: "due_date"}}}.Where(backend.Eq("status", InvoicePending)))
	a.Tasks.Prefetch(ctx, backend.Query{Order: []backend.Order{{Column: "due_date"}}})
	a.Finance.Prefetch(ctx, period)
}
