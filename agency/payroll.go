package agency

import (
	"context"

	"github.com/jonwraymond/querysync/backend"
	"github.com/jonwraymond/querysync/cache"
	"github.com/jonwraymond/querysync/mutation"
)

// Payroll reads payroll items and triggers the server-side calculation.
type Payroll struct {
	*Collection[PayrollItem]
}

// NewPayroll creates the payroll collection.
func NewPayroll(deps Deps) (*Payroll, error) {
	c, err := NewCollection[PayrollItem](deps, "payroll_items", cache.CategoryStandard, "Folha")
	if err != nil {
		return nil, err
	}
	return &Payroll{Collection: c}, nil
}

// Items lists the payroll items of period (YYYY-MM) by employee name.
func (p *Payroll) Items(ctx context.Context, period string) ([]PayrollItem, error) {
	if err := validatePeriod(period); err != nil {
		return nil, err
	}
	q := backend.Query{Order: []backend.Order{{Column: "employee_name"}}}.Where(backend.Eq("period", period))
	return p.List(ctx, q)
}

// Calculate runs the calculate_payroll procedure for period. Success
// invalidates every payroll and financial query.
func (p *Payroll) Calculate(ctx context.Context, period string) (PayrollResult, error) {
	if err := validatePeriod(period); err != nil {
		return PayrollResult{}, err
	}
	spec := mutation.Spec{
		Name:           "calculate",
		Resource:       "calculate_payroll",
		Invalidate:     []cache.Key{p.Key(), cache.NewKey(financeRoot)},
		SuccessTitle:   "Folha calculada",
		SuccessMessage: "Período " + period,
		FailureTitle:   "Erro ao calcular folha",
	}
	return mutation.Run(ctx, p.deps.Runner, spec, func(ctx context.Context) (PayrollResult, error) {
		return backend.RPCAs[PayrollResult](ctx, p.deps.Backend, "calculate_payroll", map[string]any{"p_period": period})
	})
}
