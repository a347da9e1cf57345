package agency

import (
	"context"
	"encoding/json"

	"github.com/jonwraymond/querysync/backend"
	"github.com/jonwraymond/querysync/cache"
	"github.com/jonwraymond/querysync/observe"
)

const financeRoot = "finance"

// Finance reads the aggregated financial figures computed by the backend.
type Finance struct {
	deps Deps
}

// NewFinance creates a Finance.
func NewFinance(deps Deps) (*Finance, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Finance{deps: deps}, nil
}

// SummaryKey returns the cache key of one period's summary.
func (f *Finance) SummaryKey(period string) cache.Key {
	return cache.NewKey(financeRoot, "summary", period)
}

// Summary returns the summary of period (YYYY-MM) from the
// get_financial_summary procedure.
func (f *Finance) Summary(ctx context.Context, period string) (FinancialSummary, error) {
	if err := validatePeriod(period); err != nil {
		return FinancialSummary{}, err
	}
	return cache.FetchData(ctx, f.deps.Store, f.SummaryKey(period), cache.CategoryCritical, func(ctx context.Context) (FinancialSummary, error) {
		return f.fetch(ctx, period)
	})
}

func (f *Finance) fetch(ctx context.Context, period string) (FinancialSummary, error) {
	s, err := backend.RPCAs[FinancialSummary](ctx, f.deps.Backend, "get_financial_summary", map[string]any{"p_period": period})
	if err != nil {
		return s, err
	}
	if s.Period == "" {
		s.Period = period
	}
	return s, nil
}

func (f *Finance) fetcher(period string) cache.Fetcher {
	return func(ctx context.Context) ([]byte, error) {
		s, err := f.fetch(ctx, period)
		if err != nil {
			return nil, err
		}
		return json.Marshal(s)
	}
}

// Prefetch warms the summary of period. Failures are logged and dropped.
func (f *Finance) Prefetch(ctx context.Context, period string) {
	if err := validatePeriod(period); err != nil {
		f.deps.Logger.Warn(ctx, "prefetch skipped", observe.Err(err))
		return
	}
	f.deps.Store.Prefetch(ctx, f.SummaryKey(period), cache.CategoryCritical, f.fetcher(period))
}

// KeepFresh reloads the summary of period on the critical refetch interval
// until ctx is done.
func (f *Finance) KeepFresh(ctx context.Context, period string) error {
	if err := validatePeriod(period); err != nil {
		return err
	}
	return f.deps.Store.RunRefetch(ctx, f.SummaryKey(period), cache.CategoryCritical, f.fetcher(period))
}
