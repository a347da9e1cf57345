package main

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/querysync/agency"
	"github.com/jonwraymond/querysync/observe"
	"github.com/jonwraymond/querysync/realtime"
)

func newFeedCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Follow the realtime change feed",
	}

	var tables []string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Print change feed events as JSON lines until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return a.feedTail(ctx, tables)
		},
	}
	tail.Flags().StringSliceVarP(&tables, "table", "t", nil, "tables to follow (default: every agency table)")

	cmd.AddCommand(tail)
	return cmd
}

func (a *app) feedTail(ctx context.Context, tables []string) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	logger := a.logger(cfg)
	src, err := a.feedSource(cfg, logger)
	if err != nil {
		return err
	}

	var mu sync.Mutex
	enc := json.NewEncoder(a.out)
	sub, err := realtime.Subscribe(ctx, src, cfg.Realtime.Channel, feedFilters(tables),
		func(_ context.Context, e realtime.Event) error {
			mu.Lock()
			defer mu.Unlock()
			return enc.Encode(e)
		},
		realtime.WithLogger(logger))
	if err != nil {
		return err
	}

	<-ctx.Done()
	err = sub.Unsubscribe()
	delivered, failed := sub.Stats()
	logger.Info(context.Background(), "feed closed",
		observe.F("delivered", delivered),
		observe.F("handler_errors", failed))
	return err
}

// feedFilters follows tables, or every table with a cache rule when none
// are given.
func feedFilters(tables []string) []realtime.Filter {
	if len(tables) == 0 {
		seen := make(map[string]bool)
		for _, r := range agency.RealtimeRules() {
			if !seen[r.Filter.Table] {
				seen[r.Filter.Table] = true
				tables = append(tables, r.Filter.Table)
			}
		}
	}
	filters := make([]realtime.Filter, 0, len(tables))
	for _, t := range tables {
		filters = append(filters, realtime.Table(t))
	}
	return filters
}
