package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/querysync/persist"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or purge the persisted query cache",
	}

	var raw bool
	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Print the persisted cache snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.cacheInspect(cmd.Context(), raw)
		},
	}
	inspect.Flags().BoolVar(&raw, "json", false, "print the stored blob as JSON")

	purge := &cobra.Command{
		Use:   "purge",
		Short: "Delete the persisted cache snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.cachePurge(cmd.Context())
		},
	}

	cmd.AddCommand(inspect, purge)
	return cmd
}

func (a *app) cacheInspect(ctx context.Context, raw bool) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	_, p, release, err := a.openPersister(ctx, cfg, a.logger(cfg))
	if err != nil {
		return err
	}
	defer release()

	blob, err := p.Inspect(ctx)
	if errors.Is(err, persist.ErrNotFound) {
		fmt.Fprintf(a.out, "no cache snapshot stored under %q\n", p.Key())
		return nil
	}
	if err != nil {
		return err
	}
	if raw {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(blob)
	}

	age := blob.Age(time.Now())
	fmt.Fprintf(a.out, "key:     %s\n", p.Key())
	fmt.Fprintf(a.out, "written: %s (%s ago)\n", blob.WrittenAt().UTC().Format(time.RFC3339), age.Truncate(time.Second))
	if age > p.MaxAge() {
		fmt.Fprintf(a.out, "expired: yes, older than %s; the next start will be cold\n", p.MaxAge())
	}
	fmt.Fprintf(a.out, "entries: %d\n\n", len(blob.Queries))

	tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tCATEGORY\tUPDATED\tBYTES")
	for _, q := range blob.Queries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n",
			q.QueryKey, q.Category,
			time.UnixMilli(q.DataUpdatedAt).UTC().Format(time.RFC3339),
			len(q.Data))
	}
	return tw.Flush()
}

func (a *app) cachePurge(ctx context.Context) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}
	_, p, release, err := a.openPersister(ctx, cfg, a.logger(cfg))
	if err != nil {
		return err
	}
	defer release()

	if err := p.Purge(ctx); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "purged %q\n", p.Key())
	return nil
}
