package main

import (
	"context"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonwraymond/querysync/config"
	"github.com/jonwraymond/querysync/functions"
	"github.com/jonwraymond/querysync/observe"
	"github.com/jonwraymond/querysync/persist"
	"github.com/jonwraymond/querysync/realtime"
)

// app carries the global flags and the process outputs shared by every
// command.
type app struct {
	configPath string
	logLevel   string

	out    io.Writer
	errOut io.Writer

	// source replaces the websocket change feed when set.
	source realtime.Source
	// completer replaces the Gemini completer when set.
	completer functions.Completer
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "querysync",
		Short: "Agency data sync host",
		Long: `querysync keeps the agency query cache in sync with the backend.

It restores and persists the cache snapshot, follows the realtime change
feed to invalidate cached queries, and serves the function endpoints.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", os.Getenv("QUERYSYNC_CONFIG"), "path to the YAML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	root.AddCommand(newServeCmd(a), newCacheCmd(a), newFeedCmd(a))
	return root
}

// loadConfig reads, resolves and validates the configuration.
func (a *app) loadConfig(ctx context.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx, a.configPath, nil)
	if err != nil {
		return nil, err
	}
	if a.logLevel != "" {
		cfg.Observe.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// logger returns the structured logger of the maintenance commands. It
// writes to the error output so that command results stay parseable.
func (a *app) logger(cfg *config.Config) observe.Logger {
	if !cfg.Observe.Logging.Enabled {
		return observe.NopLogger()
	}
	return observe.NewLoggerWithWriter(cfg.Observe.Logging.Level, a.errOut).
		With(observe.F("service", cfg.Observe.ServiceName))
}

// openPersister opens the configured storage. The returned func releases it.
func (a *app) openPersister(ctx context.Context, cfg *config.Config, logger observe.Logger) (persist.Storage, *persist.Persister, func(), error) {
	storage, err := cfg.Cache.OpenStorage(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	release := func() {
		if c, ok := storage.(io.Closer); ok {
			_ = c.Close()
		}
	}
	p, err := persist.New(storage, cfg.Cache.PersistConfig(logger))
	if err != nil {
		release()
		return nil, nil, nil, err
	}
	return storage, p, release, nil
}

// feedSource returns the change feed source.
func (a *app) feedSource(cfg *config.Config, logger observe.Logger) (realtime.Source, error) {
	if a.source != nil {
		return a.source, nil
	}
	if cfg.Realtime.URL == "" {
		return nil, errNoRealtimeURL
	}
	src, err := realtime.NewWSSource(cfg.Realtime.WSConfig(cfg.Backend.AnonKey, logger))
	if err != nil {
		return nil, err
	}
	return src, nil
}

func (a *app) newCompleter(ctx context.Context, cfg *config.Config) (functions.Completer, error) {
	if a.completer != nil {
		return a.completer, nil
	}
	c, err := functions.NewGenAICompleter(ctx, cfg.Functions.AIAPIKey, cfg.Functions.AIModel)
	if err != nil {
		return nil, err
	}
	return c, nil
}
