package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/querysync/agency"
	"github.com/jonwraymond/querysync/auth"
	"github.com/jonwraymond/querysync/backend"
	"github.com/jonwraymond/querysync/cache"
	"github.com/jonwraymond/querysync/config"
	"github.com/jonwraymond/querysync/functions"
	"github.com/jonwraymond/querysync/health"
	"github.com/jonwraymond/querysync/mutation"
	"github.com/jonwraymond/querysync/notify"
	"github.com/jonwraymond/querysync/observe"
	"github.com/jonwraymond/querysync/persist"
	"github.com/jonwraymond/querysync/realtime"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var warm string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync host and the function endpoints",
		Long: `serve restores the persisted cache, keeps it fresh from the change feed,
persists it as it changes and serves the function and health endpoints
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return a.serve(ctx, warm)
		},
	}
	cmd.Flags().StringVar(&warm, "warm", "", "prefetch the dashboard queries of period YYYY-MM at startup")
	return cmd
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

// serve runs until ctx is done.
func (a *app) serve(ctx context.Context, warm string) error {
	return a.serveWith(ctx, warm, nil)
}

// serveWith is serve. listening, when not nil, receives the bound address
// once the HTTP listener is up.
func (a *app) serveWith(ctx context.Context, warm string, listening chan<- string) error {
	cfg, err := a.loadConfig(ctx)
	if err != nil {
		return err
	}

	obs, err := observe.NewObserver(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("querysync: observer: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = obs.Shutdown(sctx)
	}()
	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return fmt.Errorf("querysync: middleware: %w", err)
	}
	logger := obs.Logger()

	client, err := backend.New(cfg.Backend.ClientConfig(), backend.WithLogger(logger), backend.WithMiddleware(mw))
	if err != nil {
		return err
	}

	store := cache.NewStore(cache.WithLogger(logger))
	defer store.Close()

	storage, persister, release, err := a.openPersister(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer release()
	if n, err := persister.Restore(ctx, store); err != nil {
		logger.Warn(ctx, "cache restore failed", observe.Err(err))
	} else {
		logger.Info(ctx, "cache restored", observe.F("entries", n))
	}

	notifier := notify.NewLogNotifier(logger)
	runner, err := mutation.NewRunner(store,
		mutation.WithNotifier(notifier),
		mutation.WithLogger(logger),
		mutation.WithMiddleware(mw))
	if err != nil {
		return err
	}
	ag, err := agency.New(agency.Deps{Store: store, Backend: client, Runner: runner, Logger: logger})
	if err != nil {
		return err
	}
	if warm != "" {
		ag.Warm(ctx, warm)
	}

	sub, err := a.subscribeBridge(ctx, cfg, store, notifier, logger, mw)
	if err != nil {
		return err
	}
	if sub != nil {
		defer func() { _ = sub.Unsubscribe() }()
	}

	agg := health.NewAggregator(health.WithLogger(logger))
	agg.Register(health.NewPingChecker("backend", client))
	agg.Register(health.NewCacheChecker(store, 0))
	agg.Register(health.NewRealtimeChecker(sub))
	agg.Register(health.NewPersistChecker(storage))
	if rs, ok := storage.(*persist.RedisStorage); ok {
		agg.Register(health.NewPingChecker("redis", rs))
	}

	handler, err := a.httpHandler(ctx, cfg, client, agg, mw, logger)
	if err != nil {
		return err
	}
	if m := cfg.Observe.Metrics; m.Enabled && m.Exporter == "prometheus" {
		outer := http.NewServeMux()
		outer.Handle("GET /metrics", promhttp.Handler())
		outer.Handle("/", handler)
		handler = outer
	}

	ln, err := net.Listen("tcp", cfg.Functions.Addr)
	if err != nil {
		return fmt.Errorf("querysync: listen %s: %w", cfg.Functions.Addr, err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	logger.Info(ctx, "listening",
		observe.F("addr", ln.Addr().String()),
		observe.F("functions", cfg.Functions.Enabled))
	if listening != nil {
		listening <- ln.Addr().String()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		store.RunGC(gctx, cfg.Cache.GCInterval)
		return nil
	})
	g.Go(func() error {
		return persister.Watch(gctx, store)
	})
	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	err = g.Wait()
	logger.Info(context.Background(), "stopped", observe.F("entries", store.Len()))
	return err
}

// subscribeBridge follows the change feed and invalidates cached queries.
// It returns a nil subscription when no feed is configured.
func (a *app) subscribeBridge(ctx context.Context, cfg *config.Config, store *cache.Store, n notify.Notifier, logger observe.Logger, mw *observe.Middleware) (*realtime.Subscription, error) {
	src, err := a.feedSource(cfg, logger)
	if errors.Is(err, errNoRealtimeURL) {
		logger.Warn(ctx, "realtime disabled, cached queries rely on stale times only")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	bridge, err := realtime.NewBridge(store, realtime.WithNotifier(n), realtime.WithBridgeLogger(logger))
	if err != nil {
		return nil, err
	}
	bridge.AddRules(agency.RealtimeRules()...)
	return realtime.Subscribe(ctx, src, cfg.Realtime.Channel, bridge.Filters(), bridge.Handle,
		realtime.WithLogger(logger), realtime.WithMiddleware(mw))
}

// httpHandler serves the functions when enabled and the health endpoints
// in every case.
func (a *app) httpHandler(ctx context.Context, cfg *config.Config, client *backend.Client, agg *health.Aggregator, mw *observe.Middleware, logger observe.Logger) (http.Handler, error) {
	if !cfg.Functions.Enabled {
		mux := http.NewServeMux()
		health.RegisterHandlers(mux, agg)
		return mux, nil
	}

	authn, err := auth.NewJWTAuthenticator(auth.JWTConfig{
		Secret: []byte(cfg.Functions.JWTSecret),
		Issuer: cfg.Functions.JWTIssuer,
	})
	if err != nil {
		return nil, err
	}
	completer, err := a.newCompleter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	srv, err := functions.NewServer(
		functions.Config{AllowedOrigins: cfg.Functions.AllowedOrigins},
		functions.Deps{
			Backend:    client,
			Completer:  completer,
			Auth:       auth.NewMiddleware(authn, auth.WithLogger(logger)),
			Health:     agg,
			Middleware: mw,
			Logger:     logger,
		})
	if err != nil {
		return nil, err
	}
	return srv, nil
}
