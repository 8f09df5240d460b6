package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"contentsync/internal/platform/config"
	"contentsync/internal/platform/httpserver"
	"contentsync/internal/platform/logger"
	platformmetrics "contentsync/internal/platform/metrics"
	platformotel "contentsync/internal/platform/otel"
	"contentsync/internal/strategy"
	httptransport "contentsync/internal/transport/http"
	"contentsync/internal/trigger"
	triggermetrics "contentsync/internal/trigger/metrics"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run wires the backend, the trigger and the admin server, and keeps them
// running until SIGINT or SIGTERM.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := platformotel.Setup(ctx, cfg.OTel)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("flush traces", "error", err)
		}
	}()

	m := platformmetrics.New()
	m.SetInfo(version, cfg.Backend, cfg.Trigger.Path)

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	defer b.close()

	handler, closeHandler, err := newRequestHandler(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeHandler()

	tr, err := newTrigger(cfg, b, log, triggermetrics.New(m.Registry))
	if err != nil {
		return err
	}
	if err := tr.Register(ctx, handler); err != nil {
		return err
	}

	adminOpts := []httptransport.Option{httptransport.WithPublisher(b.publisher, cfg.Server.Token)}
	for name, check := range b.checks {
		adminOpts = append(adminOpts, httptransport.WithHealthCheck(name, check))
	}
	admin := httptransport.NewHandler(tr, m.Registry, log.With("component", "admin"), adminOpts...)
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(admin))

	log.Info("starting contentsync",
		"version", version,
		"backend", cfg.Backend,
		"path", cfg.Trigger.Path,
		"service_id", cfg.Trigger.ServiceID,
		"handler", handler.Identity(),
		"addr", cfg.Server.Addr,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Run(gctx, srv, cfg.Server.ShutdownTimeout)
	})
	g.Go(func() error {
		<-gctx.Done()
		unregisterCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tr.Unregister(unregisterCtx, handler); err != nil {
			log.Error("unregister replication handler", "handler", handler.Identity(), "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("contentsync stopped")
	return nil
}

func newTrigger(cfg config.Config, b *backend, log *slog.Logger, m *triggermetrics.Metrics) (*trigger.Trigger, error) {
	strat := strategy.NewNodeEvents(
		strategy.WithFilter(strategy.NewSafeFilter(cfg.Trigger.IgnoredPaths...)),
	)
	opts := []trigger.Option{
		trigger.WithLogger(log.With("component", "trigger")),
		trigger.WithMetrics(m),
		trigger.WithEventTypes(cfg.Trigger.EventTypes),
		trigger.WithExcludedPaths(cfg.Trigger.ExcludedPaths...),
	}
	if cfg.Trigger.Shallow {
		opts = append(opts, trigger.WithShallow())
	}
	if cfg.Trigger.ReplaceExisting {
		opts = append(opts, trigger.WithReplaceExisting())
	}
	return trigger.New(b.provider, strat, trigger.Config{
		Path:      cfg.Trigger.Path,
		ServiceID: cfg.Trigger.ServiceID,
	}, opts...)
}
