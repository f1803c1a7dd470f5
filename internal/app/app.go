// Package app owns the process lifecycle: it wires dependencies from the
// configuration, runs the background loops and the admin server, and shuts
// the strategy queues down cleanly.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/riskgate/internal/config"
	"github.com/alanyoungcy/riskgate/internal/domain"
	"github.com/alanyoungcy/riskgate/internal/ledger"
	"github.com/alanyoungcy/riskgate/internal/server"
	"github.com/alanyoungcy/riskgate/internal/server/handler"
	"github.com/alanyoungcy/riskgate/internal/server/ws"
	"github.com/alanyoungcy/riskgate/internal/service"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout       = 30 * time.Second
	serverShutdownTimeout = 5 * time.Second
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	deps    *Dependencies
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

func (a *App) wire(ctx context.Context) (*Dependencies, error) {
	if a.deps != nil {
		return a.deps, nil
	}
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	a.deps = deps
	return deps, nil
}

// Run wires everything, reconciles when configured, then runs the regime
// monitor, reconcile loops, intent intake, archive job and admin server until
// ctx is cancelled. Pending intents are dropped on the way out; the in-flight
// one is allowed to finish.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "app: starting",
		slog.Int("strategies", len(a.cfg.Strategies)),
		slog.String("ledger_backend", a.cfg.Ledger.Backend),
		slog.Bool("simulated", a.cfg.OKX.Simulated),
	)

	deps, err := a.wire(ctx)
	if err != nil {
		return err
	}

	if a.cfg.Ledger.ReconcileOnStart {
		for _, s := range deps.Strategies {
			if _, err := s.Reconcile(ctx); err != nil {
				a.logger.WarnContext(ctx, "app: startup reconcile failed",
					slog.String("strategy", s.Name()),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	monitor := service.NewRegimeMonitor(deps.Detector, deps.Events,
		a.cfg.Regime.MonitorInterval.Duration, 2*a.cfg.Regime.MonitorInterval.Duration, a.logger)
	g.Go(func() error { return monitor.Run(gctx) })

	for _, s := range deps.Strategies {
		g.Go(func() error { return s.ReconcileLoop(gctx, a.cfg.Ledger.ReconcileInterval.Duration) })
	}

	if deps.Feed != nil {
		g.Go(func() error { return deps.Feed.Run(gctx) })
	}

	if deps.Bus != nil {
		intake := service.NewIntake(deps.Bus, deps.Strategies, a.cfg.Redis.IntakePoll.Duration, a.logger)
		g.Go(func() error { return intake.Run(gctx) })
	}

	if deps.Archiver != nil {
		job := service.NewArchiveJob(deps.Archiver, deps.Strategies, a.cfg.S3.ArchiveInterval.Duration, a.logger)
		g.Go(func() error { return job.Run(gctx) })
	}

	if a.cfg.Server.Enabled {
		a.startServer(gctx, g, deps)
	}

	runErr := g.Wait()

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, s := range deps.Strategies {
		if err := s.Shutdown(shutCtx); err != nil {
			a.logger.ErrorContext(shutCtx, "app: strategy shutdown incomplete",
				slog.String("strategy", s.Name()),
				slog.String("error", err.Error()),
			)
		}
	}
	a.logger.InfoContext(shutCtx, "app: stopped")
	return runErr
}

// startServer adds the admin server, and the websocket hub when a bus is
// wired, to g. The server shuts down when ctx is cancelled.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	strategies := make([]handler.Strategy, 0, len(deps.Strategies))
	names := make([]string, 0, len(deps.Strategies))
	for _, s := range deps.Strategies {
		strategies = append(strategies, s)
		names = append(names, s.Name())
	}

	h := server.Handlers{
		Health:     handler.NewHealthHandler(deps.Checks, a.logger),
		Strategies: handler.NewStrategyHandler(strategies, a.logger),
		Regime:     handler.NewRegimeHandler(deps.Detector, a.logger),
		Metrics:    deps.Metrics.Handler(),
	}
	if deps.Audit != nil {
		h.Audit = handler.NewAuditHandler(deps.Audit, a.logger)
	}
	if deps.Bus != nil {
		h.Hub = ws.NewHub(deps.Bus, ws.Config{
			Channels:   []string{service.ChannelDecisions, service.ChannelRegime},
			Strategies: names,
		}, a.logger)
		g.Go(func() error { return h.Hub.Run(ctx) })
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, h, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// Reconcile runs one reconciliation for the named strategy, or for every
// strategy when name is empty.
func (a *App) Reconcile(ctx context.Context, name string) (map[string]ledger.ReconcileReport, error) {
	deps, err := a.wire(ctx)
	if err != nil {
		return nil, err
	}

	targets := deps.Strategies
	if name != "" {
		s, ok := deps.Strategy(name)
		if !ok {
			return nil, fmt.Errorf("app: unknown strategy %q", name)
		}
		targets = []*service.TradeService{s}
	}

	reports := make(map[string]ledger.ReconcileReport, len(targets))
	var errs []error
	for _, s := range targets {
		report, err := s.Reconcile(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		reports[s.Name()] = report
	}
	return reports, errors.Join(errs...)
}

// Regime computes one fresh regime snapshot.
func (a *App) Regime(ctx context.Context) (domain.RegimeSnapshot, error) {
	deps, err := a.wire(ctx)
	if err != nil {
		return domain.RegimeSnapshot{}, err
	}
	return deps.Detector.Detect(ctx), nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	a.deps = nil
}
