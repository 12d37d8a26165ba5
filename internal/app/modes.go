package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/predictlabs/settled/internal/engine"
	"github.com/predictlabs/settled/internal/ledger"
	"github.com/predictlabs/settled/internal/metrics"
	"github.com/predictlabs/settled/internal/server"
	"github.com/predictlabs/settled/internal/server/handler"
	"github.com/predictlabs/settled/internal/server/ws"
	"github.com/predictlabs/settled/internal/service"
)

// ServeMode runs the settlement API: HTTP server, WebSocket hub, and the
// metrics listener. No archival happens in this mode.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	svc := a.buildSettlementService(deps)
	a.startHTTPServer(ctx, g, deps, svc)
	a.startMetricsServer(ctx, g)

	return g.Wait()
}

// ArchiveMode runs only the archival loop: resolved events past the
// retention window are copied to object storage on every interval tick.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)

	if err := a.startArchiveLoop(ctx, g, deps); err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.startMetricsServer(ctx, g)

	return g.Wait()
}

// FullMode runs every subsystem: the settlement API, the archival loop when
// enabled, and the metrics listener.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svc := a.buildSettlementService(deps)
	a.startHTTPServer(ctx, g, deps, svc)
	a.startMetricsServer(ctx, g)

	if a.cfg.Archive.Enabled {
		if err := a.startArchiveLoop(ctx, g, deps); err != nil {
			return fmt.Errorf("full mode: %w", err)
		}
	}

	return g.Wait()
}

// buildSettlementService assembles the engine and its service wrapper from
// wired dependencies.
func (a *App) buildSettlementService(deps *Dependencies) *service.SettlementService {
	eng := engine.New(deps.Store, engine.Config{
		ResolveAfterEndOnly:    a.cfg.Engine.ResolveAfterEndOnly,
		AllowEmergencyWithdraw: a.cfg.Engine.AllowEmergencyWithdraw,
	}, a.logger)

	return service.NewSettlementService(
		eng,
		deps.EventCache,
		deps.LockManager,
		deps.SignalBus,
		deps.Notifier,
		a.cfg.Engine.LockTTL.Duration,
		a.logger,
	)
}

// startHTTPServer adds the API server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	svc *service.SettlementService,
) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled by config")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:               a.cfg.Server.Port,
		CORSOrigins:        a.cfg.Server.CORSOrigins,
		AdminTokenHash:     a.cfg.Server.AdminTokenHash,
		RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
	}, server.Handlers{
		Health: handler.NewHealthHandler(a.logger),
		Admin:  handler.NewAdminHandler(svc, a.logger),
		Events: handler.NewEventHandler(svc, a.logger),
		Bets:   handler.NewBetHandler(svc, a.logger),
		Ledger: handler.NewLedgerHandler(ledger.New(deps.Store, a.logger), a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startMetricsServer adds the Prometheus listener goroutine when enabled.
func (a *App) startMetricsServer(ctx context.Context, g *errgroup.Group) {
	if !a.cfg.Metrics.Enabled {
		return
	}

	srv := metrics.NewServer(a.cfg.Metrics.Port, a.logger)
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startArchiveLoop adds the archival ticker goroutine. Each tick archives
// resolved events whose betting deadline is older than the retention window.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archival requires blob storage (set archive.enabled and the s3 section)")
	}

	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = time.Hour
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	runOnce := func() {
		cutoff := time.Now().UTC().Add(-retention)
		n, err := deps.Archiver.ArchiveResolvedEvents(ctx, cutoff)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive run failed",
				slog.String("error", err.Error()),
			)
			return
		}
		if n > 0 {
			a.logger.InfoContext(ctx, "archive run complete",
				slog.Int64("events_archived", n),
				slog.Time("cutoff", cutoff),
			)
		}
	}

	g.Go(func() error {
		runOnce()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				runOnce()
			}
		}
	})

	a.logger.InfoContext(ctx, "archive loop started",
		slog.Duration("interval", interval),
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)
	return nil
}
