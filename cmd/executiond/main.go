// Command executiond runs the execution core: the admission façade, the
// exchange user-data stream, the reconciliation loop, the portfolio
// projector, and the durable order-submission workflow engine, all wired by
// internal/bootstrap and torn down in reverse start order on SIGTERM/SIGINT.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"executioncore/internal/bootstrap"
	"executioncore/internal/core"
	"executioncore/internal/health"

	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "configs/executiond.yaml", "path to configuration file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewApp(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to bootstrap application: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	app.Logger.Info("starting executioncore", "storeDriver", app.Cfg.Store.Driver, "exchange", app.Cfg.Exchange.Name)

	healthMgr := health.NewManager(app.Logger)
	healthMgr.Register("store", func() error {
		checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return app.Store.Ping(checkCtx)
	})
	healthMgr.Register("redis", func() error {
		checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return app.Redis.Ping(checkCtx).Err()
	})
	healthMgr.Register("killSwitch", func() error {
		checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := app.KillSwitch.Get(checkCtx)
		return err
	})

	healthSrv := health.NewServer(fmt.Sprintf(":%d", app.Cfg.App.HealthPort), healthMgr, app.Logger)
	healthSrv.Start()

	metricsSrv := health.NewMetricsServer(fmt.Sprintf(":%d", app.Cfg.App.MetricsPort), app.Logger)
	metricsSrv.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.DurableEngine.Start(gctx)
	})
	g.Go(func() error {
		return app.Exchange.StartUserDataStream(gctx, onExecutionReport(gctx, app), onOrderStatus(app))
	})
	g.Go(func() error {
		return app.Reconciler.Start(gctx)
	})
	g.Go(func() error {
		return app.Projector.Start(gctx)
	})

	if err := g.Wait(); err != nil {
		app.Logger.Error("component failed to start", "error", err)
		stop()
		os.Exit(1)
	}

	app.Logger.Info("executioncore is running", "healthPort", app.Cfg.App.HealthPort)

	<-ctx.Done()
	app.Logger.Info("shutdown signal received, stopping components")

	app.Projector.Stop()
	app.Reconciler.Stop()
	if err := app.Exchange.StopUserDataStream(); err != nil {
		app.Logger.Warn("error stopping user data stream", "error", err)
	}
	app.DurableEngine.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := healthSrv.Stop(shutdownCtx); err != nil {
		app.Logger.Warn("error stopping health server", "error", err)
	}
	if err := metricsSrv.Stop(shutdownCtx); err != nil {
		app.Logger.Warn("error stopping metrics server", "error", err)
	}

	app.Logger.Info("executioncore stopped")
}

// onExecutionReport feeds every user-data-stream report through the fill
// ingestor; a failure is logged and does not tear down the stream, since the
// reconciliation loop is the backstop for any report this misses (spec §4.G).
func onExecutionReport(ctx context.Context, app *bootstrap.App) func(core.ExecutionReport) {
	return func(report core.ExecutionReport) {
		if err := app.FillIngestor.HandleExecutionReport(ctx, report); err != nil {
			app.Logger.Error("failed to handle execution report", "exchangeOrderId", report.ExchangeOrderID, "error", err)
		}
	}
}

// onOrderStatus exists to satisfy core.IExchangeAdapter's callback shape;
// HandleExecutionReport already drives every status transition from the
// same report, so this is a log-only observer.
func onOrderStatus(app *bootstrap.App) func(symbol, exchangeOrderID, status string) {
	return func(symbol, exchangeOrderID, status string) {
		app.Logger.Debug("execution report status", "symbol", symbol, "exchangeOrderId", exchangeOrderID, "status", status)
	}
}
