package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"kinledger/internal/platform/config"
	"kinledger/internal/platform/httpserver"
	"kinledger/internal/platform/logger"
	"kinledger/pkg/platform/httputil"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	httputil.APIVersion = cfg.Server.Version

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	infra, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.Close()

	app := buildApp(cfg, infra, log)
	srv := httpserver.New(cfg.Server.Addr, newRouter(cfg, app, infra, log))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting kinledger", "addr", cfg.Server.Addr, "rail", cfg.Payout.Rail, "postgres", infra.db != nil)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	for _, worker := range app.workers {
		g.Go(func() error { return worker(gctx) })
	}

	if err := g.Wait(); err != nil {
		log.Error("exited with error", slog.Any("error", err))
		return err
	}
	return nil
}
