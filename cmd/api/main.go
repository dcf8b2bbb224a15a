package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/congo-pay/wallet_ledger/internal/bootstrap"
	"github.com/congo-pay/wallet_ledger/internal/config"
	"github.com/congo-pay/wallet_ledger/internal/infra"
	"github.com/congo-pay/wallet_ledger/internal/logging"
	"github.com/congo-pay/wallet_ledger/internal/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		stop()
		os.Exit(1)
	}
	logger.Info("server exited cleanly")
}

// run serves the API until ctx is cancelled or the server or embedded worker fails.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	backends, err := infra.Open(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open backends: %w", err)
	}
	defer backends.Close()

	components := bootstrap.New(cfg, backends.DB, backends.Cache, logger)

	srv, err := server.New(cfg, backends.DB, backends.Cache, components, logger)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	// workerDone stays nil without an embedded worker so its select case never fires.
	var workerDone chan error
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	if components.RunWorkerEmbedded() {
		workerDone = make(chan error, 1)
		go func() { workerDone <- components.NewWorker().Run(workerCtx) }()
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	var runErr error
	workerStopped := false
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-srvErrCh:
		if err != nil {
			runErr = fmt.Errorf("server: %w", err)
		}
	case err := <-workerDone:
		workerStopped = true
		if err == nil {
			err = errors.New("exited unexpectedly")
		}
		runErr = fmt.Errorf("embedded worker: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown: %w", err)
	}

	stopWorker()
	if workerDone != nil && !workerStopped {
		select {
		case err := <-workerDone:
			if err != nil {
				logger.Error("worker error", "error", err)
			}
		case <-shutdownCtx.Done():
			logger.Warn("worker did not stop before shutdown timeout")
		}
	}
	return runErr
}
