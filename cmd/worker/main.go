package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/congo-pay/wallet_ledger/internal/bootstrap"
	"github.com/congo-pay/wallet_ledger/internal/config"
	"github.com/congo-pay/wallet_ledger/internal/infra"
	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel).With("service", "worker", "worker_id", cfg.Worker.ID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := infra.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("open backends", "error", err)
		os.Exit(1)
	}
	defer backends.Close()

	if backends.Cache == nil {
		logger.Error("standalone worker needs REDIS_URL; without it tasks stay inside the api process")
		backends.Close()
		os.Exit(1)
	}

	if backends.DB != nil {
		drifted, err := ledger.NewPostgresAuditor(backends.DB).Drifted(ctx)
		if err != nil {
			logger.Warn("ledger reconciliation", "error", err)
		}
		for _, r := range drifted {
			logger.Error("wallet balance disagrees with ledger",
				"wallet_id", r.WalletID.String(),
				"balance", r.Balance.StringFixed(2),
				"expected", r.Expected.StringFixed(2),
			)
		}
	}

	components := bootstrap.New(cfg, backends.DB, backends.Cache, logger)
	if err := components.NewWorker().Run(ctx); err != nil {
		logger.Error("worker error", "error", err)
		backends.Close()
		os.Exit(1)
	}
	logger.Info("worker exited cleanly")
}
