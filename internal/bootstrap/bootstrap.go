// Package bootstrap assembles the wallet store, task broker and result backend for
// both binaries. A nil database or Redis client selects the in-memory implementation.
package bootstrap

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/congo-pay/wallet_ledger/internal/config"
	"github.com/congo-pay/wallet_ledger/internal/ledger"
	"github.com/congo-pay/wallet_ledger/internal/notification"
	"github.com/congo-pay/wallet_ledger/internal/operation"
	"github.com/congo-pay/wallet_ledger/internal/queue"
	"github.com/congo-pay/wallet_ledger/internal/wallet"
)

// Components are the collaborators shared by the API and the worker.
type Components struct {
	Store      wallet.Store
	Broker     queue.Broker
	Results    queue.ResultBackend
	Notifier   notification.Notifier
	Wallets    *wallet.Service
	Dispatcher *operation.Dispatcher
	Auditor    ledger.Auditor

	// InProcessQueue is true when tasks never leave this process, so a worker
	// must run embedded for anything to be applied.
	InProcessQueue bool

	cfg    config.Config
	logger *slog.Logger
}

// New selects implementations from the available backends.
func New(cfg config.Config, db *pgxpool.Pool, cache *redis.Client, logger *slog.Logger) *Components {
	c := &Components{cfg: cfg, logger: logger}

	if db != nil {
		c.Store = wallet.NewPostgresStore(db)
		c.Auditor = ledger.NewPostgresAuditor(db)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory wallet store")
		c.Store = wallet.NewMemoryStore()
		c.Auditor = ledger.NewStoreAuditor(c.Store)
	}

	logNotifier := notification.NewLoggerNotifier(logger)
	if cache != nil {
		c.Broker = queue.NewRedisBroker(cache, cfg.QueueName, cfg.Worker.ID, queue.WithLeaseTTL(cfg.Worker.LeaseTTL))
		c.Results = queue.NewRedisResults(cache, cfg.ResultTTL)
		c.Notifier = notification.Multi{logNotifier, notification.NewRedisNotifier(cache, cfg.NotifyChannel)}
	} else {
		logger.Warn("REDIS_URL not set, using in-process task queue")
		c.Broker = queue.NewMemoryBroker()
		c.Results = queue.NewMemoryResults(cfg.ResultTTL)
		c.Notifier = logNotifier
		c.InProcessQueue = true
	}

	c.Wallets = wallet.NewService(c.Store)
	c.Dispatcher = operation.NewDispatcher(c.Wallets, c.Broker, c.Results, logger)
	return c
}

// NewWorker builds an operation worker pool from the configured settings.
func (c *Components) NewWorker() *operation.Worker {
	w := c.cfg.Worker
	return operation.NewWorker(c.Store, c.Broker, c.Results, c.Notifier, c.logger.With("component", "worker"), operation.WorkerConfig{
		Concurrency: w.Concurrency,
		MaxAttempts: w.MaxAttempts,
		RetryBase:   w.RetryBase,
		RetryMax:    w.RetryMax,
		PollTimeout: w.PollTimeout,
	})
}

// RunWorkerEmbedded reports whether the API process should host the worker pool.
func (c *Components) RunWorkerEmbedded() bool {
	return c.InProcessQueue || c.cfg.Worker.Embedded
}
