package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/riskdesk/backend/internal/analyzer"
	"github.com/riskdesk/backend/internal/config"
	"github.com/riskdesk/backend/internal/database"
	"github.com/riskdesk/backend/internal/queue"
	"github.com/riskdesk/backend/internal/services"
	"github.com/riskdesk/backend/internal/worker"
	"github.com/riskdesk/backend/pkg/logger"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Format)

	if cfg.Server.Store == "memory" {
		logger.Fatalf("The worker needs the shared postgres store; the memory store runs its pool inside the API process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy := database.NewReconnectPolicy(config.DefaultConnectPolicy())
	db, err := database.InitDB(ctx, cfg.Database, policy)
	if err != nil {
		logger.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	rdb, err := database.InitRedis(ctx, cfg.Redis, policy)
	if err != nil {
		logger.Fatalf("Failed to initialize redis: %v", err)
	}
	defer rdb.Close()

	a, err := analyzer.New(cfg.Analyzer)
	if err != nil {
		logger.Fatalf("Failed to build analyzer: %v", err)
	}

	wallets := services.NewWalletService(db, services.NewLedgerService(db))
	jobs := services.NewJobStore(db, wallets)
	taskQueue := queue.NewRedisTaskQueue(rdb, &queue.Options{
		Stream:       cfg.Queue.Stream,
		Group:        cfg.Queue.Group,
		DeadLetter:   cfg.Queue.DeadLetter,
		Block:        cfg.Queue.Block,
		MinIdle:      cfg.Queue.MinIdle,
		ReclaimEvery: cfg.Queue.ReclaimEvery,
	})
	billing := services.NewBillingService(jobs, wallets, taskQueue, cfg.Billing)

	pool := worker.NewPool(taskQueue, worker.New(jobs, billing, a, cfg.Worker.AnalysisTimeout), cfg.Worker.Count, cfg.Worker.Instance)
	requeuer := worker.NewRequeuer(jobs, taskQueue, cfg.Worker.RequeueInterval, cfg.Worker.RequeueAfter, cfg.Worker.RequeueBatchSize)

	logger.Infof("Worker starting: %d consumers on %s (analyzer=%s)", cfg.Worker.Count, cfg.Queue.Stream, cfg.Analyzer.Kind)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return requeuer.Run(gctx) })

	if err := g.Wait(); err != nil {
		logger.Errorf("Worker stopped: %v", err)
		return
	}
	logger.Info("Worker stopped")
}
