package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/riskdesk/backend/docs"
	"github.com/riskdesk/backend/internal/analyzer"
	"github.com/riskdesk/backend/internal/config"
	"github.com/riskdesk/backend/internal/database"
	"github.com/riskdesk/backend/internal/handlers"
	mW "github.com/riskdesk/backend/internal/middleware"
	"github.com/riskdesk/backend/internal/queue"
	"github.com/riskdesk/backend/internal/services"
	"github.com/riskdesk/backend/internal/store/memory"
	"github.com/riskdesk/backend/internal/worker"
	"github.com/riskdesk/backend/pkg/logger"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title RiskDesk API
// @version 1.0
// @description Pay-per-use contract risk analysis backed by a wallet ledger
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Format)

	docs.SwaggerInfo.Host = "localhost:" + cfg.Server.Port

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		jobs      services.JobRepository
		wallets   services.WalletStore
		publisher services.TaskPublisher
		db        *sql.DB
		rdb       *redis.Client
		memQueue  *memory.Queue
	)

	policy := database.NewReconnectPolicy(config.DefaultConnectPolicy())
	switch cfg.Server.Store {
	case "memory":
		store := memory.New()
		memQueue = memory.NewQueue()
		jobs, wallets, publisher = store, store, memQueue
		logger.Warn("Running with the in-memory store; balances are lost on restart")
	default:
		db, err = database.InitDB(ctx, cfg.Database, policy)
		if err != nil {
			logger.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close()

		rdb, err = database.InitRedis(ctx, cfg.Redis, policy)
		if err != nil {
			logger.Fatalf("Failed to initialize redis: %v", err)
		}
		defer rdb.Close()

		ledger := services.NewLedgerService(db)
		walletService := services.NewWalletService(db, ledger)
		jobs = services.NewJobStore(db, walletService)
		wallets = walletService

		taskQueue := queue.NewRedisTaskQueue(rdb, &queue.Options{
			Stream:       cfg.Queue.Stream,
			Group:        cfg.Queue.Group,
			DeadLetter:   cfg.Queue.DeadLetter,
			Block:        cfg.Queue.Block,
			MinIdle:      cfg.Queue.MinIdle,
			ReclaimEvery: cfg.Queue.ReclaimEvery,
		})
		if err := taskQueue.EnsureGroup(ctx); err != nil {
			logger.Fatalf("Failed to prepare task queue: %v", err)
		}
		publisher = taskQueue
	}

	billing := services.NewBillingService(jobs, wallets, publisher, cfg.Billing)
	if memQueue != nil {
		// no state is shared with a separate worker process, so the pool runs here
		a, err := analyzer.New(cfg.Analyzer)
		if err != nil {
			logger.Fatalf("Failed to build analyzer: %v", err)
		}
		pool := worker.NewPool(memQueue, worker.New(jobs, billing, a, cfg.Worker.AnalysisTimeout), cfg.Worker.Count, cfg.Worker.Instance)
		go func() {
			if err := pool.Run(ctx); err != nil {
				logger.Errorf("Embedded worker pool stopped: %v", err)
			}
		}()
	}
	jobHandler := handlers.NewJobHandler(billing, jobs)
	walletHandler := handlers.NewWalletHandler(billing, wallets)
	auth := mW.NewAuthenticator(cfg.JWT.SecretKey)

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if db != nil && db.PingContext(r.Context()) != nil {
			status, code = "database unavailable", http.StatusServiceUnavailable
		} else if rdb != nil && rdb.Ping(r.Context()).Err() != nil {
			status, code = "queue unavailable", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		handlers.Register(r, auth.Middleware, jobHandler, walletHandler)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Server starting on :%s (store=%s)", cfg.Server.Port, cfg.Server.Store)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
		os.Exit(1)
	}

	logger.Info("Server stopped")
}
