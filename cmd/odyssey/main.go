package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-stock/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-stock/internal/app"
	"github.com/odyssey-erp/odyssey-stock/internal/indent"
	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/masterdata"
	"github.com/odyssey-erp/odyssey-stock/internal/observability"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
	"github.com/odyssey-erp/odyssey-stock/internal/procurement"
	"github.com/odyssey-erp/odyssey-stock/internal/rbac"
	"github.com/odyssey-erp/odyssey-stock/internal/reports"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
	"github.com/odyssey-erp/odyssey-stock/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		os.Exit(runJobsCommand(ctx, cfg, os.Args[2:]))
	}

	logger := app.NewLogger(cfg)
	metrics := observability.NewMetrics()

	dbpool, err := db.New(ctx, db.PoolConfig{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()
	txm := db.NewTxManager(dbpool,
		db.WithMaxRetries(cfg.DBTxMaxRetries),
		db.WithRetryHook(metrics.TxRetryHook()),
	)

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping, caches degrade to direct reads", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	masterRepo := masterdata.NewRepository(dbpool)
	masterService := masterdata.NewService(masterRepo, auditLogger, logger)

	rbacService := rbac.NewService(
		rbac.NewRepository(txm),
		cache.NewJSONCache(redisClient, "rbac", cfg.RBACCacheTTL),
		auditLogger,
		logger,
	)
	rbacMiddleware := rbac.Middleware{Checker: rbacService, Logger: logger}

	indentRepo := indent.NewRepository(txm)
	pool := indent.NewPool(indentRepo, cache.NewJSONCache(redisClient, "pool", cfg.PoolCacheTTL))
	indentService := indent.NewService(indentRepo, pool, masterService, masterService, auditLogger, logger)

	procurementService := procurement.NewService(procurement.Dependencies{
		Repo:        procurement.NewRepository(txm),
		Catalog:     masterService,
		Vendors:     masterService,
		WorkAreas:   masterService,
		Idempotency: idempotencyStore,
		Audit:       auditLogger,
		Logger:      logger,
	})

	inventoryService := inventory.NewService(inventory.NewRepository(txm), auditLogger, masterService, logger)
	reportService := reports.NewService(reports.NewRepository(txm), cfg.LowStockThreshold, logger)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		IndentHandler:      indent.NewHandler(logger, indentService, pool, rbacMiddleware),
		ProcurementHandler: procurement.NewHandler(logger, procurementService, rbacMiddleware),
		InventoryHandler:   inventory.NewHandler(logger, inventoryService, rbacMiddleware),
		MasterDataHandler:  masterdata.NewHandler(logger, masterService, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(logger, rbacService, rbacMiddleware),
		ReportsHandler:     reports.NewHandler(logger, reportService, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

func runJobsCommand(ctx context.Context, cfg *app.Config, args []string) int {
	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		slog.Default().Error("jobs cli", slog.Any("error", err))
		return 1
	}
	defer func() { _ = jobsCLI.Close() }()
	return jobsCLI.Command(ctx, args, os.Stdout, os.Stderr)
}
