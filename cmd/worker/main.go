package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/izzyftw1/rvi-sub014/internal/app"
	"github.com/izzyftw1/rvi-sub014/internal/external"
	"github.com/izzyftw1/rvi-sub014/internal/finance"
	"github.com/izzyftw1/rvi-sub014/internal/insights"
	"github.com/izzyftw1/rvi-sub014/internal/integration"
	"github.com/izzyftw1/rvi-sub014/internal/masterdata"
	"github.com/izzyftw1/rvi-sub014/internal/platform/cache"
	"github.com/izzyftw1/rvi-sub014/internal/platform/db"
	"github.com/izzyftw1/rvi-sub014/internal/production"
	"github.com/izzyftw1/rvi-sub014/internal/realtime"
	"github.com/izzyftw1/rvi-sub014/internal/shared"
	"github.com/izzyftw1/rvi-sub014/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns, MinConns: cfg.PGMinConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	notifier := realtime.NewNotifier(redisClient, nil)

	masterdataService := masterdata.NewService(masterdata.NewRepository(pool), nil)
	partners := integration.PartnerDirectory{Masterdata: masterdataService}

	externalService := external.NewService(external.NewRepository(pool), partners, auditLogger, nil)
	productionRepo := production.NewRepository(pool)
	insightsCache := insights.NewCache(redisClient, cfg.InsightsCacheTTL)
	insightsService := insights.NewService(insights.NewRepository(pool), insightsCache)
	financeService := finance.NewService(finance.NewRepository(pool), auditLogger, nil)

	overdueJob := jobs.NewExternalOverdueScanJob(externalService, notifier, logger, nil)
	stageJob := jobs.NewStageWatchJob(productionRepo, logger, nil)
	warmupJob := jobs.NewInsightsWarmupJob(insightsService, logger, nil)
	ledgerJob := jobs.NewLedgerIntegrityJob(financeService, redisClient, logger, nil)

	overdueTask, err := jobs.NewExternalOverdueScanTask(jobs.ExternalOverdueScanPayload{})
	if err != nil {
		logger.Error("build overdue scan task", slog.Any("error", err))
		os.Exit(1)
	}
	stageTask, err := jobs.NewStageWatchTask(jobs.StageWatchPayload{
		ThresholdDays: int(cfg.StageStuckAfter.Hours() / 24),
	})
	if err != nil {
		logger.Error("build stage watch task", slog.Any("error", err))
		os.Exit(1)
	}
	warmupTask, err := jobs.NewInsightsWarmupTask()
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}
	ledgerTask, err := jobs.NewLedgerIntegrityTask()
	if err != nil {
		logger.Error("build ledger integrity task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskExternalOverdueScan, Handler: overdueJob.Handle},
			{Type: jobs.TaskProductionStageWatch, Handler: stageJob.Handle},
			{Type: jobs.TaskInsightsWarmup, Handler: warmupJob.Handle},
			{Type: jobs.TaskFinanceLedgerIntegrity, Handler: ledgerJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "0 6 * * *", Task: overdueTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "30 6 * * *", Task: stageTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 * * * *", Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "0 2 * * 0", Task: ledgerTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
