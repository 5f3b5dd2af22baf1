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

	"github.com/izzyftw1/rvi-sub014/internal/app"
	"github.com/izzyftw1/rvi-sub014/internal/audit"
	"github.com/izzyftw1/rvi-sub014/internal/auth"
	"github.com/izzyftw1/rvi-sub014/internal/dispatch"
	"github.com/izzyftw1/rvi-sub014/internal/external"
	"github.com/izzyftw1/rvi-sub014/internal/finance"
	"github.com/izzyftw1/rvi-sub014/internal/insights"
	"github.com/izzyftw1/rvi-sub014/internal/integration"
	"github.com/izzyftw1/rvi-sub014/internal/masterdata"
	"github.com/izzyftw1/rvi-sub014/internal/observability"
	"github.com/izzyftw1/rvi-sub014/internal/packing"
	"github.com/izzyftw1/rvi-sub014/internal/platform/cache"
	"github.com/izzyftw1/rvi-sub014/internal/platform/db"
	"github.com/izzyftw1/rvi-sub014/internal/procurement"
	"github.com/izzyftw1/rvi-sub014/internal/production"
	"github.com/izzyftw1/rvi-sub014/internal/qc"
	"github.com/izzyftw1/rvi-sub014/internal/rbac"
	"github.com/izzyftw1/rvi-sub014/internal/realtime"
	"github.com/izzyftw1/rvi-sub014/internal/sales"
	"github.com/izzyftw1/rvi-sub014/internal/shared"
	"github.com/izzyftw1/rvi-sub014/internal/she"
	"github.com/izzyftw1/rvi-sub014/jobs"
	"github.com/izzyftw1/rvi-sub014/report"
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

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)

	rbacService := rbac.NewService(pool)
	rbacMW := rbac.Middleware{Service: rbacService, Logger: logger}

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, rbacService, auditLogger, cfg.BootstrapAPIKey)
	adminHandler := auth.NewHandler(logger, authService, rbacService, rbacMW)

	notifier := realtime.NewNotifier(redisClient, metrics)

	insightsCache := insights.NewCache(redisClient, cfg.InsightsCacheTTL)
	insightsService := insights.NewService(insights.NewRepository(pool), insightsCache)

	hooks := integration.NewHooks(logger, notifier, insightsCache, metrics)

	masterdataService := masterdata.NewService(masterdata.NewRepository(pool), hooks)
	partners := integration.PartnerDirectory{Masterdata: masterdataService}

	salesService := sales.NewService(sales.NewRepository(pool), auditLogger, hooks)
	procurementService := procurement.NewService(procurement.NewRepository(pool), partners, auditLogger, hooks)
	procurementService.SetIdempotencyStore(shared.NewIdempotencyStore(pool))
	productionService := production.NewService(production.NewRepository(pool), salesService, auditLogger, hooks)

	qcService := qc.NewService(qc.NewRepository(pool), partners, approvalRecorder, auditLogger, hooks)
	qcService.SetNCRThreshold(cfg.NCRRejectionThreshold)

	externalService := external.NewService(external.NewRepository(pool), partners, auditLogger, hooks)
	packingService := packing.NewService(packing.NewRepository(pool), auditLogger, hooks)
	dispatchService := dispatch.NewService(dispatch.NewRepository(pool), partners, auditLogger, hooks)
	financeService := finance.NewService(finance.NewRepository(pool), auditLogger, hooks)
	sheService := she.NewService(she.NewRepository(pool), auditLogger, hooks)
	auditService := audit.NewService(audit.NewRepository(pool))

	reportClient := report.NewClient(cfg.GotenbergURL)
	renderer, err := report.NewRenderer(reportClient)
	if err != nil {
		logger.Error("parse report templates", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger: logger,
		Config: cfg,
		Actors: authService,

		MasterdataHandler:  masterdata.NewHandler(logger, masterdataService, rbacMW),
		SalesHandler:       sales.NewHandler(logger, salesService, rbacMW),
		ProcurementHandler: procurement.NewHandler(logger, procurementService, rbacMW),
		ProductionHandler:  production.NewHandler(logger, productionService, rbacMW),
		QCHandler:          qc.NewHandler(logger, qcService, rbacMW),
		ExternalHandler:    external.NewHandler(logger, externalService, rbacMW),
		PackingHandler:     packing.NewHandler(logger, packingService, rbacMW),
		DispatchHandler:    dispatch.NewHandler(logger, dispatchService, rbacMW, renderer),
		FinanceHandler:     finance.NewHandler(logger, financeService, rbacMW),
		SHEHandler:         she.NewHandler(logger, sheService, rbacMW),
		InsightsHandler:    insights.NewHandler(logger, insightsService, rbacMW),
		AuditHandler:       audit.NewHandler(logger, auditService, rbacMW),
		AdminHandler:       adminHandler,
		RealtimeHandler:    realtime.NewHandler(redisClient, logger),
		ReportHandler:      report.NewHandler(reportClient, logger),
		JobHandler:         jobs.NewHandler(inspector, jobClient, logger),
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
