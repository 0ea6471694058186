package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/lingora-app/insight-api/api/swagger"
	"github.com/lingora-app/insight-api/internal/handler"
	"github.com/lingora-app/insight-api/internal/middleware"
	"github.com/lingora-app/insight-api/internal/models"
	"github.com/lingora-app/insight-api/internal/repository"
	"github.com/lingora-app/insight-api/internal/service"
	"github.com/lingora-app/insight-api/pkg/cache"
	"github.com/lingora-app/insight-api/pkg/config"
	"github.com/lingora-app/insight-api/pkg/database"
	"github.com/lingora-app/insight-api/pkg/jobs"
	"github.com/lingora-app/insight-api/pkg/logger"
	corsmiddleware "github.com/lingora-app/insight-api/pkg/middleware/cors"
	reqidmiddleware "github.com/lingora-app/insight-api/pkg/middleware/requestid"
	"github.com/lingora-app/insight-api/pkg/retry"
	"github.com/lingora-app/insight-api/pkg/storage"
)

// @title Lingora Insight API
// @version 0.1.0
// @description Student performance statistics and intervention flagging
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	userRepo := repository.NewUserRepository(db)
	classRepo := repository.NewClassRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	progressRepo := repository.NewProgressRepository(db)
	studentStatsRepo := repository.NewStudentStatsRepository(db)
	assignmentStatsRepo := repository.NewAssignmentStatsRepository(db)
	schoolStatsRepo := repository.NewSchoolStatsRepository(db)
	needsHelpRepo := repository.NewNeedsHelpRepository(db)
	runRepo := repository.NewRunRepository(db)
	reportRepo := repository.NewReportRepository(db)
	lockRepo := repository.NewLockRepository(redisClient)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.StudentStatsTTL, logr, cfg.Cache.Enabled)
	scopeSvc := service.NewScopeService(assignmentRepo, classRepo, logr)

	retryPolicy := retry.Policy{
		MaxAttempts: cfg.Aggregation.MaxRetries,
		MinBackoff:  cfg.Aggregation.RetryMinBackoff,
		MaxBackoff:  cfg.Aggregation.RetryMaxBackoff,
		JitterFrac:  0.2,
	}

	studentStatsSvc := service.NewStudentStatsService(userRepo, scopeSvc, assignmentRepo, progressRepo, studentStatsRepo,
		cacheSvc, metricsSvc, cfg.Aggregation.StudentWorkers, retryPolicy, cfg.Cache.StudentStatsTTL, logr)
	assignmentStatsSvc := service.NewAssignmentStatsService(scopeSvc, assignmentRepo, progressRepo, assignmentStatsRepo,
		cacheSvc, metricsSvc, cfg.Aggregation.AssignmentWorkers, retryPolicy, cfg.Cache.AssignmentStatsTTL, logr)
	schoolStatsSvc := service.NewSchoolStatsService(userRepo, classRepo, assignmentRepo, assignmentStatsRepo, needsHelpRepo,
		schoolStatsRepo, cacheSvc, metricsSvc, retryPolicy, cfg.Cache.SchoolStatsTTL, logr)
	needsHelpSvc := service.NewNeedsHelpService(userRepo, scopeSvc, assignmentRepo, progressRepo, needsHelpRepo,
		cacheSvc, metricsSvc, cfg.Thresholds, cfg.Aggregation.StudentWorkers, retryPolicy, logr)
	progressSvc := service.NewProgressService(scopeSvc, assignmentRepo, progressRepo, userRepo, metricsSvc, logr)
	dashboardSvc := service.NewDashboardService(schoolStatsRepo, needsHelpRepo, runRepo, cacheSvc, metricsSvc, cfg.Cache.DashboardTTL, logr)
	aggregationSvc := service.NewAggregationService(db, studentStatsSvc, assignmentStatsSvc, schoolStatsSvc, needsHelpSvc,
		runRepo, cacheSvc, metricsSvc, logr)
	schedulerSvc := service.NewSchedulerService(aggregationSvc, lockRepo, cfg.Aggregation, logr)

	// Manual aggregation runs go through a single-worker queue so they
	// serialize behind each other; the Redis lease still guards against
	// a concurrent scheduled run in another process.
	aggQueue := jobs.NewQueue("aggregation", func(ctx context.Context, job jobs.Job) error {
		run, acquired, err := schedulerSvc.RunWithLease(ctx, models.TriggerManual, job.ID)
		if err != nil {
			return err
		}
		if !acquired {
			return errors.New("aggregation lease held by another process")
		}
		logr.Sugar().Infow("manual aggregation run finished", "run_id", run.ID, "status", run.Status)
		return nil
	}, jobs.QueueConfig{
		Workers:    1,
		BufferSize: cfg.Jobs.BufferSize,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
		Logger:     logr,
	})
	aggQueue.Start(ctx)
	defer aggQueue.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.WithResponseMeta())
	r.Use(middleware.Metrics(metricsSvc))

	healthHandler := handler.NewHealthHandler(db, redisClient)
	r.GET("/health", healthHandler.Health)
	r.GET("/ready", healthHandler.Ready)

	metricsHandler := handler.NewMetricsHandler(metricsSvc)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	studentHandler := handler.NewStudentStatsHandler(studentStatsSvc, progressSvc)
	assignmentHandler := handler.NewAssignmentStatsHandler(assignmentStatsSvc, progressSvc)
	schoolHandler := handler.NewSchoolStatsHandler(schoolStatsSvc)
	needsHelpHandler := handler.NewNeedsHelpHandler(needsHelpSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc)
	adminHandler := handler.NewAdminHandler(aggregationSvc, aggQueue, metricsSvc)

	api := r.Group(cfg.APIPrefix)
	api.GET("/students/:id/statistics", studentHandler.Statistics)
	api.GET("/students/:id/progress", studentHandler.Progress)
	api.GET("/assignments/:id/statistics", assignmentHandler.Statistics)
	api.GET("/assignments/:id/progress", assignmentHandler.Progress)
	api.GET("/school/statistics", schoolHandler.Statistics)
	api.GET("/school/statistics/range", schoolHandler.Range)
	api.GET("/school/statistics/latest", schoolHandler.Latest)
	api.GET("/needs-help", needsHelpHandler.List)
	api.PATCH("/needs-help/:id/notes", needsHelpHandler.UpdateNotes)
	api.POST("/needs-help/:id/resolve", needsHelpHandler.Resolve)
	api.GET("/dashboard/overview", dashboardHandler.Overview)
	api.POST("/admin/aggregation/run", adminHandler.TriggerRun)
	api.GET("/admin/aggregation/runs", adminHandler.Runs)
	api.GET("/admin/aggregation/status", adminHandler.Status)
	api.GET("/admin/metrics", adminHandler.Metrics)

	if cfg.Reports.Enabled {
		files, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init report storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
		exportSvc := service.NewExportService(needsHelpRepo, schoolStatsRepo, userRepo, files, signer,
			service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Reports.SignedURLTTL}, logr, nil, nil)
		reportWorker := service.NewReportWorker(reportRepo, exportSvc, cfg.Reports.WorkerRetries, logr)
		reportQueue := jobs.NewQueue("reports", reportWorker.Handle, jobs.QueueConfig{
			Workers:    cfg.Jobs.Workers,
			BufferSize: cfg.Jobs.BufferSize,
			MaxRetries: cfg.Jobs.MaxRetries,
			RetryDelay: cfg.Jobs.RetryDelay,
			Logger:     logr,
		})
		reportQueue.Start(ctx)
		defer reportQueue.Stop()

		reportSvc := service.NewReportService(reportRepo, reportQueue, exportSvc, nil, logr, service.ReportServiceConfig{
			ResultTTL:       cfg.Reports.SignedURLTTL,
			CleanupInterval: cfg.Reports.CleanupInterval,
			MaxRetries:      cfg.Reports.WorkerRetries,
		})
		reportSvc.RecoverPendingJobs(ctx)
		reportSvc.StartCleanup(ctx)

		reportHandler := handler.NewReportHandler(reportSvc)
		api.POST("/reports/generate", reportHandler.Generate)
		api.GET("/reports/status/:id", reportHandler.Status)
		api.GET("/export/:token", reportHandler.Download)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env, "reports_enabled", cfg.Reports.Enabled)

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("server shutdown incomplete", "error", err)
	}
}
