package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/lingora-app/insight-api/internal/repository"
	"github.com/lingora-app/insight-api/internal/service"
	"github.com/lingora-app/insight-api/pkg/cache"
	"github.com/lingora-app/insight-api/pkg/config"
	"github.com/lingora-app/insight-api/pkg/database"
	"github.com/lingora-app/insight-api/pkg/logger"
	"github.com/lingora-app/insight-api/pkg/retry"
)

// insight-worker runs the aggregation pipeline on a schedule. Any number of
// replicas may run; the Redis lease keeps one active run at a time.

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

	userRepo := repository.NewUserRepository(db)
	classRepo := repository.NewClassRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	progressRepo := repository.NewProgressRepository(db)
	studentStatsRepo := repository.NewStudentStatsRepository(db)
	assignmentStatsRepo := repository.NewAssignmentStatsRepository(db)
	schoolStatsRepo := repository.NewSchoolStatsRepository(db)
	needsHelpRepo := repository.NewNeedsHelpRepository(db)
	runRepo := repository.NewRunRepository(db)
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
	aggregationSvc := service.NewAggregationService(db, studentStatsSvc, assignmentStatsSvc, schoolStatsSvc, needsHelpSvc,
		runRepo, cacheSvc, metricsSvc, logr)
	schedulerSvc := service.NewSchedulerService(aggregationSvc, lockRepo, cfg.Aggregation, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logr.Sugar().Infow("worker starting", "interval", cfg.Aggregation.Interval, "env", cfg.Env)
	if err := schedulerSvc.Start(ctx); err != nil {
		logr.Sugar().Fatalw("scheduler failed", "error", err)
	}
}
