package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lingora-app/insight-api/internal/models"
)

// recentFlagLimit caps the dashboard's recent-flag feed.
const recentFlagLimit = 5

type dashboardSnapshotReader interface {
	Latest(ctx context.Context) (*models.SchoolStats, error)
}

type dashboardFlagReader interface {
	SeverityDistribution(ctx context.Context) (*models.SeverityDistribution, error)
	ListRecent(ctx context.Context, limit int) ([]models.NeedsHelpRecord, error)
}

type dashboardRunReader interface {
	Latest(ctx context.Context) (*models.AggregationRun, error)
}

// DashboardService assembles the ops overview from already-materialized
// aggregates. Sections are fetched in parallel and degrade independently: a
// broken source costs its own section, never the whole payload.
type DashboardService struct {
	school   dashboardSnapshotReader
	flags    dashboardFlagReader
	runs     dashboardRunReader
	cache    *CacheService
	metrics  *MetricsService
	logger   *zap.Logger
	cacheTTL time.Duration
	now      func() time.Time
}

// NewDashboardService constructs the dashboard composer.
func NewDashboardService(school dashboardSnapshotReader, flags dashboardFlagReader, runs dashboardRunReader, cache *CacheService, metrics *MetricsService, cacheTTL time.Duration, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		school:   school,
		flags:    flags,
		runs:     runs,
		cache:    cache,
		metrics:  metrics,
		logger:   logger,
		cacheTTL: cacheTTL,
		now:      time.Now,
	}
}

// Overview returns the composite dashboard payload; the bool reports a cache
// hit. A section source that errors is logged and left at its zero value.
// sql.ErrNoRows just means nothing has been aggregated yet and is not worth a
// warning.
func (s *DashboardService) Overview(ctx context.Context) (*models.DashboardOverview, bool, error) {
	cacheKey := makeStatsCacheKey("dashboard", "overview")
	var cached models.DashboardOverview
	if s.cache != nil {
		if hit, err := s.cache.Get(ctx, cacheKey, &cached); err != nil {
			return nil, false, fmt.Errorf("get dashboard cache: %w", err)
		} else if hit {
			return &cached, true, nil
		}
	}

	start := time.Now()
	overview := &models.DashboardOverview{
		RecentFlags: []models.NeedsHelpRecord{},
		GeneratedAt: s.now().UTC(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		snapshot, err := s.school.Latest(gctx)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				s.logger.Warn("dashboard school section unavailable", zap.Error(err))
			}
			return nil
		}
		overview.School = snapshot
		return nil
	})
	g.Go(func() error {
		dist, err := s.flags.SeverityDistribution(gctx)
		if err != nil {
			s.logger.Warn("dashboard severity section unavailable", zap.Error(err))
			return nil
		}
		overview.Severity = *dist
		return nil
	})
	g.Go(func() error {
		recent, err := s.flags.ListRecent(gctx, recentFlagLimit)
		if err != nil {
			s.logger.Warn("dashboard recent-flag section unavailable", zap.Error(err))
			return nil
		}
		if recent != nil {
			overview.RecentFlags = recent
		}
		return nil
	})
	g.Go(func() error {
		run, err := s.runs.Latest(gctx)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				s.logger.Warn("dashboard run section unavailable", zap.Error(err))
			}
			return nil
		}
		overview.LastRun = run
		return nil
	})
	// Sections swallow their own failures, so Wait can only relay a context
	// cancellation.
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	if s.metrics != nil {
		s.metrics.ObserveDBQuery("dashboard_overview", time.Since(start))
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, overview, s.cacheTTL); err != nil {
			s.logger.Warn("cache dashboard overview", zap.Error(err))
		}
	}
	return overview, false, nil
}
