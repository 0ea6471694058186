package service

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lingora-app/insight-api/internal/models"
	"github.com/lingora-app/insight-api/pkg/config"
	appErrors "github.com/lingora-app/insight-api/pkg/errors"
)

type leaseStore interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
	Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
}

type pipelineRunner interface {
	Run(ctx context.Context, trigger models.RunTrigger, runID string) (*models.AggregationRun, error)
}

// SchedulerService runs the aggregation pipeline on a fixed interval under a
// Redis lease, so any number of worker replicas yields exactly one active
// run. The API process constructs the same service without calling Start and
// drives RunWithLease from its manual-trigger job, which keeps manual and
// scheduled runs mutually exclusive.
type SchedulerService struct {
	pipeline pipelineRunner
	lease    leaseStore
	cfg      config.AggregationConfig
	logger   *zap.Logger

	mu      sync.Mutex
	started bool
}

// NewSchedulerService constructs the scheduler.
func NewSchedulerService(pipeline pipelineRunner, lease leaseStore, cfg config.AggregationConfig, logger *zap.Logger) *SchedulerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SchedulerService{
		pipeline: pipeline,
		lease:    lease,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start blocks, running the pipeline every Interval until ctx is cancelled.
// A second Start within the same process errors; duplicate processes are the
// lease's job, not ours.
func (s *SchedulerService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return appErrors.Clone(appErrors.ErrConflict, "scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("aggregation scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Bool("run_on_start", s.cfg.RunOnStart))

	if s.cfg.RunOnStart {
		s.cycle(ctx)
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("aggregation scheduler stopped")
			return nil
		case <-ticker.C:
			s.cycle(ctx)
		}
	}
}

// cycle runs one scheduled pass. The run context is detached from the loop
// context so shutdown lets an in-flight run finish; the lease TTL bounds the
// run instead.
func (s *SchedulerService) cycle(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	runCtx, cancel := context.WithTimeout(context.Background(), s.cfg.LockTTL)
	defer cancel()

	_, acquired, err := s.RunWithLease(runCtx, models.TriggerScheduled, "")
	if err != nil {
		s.logger.Error("scheduled aggregation failed", zap.Error(err))
		return
	}
	if !acquired {
		s.logger.Info("another instance holds the aggregation lease, skipping cycle")
	}
}

// RunWithLease executes one pipeline run if the lease can be taken. The bool
// result reports whether this caller held the lease; false with a nil error
// means another holder is mid-run and the caller should back off.
func (s *SchedulerService) RunWithLease(ctx context.Context, trigger models.RunTrigger, runID string) (*models.AggregationRun, bool, error) {
	token := uuid.NewString()
	acquired, err := s.lease.Acquire(ctx, s.cfg.LockKey, token, s.cfg.LockTTL)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrUnavailable.Code, http.StatusServiceUnavailable, "failed to acquire aggregation lease")
	}
	if !acquired {
		return nil, false, nil
	}

	keepaliveCtx, stopKeepalive := context.WithCancel(ctx)
	var keepalive sync.WaitGroup
	keepalive.Add(1)
	go func() {
		defer keepalive.Done()
		s.keepLeaseAlive(keepaliveCtx, token)
	}()

	run, runErr := s.pipeline.Run(ctx, trigger, runID)

	stopKeepalive()
	keepalive.Wait()

	// Release on a fresh context: the run context may already be cancelled
	// and the lease must not be left to dangle for a full TTL.
	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.lease.Release(releaseCtx, s.cfg.LockKey, token); err != nil {
		s.logger.Warn("failed to release aggregation lease", zap.Error(err))
	}

	return run, true, runErr
}

// keepLeaseAlive extends the lease at a third of its TTL while the run is in
// flight. Losing the lease mid-run is logged but does not abort the run; the
// audit row and upsert semantics keep a rare double-run harmless.
func (s *SchedulerService) keepLeaseAlive(ctx context.Context, token string) {
	interval := s.cfg.LockTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := s.lease.Extend(ctx, s.cfg.LockKey, token, s.cfg.LockTTL)
			if err != nil {
				s.logger.Warn("lease keepalive failed", zap.Error(err))
				continue
			}
			if !ok {
				s.logger.Warn("aggregation lease lost while run in flight")
				return
			}
		}
	}
}
