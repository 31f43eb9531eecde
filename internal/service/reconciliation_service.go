package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-api/internal/models"
	"github.com/noah-isme/lms-api/pkg/jobs"
	"github.com/noah-isme/lms-api/pkg/tracing"
)

// Job types handled by ReconciliationService.
const (
	JobReconcileAllCourses = "stats.reconcile_all"
	JobReconcileCourse     = "stats.reconcile_course"
)

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

type courseStatsStore interface {
	ListIDs(ctx context.Context) ([]string, error)
	RefreshStats(ctx context.Context, id string) (*models.Course, error)
}

// ReconciliationService recomputes denormalised course stats from content,
// ratings and enrollments. It runs as a queue handler fed by the scheduler.
type ReconciliationService struct {
	courses courseStatsStore
	queue   jobDispatcher
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
}

// NewReconciliationService constructs the service. queue may be nil when only
// synchronous runs are needed.
func NewReconciliationService(courses courseStatsStore, queue jobDispatcher, cache *CacheService, metrics *MetricsService, logger *zap.Logger) *ReconciliationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationService{courses: courses, queue: queue, cache: cache, metrics: metrics, logger: logger}
}

// SetQueue attaches the dispatcher once the queue that calls Handle exists.
func (s *ReconciliationService) SetQueue(queue jobDispatcher) {
	s.queue = queue
}

// Handle is the jobs.Handler entrypoint.
func (s *ReconciliationService) Handle(ctx context.Context, job jobs.Job) error {
	ctx, span := tracing.Start(ctx, "reconciliation."+job.Type, attribute.String("job.id", job.ID))
	defer span.End()

	start := time.Now()
	var err error
	switch job.Type {
	case JobReconcileAllCourses:
		_, err = s.ReconcileAll(ctx)
	case JobReconcileCourse:
		courseID, ok := job.Payload.(string)
		if !ok || courseID == "" {
			s.logger.Error("reconcile job without course id", zap.String("job_id", job.ID))
			return nil
		}
		err = s.ReconcileCourse(ctx, courseID)
	default:
		s.logger.Warn("unknown job type", zap.String("type", job.Type), zap.String("job_id", job.ID))
		return nil
	}
	s.metrics.ObserveJob(job.Type, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// ReconcileAll refreshes every course. Failed courses are re-enqueued one by
// one when a queue is attached, so a single bad row does not retry the sweep.
func (s *ReconciliationService) ReconcileAll(ctx context.Context) (int, error) {
	ids, err := s.courses.ListIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list courses: %w", err)
	}

	refreshed := 0
	var failed []string
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return refreshed, err
		}
		if _, err := s.courses.RefreshStats(ctx, id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			s.logger.Warn("course stats refresh failed", zap.String("course_id", id), zap.Error(err))
			failed = append(failed, id)
			continue
		}
		refreshed++
	}

	if refreshed > 0 {
		s.invalidate(ctx)
	}
	s.logger.Info("course stats reconciled", zap.Int("courses", len(ids)), zap.Int("refreshed", refreshed), zap.Int("failed", len(failed)))

	if len(failed) == 0 {
		return refreshed, nil
	}
	if s.queue == nil {
		return refreshed, fmt.Errorf("%d of %d courses failed to reconcile", len(failed), len(ids))
	}
	for _, id := range failed {
		if err := s.queue.Enqueue(jobs.Job{Type: JobReconcileCourse, Payload: id}); err != nil {
			s.logger.Warn("failed to enqueue course reconcile", zap.String("course_id", id), zap.Error(err))
		}
	}
	return refreshed, nil
}

// ReconcileCourse refreshes one course. A course deleted in the meantime is not an error.
func (s *ReconciliationService) ReconcileCourse(ctx context.Context, courseID string) error {
	if _, err := s.courses.RefreshStats(ctx, courseID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("refresh course %s: %w", courseID, err)
	}
	s.invalidate(ctx)
	return nil
}

func (s *ReconciliationService) invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, courseCachePattern); err != nil {
		s.logger.Warn("course cache invalidation failed", zap.Error(err))
	}
}
