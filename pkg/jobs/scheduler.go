package jobs

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler enqueues jobs on cron schedules so the work itself runs on a Queue with retries.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger
}

// NewScheduler builds a scheduler with second-less standard cron specs.
func NewScheduler(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		logger: logger,
	}
}

// Every registers a job template that is pushed to queue each time spec fires.
func (s *Scheduler) Every(spec string, queue *Queue, jobType string, payload interface{}) error {
	if queue == nil {
		return fmt.Errorf("schedule %s: queue required", jobType)
	}
	_, err := s.cron.AddFunc(spec, func() {
		if err := queue.Enqueue(Job{Type: jobType, Payload: payload}); err != nil {
			s.logger.Warn("scheduled enqueue failed", zap.String("type", jobType), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s with %q: %w", jobType, spec, err)
	}
	s.logger.Info("job scheduled", zap.String("type", jobType), zap.String("spec", spec))
	return nil
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running callbacks, bounded by ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
