package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const persistJobKey = "persist-accounting"

// PersistFunc asks the ledger to save its state.
type PersistFunc func(ctx context.Context) error

// PersistScheduler runs PersistFunc on a cron expression with seconds,
// e.g. "0 * * * * *" for every minute.
type PersistScheduler struct {
	scheduler quartz.Scheduler
	logger    *zap.Logger
}

func NewPersistScheduler(cronExpr string, persist PersistFunc, logger *zap.Logger) (*PersistScheduler, error) {
	trigger, err := quartz.NewCronTrigger(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid persist cron %q: %w", cronExpr, err)
	}
	scheduler, err := quartz.NewStdScheduler()
	if err != nil {
		return nil, err
	}
	log := logger.With(zap.String("component", "persist-cron"))

	persistJob := job.NewFunctionJob(func(ctx context.Context) (bool, error) {
		start := time.Now()
		if err := persist(ctx); err != nil {
			log.Warn("persist: failed", zap.Error(err))
			return false, err
		}
		log.Debug("persist: done", zap.Duration("elapsed", time.Since(start)))
		return true, nil
	})
	detail := quartz.NewJobDetail(persistJob, quartz.NewJobKey(persistJobKey))
	if err := scheduler.ScheduleJob(detail, trigger); err != nil {
		return nil, err
	}
	return &PersistScheduler{scheduler: scheduler, logger: log}, nil
}

func (s *PersistScheduler) Start(ctx context.Context) {
	s.scheduler.Start(ctx)
}

// Stop stops the scheduler and waits for a running job, at most until ctx is done.
func (s *PersistScheduler) Stop(ctx context.Context) {
	s.scheduler.Stop()
	s.scheduler.Wait(ctx)
}
