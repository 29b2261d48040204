package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler triggers batch runs on a cron schedule.
type Scheduler struct {
	cron     *cron.Cron
	schedule cron.Schedule
	runner   *Runner
	limit    int
	logger   *zap.Logger
}

// NewScheduler creates a scheduler for a standard five-field cron expression or a
// descriptor such as "@hourly" or "@every 30m".
func NewScheduler(runner *Runner, expr string, limit int, logger *zap.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule %q: %w", expr, err)
	}

	s := &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger))),
		schedule: schedule,
		runner:   runner,
		limit:    limit,
		logger:   logger,
	}
	s.cron.Schedule(schedule, cron.FuncJob(s.tick))

	return s, nil
}

// Next returns the first activation after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Start runs the scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.logger.Info("Scheduler started", zap.Time("next_run", s.Next(time.Now())))
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running cron
// jobs return; a batch they triggered keeps going.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) tick() {
	runID, err := s.runner.Trigger(s.limit)
	if errors.Is(err, ErrBatchRunning) {
		s.logger.Warn("Skipping scheduled run, previous batch still running")
		return
	}
	s.logger.Info("Scheduled batch run started", zap.String("run_id", runID))
}
