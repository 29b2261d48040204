package scan

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrBatchRunning is returned by Trigger while an earlier batch is still
// going.
var ErrBatchRunning = errors.New("batch run already in progress")

// Runner starts batch runs in the background. A triggered run has no result
// channel; progress is observed by polling the scan log for its run id.
type Runner struct {
	scanner *Scanner
	logger  *zap.Logger
	running atomic.Bool
}

// NewRunner creates a runner around scanner.
func NewRunner(scanner *Scanner, logger *zap.Logger) *Runner {
	return &Runner{scanner: scanner, logger: logger}
}

// Running reports whether a batch is in progress.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Trigger starts a detached batch over at most limit active targets (all of
// them when limit <= 0) and returns its run id at once.
func (r *Runner) Trigger(limit int) (string, error) {
	if !r.running.CompareAndSwap(false, true) {
		return "", ErrBatchRunning
	}

	runID := uuid.NewString()
	log := r.logger.With(zap.String("run_id", runID))

	go func() {
		defer r.running.Store(false)
		defer func() {
			if p := recover(); p != nil {
				log.Error("Batch run panicked", zap.Any("panic", p))
			}
		}()

		// Detached from any request context
		total, err := r.scanner.runAll(context.Background(), runID, limit)
		if err != nil {
			log.Error("Batch run failed", zap.Error(err))
			return
		}
		log.Debug("Background batch run done", zap.Int("total_matches", total))
	}()

	return runID, nil
}
