package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"json-validator-service/internal/observability/logging"
	"json-validator-service/internal/stage"
)

// Processor is the part of the stage the runner drives.
type Processor interface {
	Process(ctx context.Context, sess stage.Session) (bool, error)
}

// Runner invokes a stage concurrently from a fixed pool of workers.
type Runner struct {
	proc    Processor
	sess    stage.Session
	workers int
	idle    time.Duration
	logger  zerolog.Logger
}

// NewRunner creates a runner with the given number of workers. idle is how
// long a worker waits after finding no document or a stage that is not ready.
func NewRunner(proc Processor, sess stage.Session, workers int, idle time.Duration) *Runner {
	if workers < 1 {
		workers = 1
	}
	if idle <= 0 {
		idle = 100 * time.Millisecond
	}
	return &Runner{
		proc:    proc,
		sess:    sess,
		workers: workers,
		idle:    idle,
		logger:  logging.WithComponent("runner"),
	}
}

// Run blocks until ctx is cancelled. It returns nil on cancellation and the
// first session error otherwise.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info().Int("workers", r.workers).Msg("Runner started")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < r.workers; i++ {
		g.Go(func() error {
			return r.work(gctx, i)
		})
	}

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		err = nil
	}
	r.logger.Info().Err(err).Msg("Runner stopped")
	return err
}

func (r *Runner) work(ctx context.Context, worker int) error {
	logger := r.logger.With().Int("worker", worker).Logger()

	for {
		if ctx.Err() != nil {
			return nil
		}

		processed, err := r.proc.Process(ctx, r.sess)
		switch {
		case err == nil && processed:
			continue
		case err == nil:
			// queue empty
		case errors.Is(err, stage.ErrStageNotReady):
			logger.Debug().Err(err).Msg("Stage not ready")
		case ctx.Err() != nil:
			return nil
		default:
			id := stage.DocumentID(err)
			if id == "" {
				logger.Error().Err(err).Msg("Session failed")
				return err
			}
			logger.Error().Err(err).Str("documentId", id).Msg("Document failed")
			if rb, ok := r.sess.(Rollbacker); ok {
				rb.Rollback(ctx, id, err)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(r.idle):
		}
	}
}
