package pipeline

import (
	"context"
	"time"

	"github.com/clipline/clipline/internal/database"
	"github.com/clipline/clipline/internal/logging"
	"github.com/clipline/clipline/internal/metrics"
	"github.com/clipline/clipline/internal/queue"
	"github.com/clipline/clipline/pkg/models"
)

// Sweeper requeues jobs stranded in pending by a worker that died mid-step.
// It waits a settle delay after startup first, so jobs created moments ago
// whose step task is still in flight are not double-dispatched.
type Sweeper struct {
	repo      database.JobRepository
	publisher TaskPublisher
	logger    *logging.Logger
	delay     time.Duration
}

// NewSweeper creates a startup sweeper.
func NewSweeper(repo database.JobRepository, publisher TaskPublisher, logger *logging.Logger, delay time.Duration) *Sweeper {
	return &Sweeper{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		delay:     delay,
	}
}

// Run performs one sweep after the settle delay. It returns once the sweep
// finishes or the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	select {
	case <-time.After(s.delay):
	case <-ctx.Done():
		return ctx.Err()
	}

	jobs, err := s.repo.GetPendingJobs(ctx)
	if err != nil {
		return err
	}

	requeued := 0
	for _, job := range jobs {
		if job.Step == models.StepCompleted {
			continue
		}

		task := &queue.StepTask{JobID: job.ID, Action: queue.ActionProcessFull}
		if err := s.publisher.PublishStep(ctx, task); err != nil {
			s.logger.WithJobID(job.ID).WithError(err).Error("failed to requeue stalled job")
			continue
		}

		metrics.SweeperRetriesTotal.Inc()
		s.logger.WithJobID(job.ID).WithStep(string(job.Step)).Info("requeued stalled job")
		requeued++
	}

	if requeued > 0 {
		s.logger.Infof("sweeper requeued %d stalled jobs", requeued)
	}
	return nil
}
