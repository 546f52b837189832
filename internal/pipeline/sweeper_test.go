package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipline/clipline/internal/logging"
	"github.com/clipline/clipline/internal/queue"
	"github.com/clipline/clipline/pkg/models"
)

type capturingPublisher struct {
	mu    sync.Mutex
	tasks []*queue.StepTask
}

func (p *capturingPublisher) PublishStep(_ context.Context, task *queue.StepTask) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tasks = append(p.tasks, task)
	return nil
}

func TestSweeper_RequeuesStalledJobs(t *testing.T) {
	repo := newFakeJobRepo()
	ctx := context.Background()

	stalled := &models.Job{UserID: "user-1", Step: models.StepTranscribed, Status: models.StatusPending}
	require.NoError(t, repo.CreateJob(ctx, stalled))

	// Completed-step jobs stuck in a pending status are left alone
	finished := &models.Job{UserID: "user-1", Step: models.StepCompleted, Status: models.StatusPending}
	require.NoError(t, repo.CreateJob(ctx, finished))

	// A job a live worker is processing is not the sweeper's business
	inflight := &models.Job{UserID: "user-1", Step: models.StepAudioExtracted, Status: models.StatusProcessing}
	require.NoError(t, repo.CreateJob(ctx, inflight))

	done := &models.Job{UserID: "user-1", Step: models.StepAnalyzed, Status: models.StatusCompleted}
	require.NoError(t, repo.CreateJob(ctx, done))

	publisher := &capturingPublisher{}
	sweeper := NewSweeper(repo, publisher, logging.NewNopLogger(), time.Millisecond)

	require.NoError(t, sweeper.Run(ctx))

	require.Len(t, publisher.tasks, 1)
	assert.Equal(t, stalled.ID, publisher.tasks[0].JobID)
	assert.Equal(t, queue.ActionProcessFull, publisher.tasks[0].Action)
}

func TestSweeper_CancelledBeforeDelay(t *testing.T) {
	repo := newFakeJobRepo()
	publisher := &capturingPublisher{}
	sweeper := NewSweeper(repo, publisher, logging.NewNopLogger(), time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sweeper.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, publisher.tasks)
}
