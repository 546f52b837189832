// Package pipeline implements the step orchestrator: each uploaded video
// owns a job record whose step pointer walks the canonical pipeline
// (uploaded, audio_extracted, transcribed, analyzed, completed). Steps are
// requested individually; requesting an earlier step than the job has
// reached rewinds the job and reprocesses from there.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clipline/clipline/internal/asr"
	"github.com/clipline/clipline/internal/cache"
	"github.com/clipline/clipline/internal/config"
	"github.com/clipline/clipline/internal/database"
	"github.com/clipline/clipline/internal/llm"
	"github.com/clipline/clipline/internal/logging"
	"github.com/clipline/clipline/internal/media"
	"github.com/clipline/clipline/internal/metrics"
	"github.com/clipline/clipline/internal/queue"
	"github.com/clipline/clipline/internal/storage"
	"github.com/clipline/clipline/internal/tracing"
	"github.com/clipline/clipline/pkg/models"
)

var (
	ErrStepNotReady = errors.New("job has not reached the prerequisite step")
	ErrNoSegments   = errors.New("job has no selected segments")
)

// TaskPublisher re-enqueues step tasks; satisfied by *queue.Queue.
type TaskPublisher interface {
	PublishStep(ctx context.Context, task *queue.StepTask) error
}

// Transcribers bundles the configured speech-to-text backends. The job's
// asr_method field picks one per transcription.
type Transcribers struct {
	Whisper asr.Transcriber
	Aliyun  asr.Transcriber
}

// Orchestrator runs pipeline steps against job records. All step execution
// funnels through a per-job mutex, so concurrent requests for the same job
// serialize instead of interleaving.
type Orchestrator struct {
	repo   database.JobRepository
	blobs  storage.BlobStore
	media  media.Engine
	asr    Transcribers
	oracle llm.Oracle
	cache  *cache.Cache
	logger *logging.Logger
	cfg    config.PipelineConfig

	mu      sync.Mutex
	running map[int64]*sync.Mutex
}

// NewOrchestrator creates a step orchestrator. The cache is optional.
func NewOrchestrator(repo database.JobRepository, blobs storage.BlobStore, engine media.Engine, transcribers Transcribers, oracle llm.Oracle, c *cache.Cache, logger *logging.Logger, cfg config.PipelineConfig) *Orchestrator {
	return &Orchestrator{
		repo:    repo,
		blobs:   blobs,
		media:   engine,
		asr:     transcribers,
		oracle:  oracle,
		cache:   c,
		logger:  logger,
		cfg:     cfg,
		running: make(map[int64]*sync.Mutex),
	}
}

// jobLock returns the per-job mutex, creating it on first use.
func (o *Orchestrator) jobLock(jobID int64) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	lock, ok := o.running[jobID]
	if !ok {
		lock = &sync.Mutex{}
		o.running[jobID] = lock
	}
	return lock
}

// HandleTask executes one queued step task. Step failures are recorded on
// the job and do not propagate; only infrastructure errors (job lookup,
// status writes) return non-nil and requeue the message.
func (o *Orchestrator) HandleTask(ctx context.Context, task *queue.StepTask) error {
	switch task.Action {
	case queue.ActionExtractAudio:
		return o.ExtractAudio(ctx, task.JobID)
	case queue.ActionTranscribe:
		return o.Transcribe(ctx, task.JobID)
	case queue.ActionAnalyzeStructure:
		return o.AnnotateStructure(ctx, task.JobID)
	case queue.ActionAnalyzeContent:
		return o.AnalyzeContent(ctx, task.JobID, AnalysisRequest{
			UserRequirement: task.UserRequirement,
			CustomPrompt:    task.CustomPrompt,
		})
	case queue.ActionGenerateClips:
		return o.GenerateClips(ctx, task.JobID)
	case queue.ActionProcessFull:
		return o.ProcessJob(ctx, task.JobID)
	default:
		o.logger.WithJobID(task.JobID).Warnf("unknown step action: %s", task.Action)
		return nil
	}
}

// prepare loads the job and applies the cooperative reset: when the job has
// moved past the step's prerequisite, it is rewound to the prerequisite so
// the step can rerun; when it has not reached the prerequisite yet, the
// request is rejected.
func (o *Orchestrator) prepare(ctx context.Context, jobID int64, prereq models.Step, stepName string) (*models.Job, error) {
	job, err := o.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}

	if job.Step.Before(prereq) {
		return nil, fmt.Errorf("%w: job %d is at %s, %s requires %s",
			ErrStepNotReady, jobID, job.Step, stepName, prereq)
	}

	if job.Step != prereq {
		o.logger.WithJobID(jobID).WithStep(stepName).
			Infof("rewinding job from %s to %s", job.Step, prereq)
		metrics.RecordStepReset(stepName)

		if err := o.repo.ResetJobStep(ctx, jobID, prereq, stepName); err != nil {
			return nil, err
		}
		job.Step = prereq
		job.Status = models.StatusPending
		job.Progress = 0
		job.ErrorMessage = ""
	}

	return job, nil
}

// gateExact is the standard entry gate: the step reruns from its exact
// prerequisite, rewinding the job if it has moved past it.
func (o *Orchestrator) gateExact(jobID int64, prereq models.Step, stepName string) func(context.Context) (*models.Job, error) {
	return func(ctx context.Context) (*models.Job, error) {
		return o.prepare(ctx, jobID, prereq, stepName)
	}
}

// gateClips admits clip generation from analyzed or completed without a
// rewind; completed jobs simply regenerate their clips. Anything earlier
// is rejected.
func (o *Orchestrator) gateClips(jobID int64) func(context.Context) (*models.Job, error) {
	return func(ctx context.Context) (*models.Job, error) {
		job, err := o.repo.GetJob(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Step != models.StepAnalyzed && job.Step != models.StepCompleted {
			return nil, fmt.Errorf("%w: job %d is at %s, clip generation requires analyzed or completed",
				ErrStepNotReady, jobID, job.Step)
		}
		return job, nil
	}
}

// runStep wraps a step body with locking, tracing, metrics, the step
// timeout and the failure contract: on error the job's status becomes
// failed with the error recorded, and the step pointer stays put.
func (o *Orchestrator) runStep(ctx context.Context, jobID int64, stepName string, gate func(context.Context) (*models.Job, error), body func(ctx context.Context, job *models.Job) error) error {
	lock := o.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	span, ctx := tracing.StartStepSpan(ctx, stepName, jobID)
	defer tracing.FinishSpan(span)

	if o.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.StepTimeout)
		defer cancel()
	}

	job, err := gate(ctx)
	if err != nil {
		if errors.Is(err, ErrStepNotReady) {
			// Client ordering error, not a job failure.
			tracing.LogError(span, err)
			if markErr := o.repo.MarkJobFailed(ctx, jobID, stepName, err.Error()); markErr != nil {
				return markErr
			}
			o.dropCachedJob(ctx, jobID)
			return nil
		}
		return err
	}

	if err := o.repo.UpdateJobProgress(ctx, jobID, 0, stepName); err != nil {
		return err
	}
	o.dropCachedJob(ctx, jobID)

	metrics.RecordStepStarted(stepName)
	o.logger.LogStepEvent(jobID, stepName, "started", nil)
	start := time.Now()

	if err := body(ctx, job); err != nil {
		tracing.LogError(span, err)
		metrics.RecordStepCompleted(stepName, "failed", time.Since(start).Seconds())
		o.logger.WithJobID(jobID).WithStep(stepName).ErrorWithErr("step failed", err)

		if markErr := o.repo.MarkJobFailed(ctx, jobID, stepName, err.Error()); markErr != nil {
			return markErr
		}
		o.dropCachedJob(ctx, jobID)
		return nil
	}

	metrics.RecordStepCompleted(stepName, "completed", time.Since(start).Seconds())
	o.logger.LogStepEvent(jobID, stepName, "completed", map[string]interface{}{
		"duration": time.Since(start).String(),
	})
	return nil
}

// finishStep persists the step outcome and refreshes the cached job.
// progress is the value the finished job reports; analysis finishes at 0 so
// clients see the job waiting for clip generation rather than done.
func (o *Orchestrator) finishStep(ctx context.Context, job *models.Job, next models.Step, stepName string, progress int) error {
	job.Step = next
	job.Status = models.StatusCompleted
	job.Progress = progress
	job.CurrentStep = stepName
	job.ErrorMessage = ""

	if next == models.StepCompleted && job.CompletedAt == nil {
		now := time.Now()
		job.CompletedAt = &now
	}

	if err := o.repo.UpdateJob(ctx, job); err != nil {
		return err
	}

	o.cacheJob(ctx, job)
	return nil
}

func (o *Orchestrator) cacheJob(ctx context.Context, job *models.Job) {
	if o.cache == nil {
		return
	}
	if err := o.cache.SetJob(ctx, job, 10*time.Minute); err != nil {
		o.logger.WithJobID(job.ID).WithError(err).Debug("failed to cache job")
	}
}

func (o *Orchestrator) dropCachedJob(ctx context.Context, jobID int64) {
	if o.cache == nil {
		return
	}
	_ = o.cache.DeleteJob(ctx, jobID)
}
