package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/clipline/clipline/internal/asr"
	"github.com/clipline/clipline/internal/metrics"
	"github.com/clipline/clipline/internal/tracing"
	"github.com/clipline/clipline/pkg/models"
)

// ProcessJob runs the whole pipeline for one job in a single pass, resuming
// from whatever step the job has already reached. This is the path used for
// retries and for stalled jobs found at startup; interactive clients drive
// the discrete steps instead.
func (o *Orchestrator) ProcessJob(ctx context.Context, jobID int64) error {
	lock := o.jobLock(jobID)
	lock.Lock()
	defer lock.Unlock()

	span, ctx := tracing.StartStepSpan(ctx, stepNameProcess, jobID)
	defer tracing.FinishSpan(span)

	job, err := o.repo.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	type phase struct {
		name   string
		needed bool
		fn     func(context.Context, *models.Job) error
	}

	// Decide up front which phases the job still needs, from its position
	// when the pass starts. Regenerated clips always get a fresh burn.
	needClips := job.Step.Before(models.StepCompleted) || job.FinalVideoKey == ""

	phases := []phase{
		{stepNameExtractAudio, job.Step == models.StepUploaded, o.extractAudio},
		{stepNameTranscribe, job.Step.Before(models.StepTranscribed), o.transcribe},
		{stepNameAnalyzeStructure, job.Step.Before(models.StepAnalyzed) && len(job.ContentStructure) == 0, o.annotateStructure},
		{stepNameAnalyzeContent, job.Step.Before(models.StepAnalyzed), func(ctx context.Context, j *models.Job) error {
			return o.analyzeContent(ctx, j, AnalysisRequest{})
		}},
		{stepNameGenerateClips, needClips, o.generateClips},
		{"burn_subtitles", needClips || job.SubtitleKey == "", o.burnSubtitles},
	}

	for _, p := range phases {
		if !p.needed {
			continue
		}

		if err := o.repo.UpdateJobProgress(ctx, jobID, 0, p.name); err != nil {
			return err
		}
		o.dropCachedJob(ctx, jobID)

		metrics.RecordStepStarted(p.name)
		o.logger.LogStepEvent(jobID, p.name, "started", nil)
		start := time.Now()

		if err := p.fn(ctx, job); err != nil {
			tracing.LogError(span, err)
			metrics.RecordStepCompleted(p.name, "failed", time.Since(start).Seconds())
			o.logger.WithJobID(jobID).WithStep(p.name).ErrorWithErr("step failed", err)

			if markErr := o.repo.MarkJobFailed(ctx, jobID, p.name, err.Error()); markErr != nil {
				return markErr
			}
			o.dropCachedJob(ctx, jobID)
			return nil
		}

		metrics.RecordStepCompleted(p.name, "completed", time.Since(start).Seconds())
		o.logger.LogStepEvent(jobID, p.name, "completed", nil)
	}

	return nil
}

// burnSubtitles transcribes the final clipped video and renders the
// subtitles into it, so the published clip carries its own captions on
// the clip's timeline rather than the source video's.
func (o *Orchestrator) burnSubtitles(ctx context.Context, job *models.Job) error {
	if job.FinalVideoKey == "" {
		return fmt.Errorf("job %d has no final video", job.ID)
	}

	workDir, cleanup, err := o.workDir(job.ID)
	if err != nil {
		return err
	}
	defer cleanup()

	videoPath := filepath.Join(workDir, "final.mp4")
	if err := o.download(ctx, job.FinalVideoKey, videoPath); err != nil {
		return err
	}

	audioPath := filepath.Join(workDir, "final_audio.mp3")
	if err := o.media.ExtractAudio(ctx, videoPath, audioPath); err != nil {
		return err
	}

	transcriber := asr.Select(job.ASRMethod, o.asr.Whisper, o.asr.Aliyun)
	srt, err := o.transcribeAudio(ctx, transcriber, audioPath)
	metrics.RecordTranscription(job.ASRMethod, outcome(err))
	if err != nil {
		return err
	}

	srtPath := filepath.Join(workDir, "final.srt")
	if err := os.WriteFile(srtPath, []byte(srt), 0o644); err != nil {
		return fmt.Errorf("failed to write subtitle file: %w", err)
	}

	subtitleKey := fmt.Sprintf("subtitles/%s/%d-subtitles.srt", job.UserID, job.ID)
	subtitleURL, err := o.uploadBytes(ctx, subtitleKey, []byte(srt), "text/plain; charset=utf-8")
	if err != nil {
		return err
	}

	burnedPath := filepath.Join(workDir, "final_subtitled.mp4")
	if err := o.media.BurnSubtitles(ctx, videoPath, srtPath, burnedPath); err != nil {
		return err
	}

	finalURL, err := o.upload(ctx, job.FinalVideoKey, burnedPath)
	if err != nil {
		return err
	}

	job.SubtitleKey = subtitleKey
	job.SubtitleURL = subtitleURL
	job.FinalVideoURL = finalURL
	return o.finishStep(ctx, job, models.StepCompleted, "burn_subtitles", 100)
}
