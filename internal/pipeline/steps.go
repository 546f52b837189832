package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/clipline/clipline/internal/asr"
	"github.com/clipline/clipline/internal/llm"
	"github.com/clipline/clipline/internal/metrics"
	"github.com/clipline/clipline/internal/subtitle"
	"github.com/clipline/clipline/pkg/models"
)

// Step names as surfaced in the job's current_step field.
const (
	stepNameExtractAudio     = "extract_audio"
	stepNameTranscribe       = "transcribe"
	stepNameAnalyzeStructure = "analyze_structure"
	stepNameAnalyzeContent   = "analyze_content"
	stepNameGenerateClips    = "generate_clips"
	stepNameProcess          = "process"
)

// AnalysisRequest carries the optional parameters of the content analysis
// step. CustomPrompt skips prompt generation entirely; UserRequirement
// overrides the requirement stored on the job.
type AnalysisRequest struct {
	UserRequirement string
	CustomPrompt    string
}

// ExtractAudio downloads the original video, extracts a speech-tuned audio
// track and stores it. Advances the job to audio_extracted.
func (o *Orchestrator) ExtractAudio(ctx context.Context, jobID int64) error {
	return o.runStep(ctx, jobID, stepNameExtractAudio,
		o.gateExact(jobID, models.StepUploaded, stepNameExtractAudio),
		o.extractAudio)
}

func (o *Orchestrator) extractAudio(ctx context.Context, job *models.Job) error {
	workDir, cleanup, err := o.workDir(job.ID)
	if err != nil {
		return err
	}
	defer cleanup()

	videoPath := filepath.Join(workDir, "source"+filepath.Ext(job.OriginalFilename))
	if err := o.download(ctx, job.OriginalVideoKey, videoPath); err != nil {
		return err
	}

	// A truncated download would silently corrupt every later artifact.
	if job.FileSize > 0 {
		info, err := os.Stat(videoPath)
		if err != nil {
			return fmt.Errorf("failed to stat downloaded video: %w", err)
		}
		if info.Size() != job.FileSize {
			return fmt.Errorf("downloaded size %d does not match recorded size %d", info.Size(), job.FileSize)
		}
	}
	o.progress(ctx, job.ID, 30, stepNameExtractAudio)

	audioPath := filepath.Join(workDir, "audio.mp3")
	if err := o.media.ExtractAudio(ctx, videoPath, audioPath); err != nil {
		return err
	}

	if job.Duration == nil {
		if duration, err := o.media.ProbeDuration(ctx, videoPath); err == nil {
			job.Duration = &duration
		}
	}
	o.progress(ctx, job.ID, 70, stepNameExtractAudio)

	key := fmt.Sprintf("audio/%s/%d-audio.mp3", job.UserID, job.ID)
	url, err := o.upload(ctx, key, audioPath)
	if err != nil {
		return err
	}

	job.AudioKey = key
	job.AudioURL = url
	return o.finishStep(ctx, job, models.StepAudioExtracted, stepNameExtractAudio, 100)
}

// Transcribe converts the extracted audio into an SRT transcript. Audio
// larger than the split limit is cut into fixed-length segments that are
// transcribed separately and merged back onto the full timeline. Advances
// the job to transcribed.
func (o *Orchestrator) Transcribe(ctx context.Context, jobID int64) error {
	return o.runStep(ctx, jobID, stepNameTranscribe,
		o.gateExact(jobID, models.StepAudioExtracted, stepNameTranscribe),
		o.transcribe)
}

func (o *Orchestrator) transcribe(ctx context.Context, job *models.Job) error {
	if job.AudioKey == "" {
		return fmt.Errorf("job %d has no extracted audio", job.ID)
	}

	workDir, cleanup, err := o.workDir(job.ID)
	if err != nil {
		return err
	}
	defer cleanup()

	audioPath := filepath.Join(workDir, "audio.mp3")
	if err := o.download(ctx, job.AudioKey, audioPath); err != nil {
		return err
	}
	o.progress(ctx, job.ID, 20, stepNameTranscribe)

	transcriber := asr.Select(job.ASRMethod, o.asr.Whisper, o.asr.Aliyun)
	srt, err := o.transcribeAudio(ctx, transcriber, audioPath)
	metrics.RecordTranscription(job.ASRMethod, outcome(err))
	if err != nil {
		return err
	}
	o.progress(ctx, job.ID, 80, stepNameTranscribe)

	key := fmt.Sprintf("transcripts/%s/%d-transcript.srt", job.UserID, job.ID)
	url, err := o.uploadBytes(ctx, key, []byte(srt), "text/plain; charset=utf-8")
	if err != nil {
		return err
	}

	job.TranscriptKey = key
	job.TranscriptURL = url
	return o.finishStep(ctx, job, models.StepTranscribed, stepNameTranscribe, 100)
}

// transcribeAudio produces the SRT for one audio file, splitting oversized
// audio into fixed-length segments first. Each segment's timestamps are
// shifted by its position so the merged transcript stays on the original
// timeline.
func (o *Orchestrator) transcribeAudio(ctx context.Context, transcriber asr.Transcriber, audioPath string) (string, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return "", fmt.Errorf("failed to stat audio file: %w", err)
	}

	if info.Size() <= o.cfg.AudioSplitLimit {
		result, err := transcriber.Transcribe(ctx, audioPath)
		if err != nil {
			return "", err
		}
		return subtitle.Generate(toTimed(result.Segments), 0), nil
	}

	segmentSeconds := int(o.cfg.AudioSegmentLength.Seconds())
	parts, err := o.media.SplitAudio(ctx, audioPath, segmentSeconds)
	if err != nil {
		return "", err
	}

	srtParts := make([]string, 0, len(parts))
	for i, part := range parts {
		result, err := transcriber.Transcribe(ctx, part)
		if err != nil {
			return "", fmt.Errorf("segment %d: %w", i, err)
		}
		srtParts = append(srtParts, subtitle.Generate(toTimed(result.Segments), i*segmentSeconds))
		metrics.TranscriptionSegmentsSplit.Inc()
	}

	return subtitle.Merge(srtParts), nil
}

// AnnotateStructure asks the oracle for speaker/topic annotations over the
// transcript. It has no step precondition: any job with a transcript can be
// annotated, and the step pointer never moves, so annotating a completed
// job does not disturb its pipeline position.
func (o *Orchestrator) AnnotateStructure(ctx context.Context, jobID int64) error {
	gate := func(ctx context.Context) (*models.Job, error) {
		return o.repo.GetJob(ctx, jobID)
	}
	return o.runStep(ctx, jobID, stepNameAnalyzeStructure, gate, o.annotateStructure)
}

func (o *Orchestrator) annotateStructure(ctx context.Context, job *models.Job) error {
	transcript, err := o.transcript(ctx, job)
	if err != nil {
		return err
	}
	o.progress(ctx, job.ID, 30, stepNameAnalyzeStructure)

	start := time.Now()
	segments, err := o.oracle.AnnotateStructure(ctx, transcript)
	metrics.RecordOracleRequest("annotate_structure", outcome(err), time.Since(start).Seconds())
	if err != nil {
		return err
	}

	job.ContentStructure = segments
	return o.finishStep(ctx, job, job.Step, stepNameAnalyzeStructure, 100)
}

// AnalyzeContent runs the analysis step: resolve the guidance prompt,
// write the overall script, and select highlight segments. Advances the
// job to analyzed.
func (o *Orchestrator) AnalyzeContent(ctx context.Context, jobID int64, req AnalysisRequest) error {
	return o.runStep(ctx, jobID, stepNameAnalyzeContent,
		o.gateExact(jobID, models.StepTranscribed, stepNameAnalyzeContent),
		func(ctx context.Context, job *models.Job) error {
			return o.analyzeContent(ctx, job, req)
		})
}

func (o *Orchestrator) analyzeContent(ctx context.Context, job *models.Job, req AnalysisRequest) error {
	transcript, err := o.transcript(ctx, job)
	if err != nil {
		return err
	}
	o.progress(ctx, job.ID, 20, stepNameAnalyzeContent)

	if req.UserRequirement != "" {
		job.UserRequirement = req.UserRequirement
	}

	prompt := req.CustomPrompt
	if prompt == "" {
		prompt = job.ScriptPrompt
	}
	if prompt == "" {
		if job.UserRequirement == "" {
			return fmt.Errorf("job %d has no user requirement or prompt", job.ID)
		}
		start := time.Now()
		prompt, err = o.oracle.GeneratePrompt(ctx, job.UserRequirement)
		metrics.RecordOracleRequest("generate_prompt", outcome(err), time.Since(start).Seconds())
		if err != nil {
			return err
		}
	}
	o.progress(ctx, job.ID, 40, stepNameAnalyzeContent)

	structureInfo := llm.FormatStructure(job.ContentStructure)

	start := time.Now()
	script, err := o.oracle.GenerateScript(ctx, prompt, structureInfo, transcript)
	metrics.RecordOracleRequest("generate_script", outcome(err), time.Since(start).Seconds())
	if err != nil {
		return err
	}
	o.progress(ctx, job.ID, 70, stepNameAnalyzeContent)

	start = time.Now()
	ranges, err := o.oracle.SelectSegments(ctx, prompt, structureInfo, script, transcript)
	metrics.RecordOracleRequest("select_segments", outcome(err), time.Since(start).Seconds())
	if err != nil {
		return err
	}

	segments, err := clampRanges(ranges)
	if err != nil {
		return err
	}

	job.ScriptPrompt = prompt
	job.OverallScript = script
	job.SelectedSegments = segments
	return o.finishStep(ctx, job, models.StepAnalyzed, stepNameAnalyzeContent, 0)
}

// clampRanges converts oracle time-ranges to whole-second segments: starts
// floor, ends ceil, so clips never trim selected speech.
func clampRanges(ranges []llm.SelectedRange) (models.SegmentList, error) {
	if len(ranges) == 0 {
		return nil, fmt.Errorf("oracle selected no segments")
	}

	segments := make(models.SegmentList, 0, len(ranges))
	for i, r := range ranges {
		startSec, endSec, err := subtitle.ClampRange(r.StartTime, r.EndTime)
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}

		seg := models.SelectedSegment{Start: startSec, End: endSec, Reason: r.Reason}
		if err := seg.Validate(); err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		segments = append(segments, seg)
	}

	return segments, nil
}

// GenerateClips cuts the selected segments out of the original video,
// concatenates them in order and stores the result. Accepts jobs that are
// analyzed or already completed; completed jobs regenerate their clips.
func (o *Orchestrator) GenerateClips(ctx context.Context, jobID int64) error {
	return o.runStep(ctx, jobID, stepNameGenerateClips,
		o.gateClips(jobID),
		o.generateClips)
}

func (o *Orchestrator) generateClips(ctx context.Context, job *models.Job) error {
	if len(job.SelectedSegments) == 0 {
		return ErrNoSegments
	}

	workDir, cleanup, err := o.workDir(job.ID)
	if err != nil {
		return err
	}
	defer cleanup()

	videoPath := filepath.Join(workDir, "source"+filepath.Ext(job.OriginalFilename))
	if err := o.download(ctx, job.OriginalVideoKey, videoPath); err != nil {
		return err
	}
	o.progress(ctx, job.ID, 10, stepNameGenerateClips)

	clipPaths := make([]string, 0, len(job.SelectedSegments))
	for i, seg := range job.SelectedSegments {
		clipPath := filepath.Join(workDir, fmt.Sprintf("clip_%03d.mp4", i))
		if err := o.media.CutSegment(ctx, videoPath, seg.Start, seg.End, clipPath); err != nil {
			return fmt.Errorf("clip %d (%d-%d): %w", i, seg.Start, seg.End, err)
		}
		clipPaths = append(clipPaths, clipPath)
		o.progress(ctx, job.ID, 10+(i+1)*60/len(job.SelectedSegments), stepNameGenerateClips)
	}

	finalPath := filepath.Join(workDir, "final.mp4")
	if err := o.media.Concatenate(ctx, clipPaths, finalPath); err != nil {
		return err
	}
	o.progress(ctx, job.ID, 85, stepNameGenerateClips)

	key := fmt.Sprintf("videos/%s/%d-final.mp4", job.UserID, job.ID)
	url, err := o.upload(ctx, key, finalPath)
	if err != nil {
		return err
	}

	job.FinalVideoKey = key
	job.FinalVideoURL = url
	return o.finishStep(ctx, job, models.StepCompleted, stepNameGenerateClips, 100)
}

// transcript fetches and returns the job's SRT transcript.
func (o *Orchestrator) transcript(ctx context.Context, job *models.Job) (string, error) {
	if job.TranscriptKey == "" {
		return "", fmt.Errorf("job %d has no transcript", job.ID)
	}

	start := time.Now()
	data, err := o.blobs.Get(ctx, job.TranscriptKey)
	metrics.RecordStorageOperation("get", outcome(err), time.Since(start).Seconds())
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// workDir creates a per-invocation scratch directory. The cleanup is best
// effort; leftovers are bounded by the temp dir's own retention.
func (o *Orchestrator) workDir(jobID int64) (string, func(), error) {
	dir, err := os.MkdirTemp(o.cfg.TempDir, fmt.Sprintf("job_%d_", jobID))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create work directory: %w", err)
	}

	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			o.logger.WithJobID(jobID).WithError(err).Warn("failed to remove work directory")
		}
	}
	return dir, cleanup, nil
}

func (o *Orchestrator) download(ctx context.Context, key, path string) error {
	start := time.Now()
	err := o.blobs.GetFile(ctx, key, path)
	metrics.RecordStorageOperation("get_file", outcome(err), time.Since(start).Seconds())
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", key, err)
	}
	return nil
}

func (o *Orchestrator) upload(ctx context.Context, key, path string) (string, error) {
	start := time.Now()
	url, err := o.blobs.PutFile(ctx, key, path)
	metrics.RecordStorageOperation("put_file", outcome(err), time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return url, nil
}

func (o *Orchestrator) uploadBytes(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	start := time.Now()
	url, err := o.blobs.Put(ctx, key, data, contentType)
	metrics.RecordStorageOperation("put", outcome(err), time.Since(start).Seconds())
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return url, nil
}

// progress records advisory progress; failures here never abort a step.
func (o *Orchestrator) progress(ctx context.Context, jobID int64, progress int, stepName string) {
	if err := o.repo.UpdateJobProgress(ctx, jobID, progress, stepName); err != nil {
		o.logger.WithJobID(jobID).WithError(err).Debug("failed to update progress")
	}
	o.dropCachedJob(ctx, jobID)
}

func toTimed(segments []asr.Segment) []subtitle.TimedSegment {
	timed := make([]subtitle.TimedSegment, 0, len(segments))
	for _, s := range segments {
		timed = append(timed, subtitle.TimedSegment{Start: s.Start, End: s.End, Text: s.Text})
	}
	return timed
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
