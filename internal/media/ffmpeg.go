package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

// Engine is the media capability the step handlers consume. All operations
// work on local filesystem paths; the orchestrator downloads and uploads
// around them.
type Engine interface {
	ExtractAudio(ctx context.Context, videoPath, audioPath string) error
	SplitAudio(ctx context.Context, audioPath string, segmentSeconds int) ([]string, error)
	CutSegment(ctx context.Context, videoPath string, startSec, endSec int, outputPath string) error
	Concatenate(ctx context.Context, clipPaths []string, outputPath string) error
	BurnSubtitles(ctx context.Context, videoPath, subtitlePath, outputPath string) error
	ProbeDuration(ctx context.Context, inputPath string) (float64, error)
}

// FFmpeg wraps ffmpeg/ffprobe subprocess invocations
type FFmpeg struct {
	ffmpegPath  string
	ffprobePath string
}

// NewFFmpeg creates a new FFmpeg engine
func NewFFmpeg(ffmpegPath, ffprobePath string) *FFmpeg {
	return &FFmpeg{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}
}

// ExtractAudio produces a mono low-bitrate mp3 tuned for speech recognition,
// not fidelity.
func (f *FFmpeg) ExtractAudio(ctx context.Context, videoPath, audioPath string) error {
	args := []string{
		"-i", videoPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-b:a", "64k",
		"-c:a", "libmp3lame",
		"-y",
		audioPath,
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("audio extraction failed: %w, stderr: %s", err, stderr.String())
	}

	return nil
}

// SplitAudio cuts an audio file into fixed-duration segments and returns the
// segment paths in order.
func (f *FFmpeg) SplitAudio(ctx context.Context, audioPath string, segmentSeconds int) ([]string, error) {
	dir := filepath.Dir(audioPath)
	pattern := filepath.Join(dir, "segment_%03d"+filepath.Ext(audioPath))

	args := []string{
		"-i", audioPath,
		"-f", "segment",
		"-segment_time", strconv.Itoa(segmentSeconds),
		"-c", "copy",
		"-y",
		pattern,
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("audio split failed: %w, stderr: %s", err, stderr.String())
	}

	matches, err := filepath.Glob(filepath.Join(dir, "segment_*"+filepath.Ext(audioPath)))
	if err != nil {
		return nil, fmt.Errorf("failed to list audio segments: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("audio split produced no segments")
	}

	return matches, nil
}

// CutSegment extracts a sub-clip. Re-encodes rather than stream-copies so
// boundaries land on exact frames instead of the nearest keyframe.
func (f *FFmpeg) CutSegment(ctx context.Context, videoPath string, startSec, endSec int, outputPath string) error {
	if startSec < 0 || startSec >= endSec {
		return fmt.Errorf("invalid segment range %d-%d", startSec, endSec)
	}

	args := []string{
		"-i", videoPath,
		"-ss", strconv.Itoa(startSec),
		"-to", strconv.Itoa(endSec),
		"-c:v", "libx264",
		"-preset", "medium",
		"-c:a", "aac",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("segment cut failed: %w, stderr: %s", err, stderr.String())
	}

	return nil
}

// Concatenate joins clips in order using the concat demuxer. Re-encodes so
// clips from different sources still yield a playable uniform container.
func (f *FFmpeg) Concatenate(ctx context.Context, clipPaths []string, outputPath string) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}

	concatFile, err := createConcatFile(clipPaths)
	if err != nil {
		return fmt.Errorf("failed to create concat file: %w", err)
	}
	defer os.Remove(concatFile)

	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", concatFile,
		"-c:v", "libx264",
		"-preset", "medium",
		"-c:a", "aac",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("concatenation failed: %w, output: %s", err, string(output))
	}

	return nil
}

// BurnSubtitles renders a subtitle file into the video stream
func (f *FFmpeg) BurnSubtitles(ctx context.Context, videoPath, subtitlePath, outputPath string) error {
	args := []string{
		"-i", videoPath,
		"-vf", fmt.Sprintf("subtitles=%s", subtitlePath),
		"-c:a", "copy",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("subtitle burn failed: %w, stderr: %s", err, stderr.String())
	}

	return nil
}

// probeOutput holds the ffprobe fields we read
type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// ProbeDuration returns the duration of a media file in seconds
func (f *FFmpeg) ProbeDuration(ctx context.Context, inputPath string) (float64, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	var probe probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &probe); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	duration, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}

	return duration, nil
}

// createConcatFile writes the concat demuxer file list
func createConcatFile(inputs []string) (string, error) {
	tempFile, err := os.CreateTemp("", "concat_*.txt")
	if err != nil {
		return "", err
	}
	defer tempFile.Close()

	for _, input := range inputs {
		absPath, err := filepath.Abs(input)
		if err != nil {
			return "", err
		}

		// Format: file '/path/to/file.mp4'
		if _, err := tempFile.WriteString(fmt.Sprintf("file '%s'\n", absPath)); err != nil {
			return "", err
		}
	}

	return tempFile.Name(), nil
}
