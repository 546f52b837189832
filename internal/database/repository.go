package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/clipline/clipline/pkg/models"
	"github.com/jackc/pgx/v5"
)

// Sentinel errors for callers that need to distinguish lookup failures.
var (
	ErrJobNotFound     = errors.New("job not found")
	ErrSessionNotFound = errors.New("upload session not found")
	ErrUploadConflict  = errors.New("upload session already exists")
)

// JobRepository defines the job persistence operations the orchestrator needs.
type JobRepository interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	ListJobsByUser(ctx context.Context, userID string) ([]*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	UpdateJobProgress(ctx context.Context, id int64, progress int, currentStep string) error
	ResetJobStep(ctx context.Context, id int64, step models.Step, currentStep string) error
	MarkJobFailed(ctx context.Context, id int64, currentStep, errorMessage string) error
	GetPendingJobs(ctx context.Context) ([]*models.Job, error)
}

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Health checks database connectivity
func (r *Repository) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}

const jobColumns = `id, user_id, original_video_url, original_video_key, original_filename,
	       file_size, duration, user_requirement, asr_method, status, step, progress,
	       current_step, error_message, audio_url, audio_key, transcript_url, transcript_key,
	       content_structure, script_prompt, overall_script, selected_segments,
	       final_video_url, final_video_key, subtitle_url, subtitle_key,
	       created_at, updated_at, completed_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var job models.Job
	err := row.Scan(
		&job.ID, &job.UserID, &job.OriginalVideoURL, &job.OriginalVideoKey, &job.OriginalFilename,
		&job.FileSize, &job.Duration, &job.UserRequirement, &job.ASRMethod, &job.Status, &job.Step,
		&job.Progress, &job.CurrentStep, &job.ErrorMessage, &job.AudioURL, &job.AudioKey,
		&job.TranscriptURL, &job.TranscriptKey, &job.ContentStructure, &job.ScriptPrompt,
		&job.OverallScript, &job.SelectedSegments, &job.FinalVideoURL, &job.FinalVideoKey,
		&job.SubtitleURL, &job.SubtitleKey, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// CreateJob creates a new job record
func (r *Repository) CreateJob(ctx context.Context, job *models.Job) error {
	query := `
		INSERT INTO jobs (user_id, original_video_url, original_video_key, original_filename,
		                  file_size, duration, user_requirement, asr_method, status, step,
		                  progress, current_step)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		job.UserID, job.OriginalVideoURL, job.OriginalVideoKey, job.OriginalFilename,
		job.FileSize, job.Duration, job.UserRequirement, job.ASRMethod, job.Status, job.Step,
		job.Progress, job.CurrentStep,
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetJob retrieves a job by ID
func (r *Repository) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(r.db.Pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return job, nil
}

// ListJobsByUser retrieves all jobs owned by a user, newest first
func (r *Repository) ListJobsByUser(ctx context.Context, userID string) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}

// UpdateJob writes back every mutable job field
func (r *Repository) UpdateJob(ctx context.Context, job *models.Job) error {
	query := `
		UPDATE jobs
		SET user_requirement = $2, asr_method = $3, status = $4, step = $5, progress = $6,
		    current_step = $7, error_message = $8, audio_url = $9, audio_key = $10,
		    transcript_url = $11, transcript_key = $12, content_structure = $13,
		    script_prompt = $14, overall_script = $15, selected_segments = $16,
		    final_video_url = $17, final_video_key = $18, subtitle_url = $19,
		    subtitle_key = $20, completed_at = $21, updated_at = now()
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query,
		job.ID, job.UserRequirement, job.ASRMethod, job.Status, job.Step, job.Progress,
		job.CurrentStep, job.ErrorMessage, job.AudioURL, job.AudioKey,
		job.TranscriptURL, job.TranscriptKey, job.ContentStructure,
		job.ScriptPrompt, job.OverallScript, job.SelectedSegments,
		job.FinalVideoURL, job.FinalVideoKey, job.SubtitleURL, job.SubtitleKey,
		job.CompletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}

	return nil
}

// UpdateJobProgress updates the advisory progress and status line of a job
func (r *Repository) UpdateJobProgress(ctx context.Context, id int64, progress int, currentStep string) error {
	query := `
		UPDATE jobs
		SET progress = $2, current_step = $3, status = $4, updated_at = now()
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, id, progress, currentStep, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}

	return nil
}

// ResetJobStep rewinds a job to an earlier step ahead of reprocessing. Any
// recorded failure is cleared so status polls stop surfacing it.
func (r *Repository) ResetJobStep(ctx context.Context, id int64, step models.Step, currentStep string) error {
	query := `
		UPDATE jobs
		SET step = $2, status = $3, progress = 0, current_step = $4, error_message = '', updated_at = now()
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, id, step, models.StatusPending, currentStep)
	if err != nil {
		return fmt.Errorf("failed to reset job step: %w", err)
	}

	return nil
}

// MarkJobFailed records a step failure without touching the step pointer
func (r *Repository) MarkJobFailed(ctx context.Context, id int64, currentStep, errorMessage string) error {
	query := `
		UPDATE jobs
		SET status = $2, current_step = $3, error_message = $4, updated_at = now()
		WHERE id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, id, models.StatusFailed, currentStep, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}

	return nil
}

// GetPendingJobs retrieves all jobs with status pending, for the startup sweeper
func (r *Repository) GetPendingJobs(ctx context.Context) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE status = $1 ORDER BY created_at`

	rows, err := r.db.Pool.Query(ctx, query, models.StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	return jobs, nil
}
