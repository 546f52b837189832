package database

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/clipline/clipline/pkg/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// UploadRepository defines the upload session persistence operations.
type UploadRepository interface {
	CreateUploadSession(ctx context.Context, session *models.UploadSession) error
	GetUploadSession(ctx context.Context, uploadID string) (*models.UploadSession, error)
	MarkChunkUploaded(ctx context.Context, uploadID string, chunkIndex int) (*models.UploadSession, error)
	CompleteUploadSession(ctx context.Context, uploadID, finalURL string) error
	FailUploadSession(ctx context.Context, uploadID, errorMessage string) error
	CancelUploadSession(ctx context.Context, uploadID string) error
}

const sessionColumns = `upload_id, user_id, filename, file_size, mime_type, chunk_size,
	       total_chunks, uploaded_chunks, progress, status, storage_key, final_url,
	       error_message, created_at, expires_at`

func scanSession(row pgx.Row) (*models.UploadSession, error) {
	var s models.UploadSession
	err := row.Scan(
		&s.UploadID, &s.UserID, &s.Filename, &s.FileSize, &s.MimeType, &s.ChunkSize,
		&s.TotalChunks, &s.UploadedChunks, &s.Progress, &s.Status, &s.StorageKey,
		&s.FinalURL, &s.ErrorMessage, &s.CreatedAt, &s.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateUploadSession inserts a new session. A second init with the same
// uploadId is a conflict, not a silent overwrite.
func (r *Repository) CreateUploadSession(ctx context.Context, session *models.UploadSession) error {
	query := `
		INSERT INTO upload_sessions (upload_id, user_id, filename, file_size, mime_type,
		                             chunk_size, total_chunks, uploaded_chunks, progress,
		                             status, storage_key, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		session.UploadID, session.UserID, session.Filename, session.FileSize, session.MimeType,
		session.ChunkSize, session.TotalChunks, session.UploadedChunks, session.Progress,
		session.Status, session.StorageKey, session.ExpiresAt,
	).Scan(&session.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrUploadConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create upload session: %w", err)
	}

	return nil
}

// GetUploadSession retrieves a session by upload ID
func (r *Repository) GetUploadSession(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM upload_sessions WHERE upload_id = $1`

	session, err := scanSession(r.db.Pool.QueryRow(ctx, query, uploadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get upload session: %w", err)
	}

	return session, nil
}

// MarkChunkUploaded records a chunk index and recomputes progress inside a
// transaction with a row lock, so concurrent chunk receipts cannot lose
// updates. Re-recording an already-known index is a no-op.
func (r *Repository) MarkChunkUploaded(ctx context.Context, uploadID string, chunkIndex int) (*models.UploadSession, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + sessionColumns + ` FROM upload_sessions WHERE upload_id = $1 FOR UPDATE`
	session, err := scanSession(tx.QueryRow(ctx, query, uploadID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock upload session: %w", err)
	}

	if session.UploadedChunks.Add(chunkIndex) {
		session.Progress = int(math.Round(100 * float64(len(session.UploadedChunks)) / float64(session.TotalChunks)))

		update := `
			UPDATE upload_sessions
			SET uploaded_chunks = $2, progress = $3
			WHERE upload_id = $1
		`
		if _, err := tx.Exec(ctx, update, uploadID, session.UploadedChunks, session.Progress); err != nil {
			return nil, fmt.Errorf("failed to record chunk: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit chunk record: %w", err)
	}

	return session, nil
}

// CompleteUploadSession marks a session completed. Only an uploading session
// can transition, so a racing second completion finds zero rows.
func (r *Repository) CompleteUploadSession(ctx context.Context, uploadID, finalURL string) error {
	query := `
		UPDATE upload_sessions
		SET status = $2, final_url = $3, progress = 100
		WHERE upload_id = $1 AND status = $4
	`

	tag, err := r.db.Pool.Exec(ctx, query, uploadID, models.UploadStatusCompleted, finalURL, models.UploadStatusUploading)
	if err != nil {
		return fmt.Errorf("failed to complete upload session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("upload session %s is not uploading", uploadID)
	}

	return nil
}

// FailUploadSession marks a session failed with the captured error
func (r *Repository) FailUploadSession(ctx context.Context, uploadID, errorMessage string) error {
	query := `
		UPDATE upload_sessions
		SET status = $2, error_message = $3
		WHERE upload_id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, uploadID, models.UploadStatusFailed, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to fail upload session: %w", err)
	}

	return nil
}

// CancelUploadSession marks a session cancelled regardless of progress
func (r *Repository) CancelUploadSession(ctx context.Context, uploadID string) error {
	query := `
		UPDATE upload_sessions
		SET status = $2
		WHERE upload_id = $1
	`

	_, err := r.db.Pool.Exec(ctx, query, uploadID, models.UploadStatusCancelled)
	if err != nil {
		return fmt.Errorf("failed to cancel upload session: %w", err)
	}

	return nil
}
