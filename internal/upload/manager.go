// Package upload implements resumable chunked uploads: sessions are
// initialized with a fixed chunk size, chunks land in a staging directory
// in any order, and completion reassembles them and hands the file to
// object storage.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/clipline/clipline/internal/cache"
	"github.com/clipline/clipline/internal/database"
	"github.com/clipline/clipline/internal/logging"
	"github.com/clipline/clipline/internal/metrics"
	"github.com/clipline/clipline/internal/storage"
	"github.com/clipline/clipline/pkg/models"
)

var (
	ErrInvalidFileSize = errors.New("file size must be positive")
	ErrFileTooLarge    = errors.New("file exceeds the maximum upload size")
	ErrSessionExpired  = errors.New("upload session has expired")
	ErrSessionClosed   = errors.New("upload session is no longer accepting chunks")
	ErrChunkOutOfRange = errors.New("chunk index out of range")
)

const sessionTTL = 24 * time.Hour

// Manager coordinates upload sessions across the database, the staging
// directory and object storage.
type Manager struct {
	repo    database.UploadRepository
	blobs   storage.BlobStore
	cache   *cache.Cache
	logger  *logging.Logger
	tempDir string

	chunkSize     int64
	maxUploadSize int64
}

// NewManager creates an upload manager. The cache is optional; when nil,
// status reads always hit the database.
func NewManager(repo database.UploadRepository, blobs storage.BlobStore, c *cache.Cache, logger *logging.Logger, tempDir string, chunkSize, maxUploadSize int64) *Manager {
	return &Manager{
		repo:          repo,
		blobs:         blobs,
		cache:         c,
		logger:        logger,
		tempDir:       tempDir,
		chunkSize:     chunkSize,
		maxUploadSize: maxUploadSize,
	}
}

// ChunkSize returns the fixed chunk size clients must honor for all
// chunks except the last.
func (m *Manager) ChunkSize() int64 {
	return m.chunkSize
}

// InitUpload creates a new upload session. The client may supply its own
// uploadID for resumability bookkeeping; reusing an active one is a
// conflict (database.ErrUploadConflict), never a silent reset.
func (m *Manager) InitUpload(ctx context.Context, userID, uploadID, filename string, fileSize int64, mimeType string) (*models.UploadSession, error) {
	if fileSize <= 0 {
		return nil, ErrInvalidFileSize
	}
	if fileSize > m.maxUploadSize {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, fileSize, m.maxUploadSize)
	}

	if uploadID == "" {
		uploadID = uuid.New().String()
	}

	totalChunks := int((fileSize + m.chunkSize - 1) / m.chunkSize)

	session := &models.UploadSession{
		UploadID:       uploadID,
		UserID:         userID,
		Filename:       filename,
		FileSize:       fileSize,
		MimeType:       mimeType,
		ChunkSize:      m.chunkSize,
		TotalChunks:    totalChunks,
		UploadedChunks: make(models.ChunkSet),
		Progress:       0,
		Status:         models.UploadStatusUploading,
		StorageKey:     fmt.Sprintf("videos/%s/%s-%s", userID, uploadID, filename),
		ExpiresAt:      time.Now().Add(sessionTTL),
	}

	if err := m.repo.CreateUploadSession(ctx, session); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(m.stagingDir(uploadID), 0o755); err != nil {
		failErr := fmt.Sprintf("failed to create staging directory: %v", err)
		_ = m.repo.FailUploadSession(ctx, uploadID, failErr)
		return nil, fmt.Errorf("failed to create staging directory: %w", err)
	}

	metrics.UploadsInitiatedTotal.Inc()
	metrics.UploadSizeBytes.Observe(float64(fileSize))
	m.logger.WithUploadID(uploadID).WithUserID(userID).
		Infof("upload session initialized: %s (%d bytes, %d chunks)", filename, fileSize, totalChunks)

	m.cacheSession(ctx, session)
	return session, nil
}

// UploadChunk stages one chunk. Receiving a chunk index that is already
// recorded is a no-op; the session state does not change. A staging I/O
// failure marks the whole session failed.
func (m *Manager) UploadChunk(ctx context.Context, uploadID string, chunkIndex int, data io.Reader) (*models.UploadSession, error) {
	session, err := m.repo.GetUploadSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	if err := m.acceptable(session); err != nil {
		return nil, err
	}
	if chunkIndex < 0 || chunkIndex >= session.TotalChunks {
		return nil, fmt.Errorf("%w: %d (session has %d chunks)", ErrChunkOutOfRange, chunkIndex, session.TotalChunks)
	}

	if session.UploadedChunks.Has(chunkIndex) {
		// Retried chunk, nothing to do.
		return session, nil
	}

	if err := m.stageChunk(uploadID, chunkIndex, data); err != nil {
		failErr := fmt.Sprintf("failed to stage chunk %d: %v", chunkIndex, err)
		_ = m.repo.FailUploadSession(ctx, uploadID, failErr)
		m.dropCachedSession(ctx, uploadID)
		metrics.RecordError("upload", "stage_chunk")
		return nil, fmt.Errorf("failed to stage chunk %d: %w", chunkIndex, err)
	}

	session, err = m.repo.MarkChunkUploaded(ctx, uploadID, chunkIndex)
	if err != nil {
		return nil, err
	}

	metrics.UploadChunksReceivedTotal.Inc()
	m.logger.LogUploadProgress(uploadID, chunkIndex, session.TotalChunks, session.Progress)

	m.cacheSession(ctx, session)
	return session, nil
}

// CompleteUpload verifies every chunk is present, reassembles them in
// index order, pushes the file to object storage and marks the session
// completed. Missing chunks fail the call without changing state.
func (m *Manager) CompleteUpload(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	session, err := m.repo.GetUploadSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	if err := m.acceptable(session); err != nil {
		return nil, err
	}

	if missing := session.TotalChunks - len(session.UploadedChunks); missing > 0 {
		return nil, fmt.Errorf("upload incomplete: %d of %d chunks missing", missing, session.TotalChunks)
	}

	assembled, err := m.assemble(session)
	if err != nil {
		failErr := fmt.Sprintf("failed to assemble file: %v", err)
		_ = m.repo.FailUploadSession(ctx, uploadID, failErr)
		m.dropCachedSession(ctx, uploadID)
		metrics.UploadsCompletedTotal.WithLabelValues(models.UploadStatusFailed).Inc()
		return nil, fmt.Errorf("failed to assemble file: %w", err)
	}

	start := time.Now()
	finalURL, err := m.blobs.PutFile(ctx, session.StorageKey, assembled)
	metrics.RecordStorageOperation("put_file", storageStatus(err), time.Since(start).Seconds())
	if err != nil {
		failErr := fmt.Sprintf("failed to store file: %v", err)
		_ = m.repo.FailUploadSession(ctx, uploadID, failErr)
		m.dropCachedSession(ctx, uploadID)
		metrics.UploadsCompletedTotal.WithLabelValues(models.UploadStatusFailed).Inc()
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	if err := m.repo.CompleteUploadSession(ctx, uploadID, finalURL); err != nil {
		return nil, err
	}

	m.cleanupStaging(uploadID)

	session.Status = models.UploadStatusCompleted
	session.Progress = 100
	session.FinalURL = finalURL

	metrics.UploadsCompletedTotal.WithLabelValues(models.UploadStatusCompleted).Inc()
	m.logger.WithUploadID(uploadID).WithUserID(session.UserID).
		Infof("upload completed: %s -> %s", session.Filename, session.StorageKey)

	m.cacheSession(ctx, session)
	return session, nil
}

// CancelUpload aborts a session and discards its staged chunks. Completed
// sessions cannot be cancelled.
func (m *Manager) CancelUpload(ctx context.Context, uploadID string) error {
	session, err := m.repo.GetUploadSession(ctx, uploadID)
	if err != nil {
		return err
	}
	if session.Status == models.UploadStatusCompleted {
		return fmt.Errorf("%w: already completed", ErrSessionClosed)
	}

	if err := m.repo.CancelUploadSession(ctx, uploadID); err != nil {
		return err
	}

	m.cleanupStaging(uploadID)
	m.dropCachedSession(ctx, uploadID)

	metrics.UploadsCompletedTotal.WithLabelValues(models.UploadStatusCancelled).Inc()
	m.logger.WithUploadID(uploadID).Info("upload cancelled")
	return nil
}

// GetStatus returns the current session state, serving from cache when
// possible.
func (m *Manager) GetStatus(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	if m.cache != nil {
		if session, err := m.cache.GetUploadSession(ctx, uploadID); err == nil && session != nil {
			return session, nil
		}
	}

	session, err := m.repo.GetUploadSession(ctx, uploadID)
	if err != nil {
		return nil, err
	}

	m.cacheSession(ctx, session)
	return session, nil
}

// SweepStaging removes staging directories whose sessions have long
// expired. Sessions themselves stay in the database as an audit trail.
func (m *Manager) SweepStaging(maxAge time.Duration) error {
	entries, err := os.ReadDir(m.tempDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read staging root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(m.tempDir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				m.logger.WithError(err).Warnf("failed to sweep staging dir %s", path)
			}
		}
	}

	return nil
}

// acceptable rejects chunks and completions for sessions that are no
// longer open: terminal states stay terminal, expired sessions are closed.
func (m *Manager) acceptable(session *models.UploadSession) error {
	if session.Status != models.UploadStatusUploading {
		return fmt.Errorf("%w: status is %s", ErrSessionClosed, session.Status)
	}
	if time.Now().After(session.ExpiresAt) {
		return ErrSessionExpired
	}
	return nil
}

func (m *Manager) stagingDir(uploadID string) string {
	return filepath.Join(m.tempDir, uploadID)
}

func (m *Manager) chunkPath(uploadID string, chunkIndex int) string {
	return filepath.Join(m.stagingDir(uploadID), fmt.Sprintf("chunk_%06d", chunkIndex))
}

func (m *Manager) stageChunk(uploadID string, chunkIndex int, data io.Reader) error {
	if err := os.MkdirAll(m.stagingDir(uploadID), 0o755); err != nil {
		return err
	}

	f, err := os.Create(m.chunkPath(uploadID, chunkIndex))
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return err
	}

	return f.Close()
}

// assemble concatenates staged chunks in index order and verifies the
// result matches the declared file size.
func (m *Manager) assemble(session *models.UploadSession) (string, error) {
	outPath := filepath.Join(m.stagingDir(session.UploadID), session.Filename)
	out, err := os.Create(outPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	var written int64
	for i := 0; i < session.TotalChunks; i++ {
		chunk, err := os.Open(m.chunkPath(session.UploadID, i))
		if err != nil {
			return "", fmt.Errorf("chunk %d: %w", i, err)
		}

		n, err := io.Copy(out, chunk)
		chunk.Close()
		if err != nil {
			return "", fmt.Errorf("chunk %d: %w", i, err)
		}
		written += n
	}

	if written != session.FileSize {
		return "", fmt.Errorf("assembled size %d does not match declared size %d", written, session.FileSize)
	}

	return outPath, nil
}

func (m *Manager) cleanupStaging(uploadID string) {
	if err := os.RemoveAll(m.stagingDir(uploadID)); err != nil {
		m.logger.WithUploadID(uploadID).WithError(err).Warn("failed to remove staging directory")
	}
}

func (m *Manager) cacheSession(ctx context.Context, session *models.UploadSession) {
	if m.cache == nil {
		return
	}
	if err := m.cache.SetUploadSession(ctx, session, 5*time.Minute); err != nil {
		m.logger.WithUploadID(session.UploadID).WithError(err).Debug("failed to cache upload session")
	}
}

func (m *Manager) dropCachedSession(ctx context.Context, uploadID string) {
	if m.cache == nil {
		return
	}
	_ = m.cache.DeleteUploadSession(ctx, uploadID)
}

func storageStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
