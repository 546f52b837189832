package upload

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipline/clipline/internal/database"
	"github.com/clipline/clipline/internal/logging"
	"github.com/clipline/clipline/pkg/models"
)

// fakeSessionRepo is an in-memory UploadRepository with the same progress
// and conflict semantics as the real one.
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.UploadSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*models.UploadSession)}
}

func (r *fakeSessionRepo) CreateUploadSession(_ context.Context, session *models.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[session.UploadID]; exists {
		return database.ErrUploadConflict
	}
	session.CreatedAt = time.Now()
	copied := *session
	r.sessions[session.UploadID] = &copied
	return nil
}

func (r *fakeSessionRepo) GetUploadSession(_ context.Context, uploadID string) (*models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[uploadID]
	if !ok {
		return nil, database.ErrSessionNotFound
	}
	copied := *session
	copied.UploadedChunks = make(models.ChunkSet, len(session.UploadedChunks))
	for i := range session.UploadedChunks {
		copied.UploadedChunks[i] = struct{}{}
	}
	return &copied, nil
}

func (r *fakeSessionRepo) MarkChunkUploaded(_ context.Context, uploadID string, chunkIndex int) (*models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[uploadID]
	if !ok {
		return nil, database.ErrSessionNotFound
	}

	if session.UploadedChunks.Add(chunkIndex) {
		session.Progress = int(math.Round(100 * float64(len(session.UploadedChunks)) / float64(session.TotalChunks)))
	}

	copied := *session
	return &copied, nil
}

func (r *fakeSessionRepo) CompleteUploadSession(_ context.Context, uploadID, finalURL string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[uploadID]
	if !ok {
		return database.ErrSessionNotFound
	}
	if session.Status != models.UploadStatusUploading {
		return fmt.Errorf("upload session %s is not uploading", uploadID)
	}
	session.Status = models.UploadStatusCompleted
	session.FinalURL = finalURL
	session.Progress = 100
	return nil
}

func (r *fakeSessionRepo) FailUploadSession(_ context.Context, uploadID, errorMessage string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[uploadID]; ok {
		session.Status = models.UploadStatusFailed
		session.ErrorMessage = errorMessage
	}
	return nil
}

func (r *fakeSessionRepo) CancelUploadSession(_ context.Context, uploadID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, ok := r.sessions[uploadID]; ok {
		session.Status = models.UploadStatusCancelled
	}
	return nil
}

// fakeBlobStore keeps uploaded payloads in memory.
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (s *fakeBlobStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return "https://blobs.test/" + key, nil
}

func (s *fakeBlobStore) PutFile(ctx context.Context, key, filePath string) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return s.Put(ctx, key, data, "")
}

func (s *fakeBlobStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

func (s *fakeBlobStore) GetFile(ctx context.Context, key, filePath string) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return os.WriteFile(filePath, data, 0o644)
}

func (s *fakeBlobStore) URL(_ context.Context, key string) (string, error) {
	return "https://blobs.test/" + key, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeSessionRepo, *fakeBlobStore) {
	t.Helper()

	repo := newFakeSessionRepo()
	blobs := newFakeBlobStore()
	manager := NewManager(repo, blobs, nil, logging.NewNopLogger(), t.TempDir(), 5, 100)
	return manager, repo, blobs
}

func TestInitUpload_ChunkMath(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	// 12 bytes at chunk size 5 needs 3 chunks
	session, err := manager.InitUpload(ctx, "user-1", "up-1", "talk.mp4", 12, "video/mp4")
	require.NoError(t, err)

	assert.Equal(t, 3, session.TotalChunks)
	assert.Equal(t, 0, session.Progress)
	assert.Equal(t, models.UploadStatusUploading, session.Status)
	assert.Equal(t, "videos/user-1/up-1-talk.mp4", session.StorageKey)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), session.ExpiresAt, time.Minute)

	// exact multiple
	session, err = manager.InitUpload(ctx, "user-1", "up-2", "talk.mp4", 10, "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, 2, session.TotalChunks)

	// single partial chunk
	session, err = manager.InitUpload(ctx, "user-1", "up-3", "talk.mp4", 3, "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, 1, session.TotalChunks)
}

func TestInitUpload_Validation(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.InitUpload(ctx, "user-1", "", "talk.mp4", 0, "video/mp4")
	assert.ErrorIs(t, err, ErrInvalidFileSize)

	_, err = manager.InitUpload(ctx, "user-1", "", "talk.mp4", -5, "video/mp4")
	assert.ErrorIs(t, err, ErrInvalidFileSize)

	_, err = manager.InitUpload(ctx, "user-1", "", "talk.mp4", 101, "video/mp4")
	assert.ErrorIs(t, err, ErrFileTooLarge)
}

// A second init with the same uploadId is a conflict, never a silent reset
// of the existing session.
func TestInitUpload_DuplicateConflict(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.InitUpload(ctx, "user-1", "up-1", "talk.mp4", 12, "video/mp4")
	require.NoError(t, err)

	_, err = manager.UploadChunk(ctx, "up-1", 0, bytes.NewReader([]byte("aaaaa")))
	require.NoError(t, err)

	_, err = manager.InitUpload(ctx, "user-1", "up-1", "other.mp4", 20, "video/mp4")
	assert.ErrorIs(t, err, database.ErrUploadConflict)

	// The original session is untouched
	session, err := manager.GetStatus(ctx, "up-1")
	require.NoError(t, err)
	assert.Equal(t, "talk.mp4", session.Filename)
	assert.True(t, session.UploadedChunks.Has(0))
}

func TestUploadChunk_Progress(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.InitUpload(ctx, "user-1", "up-1", "talk.mp4", 12, "video/mp4")
	require.NoError(t, err)

	session, err := manager.UploadChunk(ctx, "up-1", 0, bytes.NewReader([]byte("aaaaa")))
	require.NoError(t, err)
	assert.Equal(t, 33, session.Progress)

	session, err = manager.UploadChunk(ctx, "up-1", 2, bytes.NewReader([]byte("cc")))
	require.NoError(t, err)
	assert.Equal(t, 67, session.Progress)

	session, err = manager.UploadChunk(ctx, "up-1", 1, bytes.NewReader([]byte("bbbbb")))
	require.NoError(t, err)
	assert.Equal(t, 100, session.Progress)
}

// Re-uploading a chunk that already arrived changes nothing.
func TestUploadChunk_Idempotent(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.InitUpload(ctx, "user-1", "up-1", "talk.mp4", 12, "video/mp4")
	require.NoError(t, err)

	session, err := manager.UploadChunk(ctx, "up-1", 0, bytes.NewReader([]byte("aaaaa")))
	require.NoError(t, err)
	assert.Equal(t, 33, session.Progress)

	// Retransmit with different payload: ignored, state unchanged
	session, err = manager.UploadChunk(ctx, "up-1", 0, bytes.NewReader([]byte("XXXXX")))
	require.NoError(t, err)
	assert.Equal(t, 33, session.Progress)
	assert.Len(t, session.UploadedChunks, 1)
}

func TestUploadChunk_OutOfRange(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.InitUpload(ctx, "user-1", "up-1", "talk.mp4", 12, "video/mp4")
	require.NoError(t, err)

	_, err = manager.UploadChunk(ctx, "up-1", 3, bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, ErrChunkOutOfRange)

	_, err = manager.UploadChunk(ctx, "up-1", -1, bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, ErrChunkOutOfRange)
}

// Completion requires every chunk; a missing chunk fails the call naming
// how many are absent, without changing the session.
func TestCompleteUpload_MissingChunks(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.InitUpload(ctx, "user-1", "up-1", "talk.mp4", 12, "video/mp4")
	require.NoError(t, err)

	_, err = manager.UploadChunk(ctx, "up-1", 0, bytes.NewReader([]byte("aaaaa")))
	require.NoError(t, err)

	_, err = manager.CompleteUpload(ctx, "up-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 3 chunks missing")

	session, err := manager.GetStatus(ctx, "up-1")
	require.NoError(t, err)
	assert.Equal(t, models.UploadStatusUploading, session.Status)
}

// Chunks are reassembled in index order regardless of arrival order.
func TestCompleteUpload_OrderedReassembly(t *testing.T) {
	manager, _, blobs := newTestManager(t)
	ctx := context.Background()

	_, err := manager.InitUpload(ctx, "user-1", "up-1", "talk.mp4", 12, "video/mp4")
	require.NoError(t, err)

	// Arrive out of order
	_, err = manager.UploadChunk(ctx, "up-1", 2, bytes.NewReader([]byte("cc")))
	require.NoError(t, err)
	_, err = manager.UploadChunk(ctx, "up-1", 0, bytes.NewReader([]byte("aaaaa")))
	require.NoError(t, err)
	_, err = manager.UploadChunk(ctx, "up-1", 1, bytes.NewReader([]byte("bbbbb")))
	require.NoError(t, err)

	session, err := manager.CompleteUpload(ctx, "up-1")
	require.NoError(t, err)

	assert.Equal(t, models.UploadStatusCompleted, session.Status)
	assert.Equal(t, 100, session.Progress)
	assert.NotEmpty(t, session.FinalURL)

	data, err := blobs.Get(ctx, session.StorageKey)
	require.NoError(t, err)
	assert.Equal(t, "aaaaabbbbbcc", string(data))
}

func TestCompleteUpload_SizeMismatch(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.InitUpload(ctx, "user-1", "up-1", "talk.mp4", 12, "video/mp4")
	require.NoError(t, err)

	// Wrong chunk sizes: total 10 bytes instead of the declared 12
	_, err = manager.UploadChunk(ctx, "up-1", 0, bytes.NewReader([]byte("aaaa")))
	require.NoError(t, err)
	_, err = manager.UploadChunk(ctx, "up-1", 1, bytes.NewReader([]byte("bbbb")))
	require.NoError(t, err)
	_, err = manager.UploadChunk(ctx, "up-1", 2, bytes.NewReader([]byte("cc")))
	require.NoError(t, err)

	_, err = manager.CompleteUpload(ctx, "up-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match declared size")

	// Assembly failure is terminal
	session, err := manager.GetStatus(ctx, "up-1")
	require.NoError(t, err)
	assert.Equal(t, models.UploadStatusFailed, session.Status)
}

// Terminal states are one-way: no chunks, no completion, no reopening.
func TestTerminalStates(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.InitUpload(ctx, "user-1", "up-1", "talk.mp4", 5, "video/mp4")
	require.NoError(t, err)
	_, err = manager.UploadChunk(ctx, "up-1", 0, bytes.NewReader([]byte("aaaaa")))
	require.NoError(t, err)
	_, err = manager.CompleteUpload(ctx, "up-1")
	require.NoError(t, err)

	_, err = manager.UploadChunk(ctx, "up-1", 0, bytes.NewReader([]byte("aaaaa")))
	assert.ErrorIs(t, err, ErrSessionClosed)

	_, err = manager.CompleteUpload(ctx, "up-1")
	assert.ErrorIs(t, err, ErrSessionClosed)

	err = manager.CancelUpload(ctx, "up-1")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestCancelUpload(t *testing.T) {
	manager, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.InitUpload(ctx, "user-1", "up-1", "talk.mp4", 12, "video/mp4")
	require.NoError(t, err)
	_, err = manager.UploadChunk(ctx, "up-1", 0, bytes.NewReader([]byte("aaaaa")))
	require.NoError(t, err)

	require.NoError(t, manager.CancelUpload(ctx, "up-1"))

	session, err := manager.GetStatus(ctx, "up-1")
	require.NoError(t, err)
	assert.Equal(t, models.UploadStatusCancelled, session.Status)

	_, err = manager.UploadChunk(ctx, "up-1", 1, bytes.NewReader([]byte("bbbbb")))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestExpiredSession(t *testing.T) {
	manager, repo, _ := newTestManager(t)
	ctx := context.Background()

	_, err := manager.InitUpload(ctx, "user-1", "up-1", "talk.mp4", 12, "video/mp4")
	require.NoError(t, err)

	repo.mu.Lock()
	repo.sessions["up-1"].ExpiresAt = time.Now().Add(-time.Hour)
	repo.mu.Unlock()

	_, err = manager.UploadChunk(ctx, "up-1", 0, bytes.NewReader([]byte("aaaaa")))
	assert.ErrorIs(t, err, ErrSessionExpired)

	_, err = manager.CompleteUpload(ctx, "up-1")
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestGetStatus_Unknown(t *testing.T) {
	manager, _, _ := newTestManager(t)

	_, err := manager.GetStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, database.ErrSessionNotFound)
}
