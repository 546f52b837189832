package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/clipline/clipline/pkg/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	cache, err := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create cache: %v", err)
	}

	return cache, mr
}

func TestNewCache(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	if err := cache.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestCache_JobOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	job := &models.Job{
		ID:               42,
		UserID:           "user-1",
		OriginalFilename: "talk.mp4",
		Status:           models.StatusCompleted,
		Step:             models.StepTranscribed,
		Progress:         100,
	}

	err := cache.SetJob(ctx, job, 5*time.Minute)
	if err != nil {
		t.Fatalf("SetJob failed: %v", err)
	}

	retrieved, err := cache.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}

	if retrieved == nil {
		t.Fatal("Retrieved job should not be nil")
	}

	if retrieved.ID != job.ID {
		t.Errorf("Expected ID %d, got %d", job.ID, retrieved.ID)
	}

	if retrieved.Step != models.StepTranscribed {
		t.Errorf("Expected step %s, got %s", models.StepTranscribed, retrieved.Step)
	}

	// Cache miss returns nil, nil
	missing, err := cache.GetJob(ctx, 999)
	if err != nil {
		t.Fatalf("GetJob for missing job should not error: %v", err)
	}
	if missing != nil {
		t.Error("Missing job should return nil")
	}

	if err := cache.DeleteJob(ctx, job.ID); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}

	deleted, err := cache.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob after delete failed: %v", err)
	}
	if deleted != nil {
		t.Error("Deleted job should return nil")
	}
}

func TestCache_JobProgress(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	if err := cache.SetJobProgress(ctx, 7, 60, 5*time.Minute); err != nil {
		t.Fatalf("SetJobProgress failed: %v", err)
	}

	progress, err := cache.GetJobProgress(ctx, 7)
	if err != nil {
		t.Fatalf("GetJobProgress failed: %v", err)
	}

	if progress != 60 {
		t.Errorf("Expected progress 60, got %d", progress)
	}
}

func TestCache_UploadSessionOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	session := &models.UploadSession{
		UploadID:       "upload-1",
		UserID:         "user-1",
		Filename:       "talk.mp4",
		FileSize:       12,
		ChunkSize:      5,
		TotalChunks:    3,
		UploadedChunks: models.ChunkSet{0: {}, 2: {}},
		Progress:       67,
		Status:         models.UploadStatusUploading,
	}

	if err := cache.SetUploadSession(ctx, session, 5*time.Minute); err != nil {
		t.Fatalf("SetUploadSession failed: %v", err)
	}

	retrieved, err := cache.GetUploadSession(ctx, session.UploadID)
	if err != nil {
		t.Fatalf("GetUploadSession failed: %v", err)
	}

	if retrieved == nil {
		t.Fatal("Retrieved session should not be nil")
	}

	if retrieved.Progress != 67 {
		t.Errorf("Expected progress 67, got %d", retrieved.Progress)
	}

	if !retrieved.UploadedChunks.Has(2) || retrieved.UploadedChunks.Has(1) {
		t.Errorf("Chunk set did not round-trip: %v", retrieved.UploadedChunks)
	}

	if err := cache.DeleteUploadSession(ctx, session.UploadID); err != nil {
		t.Fatalf("DeleteUploadSession failed: %v", err)
	}

	deleted, err := cache.GetUploadSession(ctx, session.UploadID)
	if err != nil {
		t.Fatalf("GetUploadSession after delete failed: %v", err)
	}
	if deleted != nil {
		t.Error("Deleted session should return nil")
	}
}

func TestCache_RateLimit(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	key := "user:123"
	limit := int64(5)
	window := 1 * time.Minute

	for i := 0; i < 5; i++ {
		allowed, err := cache.CheckRateLimit(ctx, key, limit, window)
		if err != nil {
			t.Fatalf("CheckRateLimit failed: %v", err)
		}
		if !allowed {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	allowed, err := cache.CheckRateLimit(ctx, key, limit, window)
	if err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}
	if allowed {
		t.Error("Request beyond limit should be denied")
	}
}

func TestCache_Stats(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	if err := cache.IncrementStat(ctx, "uploads"); err != nil {
		t.Fatalf("IncrementStat failed: %v", err)
	}
	if err := cache.IncrementStat(ctx, "uploads"); err != nil {
		t.Fatalf("IncrementStat failed: %v", err)
	}

	value, err := cache.GetStat(ctx, "uploads")
	if err != nil {
		t.Fatalf("GetStat failed: %v", err)
	}
	if value != 2 {
		t.Errorf("Expected stat value 2, got %d", value)
	}
}
