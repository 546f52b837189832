package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Upload session statuses. Terminal transitions are one-way.
const (
	UploadStatusUploading = "uploading"
	UploadStatusCompleted = "completed"
	UploadStatusFailed    = "failed"
	UploadStatusCancelled = "cancelled"
)

// ChunkSet is the unordered, deduplicated set of uploaded chunk indices,
// stored as a JSON array.
type ChunkSet map[int]struct{}

// Add inserts an index and reports whether it was new.
func (s ChunkSet) Add(index int) bool {
	if _, ok := s[index]; ok {
		return false
	}
	s[index] = struct{}{}
	return true
}

// Has reports whether an index has been recorded.
func (s ChunkSet) Has(index int) bool {
	_, ok := s[index]
	return ok
}

// Value implements driver.Valuer for database storage
func (s ChunkSet) Value() (driver.Value, error) {
	indices := make([]int, 0, len(s))
	for i := range s {
		indices = append(indices, i)
	}
	return json.Marshal(indices)
}

// Scan implements sql.Scanner for database retrieval
func (s *ChunkSet) Scan(value interface{}) error {
	*s = make(ChunkSet)
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	var indices []int
	if err := json.Unmarshal(bytes, &indices); err != nil {
		return err
	}
	for _, i := range indices {
		(*s)[i] = struct{}{}
	}
	return nil
}

// UploadSession tracks one in-progress chunked upload.
type UploadSession struct {
	UploadID string `json:"upload_id" db:"upload_id"`
	UserID   string `json:"user_id" db:"user_id"`

	Filename    string `json:"filename" db:"filename"`
	FileSize    int64  `json:"file_size" db:"file_size"`
	MimeType    string `json:"mime_type" db:"mime_type"`
	ChunkSize   int64  `json:"chunk_size" db:"chunk_size"`
	TotalChunks int    `json:"total_chunks" db:"total_chunks"`

	UploadedChunks ChunkSet `json:"uploaded_chunks" db:"uploaded_chunks"`
	Progress       int      `json:"progress" db:"progress"`
	Status         string   `json:"status" db:"status"`

	StorageKey   string `json:"storage_key" db:"storage_key"`
	FinalURL     string `json:"final_url,omitempty" db:"final_url"`
	ErrorMessage string `json:"error_message,omitempty" db:"error_message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	// ExpiresAt marks the session for external garbage collection 24h
	// after creation.
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
}
