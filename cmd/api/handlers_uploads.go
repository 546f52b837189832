package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clipline/clipline/internal/database"
	"github.com/clipline/clipline/internal/middleware"
	"github.com/clipline/clipline/internal/upload"
	"github.com/clipline/clipline/pkg/models"
)

// uploadErrorStatus maps upload failures to HTTP status codes.
func uploadErrorStatus(err error) int {
	switch {
	case errors.Is(err, database.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrUploadConflict):
		return http.StatusConflict
	case errors.Is(err, upload.ErrSessionClosed):
		return http.StatusConflict
	case errors.Is(err, upload.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, upload.ErrInvalidFileSize),
		errors.Is(err, upload.ErrFileTooLarge),
		errors.Is(err, upload.ErrChunkOutOfRange):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// loadOwnedSession resolves the :uploadId parameter to a session owned by
// the caller. Sessions owned by someone else are reported as not found.
func (api *API) loadOwnedSession(c *gin.Context) (*models.UploadSession, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return nil, false
	}

	session, err := api.uploads.GetStatus(c.Request.Context(), c.Param("uploadId"))
	if err != nil {
		c.JSON(uploadErrorStatus(err), gin.H{"error": "Upload not found"})
		return nil, false
	}
	if session.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Upload not found"})
		return nil, false
	}

	return session, true
}

// Init upload endpoint. Replays of an active uploadId are conflicts.
func (api *API) initUpload(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var req struct {
		UploadID string `json:"upload_id"`
		Filename string `json:"filename" binding:"required"`
		FileSize int64  `json:"file_size" binding:"required"`
		MimeType string `json:"mime_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := api.uploads.InitUpload(c.Request.Context(), userID, req.UploadID, req.Filename, req.FileSize, req.MimeType)
	if err != nil {
		c.JSON(uploadErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"upload_id":    session.UploadID,
		"chunk_size":   session.ChunkSize,
		"total_chunks": session.TotalChunks,
		"expires_at":   session.ExpiresAt,
	})
}

// Upload chunk endpoint. The chunk payload is a multipart "chunk" field or
// the raw request body. Retransmitted chunks are acknowledged unchanged.
func (api *API) uploadChunk(c *gin.Context) {
	session, ok := api.loadOwnedSession(c)
	if !ok {
		return
	}

	chunkIndex, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid chunk index"})
		return
	}

	var body = c.Request.Body
	if file, _, err := c.Request.FormFile("chunk"); err == nil {
		defer file.Close()
		body = file
	}

	session, err = api.uploads.UploadChunk(c.Request.Context(), session.UploadID, chunkIndex, body)
	if err != nil {
		c.JSON(uploadErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"upload_id":       session.UploadID,
		"chunk_index":     chunkIndex,
		"uploaded_chunks": len(session.UploadedChunks),
		"total_chunks":    session.TotalChunks,
		"progress":        session.Progress,
	})
}

// Complete upload endpoint. Fails without state change when chunks are
// missing, naming how many.
func (api *API) completeUpload(c *gin.Context) {
	session, ok := api.loadOwnedSession(c)
	if !ok {
		return
	}

	session, err := api.uploads.CompleteUpload(c.Request.Context(), session.UploadID)
	if err != nil {
		c.JSON(uploadErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"upload_id": session.UploadID,
		"status":    session.Status,
		"url":       session.FinalURL,
		"key":       session.StorageKey,
	})
}

// Cancel upload endpoint
func (api *API) cancelUpload(c *gin.Context) {
	session, ok := api.loadOwnedSession(c)
	if !ok {
		return
	}

	if err := api.uploads.CancelUpload(c.Request.Context(), session.UploadID); err != nil {
		c.JSON(uploadErrorStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"upload_id": session.UploadID, "status": models.UploadStatusCancelled})
}

// Upload status endpoint, including which chunk indices have arrived
func (api *API) getUploadStatus(c *gin.Context) {
	session, ok := api.loadOwnedSession(c)
	if !ok {
		return
	}

	indices := make([]int, 0, len(session.UploadedChunks))
	for i := 0; i < session.TotalChunks; i++ {
		if session.UploadedChunks.Has(i) {
			indices = append(indices, i)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"upload_id":       session.UploadID,
		"filename":        session.Filename,
		"status":          session.Status,
		"progress":        session.Progress,
		"total_chunks":    session.TotalChunks,
		"uploaded_chunks": indices,
		"expires_at":      session.ExpiresAt,
		"error":           session.ErrorMessage,
	})
}
