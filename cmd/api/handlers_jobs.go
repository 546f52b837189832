package main

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clipline/clipline/internal/database"
	"github.com/clipline/clipline/internal/middleware"
	"github.com/clipline/clipline/internal/queue"
	"github.com/clipline/clipline/pkg/models"
)

// loadOwnedJob resolves the :id parameter to a job owned by the caller.
// Jobs owned by someone else are reported as not found.
func (api *API) loadOwnedJob(c *gin.Context) (*models.Job, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return nil, false
	}

	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job ID"})
		return nil, false
	}

	job, err := api.repo.GetJob(c.Request.Context(), jobID)
	if errors.Is(err, database.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}

	if job.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return nil, false
	}

	return job, true
}

// dispatchStep publishes a step task and acknowledges without waiting.
// Clients poll the job for the outcome.
func (api *API) dispatchStep(c *gin.Context, task *queue.StepTask) {
	if err := api.queue.PublishStep(c.Request.Context(), task); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue step"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": task.JobID,
		"action": task.Action,
		"status": "queued",
	})
}

// Create job endpoint. A job is created from a completed upload session
// and starts at the uploaded step.
func (api *API) createJob(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	var req struct {
		UploadID        string `json:"upload_id" binding:"required"`
		UserRequirement string `json:"user_requirement"`
		ASRMethod       string `json:"asr_method"`
		AutoProcess     bool   `json:"auto_process"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := api.uploads.GetStatus(c.Request.Context(), req.UploadID)
	if errors.Is(err, database.ErrSessionNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Upload not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if session.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Upload not found"})
		return
	}
	if session.Status != models.UploadStatusCompleted {
		c.JSON(http.StatusConflict, gin.H{"error": "Upload is not completed"})
		return
	}

	asrMethod := req.ASRMethod
	if asrMethod == "" {
		asrMethod = models.ASRMethodWhisper
	}
	if asrMethod != models.ASRMethodWhisper && asrMethod != models.ASRMethodAliyun {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown ASR method"})
		return
	}

	job := &models.Job{
		UserID:           userID,
		OriginalVideoURL: session.FinalURL,
		OriginalVideoKey: session.StorageKey,
		OriginalFilename: session.Filename,
		FileSize:         session.FileSize,
		UserRequirement:  req.UserRequirement,
		ASRMethod:        asrMethod,
		Status:           models.StatusPending,
		Step:             models.StepUploaded,
		CurrentStep:      "created",
	}

	if err := api.repo.CreateJob(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job"})
		return
	}

	if req.AutoProcess {
		task := &queue.StepTask{JobID: job.ID, Action: queue.ActionProcessFull}
		if err := api.queue.PublishStep(c.Request.Context(), task); err != nil {
			api.logger.WithJobID(job.ID).WithError(err).Error("failed to queue processing")
		}
	}

	c.JSON(http.StatusCreated, job)
}

// Get job endpoint, cache first
func (api *API) getJob(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	jobID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job ID"})
		return
	}

	if api.cache != nil {
		if job, err := api.cache.GetJob(c.Request.Context(), jobID); err == nil && job != nil {
			if job.UserID != userID {
				c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
				return
			}
			c.JSON(http.StatusOK, job)
			return
		}
	}

	job, err := api.repo.GetJob(c.Request.Context(), jobID)
	if errors.Is(err, database.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if job.UserID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	c.JSON(http.StatusOK, job)
}

// List jobs endpoint
func (api *API) listJobs(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	jobs, err := api.repo.ListJobsByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// Retry job endpoint. Only failed jobs can be retried; the worker resumes
// the full pipeline from the step the job was on when it failed.
func (api *API) retryJob(c *gin.Context) {
	job, ok := api.loadOwnedJob(c)
	if !ok {
		return
	}

	if job.Status != models.StatusFailed {
		c.JSON(http.StatusConflict, gin.H{"error": "Only failed jobs can be retried"})
		return
	}

	if err := api.repo.ResetJobStep(c.Request.Context(), job.ID, job.Step, "retry"); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to reset job"})
		return
	}
	if api.cache != nil {
		_ = api.cache.DeleteJob(c.Request.Context(), job.ID)
	}

	api.dispatchStep(c, &queue.StepTask{JobID: job.ID, Action: queue.ActionProcessFull})
}

// Discrete step endpoints

func (api *API) stepExtractAudio(c *gin.Context) {
	job, ok := api.loadOwnedJob(c)
	if !ok {
		return
	}
	api.dispatchStep(c, &queue.StepTask{JobID: job.ID, Action: queue.ActionExtractAudio})
}

func (api *API) stepTranscribe(c *gin.Context) {
	job, ok := api.loadOwnedJob(c)
	if !ok {
		return
	}
	api.dispatchStep(c, &queue.StepTask{JobID: job.ID, Action: queue.ActionTranscribe})
}

func (api *API) stepAnnotateStructure(c *gin.Context) {
	job, ok := api.loadOwnedJob(c)
	if !ok {
		return
	}
	api.dispatchStep(c, &queue.StepTask{JobID: job.ID, Action: queue.ActionAnalyzeStructure})
}

func (api *API) stepAnalyze(c *gin.Context) {
	job, ok := api.loadOwnedJob(c)
	if !ok {
		return
	}

	var req struct {
		UserRequirement string `json:"user_requirement"`
	}
	_ = c.ShouldBindJSON(&req)

	if req.UserRequirement == "" && job.UserRequirement == "" && job.ScriptPrompt == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A user requirement is required for analysis"})
		return
	}

	api.dispatchStep(c, &queue.StepTask{
		JobID:           job.ID,
		Action:          queue.ActionAnalyzeContent,
		UserRequirement: req.UserRequirement,
	})
}

func (api *API) stepAnalyzeWithPrompt(c *gin.Context) {
	job, ok := api.loadOwnedJob(c)
	if !ok {
		return
	}

	var req struct {
		Prompt string `json:"prompt" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	api.dispatchStep(c, &queue.StepTask{
		JobID:        job.ID,
		Action:       queue.ActionAnalyzeContent,
		CustomPrompt: req.Prompt,
	})
}

func (api *API) stepGenerateClips(c *gin.Context) {
	job, ok := api.loadOwnedJob(c)
	if !ok {
		return
	}
	api.dispatchStep(c, &queue.StepTask{JobID: job.ID, Action: queue.ActionGenerateClips})
}

// Generate prompt endpoint, synchronous. Turns the requirement into a
// guidance prompt, stores it on the job and returns it.
func (api *API) generatePrompt(c *gin.Context) {
	job, ok := api.loadOwnedJob(c)
	if !ok {
		return
	}

	var req struct {
		UserRequirement string `json:"user_requirement"`
	}
	_ = c.ShouldBindJSON(&req)

	requirement := req.UserRequirement
	if requirement == "" {
		requirement = job.UserRequirement
	}
	if requirement == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "A user requirement is required"})
		return
	}

	prompt, err := api.oracle.GeneratePrompt(c.Request.Context(), requirement)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Prompt generation failed"})
		return
	}

	job.UserRequirement = requirement
	job.ScriptPrompt = prompt
	if err := api.repo.UpdateJob(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save prompt"})
		return
	}
	if api.cache != nil {
		_ = api.cache.DeleteJob(c.Request.Context(), job.ID)
	}

	c.JSON(http.StatusOK, gin.H{"job_id": job.ID, "prompt": prompt})
}

// Update segments endpoint. Segments must satisfy 0 <= start < end.
func (api *API) updateSegments(c *gin.Context) {
	job, ok := api.loadOwnedJob(c)
	if !ok {
		return
	}

	var req struct {
		Segments models.SegmentList `json:"segments" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for _, seg := range req.Segments {
		if err := seg.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	job.SelectedSegments = req.Segments
	if err := api.repo.UpdateJob(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update segments"})
		return
	}
	if api.cache != nil {
		_ = api.cache.DeleteJob(c.Request.Context(), job.ID)
	}

	c.JSON(http.StatusOK, job)
}

// Update content structure endpoint
func (api *API) updateStructure(c *gin.Context) {
	job, ok := api.loadOwnedJob(c)
	if !ok {
		return
	}

	var req struct {
		Structure models.StructureList `json:"structure" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job.ContentStructure = req.Structure
	if err := api.repo.UpdateJob(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update structure"})
		return
	}
	if api.cache != nil {
		_ = api.cache.DeleteJob(c.Request.Context(), job.ID)
	}

	c.JSON(http.StatusOK, job)
}
