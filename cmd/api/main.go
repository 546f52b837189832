package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clipline/clipline/internal/cache"
	"github.com/clipline/clipline/internal/config"
	"github.com/clipline/clipline/internal/database"
	"github.com/clipline/clipline/internal/llm"
	"github.com/clipline/clipline/internal/logging"
	"github.com/clipline/clipline/internal/middleware"
	"github.com/clipline/clipline/internal/queue"
	"github.com/clipline/clipline/internal/storage"
	"github.com/clipline/clipline/internal/tracing"
	"github.com/clipline/clipline/internal/upload"
)

type API struct {
	repo    *database.Repository
	uploads *upload.Manager
	queue   *queue.Queue
	cache   *cache.Cache
	oracle  llm.Oracle
	logger  *logging.Logger
}

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewDefaultLogger()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	middleware.SetJWTSecret(cfg.Auth.JWTSecret)

	tracer, closer, err := tracing.InitTracer("clipline-api", os.Getenv("JAEGER_ENDPOINT"))
	if err != nil {
		logger.WithError(err).Warn("tracing disabled")
	} else {
		_ = tracer
		defer closer.Close()
	}

	db, err := database.New(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	repo := database.NewRepository(db)

	stor, err := storage.New(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}

	q, err := queue.New(cfg.Queue)
	if err != nil {
		logger.Fatalf("Failed to connect to queue: %v", err)
	}
	defer q.Close()

	redisCache, err := cache.NewCache(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.WithError(err).Warn("cache disabled")
		redisCache = nil
	} else {
		defer redisCache.Close()
	}

	oracle, err := llm.NewClient(cfg.LLM)
	if err != nil {
		logger.Fatalf("Failed to initialize content oracle: %v", err)
	}

	uploads := upload.NewManager(repo, stor, redisCache, logger,
		cfg.Pipeline.TempDir, cfg.Pipeline.ChunkSize, cfg.Pipeline.MaxUploadSize)

	api := &API{
		repo:    repo,
		uploads: uploads,
		queue:   q,
		cache:   redisCache,
		oracle:  oracle,
		logger:  logger,
	}

	router := setupRouter(api, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Metrics server on its own port
	go func() {
		metricsAddr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	go func() {
		logger.Infof("Starting API server on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server stopped")
}

func setupRouter(api *API, logger *logging.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	router.GET("/health", api.healthCheck)

	limiter := middleware.NewRateLimiter(50, 100)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.JWTAuth())
	v1.Use(middleware.RateLimit(limiter))
	{
		// Uploads
		v1.POST("/uploads/init", api.initUpload)
		v1.POST("/uploads/:uploadId/chunks/:index", api.uploadChunk)
		v1.POST("/uploads/:uploadId/complete", api.completeUpload)
		v1.POST("/uploads/:uploadId/cancel", api.cancelUpload)
		v1.GET("/uploads/:uploadId", api.getUploadStatus)

		// Jobs
		v1.POST("/jobs", api.createJob)
		v1.GET("/jobs", api.listJobs)
		v1.GET("/jobs/:id", api.getJob)
		v1.POST("/jobs/:id/retry", api.retryJob)

		// Discrete pipeline steps
		v1.POST("/jobs/:id/steps/extract-audio", api.stepExtractAudio)
		v1.POST("/jobs/:id/steps/transcribe", api.stepTranscribe)
		v1.POST("/jobs/:id/steps/annotate-structure", api.stepAnnotateStructure)
		v1.POST("/jobs/:id/steps/analyze", api.stepAnalyze)
		v1.POST("/jobs/:id/steps/analyze-with-prompt", api.stepAnalyzeWithPrompt)
		v1.POST("/jobs/:id/steps/generate-clips", api.stepGenerateClips)

		// Analysis helpers and user edits
		v1.POST("/jobs/:id/prompt", api.generatePrompt)
		v1.PUT("/jobs/:id/segments", api.updateSegments)
		v1.PUT("/jobs/:id/structure", api.updateStructure)
	}

	return router
}

func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := api.repo.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}
