package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clipline/clipline/internal/asr"
	"github.com/clipline/clipline/internal/cache"
	"github.com/clipline/clipline/internal/config"
	"github.com/clipline/clipline/internal/database"
	"github.com/clipline/clipline/internal/llm"
	"github.com/clipline/clipline/internal/logging"
	"github.com/clipline/clipline/internal/media"
	"github.com/clipline/clipline/internal/pipeline"
	"github.com/clipline/clipline/internal/queue"
	"github.com/clipline/clipline/internal/storage"
	"github.com/clipline/clipline/internal/tracing"
)

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

	tracer, closer, err := tracing.InitTracer("clipline-worker", os.Getenv("JAEGER_ENDPOINT"))
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

	engine := media.NewFFmpeg(cfg.Pipeline.FFmpegPath, cfg.Pipeline.FFprobePath)

	transcribers := pipeline.Transcribers{
		Whisper: asr.NewWhisperClient(cfg.ASR),
		Aliyun:  asr.NewAliyunClient(cfg.ASR),
	}

	orchestrator := pipeline.NewOrchestrator(repo, stor, engine, transcribers, oracle, redisCache, logger, cfg.Pipeline)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down worker gracefully...")
		cancel()
	}()

	// Metrics endpoint
	go func() {
		metricsAddr := fmt.Sprintf(":%d", cfg.Server.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("metrics server stopped")
		}
	}()

	// Requeue jobs stranded by a previous crash, after a settle delay
	sweeper := pipeline.NewSweeper(repo, q, logger, cfg.Pipeline.SweeperDelay)
	go func() {
		if err := sweeper.Run(ctx); err != nil && ctx.Err() == nil {
			logger.WithError(err).Error("sweeper failed")
		}
	}()

	taskHandler := func(task *queue.StepTask) error {
		logger.WithJobID(task.JobID).Infof("processing step task: %s", task.Action)
		return orchestrator.HandleTask(ctx, task)
	}

	logger.Info("Worker started, waiting for step tasks...")
	if err := q.ConsumeSteps(ctx, taskHandler); err != nil {
		logger.Fatalf("Failed to consume step tasks: %v", err)
	}

	<-ctx.Done()
	logger.Info("Worker stopped")
}
