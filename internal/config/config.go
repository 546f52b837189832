package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Queue    QueueConfig
	Auth     AuthConfig
	ASR      ASRConfig
	LLM      LLMConfig
	Pipeline PipelineConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MetricsPort     int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
	MinConns int
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig holds object storage configuration
type StorageConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	Region          string
	UseSSL          bool
	URLExpiry       time.Duration
}

// QueueConfig holds message queue configuration
type QueueConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string
}

// ASRConfig holds speech-to-text configuration
type ASRConfig struct {
	WhisperEndpoint string
	WhisperAPIKey   string
	AliyunEndpoint  string
	AliyunAPIKey    string
	Language        string
	Prompt          string
	RequestTimeout  time.Duration
}

// LLMConfig holds content-selection oracle configuration
type LLMConfig struct {
	Provider       string // openai or ollama
	Model          string
	APIKey         string
	BaseURL        string
	RequestTimeout time.Duration
}

// PipelineConfig holds step orchestration configuration
type PipelineConfig struct {
	TempDir            string
	FFmpegPath         string
	FFprobePath        string
	ChunkSize          int64
	MaxUploadSize      int64
	SweeperDelay       time.Duration
	StepTimeout        time.Duration
	AudioSplitLimit    int64         // transcription input ceiling in bytes
	AudioSegmentLength time.Duration // split duration for oversized audio
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	// Set defaults
	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.readTimeout", "30s")
	viper.SetDefault("server.writeTimeout", "30s")
	viper.SetDefault("server.shutdownTimeout", "10s")
	viper.SetDefault("server.metricsPort", 9090)

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.dbname", "clipline")
	viper.SetDefault("database.sslmode", "disable")
	viper.SetDefault("database.maxConns", 25)
	viper.SetDefault("database.minConns", 5)

	// Redis defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	// Storage defaults
	viper.SetDefault("storage.endpoint", "localhost:9000")
	viper.SetDefault("storage.accessKeyID", "minioadmin")
	viper.SetDefault("storage.secretAccessKey", "minioadmin")
	viper.SetDefault("storage.bucketName", "clipline")
	viper.SetDefault("storage.region", "us-east-1")
	viper.SetDefault("storage.useSSL", false)
	viper.SetDefault("storage.urlExpiry", "24h")

	// Queue defaults
	viper.SetDefault("queue.host", "localhost")
	viper.SetDefault("queue.port", 5672)
	viper.SetDefault("queue.user", "guest")
	viper.SetDefault("queue.password", "guest")
	viper.SetDefault("queue.vhost", "/")

	// ASR defaults
	viper.SetDefault("asr.whisperEndpoint", "https://api.openai.com/v1/audio/transcriptions")
	viper.SetDefault("asr.language", "zh")
	viper.SetDefault("asr.prompt", "")
	viper.SetDefault("asr.requestTimeout", "10m")

	// LLM defaults
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o")
	viper.SetDefault("llm.requestTimeout", "5m")

	// Pipeline defaults
	viper.SetDefault("pipeline.tempDir", "/tmp/clipline")
	viper.SetDefault("pipeline.ffmpegPath", "ffmpeg")
	viper.SetDefault("pipeline.ffprobePath", "ffprobe")
	viper.SetDefault("pipeline.chunkSize", 5*1024*1024)          // 5MB
	viper.SetDefault("pipeline.maxUploadSize", 2*1024*1024*1024) // 2GB
	viper.SetDefault("pipeline.sweeperDelay", "10s")
	viper.SetDefault("pipeline.stepTimeout", "30m")
	viper.SetDefault("pipeline.audioSplitLimit", 15*1024*1024) // 15MB
	viper.SetDefault("pipeline.audioSegmentLength", "56m")
}
