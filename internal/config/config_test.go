package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: 8181
  metricsPort: 9191
database:
  host: db.internal
  dbname: clipline_test
llm:
  provider: ollama
  model: llama3
  baseURL: http://localhost:11434
pipeline:
  chunkSize: 1048576
  audioSegmentLength: 30m
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	// Explicit values win
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, 9191, cfg.Server.MetricsPort)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "clipline_test", cfg.Database.DBName)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, int64(1048576), cfg.Pipeline.ChunkSize)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.AudioSegmentLength)

	// Everything unspecified falls back to defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, 6379, cfg.Redis.Port)
	assert.Equal(t, "guest", cfg.Queue.User)
	assert.Equal(t, int64(2*1024*1024*1024), cfg.Pipeline.MaxUploadSize)
	assert.Equal(t, int64(15*1024*1024), cfg.Pipeline.AudioSplitLimit)
	assert.Equal(t, 10*time.Second, cfg.Pipeline.SweeperDelay)
	assert.Equal(t, 30*time.Minute, cfg.Pipeline.StepTimeout)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
