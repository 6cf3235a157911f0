package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regchat/internal/config"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("DB_HOST", "test-host")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "test-host", cfg.DBHost)
	assert.Equal(t, 8051, cfg.ServerPort)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, config.BackendWeaviate, cfg.VectorBackend)
	assert.Equal(t, "university_regulations", cfg.CollectionName)
	assert.Equal(t, 3, cfg.RetrieverK)
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, float32(0.1), cfg.Temperature)
	assert.Equal(t, 30*time.Second, cfg.EmbedTimeout)
	assert.Equal(t, 10*time.Minute, cfg.LockTTL)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
}

func TestLoadConfig_DataDirs(t *testing.T) {
	t.Setenv("DATA_DIR", "/srv/regs")
	t.Setenv("PROCESSED_DATA_DIR", "/cache/chunks")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/srv/regs", "raw"), cfg.RawDataDir)
	assert.Equal(t, "/cache/chunks", cfg.ProcessedDataDir)
	assert.Equal(t, filepath.Join("/srv/regs", "logs", "query.log"), cfg.QueryLogPath)
}

func TestLoadConfig_FromEnvFile(t *testing.T) {
	require.NoError(t, os.WriteFile(".env", []byte("DB_HOST=loaded-from-file\nMODEL_NAME=gemini-1.5-pro"), 0o644))
	defer os.Remove(".env")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "loaded-from-file", cfg.DBHost)
	assert.Equal(t, "gemini-1.5-pro", cfg.ModelName)
}

func TestLoadConfig_Toggles(t *testing.T) {
	t.Setenv("ENABLE_API", "false")
	t.Setenv("ENABLE_INGEST_WORKER", "false")
	t.Setenv("INGESTION_CONCURRENCY", "10")
	t.Setenv("CORS_ORIGINS", "http://a.test,http://b.test")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.False(t, cfg.EnableAPI)
	assert.False(t, cfg.EnableIngestWorker)
	assert.Equal(t, 10, cfg.IngestionConcurrency)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORSOrigins)
}

func TestLoadConfig_InvalidChunking(t *testing.T) {
	t.Setenv("CHUNK_SIZE", "100")
	t.Setenv("CHUNK_OVERLAP", "100")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestConfig_Providers(t *testing.T) {
	cfg := config.Config{EmbeddingProvider: config.ProviderOpenAI, LLMProvider: config.ProviderGemini}
	assert.True(t, cfg.NeedsGemini())
	assert.True(t, cfg.NeedsOpenAI())

	cfg.LLMProvider = config.ProviderOpenAI
	assert.False(t, cfg.NeedsGemini())
}

func TestConfig_DSN(t *testing.T) {
	cfg := config.Config{DBHost: "h", DBPort: 5433, DBUser: "u", DBPass: "p", DBName: "d"}
	assert.Equal(t, "host=h port=5433 user=u password=p dbname=d sslmode=disable", cfg.DSN())
}
