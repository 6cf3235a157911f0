package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"regchat/internal/text"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

const (
	BackendWeaviate = "weaviate"
	BackendPGVector = "pgvector"
	BackendMemory   = "memory"

	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"regchat"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"regchat"`

	VectorBackend  string `envconfig:"VECTOR_BACKEND" default:"weaviate"`
	CollectionName string `envconfig:"COLLECTION_NAME" default:"university_regulations"`
	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	NSQLookupd string        `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost   string        `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP   string        `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	RedisAddr  string        `envconfig:"REDIS_ADDR"`
	LockTTL    time.Duration `envconfig:"LOCK_TTL" default:"10m"`

	EnableAPI            bool   `envconfig:"ENABLE_API" default:"true"`
	EnableIngestWorker   bool   `envconfig:"ENABLE_INGEST_WORKER" default:"true"`
	IngestionConcurrency int    `envconfig:"INGESTION_CONCURRENCY" default:"2"`
	IngestMaxAttempts    uint16 `envconfig:"INGEST_MAX_ATTEMPTS" default:"5"`
	MigrationPath        string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Oracles
	EmbeddingProvider  string        `envconfig:"EMBEDDING_PROVIDER" default:"gemini"`
	LLMProvider        string        `envconfig:"LLM_PROVIDER" default:"gemini"`
	GeminiAPIKey       string        `envconfig:"GEMINI_API_KEY"`
	OpenAIAPIKey       string        `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL      string        `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	ModelName          string        `envconfig:"MODEL_NAME"`
	EmbeddingModelName string        `envconfig:"EMBEDDING_MODEL_NAME"`
	Temperature        float32       `envconfig:"TEMPERATURE" default:"0.1"`
	MaxTokens          int           `envconfig:"MAX_TOKENS" default:"1024"`
	EmbedTimeout       time.Duration `envconfig:"EMBED_TIMEOUT" default:"30s"`
	GenerateTimeout    time.Duration `envconfig:"GENERATE_TIMEOUT" default:"60s"`
	StoreTimeout       time.Duration `envconfig:"STORE_TIMEOUT" default:"15s"`
	EmbedConcurrency   int           `envconfig:"EMBED_CONCURRENCY" default:"4"`
	EmbedRateLimit     float64       `envconfig:"EMBED_RATE_LIMIT" default:"0"`

	// RAG
	RetrieverK      int `envconfig:"RETRIEVER_K" default:"3"`
	ChunkSize       int `envconfig:"CHUNK_SIZE" default:"1000"`
	ChunkOverlap    int `envconfig:"CHUNK_OVERLAP" default:"200"`
	MaxContextChars int `envconfig:"MAX_CONTEXT_CHARS" default:"12000"`

	// Storage
	DataDir          string `envconfig:"DATA_DIR" default:"data"`
	RawDataDir       string `envconfig:"RAW_DATA_DIR"`
	ProcessedDataDir string `envconfig:"PROCESSED_DATA_DIR"`
	LogsDir          string `envconfig:"LOGS_DIR"`

	// Server
	ServerPort      int      `envconfig:"SERVER_PORT" default:"8051"`
	APIPrefix       string   `envconfig:"API_PREFIX" default:"/api/v1"`
	CORSOrigins     []string `envconfig:"CORS_ORIGINS" default:"*"`
	QueryLogPath    string   `envconfig:"QUERY_LOG_PATH"`
	MaxUploadSizeMB int64    `envconfig:"MAX_UPLOAD_SIZE_MB" default:"50"`
	LogLevel        string   `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Env vars set in the shell win; .env files only fill gaps.
	_ = godotenv.Load(".env")
	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	cfg.applyDirDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDirDefaults derives the data subdirectories from DATA_DIR.
func (c *Config) applyDirDefaults() {
	if c.RawDataDir == "" {
		c.RawDataDir = filepath.Join(c.DataDir, "raw")
	}
	if c.ProcessedDataDir == "" {
		c.ProcessedDataDir = filepath.Join(c.DataDir, "processed")
	}
	if c.LogsDir == "" {
		c.LogsDir = filepath.Join(c.DataDir, "logs")
	}
	if c.QueryLogPath == "" {
		c.QueryLogPath = filepath.Join(c.LogsDir, "query.log")
	}
}

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}
	if c.CollectionName == "" {
		return fmt.Errorf("%w: COLLECTION_NAME", ErrMissingRequired)
	}
	if err := text.ValidateChunkConfig(c.ChunkSize, c.ChunkOverlap); err != nil {
		return err
	}

	switch c.VectorBackend {
	case BackendWeaviate, BackendPGVector, BackendMemory:
	default:
		return fmt.Errorf("%w: VECTOR_BACKEND %q", ErrInvalidValue, c.VectorBackend)
	}
	for name, p := range map[string]string{"EMBEDDING_PROVIDER": c.EmbeddingProvider, "LLM_PROVIDER": c.LLMProvider} {
		switch p {
		case ProviderGemini, ProviderOpenAI:
		default:
			return fmt.Errorf("%w: %s %q", ErrInvalidValue, name, p)
		}
	}

	if c.RetrieverK < 1 {
		return fmt.Errorf("%w: RETRIEVER_K must be >= 1", ErrInvalidValue)
	}
	if c.MaxContextChars < 0 {
		return fmt.Errorf("%w: MAX_CONTEXT_CHARS must be >= 0", ErrInvalidValue)
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("%w: TEMPERATURE must be in [0, 2]", ErrInvalidValue)
	}
	if c.MaxTokens < 1 || c.MaxTokens > 1<<20 {
		return fmt.Errorf("%w: MAX_TOKENS must be in [1, 1048576]", ErrInvalidValue)
	}
	if c.IngestMaxAttempts < 1 {
		return fmt.Errorf("%w: INGEST_MAX_ATTEMPTS must be >= 1", ErrInvalidValue)
	}
	return nil
}

// DSN is the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}

// NeedsGemini reports whether any oracle runs on Gemini.
func (c *Config) NeedsGemini() bool {
	return c.EmbeddingProvider == ProviderGemini || c.LLMProvider == ProviderGemini
}

func (c *Config) NeedsOpenAI() bool {
	return c.EmbeddingProvider == ProviderOpenAI || c.LLMProvider == ProviderOpenAI
}
