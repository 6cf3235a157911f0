package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/redis/go-redis/v9"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	"regchat/internal/adapter/memory"
	"regchat/internal/adapter/pgvector"
	wstore "regchat/internal/adapter/weaviate"
	"regchat/internal/config"
	"regchat/internal/index"
	"regchat/internal/vector"
)

// Publisher is the part of *nsq.Producer the features publish through.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// SchemaEnsurer creates whatever a vector backend needs before first use.
type SchemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

type schemaFunc func(ctx context.Context) error

func (f schemaFunc) EnsureSchema(ctx context.Context) error { return f(ctx) }

type Dependencies struct {
	DB        *sql.DB
	Store     index.VectorStore
	Publisher Publisher
	Producer  *nsq.Producer
	Redis     *redis.Client
}

// Close releases connections opened by Bootstrap.
func (d *Dependencies) Close() {
	if d.Producer != nil {
		d.Producer.Stop()
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			slog.Warn("failed to close redis client", "error", err)
		}
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			slog.Warn("failed to close db", "error", err)
		}
	}
}

func Bootstrap(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	db, err := openDB(ctx, cfg, retryDelay)
	if err != nil {
		return nil, err
	}
	deps := &Dependencies{DB: db}

	if err := migrateUp(db, cfg.MigrationPath); err != nil {
		deps.Close()
		return nil, err
	}

	store, ensurer, err := openStore(cfg, db)
	if err != nil {
		deps.Close()
		return nil, err
	}
	if ensurer != nil {
		if err := EnsureSchemaWithRetry(ctx, ensurer, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
			deps.Close()
			return nil, fmt.Errorf("vector schema error: %w", err)
		}
	}
	deps.Store = store

	if cfg.RedisAddr != "" {
		deps.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := deps.Redis.Ping(ctx).Err(); err != nil {
			deps.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
	}

	producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("nsq producer error: %w", err)
	}
	deps.Producer = producer
	deps.Publisher = producer

	createTopics(cfg.NSQDHTTP)

	slog.InfoContext(ctx, "dependencies ready", "vector_backend", cfg.VectorBackend, "collection", cfg.CollectionName, "distributed_lock", deps.Redis != nil)
	return deps, nil
}

func openDB(ctx context.Context, cfg *config.Config, retryDelay time.Duration) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.PingContext(ctx); err == nil {
			return db, nil
		}
		slog.WarnContext(ctx, "failed to ping db, retrying...", "attempt", i+1, "max_attempts", cfg.BootstrapRetryAttempts)
		time.Sleep(retryDelay)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return db, nil
}

func migrateUp(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	return nil
}

// openStore selects the vector backend. The returned ensurer is nil when the
// backend needs no schema.
func openStore(cfg *config.Config, db *sql.DB) (index.VectorStore, SchemaEnsurer, error) {
	switch cfg.VectorBackend {
	case config.BackendWeaviate:
		client, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			return nil, nil, fmt.Errorf("weaviate client error: %w", err)
		}
		schema := vector.NewSchema(client)
		ensure := schemaFunc(func(ctx context.Context) error {
			if err := schema.Ready(ctx); err != nil {
				return err
			}
			return vector.EnsureSchema(ctx, schema, cfg.CollectionName)
		})
		return wstore.NewStore(client, cfg.CollectionName), ensure, nil
	case config.BackendPGVector:
		s := pgvector.NewStore(db, cfg.CollectionName)
		return s, s, nil
	case config.BackendMemory:
		slog.Warn("using in-memory vector store, indexed chunks are lost on restart")
		return memory.NewStore(), nil, nil
	default:
		return nil, nil, fmt.Errorf("%w: VECTOR_BACKEND %q", config.ErrInvalidValue, cfg.VectorBackend)
	}
}

// createTopics pre-creates the ingest topic so lookupd-connected consumers
// find it before the first upload.
func createTopics(nsqdHTTP string) {
	create := func(topic string) {
		u := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, url.QueryEscape(topic))
		resp, err := http.Post(u, "application/json", nil) // #nosec G107 -- URL is built from internal NSQ config, not user input
		if err != nil {
			slog.Warn("failed to create NSQ topic", "topic", topic, "error", err)
			return
		}
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Warn("failed to close NSQ topic creation response body", "error", closeErr)
		}
	}

	go func() {
		time.Sleep(2 * time.Second)
		create(config.TopicIngestDocument)
	}()
}

// EnsureSchemaWithRetry calls store.EnsureSchema until it succeeds or
// attempts run out.
func EnsureSchemaWithRetry(ctx context.Context, store SchemaEnsurer, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return nil
		}
		slog.WarnContext(ctx, "failed to ensure vector schema, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}
