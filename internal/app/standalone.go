package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"regchat/internal/config"
	"regchat/internal/lock"
)

// OpenCore builds a Core for command-line use: no queue and no registry.
// Postgres is opened only when the vector backend lives there. The returned
// func releases everything that was opened.
func OpenCore(ctx context.Context, cfg *config.Config) (*Core, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Core, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	retryDelay := time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second

	var db *sql.DB
	if cfg.VectorBackend == config.BackendPGVector {
		var err error
		if db, err = openDB(ctx, cfg, retryDelay); err != nil {
			return fail(err)
		}
		cleanups = append(cleanups, func() { db.Close() })
	}

	store, ensurer, err := openStore(cfg, db)
	if err != nil {
		return fail(err)
	}
	if ensurer != nil {
		if err := EnsureSchemaWithRetry(ctx, ensurer, cfg.BootstrapRetryAttempts, retryDelay); err != nil {
			return fail(fmt.Errorf("vector schema error: %w", err))
		}
	}

	var locker lock.Locker = lock.NewKeyed()
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		cleanups = append(cleanups, func() { client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("redis ping: %w", err))
		}
		locker = lock.NewRedis(client, cfg.LockTTL)
	}

	oracles, err := NewOracles(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, func() { oracles.Close() })

	core, err := NewCore(cfg, store, oracles, locker)
	if err != nil {
		return fail(err)
	}
	cleanups = append(cleanups, func() {
		if err := core.Close(); err != nil {
			slog.Warn("failed to close query log", "error", err)
		}
	})
	return core, cleanup, nil
}
