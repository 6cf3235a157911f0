package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const redisPrefix = "regchat:lock:"

// releaseScript deletes the key only when the caller still owns it.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// extendScript refreshes the TTL only when the caller still owns the key.
var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// Redis is a distributed Locker built on SETNX with a TTL. While held, the TTL
// is refreshed in the background so long ingestions keep their lock; a
// crashed holder loses it after one TTL.
type Redis struct {
	client  *redis.Client
	ttl     time.Duration
	poll    time.Duration
	ownerID string
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	hostname, _ := os.Hostname()
	return &Redis{
		client:  client,
		ttl:     ttl,
		poll:    100 * time.Millisecond,
		ownerID: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
	}
}

// WithPollInterval sets how often a blocked Lock retries.
func (r *Redis) WithPollInterval(d time.Duration) *Redis {
	r.poll = d
	return r
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	rkey := redisPrefix + key
	token := r.ownerID + ":" + uuid.NewString()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	for {
		ok, err := r.client.SetNX(ctx, rkey, token, r.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.Join(ErrNotAcquired, ctx.Err())
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-ticker.C:
		}
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r.keepAlive(rkey, token, stop)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			wg.Wait()
			rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, r.client, []string{rkey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				slog.Warn("release lock failed", "key", key, "error", err)
			}
		})
	}, nil
}

func (r *Redis) keepAlive(rkey, token string, stop <-chan struct{}) {
	t := time.NewTicker(r.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			n, err := extendScript.Run(ctx, r.client, []string{rkey}, token, r.ttl.Milliseconds()).Int64()
			cancel()
			if err != nil {
				slog.Warn("extend lock failed", "key", rkey, "error", err)
				continue
			}
			if n == 0 {
				slog.Warn("lock lost before release", "key", rkey)
				return
			}
		}
	}
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
