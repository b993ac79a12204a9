package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix    = "star-sync:lock:"
	pollInterval = 100 * time.Millisecond
)

var (
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
)

// RedisLocker is a Locker shared by every replica talking to the same Redis.
// A held lock is refreshed every ttl/3 so long syncs keep it; a crashed holder
// loses it after ttl.
type RedisLocker struct {
	Client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisLocker connects to the Redis instance at redisURL (redis://...).
func NewRedisLocker(redisURL string, ttl time.Duration, logger *slog.Logger) (*RedisLocker, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	return NewRedisLockerWithClient(redis.NewClient(opt), ttl, logger), nil
}

func NewRedisLockerWithClient(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisLocker {
	return &RedisLocker{Client: client, ttl: ttl, logger: logger}
}

// Ping checks that Redis is reachable.
func (l *RedisLocker) Ping(ctx context.Context) error {
	return l.Client.Ping(ctx).Err()
}

func (l *RedisLocker) Close() error {
	return l.Client.Close()
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := keyPrefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		ok, err := l.Client.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(redisKey, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's context may already be canceled; release on a fresh one.
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.Client, []string{redisKey}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
				l.logger.Warn("Failed to release lock", "key", key, "error", err)
			}
		})
	}, nil
}

func (l *RedisLocker) keepAlive(redisKey, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			err := refreshScript.Run(ctx, l.Client, []string{redisKey}, token, l.ttl.Milliseconds()).Err()
			cancel()
			if err != nil {
				l.logger.Warn("Failed to refresh lock", "key", redisKey, "error", err)
			}
		}
	}
}
