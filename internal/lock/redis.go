package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v8"
)

const (
	defaultRedisExpiry = 30 * time.Second
	defaultRedisPrefix = "pipelines:lock:"
)

// Redis — Locker на redsync.
//
// Блокировка живёт не дольше expiry: если владелец умер, ключ освобождается
// сам. Цикл допуска обязан укладываться в expiry.
type Redis struct {
	rs     *redsync.Redsync
	expiry time.Duration
	prefix string
}

// RedisConfig — параметры Redis locker.
type RedisConfig struct {
	Expiry time.Duration // default: 30s
	Prefix string        // default: "pipelines:lock:"
}

// NewRedis создаёт Redis locker поверх клиента go-redis.
func NewRedis(client *redis.Client, cfg RedisConfig) *Redis {
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = defaultRedisExpiry
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}

	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
		prefix: prefix,
	}
}

// TryLock делает одну попытку взять mutex для key.
func (r *Redis) TryLock(ctx context.Context, key string) (Lock, error) {
	mutex := r.rs.NewMutex(r.prefix+key,
		redsync.WithExpiry(r.expiry),
		redsync.WithTries(1),
	)

	if err := mutex.LockContext(ctx); err != nil {
		if errors.Is(err, redsync.ErrFailed) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("redsync lock: %w", err)
	}

	return &redisLock{mutex: mutex}, nil
}

type redisLock struct {
	mutex *redsync.Mutex
}

func (l *redisLock) Unlock(ctx context.Context) error {
	if _, err := l.mutex.UnlockContext(ctx); err != nil {
		return fmt.Errorf("redsync unlock: %w", err)
	}
	return nil
}
