package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

// --- Local Tests ---

func TestLocal_TryLock(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	first, err := l.TryLock(ctx, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := l.TryLock(ctx, "run-1"); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}

	other, err := l.TryLock(ctx, "run-2")
	if err != nil {
		t.Fatalf("other key must be free: %v", err)
	}
	_ = other.Unlock(ctx)

	if err := first.Unlock(ctx); err != nil {
		t.Fatalf("unexpected unlock error: %v", err)
	}
	// Повторный Unlock безопасен
	_ = first.Unlock(ctx)

	again, err := l.TryLock(ctx, "run-1")
	if err != nil {
		t.Fatalf("expected lock after unlock, got %v", err)
	}
	_ = again.Unlock(ctx)
}

func TestLocal_DoubleUnlockDoesNotReleaseNewOwner(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	first, _ := l.TryLock(ctx, "run")
	_ = first.Unlock(ctx)

	second, err := l.TryLock(ctx, "run")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_ = first.Unlock(ctx)

	if _, err := l.TryLock(ctx, "run"); !errors.Is(err, ErrLocked) {
		t.Errorf("stale unlock released the new owner: %v", err)
	}
	_ = second.Unlock(ctx)
}

// --- Postgres Tests ---

func TestAdvisoryKey(t *testing.T) {
	if AdvisoryKey("a") != AdvisoryKey("a") {
		t.Error("key must be stable")
	}
	if AdvisoryKey("a") == AdvisoryKey("b") {
		t.Error("different keys must differ")
	}
}

// --- Redis Tests ---

func newRedisLocker(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedis(client, RedisConfig{Expiry: 5 * time.Second}), s
}

func TestRedis_TryLock(t *testing.T) {
	ctx := context.Background()
	l, s := newRedisLocker(t)

	held, err := l.TryLock(ctx, "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.Exists(defaultRedisPrefix + "run-1") {
		t.Error("expected lock key in redis")
	}

	if _, err := l.TryLock(ctx, "run-1"); !errors.Is(err, ErrLocked) {
		t.Errorf("expected ErrLocked, got %v", err)
	}

	if err := held.Unlock(ctx); err != nil {
		t.Fatalf("unexpected unlock error: %v", err)
	}

	again, err := l.TryLock(ctx, "run-1")
	if err != nil {
		t.Fatalf("expected lock after unlock, got %v", err)
	}
	_ = again.Unlock(ctx)
}

func TestRedis_Expiry(t *testing.T) {
	ctx := context.Background()
	l, s := newRedisLocker(t)

	if _, err := l.TryLock(ctx, "run-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Владелец пропал: ключ освобождается по TTL
	s.FastForward(6 * time.Second)

	held, err := l.TryLock(ctx, "run-1")
	if err != nil {
		t.Fatalf("expected expired lock to be free, got %v", err)
	}
	_ = held.Unlock(ctx)
}
