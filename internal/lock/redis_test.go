package lock_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/wager-engine/internal/lock"
)

// redisClient connects to WAGER_TEST_REDIS_URL or skips the test.
func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("WAGER_TEST_REDIS_URL")
	if url == "" {
		t.Skip("WAGER_TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(opt)
	t.Cleanup(func() { rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	return rdb
}

func TestTryAcquire_Exclusive(t *testing.T) {
	rdb := redisClient(t)
	l := lock.NewRedisLocker(rdb, 0)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	unlock, err := l.TryAcquire(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := l.TryAcquire(ctx, key, time.Minute); !errors.Is(err, lock.ErrLockHeld) {
		t.Fatalf("second acquire: %v", err)
	}
	unlock()
	unlock()

	again, err := l.TryAcquire(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("acquire after unlock: %v", err)
	}
	again()
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	rdb := redisClient(t)
	l := lock.NewRedisLocker(rdb, 5*time.Millisecond)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	unlock, err := l.Acquire(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	go func() {
		time.Sleep(50 * time.Millisecond)
		unlock()
	}()

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	next, err := l.Acquire(waitCtx, key, time.Minute)
	if err != nil {
		t.Fatalf("waiting acquire: %v", err)
	}
	next()
}

func TestAcquire_ContextDeadline(t *testing.T) {
	rdb := redisClient(t)
	l := lock.NewRedisLocker(rdb, 5*time.Millisecond)
	key := "test:" + uuid.NewString()

	unlock, err := l.Acquire(context.Background(), key, time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx, key, time.Minute); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestTryAcquire_ExtendsWhileHeld(t *testing.T) {
	rdb := redisClient(t)
	l := lock.NewRedisLocker(rdb, 0)
	ctx := context.Background()
	key := "test:" + uuid.NewString()

	unlock, err := l.TryAcquire(ctx, key, 150*time.Millisecond)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	// Outlive the ttl several times over.
	time.Sleep(600 * time.Millisecond)
	if _, err := l.TryAcquire(ctx, key, time.Minute); !errors.Is(err, lock.ErrLockHeld) {
		t.Fatalf("lock expired under its holder: %v", err)
	}

	unlock()
	if n := rdb.Exists(ctx, "lock:"+key).Val(); n != 0 {
		t.Errorf("key survived unlock")
	}
	again, err := l.TryAcquire(ctx, key, time.Minute)
	if err != nil {
		t.Fatalf("acquire after unlock: %v", err)
	}
	again()
}
