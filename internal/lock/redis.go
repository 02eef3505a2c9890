// Package lock provides a Redis-backed distributed mutex so several engine
// instances can share one store without interleaving mutations.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by TryAcquire when another holder owns the lock.
var ErrLockHeld = errors.New("lock: held by another owner")

// unlockLua deletes the key only if it still holds the caller's token, so an
// expired holder cannot release a lock someone else has since taken.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua pushes the expiry out only while the caller still holds the key.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// RedisLocker implements SETNX-with-TTL locking and a Lua conditional unlock.
// A held lock is extended every ttl/3 until it is released, so a holder
// that runs longer than ttl keeps it.
type RedisLocker struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	extendSc *redis.Script
	retry    time.Duration
}

// NewRedisLocker creates a locker that polls every retry interval while the
// lock is contended.
func NewRedisLocker(rdb *redis.Client, retry time.Duration) *RedisLocker {
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	return &RedisLocker{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
		retry:    retry,
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// TryAcquire makes one attempt at the lock. On success it returns an unlock
// function that is safe to call more than once.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := lockKey(key)

	ok, err := l.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(lk, token, ttl, stop, done)

	var once sync.Once
	unlock := func() {
		once.Do(func() {
			close(stop)
			<-done

			// Unlock even if the caller's context is already cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = l.unlockSc.Run(unlockCtx, l.rdb, []string{lk}, token).Err()
		})
	}
	return unlock, nil
}

// keepAlive extends the lock until stop closes or the token is gone.
func (l *RedisLocker) keepAlive(lk, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ms := ttl.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := l.extendSc.Run(ctx, l.rdb, []string{lk}, token, ms).Int()
			cancel()
			if err == nil && n == 0 {
				return
			}
		}
	}
}

// Acquire blocks until the lock is held or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		unlock, err := l.TryAcquire(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("lock: waiting for %s: %w", key, ctx.Err())
		case <-ticker.C:
		}
	}
}
