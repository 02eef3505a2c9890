package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// NonceStore remembers nonces for as long as a signed request carrying them
// could still pass the timestamp check.
type NonceStore interface {
	// Claim records key and reports whether this was its first use within
	// ttl.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// MemoryNonces is a process-local NonceStore. Replays through another
// instance are not caught; use RedisNonces when running several.
type MemoryNonces struct {
	mu        sync.Mutex
	seen      map[string]time.Time
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryNonces creates an empty in-memory nonce store.
func NewMemoryNonces() *MemoryNonces {
	return &MemoryNonces{seen: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryNonces) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	if now.Sub(m.lastSweep) > ttl {
		for k, exp := range m.seen {
			if !now.Before(exp) {
				delete(m.seen, k)
			}
		}
		m.lastSweep = now
	}
	if exp, ok := m.seen[key]; ok && now.Before(exp) {
		return false, nil
	}
	m.seen[key] = now.Add(ttl)
	return true, nil
}

// Len returns how many nonces are currently remembered.
func (m *MemoryNonces) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.seen)
}

// RedisNonces shares seen nonces between instances with SET NX PX.
type RedisNonces struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisNonces creates a Redis-backed nonce store.
func NewRedisNonces(rdb *redis.Client) *RedisNonces {
	return &RedisNonces{rdb: rdb, prefix: "wager:nonce:"}
}

func (r *RedisNonces) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("auth: record nonce: %w", err)
	}
	return ok, nil
}
