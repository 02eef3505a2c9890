package auth_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/wager-engine/internal/auth"
)

func TestRedisNonces_ClaimOnce(t *testing.T) {
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
	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}

	n := auth.NewRedisNonces(rdb)
	key := "test:" + uuid.NewString()
	t.Cleanup(func() { rdb.Del(context.Background(), "wager:nonce:"+key) })

	ok, err := n.Claim(ctx, key, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first claim = %v, %v", ok, err)
	}
	ok, err = n.Claim(ctx, key, time.Minute)
	if err != nil || ok {
		t.Fatalf("second claim = %v, %v", ok, err)
	}
	if ttl := rdb.PTTL(ctx, "wager:nonce:"+key).Val(); ttl <= 0 || ttl > time.Minute {
		t.Errorf("ttl = %v", ttl)
	}
}
