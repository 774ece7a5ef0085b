//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func newRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	url, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis connection string: %v", err)
	}

	client, err := DialRedis(ctx, url)
	if err != nil {
		t.Fatalf("DialRedis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisStore(client, "test:")
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)
	c := New(store)

	if !c.Set(ctx, "existence_check", "acme", payload{Company: "Acme"}, time.Hour) {
		t.Fatal("Set failed")
	}
	var out payload
	if !c.Get(ctx, "existence_check", "acme", &out) || out.Company != "Acme" {
		t.Fatalf("Get = %+v", out)
	}

	key, _, _ := Key("existence_check", "acme")
	ttl, err := store.client.TTL(ctx, "test:"+key).Result()
	if err != nil || ttl <= 0 || ttl > time.Hour {
		t.Errorf("redis TTL = %v, %v; want native expiry within an hour", ttl, err)
	}

	for i := 0; i < 250; i++ {
		c.Set(ctx, "bulk", i, i, 0)
	}
	c.Set(ctx, "bulk_other", 0, 0, 0)
	if n := c.Clear(ctx, "bulk"); n != 250 {
		t.Errorf("Clear(bulk) = %d, want 250", n)
	}
	if n := c.ClearAll(ctx); n != 2 {
		t.Errorf("ClearAll = %d, want 2", n)
	}
}

func TestRedisStore_ExpiredPutDeletes(t *testing.T) {
	ctx := context.Background()
	store := newRedisStore(t)
	past := New(store, WithClock(func() time.Time { return time.Now().Add(-48 * time.Hour) }))

	past.Set(ctx, "ns", "k", 1, time.Hour)
	key, _, _ := Key("ns", "k")
	if _, err := store.Get(ctx, key); err != ErrNotFound {
		t.Errorf("already expired entry stored: err = %v", err)
	}
}
