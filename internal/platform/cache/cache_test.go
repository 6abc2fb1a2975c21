package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestNilCacheIsMiss(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	val, ok, err := c.Get(ctx, "anything")
	if err != nil {
		t.Fatalf("nil get: %v", err)
	}
	if ok || val != "" {
		t.Fatalf("expected miss from nil cache, got %q ok=%v", val, ok)
	}
	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("nil set: %v", err)
	}
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("nil delete: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("nil close: %v", err)
	}
}

func TestCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set; skipping redis integration test")
	}
	ctx := context.Background()
	c, err := Connect(ctx, addr, "", 0)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer c.Close()

	key := "stride:test:" + time.Now().Format("20060102150405.000")
	if err := c.Set(ctx, key, "hello", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	val, ok, err := c.Get(ctx, key)
	if err != nil || !ok || val != "hello" {
		t.Fatalf("get after set: val=%q ok=%v err=%v", val, ok, err)
	}
	if err := c.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, ok, err = c.Get(ctx, key)
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if ok {
		t.Fatal("key still present after delete")
	}
}
