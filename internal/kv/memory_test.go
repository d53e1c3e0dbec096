package kv

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemory_IncrAndExpireAt(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.Now = func() time.Time { return now }

	for i := int64(1); i <= 3; i++ {
		n, err := m.IncrExpireAt(ctx, "c", now.Add(time.Hour))
		if err != nil || n != i {
			t.Fatalf("incr #%d = %d, %v", i, n, err)
		}
	}
	if v, _ := m.Get(ctx, "c"); v != "3" {
		t.Fatalf("get = %q", v)
	}

	now = now.Add(time.Hour)
	if v, _ := m.Get(ctx, "c"); v != "" {
		t.Fatalf("expected expiry, got %q", v)
	}
	if n, _ := m.IncrExpireAt(ctx, "c", now.Add(time.Hour)); n != 1 {
		t.Fatalf("incr after expiry = %d", n)
	}
}

func TestMemory_SetTTLAndGetDel(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	m := NewMemory()
	m.Now = func() time.Time { return now }

	_ = m.Set(ctx, "k", "v", time.Minute)
	if v, _ := m.GetDel(ctx, "k"); v != "v" {
		t.Fatalf("getdel = %q", v)
	}
	if v, _ := m.GetDel(ctx, "k"); v != "" {
		t.Fatalf("second getdel = %q", v)
	}

	_ = m.Set(ctx, "k", "v", time.Minute)
	now = now.Add(2 * time.Minute)
	if v, _ := m.Get(ctx, "k"); v != "" {
		t.Fatalf("expected ttl expiry, got %q", v)
	}

	_ = m.Set(ctx, "a", "1", 0)
	_ = m.Set(ctx, "b", "2", 0)
	_ = m.Del(ctx, "a", "b")
	if v, _ := m.Get(ctx, "a"); v != "" {
		t.Fatalf("del failed")
	}
}

func TestMemory_IncrConcurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.IncrExpireAt(ctx, "n", time.Time{})
		}()
	}
	wg.Wait()
	if v, _ := m.Get(ctx, "n"); v != "50" {
		t.Fatalf("n = %q", v)
	}
}
