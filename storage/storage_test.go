package storage

import (
	"context"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStore(client, "test")
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func newBadgerStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := OpenBadger(BadgerConfig{InMemory: true})
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoresRoundTripSlots(t *testing.T) {
	redisStore, _ := newRedisStore(t)
	stores := map[string]Store{
		"redis":  redisStore,
		"badger": newBadgerStore(t),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, ok, err := store.Get(ctx, TokenSlot); err != nil || ok {
				t.Fatalf("expected empty slot, got ok=%v err=%v", ok, err)
			}
			if err := store.Set(ctx, TokenSlot, "tok"); err != nil {
				t.Fatalf("set: %v", err)
			}
			if err := store.Set(ctx, IdentitySlot, `{"id":1}`); err != nil {
				t.Fatalf("set: %v", err)
			}
			val, ok, err := store.Get(ctx, TokenSlot)
			if err != nil || !ok || val != "tok" {
				t.Fatalf("unexpected get result %q ok=%v err=%v", val, ok, err)
			}
			if err := store.Delete(ctx, TokenSlot, IdentitySlot); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, ok, _ := store.Get(ctx, IdentitySlot); ok {
				t.Fatal("expected identity slot to be gone")
			}
			if err := store.Delete(ctx, TokenSlot); err != nil {
				t.Fatalf("expected deleting a missing slot to succeed, got %v", err)
			}
		})
	}
}

func TestRedisStoreNamespacesKeys(t *testing.T) {
	store, mr := newRedisStore(t)
	if err := store.Set(context.Background(), TokenSlot, "abc"); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := mr.Get("test:" + TokenSlot)
	if err != nil {
		t.Fatalf("miniredis get: %v", err)
	}
	if got != "abc" {
		t.Fatalf("expected namespaced value, got %q", got)
	}
	if mr.TTL("test:"+TokenSlot) != 0 {
		t.Fatal("expected slot without expiry")
	}
}

func TestRedisStoreGetFailsWhenServerDown(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()
	if _, _, err := store.Get(context.Background(), TokenSlot); err == nil {
		t.Fatal("expected error when redis is unreachable")
	}
}
