package kvstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/agentcore/dispatchcore/internal/kvstore"
)

func TestMemoryStoreSetGetDelete(t *testing.T) {
	s := kvstore.NewMemoryStore()
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); err != nil || ok {
		t.Fatalf("Get(missing) = (_, %v, %v), want (_, false, nil)", ok, err)
	}

	if err := s.Set(ctx, "k", []byte("v1"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	val, ok, err := s.Get(ctx, "k")
	if err != nil || !ok || string(val) != "v1" {
		t.Fatalf("Get(k) = (%q, %v, %v), want (v1, true, nil)", val, ok, err)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("expected key to be gone after Delete")
	}
}

func TestMemoryStoreTTLExpiry(t *testing.T) {
	s := kvstore.NewMemoryStore()
	ctx := context.Background()

	if err := s.Set(ctx, "k", []byte("v"), 10*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatal("expected key to be present immediately after Set")
	}

	time.Sleep(30 * time.Millisecond)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("expected key to have expired")
	}
}

func TestMemoryStoreKeysPrefix(t *testing.T) {
	s := kvstore.NewMemoryStore()
	ctx := context.Background()

	for _, k := range []string{"task:a", "task:b", "cache:c"} {
		if err := s.Set(ctx, k, []byte("x"), 0); err != nil {
			t.Fatalf("Set(%q) error = %v", k, err)
		}
	}

	keys, err := s.Keys(ctx, "task:")
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 2 {
		t.Fatalf("Keys(task:) returned %d keys, want 2 (%v)", len(keys), keys)
	}
}
