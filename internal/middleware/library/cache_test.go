package library

import (
	"context"
	"testing"
	"time"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/store"
)

func TestCacheHitAvoidsCallingNext(t *testing.T) {
	s, err := store.NewRistretto(1 << 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	interceptor := Cache(CacheOptions{Store: s, TTL: time.Minute})
	env := envelope.New("users.get", envelope.KindRequest, map[string]any{"id": 1})
	ctx := envelope.NewContext(context.Background(), "r-1")

	calls := 0
	next := func() (any, error) { calls++; return map[string]any{"name": "ana"}, nil }

	if _, err := interceptor(env, ctx, next); err != nil {
		t.Fatalf("unexpected error on first call: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected the first call to invoke next(), got %d calls", calls)
	}

	if _, err := interceptor(env, ctx, next); err != nil {
		t.Fatalf("unexpected error on second call: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a cache hit to avoid calling next() again, got %d calls", calls)
	}
}

func TestCacheDifferentPayloadsAreDistinctKeys(t *testing.T) {
	s, err := store.NewRistretto(1 << 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	interceptor := Cache(CacheOptions{Store: s, TTL: time.Minute})
	ctx := envelope.NewContext(context.Background(), "r-1")

	calls := 0
	next := func() (any, error) { calls++; return "result", nil }

	env1 := envelope.New("users.get", envelope.KindRequest, map[string]any{"id": 1})
	env2 := envelope.New("users.get", envelope.KindRequest, map[string]any{"id": 2})

	interceptor(env1, ctx, next)
	interceptor(env2, ctx, next)

	if calls != 2 {
		t.Fatalf("expected distinct payloads to produce distinct cache keys, got %d calls", calls)
	}
}

func TestCacheExpiredEntryCallsNextAgain(t *testing.T) {
	s, err := store.NewRistretto(1 << 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	interceptor := Cache(CacheOptions{Store: s, TTL: 10 * time.Millisecond})
	env := envelope.New("users.get", envelope.KindRequest, nil)
	ctx := envelope.NewContext(context.Background(), "r-1")

	calls := 0
	next := func() (any, error) { calls++; return "result", nil }

	interceptor(env, ctx, next)
	time.Sleep(30 * time.Millisecond)
	interceptor(env, ctx, next)

	if calls != 2 {
		t.Fatalf("expected an expired entry to be refreshed synchronously, got %d calls", calls)
	}
}
