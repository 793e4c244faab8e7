package library

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/middleware"
	"github.com/forattini-dev/raffel/internal/store"
)

// CacheOptions configures the Cache interceptor (spec.md §4.6 "cache"):
// fingerprint key, TTL, optional stale-while-revalidate window, and the
// pluggable Store backend.
type CacheOptions struct {
	Store Store
	TTL   time.Duration
	// StaleWhileRevalidate, if > 0, lets a request within this extra window
	// past TTL return the stale cached value immediately while a background
	// goroutine refreshes the entry for subsequent callers.
	StaleWhileRevalidate time.Duration
	// KeyFunc overrides the default fingerprint (procedure + xxhash of the
	// JSON-encoded payload).
	KeyFunc func(env *envelope.Envelope) string
}

// Store is the narrow persistence port Cache needs; store.Store satisfies it.
type Store = store.Store

type cacheEntry struct {
	Value    json.RawMessage `json:"value"`
	StoredAt time.Time       `json:"storedAt"`
}

// Cache memoizes a procedure handler's result by a fingerprint of the
// envelope's procedure name and payload. A cache hit within TTL returns the
// stored value without invoking next(); a hit past TTL but within
// StaleWhileRevalidate returns the stale value and refreshes asynchronously.
func Cache(opts CacheOptions) middleware.Interceptor {
	var mu sync.Mutex
	refreshing := make(map[string]bool)

	keyFunc := opts.KeyFunc
	if keyFunc == nil {
		keyFunc = defaultCacheKey
	}

	return func(env *envelope.Envelope, ctx *envelope.Context, next middleware.Next) (any, error) {
		key := keyFunc(env)
		std := ctx.Std()

		if raw, err := opts.Store.Get(std, key); err == nil {
			var entry cacheEntry
			if jsonErr := json.Unmarshal(raw, &entry); jsonErr == nil {
				age := time.Since(entry.StoredAt)
				if age <= opts.TTL {
					var value any
					json.Unmarshal(entry.Value, &value)
					return value, nil
				}
				if opts.StaleWhileRevalidate > 0 && age <= opts.TTL+opts.StaleWhileRevalidate {
					mu.Lock()
					alreadyRefreshing := refreshing[key]
					if !alreadyRefreshing {
						refreshing[key] = true
					}
					mu.Unlock()
					if !alreadyRefreshing {
						go func() {
							defer func() {
								mu.Lock()
								delete(refreshing, key)
								mu.Unlock()
							}()
							if result, err := next(); err == nil {
								storeResult(std, opts.Store, key, result)
							}
						}()
					}
					var value any
					json.Unmarshal(entry.Value, &value)
					return value, nil
				}
			}
		}

		result, err := next()
		if err != nil {
			return nil, err
		}
		storeResult(std, opts.Store, key, result)
		return result, nil
	}
}

func storeResult(ctx context.Context, s Store, key string, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	entry := cacheEntry{Value: raw, StoredAt: time.Now()}
	encoded, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = s.Set(ctx, key, encoded, 0) // TTL enforced logically via StoredAt, not the store's own expiry
}

func defaultCacheKey(env *envelope.Envelope) string {
	raw, _ := json.Marshal(env.Payload)
	return fmt.Sprintf("%s:%x", env.Procedure, xxhash.Sum64(raw))
}
