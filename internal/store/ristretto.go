package store

import (
	"context"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

// RistrettoStore is the default in-process Store: fast, bounded-memory,
// admission-policy cache. Suited for the response cache interceptor and for
// rate-limit/circuit-breaker state that only needs to survive the process
// lifetime.
type RistrettoStore struct {
	cache *ristretto.Cache[string, []byte]

	// Clear on Ristretto is asynchronous (it drains internal buffers before
	// wiping), so track live keys ourselves to make Clear observably
	// synchronous for callers that immediately re-populate afterward.
	mu   sync.Mutex
	keys map[string]struct{}
}

// NewRistretto builds a RistrettoStore sized for maxCost bytes of cached
// values (cost is measured in bytes of the stored value).
func NewRistretto(maxCost int64) (*RistrettoStore, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCost / 100 * 10, // ~10x entries estimate, per ristretto's sizing guidance
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoStore{cache: cache, keys: make(map[string]struct{})}, nil
}

func (s *RistrettoStore) Get(_ context.Context, key string) ([]byte, error) {
	value, ok := s.cache.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *RistrettoStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var ok bool
	if ttl > 0 {
		ok = s.cache.SetWithTTL(key, value, int64(len(value)), ttl)
	} else {
		ok = s.cache.Set(key, value, int64(len(value)))
	}
	s.cache.Wait()
	if ok {
		s.mu.Lock()
		s.keys[key] = struct{}{}
		s.mu.Unlock()
	}
	return nil
}

func (s *RistrettoStore) Delete(_ context.Context, key string) error {
	s.cache.Del(key)
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
	return nil
}

func (s *RistrettoStore) Clear(_ context.Context) error {
	s.mu.Lock()
	keys := make([]string, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	s.keys = make(map[string]struct{})
	s.mu.Unlock()

	for _, k := range keys {
		s.cache.Del(k)
	}
	return nil
}

// Close releases the cache's background goroutines.
func (s *RistrettoStore) Close() { s.cache.Close() }
