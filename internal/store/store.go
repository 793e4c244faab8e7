// Package store implements the pluggable key/value Store port used by the
// cache interceptor (spec.md §4.6 "cache"); the router does not use it for
// event deduplication. Two backends are provided: an in-process
// Ristretto-backed store for the common case, and a Badger-backed durable
// store whose entries survive a restart —
// grounded on the omni package's BadgerStore
// (_examples/tenzoki-agen/code/omni/internal/storage/badger.go), adapted here
// to the narrower get/set/delete/clear Store port this dispatcher needs
// rather than the omni package's full transactional KV API.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or has expired.
var ErrNotFound = errors.New("store: key not found")

// Store is the port every cache/dedup backend implements.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}
