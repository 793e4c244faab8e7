package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore is the durable Store backend: stored entries survive a process
// restart, at the cost of disk I/O on every write.
type BadgerStore struct {
	db *badger.DB
}

// quietLogger discards Badger's Info/Debug chatter but surfaces warnings and
// errors, matching the teacher's badgerLogger
// (_examples/tenzoki-agen/code/omni/internal/storage/badger.go) minus the
// bare fmt.Printf calls, which this dispatcher never uses for logging.
type quietLogger struct{}

func (quietLogger) Errorf(format string, args ...interface{}) {
	slog.Error("badger: " + fmt.Sprintf(format, args...))
}
func (quietLogger) Warningf(format string, args ...interface{}) {
	slog.Warn("badger: " + fmt.Sprintf(format, args...))
}
func (quietLogger) Infof(string, ...interface{})    {}
func (quietLogger) Debugf(string, ...interface{})   {}

// NewBadger opens (or creates) a Badger database rooted at dir.
func NewBadger(dir string) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create badger dir: %w", err)
	}
	opts := badger.DefaultOptions(dir).WithLogger(quietLogger{})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	return value, err
}

func (s *BadgerStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	return s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (s *BadgerStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

func (s *BadgerStore) Clear(_ context.Context) error {
	return s.db.DropAll()
}

// Close releases the underlying database handle.
func (s *BadgerStore) Close() error { return s.db.Close() }

// RunGC runs Badger's value-log garbage collection on interval until ctx is
// cancelled, matching the teacher's StartGarbageCollector loop.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration, discardRatio float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for s.db.RunValueLogGC(discardRatio) == nil {
			}
		}
	}
}
