// Package storage provides the embedded key-value engine behind the
// persisted memory stores and the atomic JSON files used for run state.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"

	"surf/internal/logging"
)

// ErrKeyNotFound is returned by Get when the key does not exist.
var ErrKeyNotFound = errors.New("storage: key not found")

// KVConfig holds configuration for one embedded store.
type KVConfig struct {
	// Path is the directory for the store's files (one of the *.db dirs
	// under the memory directory). Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode with no disk persistence. Tests use
	// this to avoid filesystem churn.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives the engine's internal messages. Nil disables them.
	Logger logging.Logger
}

// KV is one embedded key-value store. Values are JSON-encoded by the typed
// helpers below; iteration order is byte order of the keys.
type KV struct {
	db       *badger.DB
	path     string
	inMemory bool
}

// OpenKV opens (creating if needed) the store at cfg.Path.
func OpenKV(cfg KVConfig) (*KV, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("storage: path is required for a persistent store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&engineLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return &KV{db: db, path: cfg.Path, inMemory: cfg.InMemory}, nil
}

// OpenMemoryKV opens an in-memory store for tests. Data is lost on Close.
func OpenMemoryKV() (*KV, error) {
	return OpenKV(KVConfig{InMemory: true})
}

// Close closes the store.
func (s *KV) Close() error { return s.db.Close() }

// Path returns the store directory, empty for in-memory stores.
func (s *KV) Path() string { return s.path }

// PutJSON marshals value and writes it under key in one transaction.
func (s *KV) PutJSON(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// GetJSON reads key and unmarshals it into out.
func (s *KV) GetJSON(key string, out any) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *KV) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Has reports whether key exists.
func (s *KV) Has(key string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ScanJSON visits every key with the given prefix, decoding each value into
// a fresh T. Returning false from visit stops the scan early.
func ScanJSON[T any](s *KV, prefix string, visit func(key string, value T) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var value T
			err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &value)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", item.Key(), err)
			}
			if !visit(string(item.Key()), value) {
				return nil
			}
		}
		return nil
	})
}

// DropPrefix deletes every key with the given prefix.
func (s *KV) DropPrefix(prefix string) error {
	return s.db.DropPrefix([]byte(prefix))
}

// Count returns the number of keys with the given prefix.
func (s *KV) Count(prefix string) (int, error) {
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// engineLogger adapts logging.Logger to the engine's logger interface.
type engineLogger struct {
	logger logging.Logger
}

func (l *engineLogger) Errorf(format string, args ...any)   { l.logger.Error(format, args...) }
func (l *engineLogger) Warningf(format string, args ...any) { l.logger.Warn(format, args...) }
func (l *engineLogger) Infof(format string, args ...any)    { l.logger.Info(format, args...) }
func (l *engineLogger) Debugf(format string, args ...any)   { l.logger.Debug(format, args...) }
