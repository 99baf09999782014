// Package store wraps a single bbolt database into the transactional,
// column-family-partitioned key-value contract every other component reads
// and writes through. One bucket stands in for one RocksDB column family:
// bbolt already serializes writers against a shared bucket set and gives
// every read inside a writable transaction the same "locked for update"
// guarantee the original store obtained from RocksDB's TransactionDB.
package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/berrors"
)

// DefaultContext is the literal column-family name holding server-global
// state (developers, nodes) that isn't scoped to a tenant.
const DefaultContext = "default"

// Store is the process-wide handle to the on-disk database. It is safe for
// concurrent use; callers share one *Store across every adapter goroutine.
type Store struct {
	db     *bbolt.DB
	logger *zap.Logger
}

// Open opens (creating if absent) the bbolt file at path and ensures the
// default column family exists.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create data directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	s := &Store{db: db, logger: logger}
	if err := s.CreateContext(DefaultContext); err != nil && berrors.CodeOf(err) != berrors.CodeAlreadyExists {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

// CreateContext adds a column family for the given context name (typically
// a context UUID's string form, or DefaultContext). Fails with
// berrors.CodeAlreadyExists if it already exists.
func (s *Store) CreateContext(context string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		existing := tx.Bucket([]byte(context))
		if existing != nil {
			return berrors.New(berrors.CodeAlreadyExists, fmt.Sprintf("context %q", context))
		}
		_, err := tx.CreateBucket([]byte(context))
		if err != nil {
			return berrors.Wrap(berrors.CodeStorageError, "create context bucket", err)
		}
		return nil
	})
}

// DeleteContext drops a context's entire column family. Fails with
// berrors.CodeNotExists if it doesn't exist.
func (s *Store) DeleteContext(context string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(context)) == nil {
			return berrors.New(berrors.CodeNotExists, fmt.Sprintf("context %q", context))
		}
		if err := tx.DeleteBucket([]byte(context)); err != nil {
			return berrors.Wrap(berrors.CodeStorageError, "delete context bucket", err)
		}
		return nil
	})
}

// Contexts lists every column family name currently open, including default.
func (s *Store) Contexts() ([]string, error) {
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	if err != nil {
		return nil, berrors.Wrap(berrors.CodeStorageError, "list contexts", err)
	}
	return names, nil
}

// Put writes key/value into the named context's column family.
func (s *Store) Put(context string, key, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := bucketFor(tx, context)
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
}

// Get reads key from the named context's column family. Returns (nil, nil)
// when the key is absent.
func (s *Store) Get(context string, key []byte) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucketFor(tx, context)
		if err != nil {
			return err
		}
		if v := b.Get(key); v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	return value, err
}

// Delete removes key from the named context's column family.
func (s *Store) Delete(context string, key []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := bucketFor(tx, context)
		if err != nil {
			return err
		}
		return b.Delete(key)
	})
}

// KV is a single key/value pair returned by a prefix scan.
type KV struct {
	Key   []byte
	Value []byte
}

// ScanPrefix returns every key/value pair in the named context's column
// family whose key starts with prefix, in lexicographic (and therefore, per
// §4.B, numeric) key order.
func (s *Store) ScanPrefix(context string, prefix []byte) ([]KV, error) {
	var out []KV
	err := s.db.View(func(tx *bbolt.Tx) error {
		b, err := bucketFor(tx, context)
		if err != nil {
			return err
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			out = append(out, KV{
				Key:   append([]byte(nil), k...),
				Value: append([]byte(nil), v...),
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func bucketFor(tx *bbolt.Tx, context string) (*bbolt.Bucket, error) {
	b := tx.Bucket([]byte(context))
	if b == nil {
		return nil, berrors.New(berrors.CodeNotExists, fmt.Sprintf("context %q", context))
	}
	return b, nil
}
