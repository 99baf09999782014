package store

import (
	"bytes"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/beehive-sync/beehive/internal/berrors"
)

// Tx is a read-modify-write transaction across every context's column
// family. Every read taken through a Tx is implicitly "for update": bbolt
// already excludes all other writers for the lifetime of a writable
// transaction, which is what the original store obtained explicitly via
// RocksDB's get_for_update.
type Tx struct {
	tx   *bbolt.Tx
	done bool
}

// Begin starts a new read-modify-write transaction. Callers must call
// Commit or Rollback exactly once; dropping a Tx without either rolls back
// (mirrored here by requiring an explicit Rollback in a defer, since Go has
// no destructor to do it implicitly).
func (s *Store) Begin() (*Tx, error) {
	btx, err := s.db.Begin(true)
	if err != nil {
		return nil, berrors.Wrap(berrors.CodeStorageError, "begin transaction", err)
	}
	return &Tx{tx: btx}, nil
}

// Commit finalizes the transaction. Calling Commit again after it has
// been called is an error; Rollback afterwards is a no-op.
func (t *Tx) Commit() error {
	if t.done {
		return fmt.Errorf("store: transaction already closed")
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return berrors.Wrap(berrors.CodeStorageError, "commit transaction", err)
	}
	return nil
}

// Rollback discards every write made through the transaction. Safe to call
// after Commit has already succeeded (a no-op in that case).
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil {
		return berrors.Wrap(berrors.CodeStorageError, "rollback transaction", err)
	}
	return nil
}

// Put writes key/value into context's column family within the transaction.
func (t *Tx) Put(context string, key, value []byte) error {
	b, err := t.bucket(context)
	if err != nil {
		return err
	}
	return b.Put(key, value)
}

// Get reads key for update from context's column family.
func (t *Tx) Get(context string, key []byte) ([]byte, error) {
	b, err := t.bucket(context)
	if err != nil {
		return nil, err
	}
	v := b.Get(key)
	if v == nil {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Delete removes key from context's column family within the transaction.
func (t *Tx) Delete(context string, key []byte) error {
	b, err := t.bucket(context)
	if err != nil {
		return err
	}
	return b.Delete(key)
}

// ScanPrefix returns every key/value pair under prefix, consistent with the
// transaction's in-flight writes.
func (t *Tx) ScanPrefix(context string, prefix []byte) ([]KV, error) {
	b, err := t.bucket(context)
	if err != nil {
		return nil, err
	}
	var out []KV
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		out = append(out, KV{
			Key:   append([]byte(nil), k...),
			Value: append([]byte(nil), v...),
		})
	}
	return out, nil
}

// CreateContext adds a column family within the transaction.
func (t *Tx) CreateContext(context string) error {
	if t.tx.Bucket([]byte(context)) != nil {
		return berrors.New(berrors.CodeAlreadyExists, fmt.Sprintf("context %q", context))
	}
	_, err := t.tx.CreateBucket([]byte(context))
	if err != nil {
		return berrors.Wrap(berrors.CodeStorageError, "create context bucket", err)
	}
	return nil
}

// DeleteContext drops a column family within the transaction.
func (t *Tx) DeleteContext(context string) error {
	if t.tx.Bucket([]byte(context)) == nil {
		return berrors.New(berrors.CodeNotExists, fmt.Sprintf("context %q", context))
	}
	if err := t.tx.DeleteBucket([]byte(context)); err != nil {
		return berrors.Wrap(berrors.CodeStorageError, "delete context bucket", err)
	}
	return nil
}

func (t *Tx) bucket(context string) (*bbolt.Bucket, error) {
	b := t.tx.Bucket([]byte(context))
	if b == nil {
		return nil, berrors.New(berrors.CodeNotExists, fmt.Sprintf("context %q", context))
	}
	return b, nil
}
