package store

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/berrors"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "beehive.db")
	s, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenCreatesDefaultContext(t *testing.T) {
	s := openTestStore(t)
	contexts, err := s.Contexts()
	require.NoError(t, err)
	assert.Contains(t, contexts, DefaultContext)
}

func TestCreateContextTwiceFails(t *testing.T) {
	s := openTestStore(t)
	ctx := uuid.New().String()
	require.NoError(t, s.CreateContext(ctx))
	err := s.CreateContext(ctx)
	require.Error(t, err)
	assert.Equal(t, berrors.CodeAlreadyExists, berrors.CodeOf(err))
}

func TestPutGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := uuid.New().String()
	require.NoError(t, s.CreateContext(ctx))

	key := []byte("U.alice@example.com")
	require.NoError(t, s.Put(ctx, key, []byte("payload")))

	got, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	require.NoError(t, s.Delete(ctx, key))
	got, err = s.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestScanPrefixOrdersByKey(t *testing.T) {
	s := openTestStore(t)
	ctx := uuid.New().String()
	require.NoError(t, s.CreateContext(ctx))

	datasetID := uint64(7)
	for headerID := uint64(1); headerID <= 3; headerID++ {
		require.NoError(t, s.Put(ctx, HeaderKey(datasetID, headerID), []byte{byte(headerID)}))
	}

	kvs, err := s.ScanPrefix(ctx, HeaderPrefix(datasetID))
	require.NoError(t, err)
	require.Len(t, kvs, 3)
	for i, kv := range kvs {
		assert.Equal(t, byte(i+1), kv.Value[0])
	}
}

func TestTransactionCommitPersists(t *testing.T) {
	s := openTestStore(t)
	ctx := uuid.New().String()
	require.NoError(t, s.CreateContext(ctx))

	tx, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, []byte("k"), []byte("v")))
	require.NoError(t, tx.Commit())

	got, err := s.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestTransactionRollbackDiscardsWrites(t *testing.T) {
	s := openTestStore(t)
	ctx := uuid.New().String()
	require.NoError(t, s.CreateContext(ctx))

	tx, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Put(ctx, []byte("k"), []byte("v")))
	require.NoError(t, tx.Rollback())

	got, err := s.Get(ctx, []byte("k"))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetForNonexistentContextFails(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Get("no-such-context", []byte("k"))
	assert.Error(t, err)
}
