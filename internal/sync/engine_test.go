package sync

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/berrors"
	"github.com/beehive-sync/beehive/internal/codec"
	"github.com/beehive-sync/beehive/internal/schema"
	"github.com/beehive-sync/beehive/internal/store"
)

// testFixture wires a throwaway Store + Repo + Engine against a single
// "widgets" entity and an "upsert" transaction, the minimal shape
// ApplyHeader's header-ingestion algorithm (§4.F) needs to run.
type testFixture struct {
	contextID uuid.UUID
	entity    schema.Entity
	ctx       *schema.Context
	engine    *Engine
	ds        *Dataset
}

func newTestFixture(t *testing.T, check string, pre string) *testFixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "beehive.db")
	s, err := store.Open(path, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	contextID := uuid.New()
	require.NoError(t, s.CreateContext(contextID.String()))

	entityID := uuid.New()
	txID := uuid.New()
	entity := schema.Entity{
		UUID: entityID,
		Name: "widgets",
		Keys: []schema.Key{
			{ID: 1, Name: "id", Type: schema.TypeText},
		},
		Attributes: []schema.Attribute{
			{ID: 2, Name: "amount", Type: schema.TypeInteger, Check: check},
		},
	}
	ctx := &schema.Context{
		UUID:    contextID,
		Name:    "widgets-ctx",
		Version: 1,
		Entities: map[uuid.UUID]schema.Entity{
			entityID: entity,
		},
		Transactions: map[uuid.UUID]schema.Transaction{
			txID: {
				UUID: txID,
				Name: "upsert",
				Entities: []schema.TransactionEntity{
					{Entity: "widgets", Add: true, Remove: true, UpdatableAttributes: []uint32{2}},
				},
				Pre: pre,
			},
		},
	}

	repo := NewRepo(s)
	engine := NewEngine(repo, nil, zap.NewNop())

	owner := uuid.New()
	ds, err := repo.CreateDataset(contextID, owner)
	require.NoError(t, err)

	return &testFixture{contextID: contextID, entity: entity, ctx: ctx, engine: engine, ds: ds}
}

func widgetChange(t *testing.T, op Operation, id string, amount int64) InputChange {
	t.Helper()
	data, err := codec.EncodeBinary(codec.Row{2: codec.Integer(amount)})
	require.NoError(t, err)
	pk, err := codec.EncodeBinary(codec.Row{1: codec.Text(id)})
	require.NoError(t, err)

	ic := InputChange{Operation: op, Entity: "widgets", NewData: data}
	switch op {
	case OpInsert:
		ic.NewPK = pk
	case OpUpdate:
		ic.NewPK, ic.OldPK = pk, pk
	case OpDelete:
		ic.OldPK = pk
	}
	return ic
}

func TestApplyHeaderInsertAdvancesDatasetHeader(t *testing.T) {
	f := newTestFixture(t, "", "")
	node, idNode := uuid.New(), uuid.New()

	result, err := f.engine.ApplyHeader(f.contextID, f.ctx, node, idNode, f.ds.UUID, "upsert",
		[]InputChange{widgetChange(t, OpInsert, "w1", 42)})
	require.NoError(t, err)
	assert.Equal(t, CodeSuccess, result.Code)
	assert.Equal(t, uint64(1), result.Header.ID)

	ds, err := f.engine.Repo().GetDataset(f.contextID, f.ds.UUID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ds.IDHeader)
}

func TestApplyHeaderDuplicateInsertRejected(t *testing.T) {
	f := newTestFixture(t, "", "")
	node, idNode := uuid.New(), uuid.New()

	_, err := f.engine.ApplyHeader(f.contextID, f.ctx, node, idNode, f.ds.UUID, "upsert",
		[]InputChange{widgetChange(t, OpInsert, "w1", 1)})
	require.NoError(t, err)

	_, err = f.engine.ApplyHeader(f.contextID, f.ctx, node, idNode, f.ds.UUID, "upsert",
		[]InputChange{widgetChange(t, OpInsert, "w1", 2)})
	require.Error(t, err)
	assert.Equal(t, berrors.CodeDuplicatedEntity, berrors.CodeOf(err))
}

func TestApplyHeaderCheckExpressionRejectsNegativeAmount(t *testing.T) {
	f := newTestFixture(t, "value >= 0", "")
	node, idNode := uuid.New(), uuid.New()

	_, err := f.engine.ApplyHeader(f.contextID, f.ctx, node, idNode, f.ds.UUID, "upsert",
		[]InputChange{widgetChange(t, OpInsert, "w1", -5)})
	require.Error(t, err)
	assert.Equal(t, berrors.CodeNotValidIncomeData, berrors.CodeOf(err))
}

func TestApplyHeaderPreScriptRejectsTransaction(t *testing.T) {
	f := newTestFixture(t, "", "if (newRow.amount > 100) return 1;")
	node, idNode := uuid.New(), uuid.New()

	_, err := f.engine.ApplyHeader(f.contextID, f.ctx, node, idNode, f.ds.UUID, "upsert",
		[]InputChange{widgetChange(t, OpInsert, "w1", 500)})
	require.Error(t, err)
	assert.Equal(t, berrors.CodeUserValidation, berrors.CodeOf(err))

	ds, err := f.engine.Repo().GetDataset(f.contextID, f.ds.UUID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), ds.IDHeader, "a rejected header must not advance the watermark")
}

func TestApplyHeaderUnknownTransactionRejected(t *testing.T) {
	f := newTestFixture(t, "", "")
	node, idNode := uuid.New(), uuid.New()

	_, err := f.engine.ApplyHeader(f.contextID, f.ctx, node, idNode, f.ds.UUID, "no-such-transaction", nil)
	require.Error(t, err)
	assert.Equal(t, berrors.CodeEntityDefinition, berrors.CodeOf(err))
}
