package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beehive-sync/beehive/internal/sync/expr"
)

// fakeHost is an in-memory ScriptHost double keyed by entity name, used to
// exercise Script.Run without a Store transaction.
type fakeHost struct {
	logs  []string
	rows  map[string]map[string]expr.Value
	saved []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{rows: map[string]map[string]expr.Value{}}
}

func (h *fakeHost) Log(msg string) { h.logs = append(h.logs, msg) }

func (h *fakeHost) Read(entity string, key map[string]expr.Value) (map[string]expr.Value, bool, error) {
	row, ok := h.rows[entity]
	return row, ok, nil
}

func (h *fakeHost) Save(entity string, row map[string]expr.Value) error {
	h.rows[entity] = row
	h.saved = append(h.saved, entity)
	return nil
}

func (h *fakeHost) Update(entity string, row map[string]expr.Value) error {
	h.rows[entity] = row
	return nil
}

func (h *fakeHost) Remove(entity string, key map[string]expr.Value) error {
	delete(h.rows, entity)
	return nil
}

func TestScriptEmptyBodyApproves(t *testing.T) {
	s, err := Parse("")
	require.NoError(t, err)

	code, err := s.Run(newFakeHost(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestScriptRejectsOnCondition(t *testing.T) {
	s, err := Parse(`if (newRow.amount < 0) return 10;`)
	require.NoError(t, err)

	vars := map[string]map[string]expr.Value{
		"newRow": {"amount": expr.Num(-5)},
	}
	code, err := s.Run(newFakeHost(), vars)
	require.NoError(t, err)
	assert.Equal(t, 10, code)
}

func TestScriptApprovesWhenConditionFalse(t *testing.T) {
	s, err := Parse(`if (newRow.amount < 0) return 10;`)
	require.NoError(t, err)

	vars := map[string]map[string]expr.Value{
		"newRow": {"amount": expr.Num(5)},
	}
	code, err := s.Run(newFakeHost(), vars)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
}

func TestScriptCallsSaveWithDerivedRow(t *testing.T) {
	s, err := Parse(`save("ledger", {id: newRow.id, amount: -newRow.amount});`)
	require.NoError(t, err)

	vars := map[string]map[string]expr.Value{
		"newRow": {"id": expr.Str("a1"), "amount": expr.Num(5)},
	}
	host := newFakeHost()
	code, err := s.Run(host, vars)
	require.NoError(t, err)
	assert.Equal(t, 0, code)
	require.Contains(t, host.rows, "ledger")
	assert.Equal(t, -5.0, host.rows["ledger"]["amount"].Num)
}

func TestScriptLogIsForwardedToHost(t *testing.T) {
	s, err := Parse(`log("hello from script");`)
	require.NoError(t, err)

	host := newFakeHost()
	_, err = s.Run(host, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello from script"}, host.logs)
}

type erroringHost struct{ *fakeHost }

func (h erroringHost) Save(entity string, row map[string]expr.Value) error {
	return errors.New("boom")
}

func TestScriptHostErrorSurfacesAsUserValidation(t *testing.T) {
	s, err := Parse(`save("ledger", {id: newRow.id});`)
	require.NoError(t, err)

	vars := map[string]map[string]expr.Value{"newRow": {"id": expr.Str("a1")}}
	_, err = s.Run(erroringHost{newFakeHost()}, vars)
	require.Error(t, err)
}

func TestScriptCompileErrorRejected(t *testing.T) {
	_, err := Parse(`this is not valid javascript {{{`)
	assert.Error(t, err)
}
