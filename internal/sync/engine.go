package sync

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/berrors"
	"github.com/beehive-sync/beehive/internal/codec"
	"github.com/beehive-sync/beehive/internal/metrics"
	"github.com/beehive-sync/beehive/internal/schema"
	"github.com/beehive-sync/beehive/internal/store"
	"github.com/beehive-sync/beehive/internal/sync/expr"
)

// Engine is the synchronization heart of the system, §4.F: header
// ingestion with scripted validation, per-node watermark-driven fan-out
// with role/module projection, and dataset membership management.
type Engine struct {
	repo    *Repo
	schemas *schema.Registry
	logger  *zap.Logger
}

// NewEngine builds an Engine over repo and the schema registry it
// consults for entity/transaction/role/module definitions.
func NewEngine(repo *Repo, schemas *schema.Registry, logger *zap.Logger) *Engine {
	return &Engine{repo: repo, schemas: schemas, logger: logger}
}

// Repo exposes the underlying persistence layer for adapters that need
// membership/dataset lookups the Engine itself doesn't wrap in a
// higher-level operation.
func (e *Engine) Repo() *Repo { return e.repo }

// InputChange is one row operation as received over the wire: a binary
// (attribute-id-keyed) primary key and row image, not yet persisted.
type InputChange struct {
	Operation Operation
	Entity    string // entity name, resolved against the schema
	NewPK     []byte
	OldPK     []byte
	NewData   []byte
}

// ApplyResult reports the outcome of ApplyHeader: the code (§4.F) and, on
// success, the persisted Header including any changes the post-script
// synthesized.
type ApplyResult struct {
	Code   Code
	Header *Header
}

// ApplyHeader validates and persists an incoming transaction (a header
// plus its changes), running the transaction's pre/post scripts and
// fanning the dataset's idHeader watermark forward — all within one
// store transaction, so a failure at any step leaves no trace (§8.6).
func (e *Engine) ApplyHeader(contextID uuid.UUID, ctx *schema.Context, node uuid.UUID, idNode uuid.UUID, datasetID uuid.UUID, transactionName string, changes []InputChange) (result *ApplyResult, err error) {
	defer func() {
		label := "error"
		if err == nil && result != nil {
			label = codeLabel(result.Code)
		}
		metrics.HeaderApplyTotal.WithLabelValues(label).Inc()
	}()

	context := contextID.String()

	txDef, ok := findTransaction(ctx, transactionName)
	if !ok {
		return nil, berrors.New(berrors.CodeEntityDefinition, fmt.Sprintf("unknown transaction %q", transactionName))
	}
	entityByName := make(map[string]schema.TransactionEntity, len(txDef.Entities))
	for _, te := range txDef.Entities {
		entityByName[te.Entity] = te
	}

	preScript, err := Parse(txDef.Pre)
	if err != nil {
		return nil, err
	}
	postScript, err := Parse(txDef.Post)
	if err != nil {
		return nil, err
	}

	tx, err := e.repo.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ds, err := getDatasetTx(tx, context, datasetID)
	if err != nil {
		return nil, err
	}

	header := &Header{
		DatasetID:   ds.ID,
		ID:          ds.IDHeader + 1,
		Transaction: txDef.UUID,
		NodeUUID:    node,
		NodeID:      idNode,
		Timestamp:   touchTimestamp(),
	}

	var changeID uint64
	nextChangeID := func() uint64 {
		changeID++
		return changeID
	}

	for _, in := range changes {
		entityDef, ok := ctx.EntityByName(in.Entity)
		if !ok {
			return nil, berrors.New(berrors.CodeEntityNotFound, fmt.Sprintf("entity %q", in.Entity))
		}
		te, allowed := entityByName[in.Entity]
		if !allowed {
			return nil, berrors.New(berrors.CodeEntityDefinition, fmt.Sprintf("transaction %q does not touch entity %q", transactionName, in.Entity))
		}
		if !in.Operation.Valid() {
			return nil, berrors.New(berrors.CodeNotValidOperation, fmt.Sprintf("operation tag %d", in.Operation))
		}

		change, err := e.stageChange(tx, context, entityDef, te, header, in, nextChangeID())
		if err != nil {
			return nil, err
		}
		if change == nil {
			continue // skipEntity: dropped silently per §4.F
		}
		header.Changes = append(header.Changes, *change)
	}

	preHost := &readOnlyHost{tx: tx, context: context, ctx: ctx, logger: e.logger}
	preVars := preScriptVars(header.Changes, ctx)
	rejectCode, err := preScript.Run(preHost, preVars)
	if err != nil {
		return nil, err
	}
	if rejectCode != 0 {
		return &ApplyResult{Code: CodeSkipEntity}, berrors.New(berrors.CodeUserValidation, "pre-script rejected transaction")
	}

	// apply the changes to entity row storage now that pre-script approved
	for _, c := range header.Changes {
		if err := applyChangeToStorage(tx, context, c); err != nil {
			return nil, err
		}
	}

	postHost := &writableHost{tx: tx, context: context, ctx: ctx, logger: e.logger, header: header, nextChangeID: nextChangeID}
	postVars := preScriptVars(header.Changes, ctx)
	if _, err := postScript.Run(postHost, postVars); err != nil {
		return nil, err
	}

	if err := saveHeaderTx(tx, context, ds, header); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	code := CodeSuccess
	if len(postHost.synthesized) > 0 {
		code = CodeApproved
	}
	return &ApplyResult{Code: code, Header: header}, nil
}

// codeLabel renders an ApplyResult code as the metric label value.
func codeLabel(c Code) string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeApproved:
		return "approved"
	case CodeSkipEntity:
		return "skip_entity"
	default:
		return "rejected"
	}
}

func findTransaction(ctx *schema.Context, name string) (schema.Transaction, bool) {
	for _, t := range ctx.Transactions {
		if t.Name == name {
			return t, true
		}
	}
	return schema.Transaction{}, false
}

// stageChange validates one incoming change against entity-key existence
// and check expressions, returning the persisted-shape Change. It never
// returns a nil Change without an error, so no change is dropped silently.
func (e *Engine) stageChange(tx *store.Tx, context string, entityDef schema.Entity, te schema.TransactionEntity, header *Header, in InputChange, changeID uint64) (*Change, error) {
	switch in.Operation {
	case OpInsert:
		if !te.Add {
			return nil, berrors.New(berrors.CodeNotValidOperation, fmt.Sprintf("transaction does not allow insert on %q", entityDef.Name))
		}
		exists, err := entityRowExists(tx, context, entityDef.UUID, in.NewPK)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, berrors.New(berrors.CodeDuplicatedEntity, fmt.Sprintf("%s: primary key already exists", entityDef.Name))
		}
	case OpUpdate:
		existing, err := getEntityRow(tx, context, entityDef.UUID, in.OldPK)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, berrors.New(berrors.CodeEntityNotFound, fmt.Sprintf("%s: old primary key not found", entityDef.Name))
		}
		if string(in.OldPK) != string(in.NewPK) {
			exists, err := entityRowExists(tx, context, entityDef.UUID, in.NewPK)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, berrors.New(berrors.CodeDuplicatedEntity, fmt.Sprintf("%s: new primary key already exists", entityDef.Name))
			}
		}
		if err := requireUpdatableAttributes(in.NewData, te); err != nil {
			return nil, err
		}
	case OpDelete:
		if !te.Remove {
			return nil, berrors.New(berrors.CodeNotValidOperation, fmt.Sprintf("transaction does not allow delete on %q", entityDef.Name))
		}
		existing, err := getEntityRow(tx, context, entityDef.UUID, in.OldPK)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, berrors.New(berrors.CodeEntityNotFound, fmt.Sprintf("%s: primary key not found", entityDef.Name))
		}
	}

	if in.Operation != OpDelete {
		if err := validateChecks(entityDef, in.NewData); err != nil {
			return nil, err
		}
	}

	return &Change{
		DatasetID: header.DatasetID,
		HeaderID:  header.ID,
		ChangeID:  changeID,
		Operation: in.Operation,
		Entity:    entityDef.UUID,
		NewPK:     in.NewPK,
		OldPK:     in.OldPK,
		NewData:   in.NewData,
	}, nil
}

// requireUpdatableAttributes rejects an Update whose row image touches an
// attribute id the transaction didn't whitelist for updates.
func requireUpdatableAttributes(newData []byte, te schema.TransactionEntity) error {
	if len(te.UpdatableAttributes) == 0 {
		return nil // no whitelist recorded: transaction doesn't restrict attributes
	}
	allowed := make(map[uint32]bool, len(te.UpdatableAttributes))
	for _, id := range te.UpdatableAttributes {
		allowed[id] = true
	}
	row, err := codec.DecodeBinary(newData)
	if err != nil {
		return berrors.Wrap(berrors.CodeNotValidIncomeData, "decoding row image", err)
	}
	for id := range row {
		if !allowed[id] {
			return berrors.New(berrors.CodeNotValidIncomeData, fmt.Sprintf("attribute %d is not updatable by this transaction", id))
		}
	}
	return nil
}

// validateChecks evaluates every attribute's check expression (bound to a
// single variable "value") against the row image, rejecting with
// CodeNotValidIncomeData on the first failure.
func validateChecks(entityDef schema.Entity, newData []byte) error {
	hasChecks := false
	for _, a := range entityDef.Attributes {
		if a.Check != "" {
			hasChecks = true
			break
		}
	}
	if !hasChecks {
		return nil
	}
	row, err := codec.DecodeBinary(newData)
	if err != nil {
		return berrors.Wrap(berrors.CodeNotValidIncomeData, "decoding row image", err)
	}
	for _, a := range entityDef.Attributes {
		if a.Check == "" {
			continue
		}
		v, present := row[a.ID]
		if !present {
			continue
		}
		ok, err := evalCheck(a.Check, v)
		if err != nil {
			return berrors.Wrap(berrors.CodeNotValidIncomeData, fmt.Sprintf("attribute %q check", a.Name), err)
		}
		if !ok {
			return berrors.New(berrors.CodeNotValidIncomeData, fmt.Sprintf("attribute %q failed check %q", a.Name, a.Check))
		}
	}
	return nil
}

func evalCheck(checkExpr string, v codec.Value) (bool, error) {
	bound := toExprValue(v)
	result, err := expr.Eval(checkExpr, func(name string) (expr.Value, bool) {
		if name == "value" {
			return bound, true
		}
		return expr.Value{}, false
	})
	if err != nil {
		return false, err
	}
	return result.Truthy(), nil
}

func toExprValue(v codec.Value) expr.Value {
	switch v.Tag {
	case codec.TagInteger:
		return expr.Num(float64(v.Int))
	case codec.TagReal:
		return expr.Num(v.Real)
	case codec.TagText:
		return expr.Str(v.Text)
	case codec.TagUUIDv1, codec.TagUUIDv4:
		return expr.Str(v.UUID.String())
	default:
		return expr.Value{}
	}
}

// applyChangeToStorage mutates the entity row store once a change has
// cleared validation and the pre-script.
func applyChangeToStorage(tx *store.Tx, context string, c Change) error {
	switch c.Operation {
	case OpInsert:
		return putEntityRow(tx, context, c.Entity, c.NewPK, c.NewData)
	case OpUpdate:
		if string(c.OldPK) != string(c.NewPK) {
			return moveEntityRow(tx, context, c.Entity, c.OldPK, c.NewPK, c.NewData)
		}
		return putEntityRow(tx, context, c.Entity, c.NewPK, c.NewData)
	case OpDelete:
		return deleteEntityRow(tx, context, c.Entity, c.OldPK)
	default:
		return berrors.New(berrors.CodeNotValidOperation, "unknown operation")
	}
}

// preScriptVars exposes the last staged change's row image as the "newRow"
// bound variable for check-style script conditions — scripts bind to the
// transaction as a whole, and the common case is a single-entity
// transaction. No "oldRow" variable is bound.
func preScriptVars(changes []Change, ctx *schema.Context) map[string]map[string]expr.Value {
	vars := map[string]map[string]expr.Value{}
	if len(changes) == 0 {
		return vars
	}
	last := changes[len(changes)-1]
	entityDef := ctx.Entities[last.Entity]
	if row, err := codec.DecodeBinary(last.NewData); err == nil {
		vars["newRow"] = rowToVars(row, entityDef)
	}
	return vars
}

func rowToVars(row codec.Row, entityDef schema.Entity) map[string]expr.Value {
	names := entityDef.AttributeNames()
	out := make(map[string]expr.Value, len(row))
	for id, v := range row {
		if name, ok := names[id]; ok {
			out[name] = toExprValue(v)
		}
	}
	return out
}

// saveHeaderTx persists the header and its changes and bumps the dataset's
// watermark, within the already-open transaction.
func saveHeaderTx(tx *store.Tx, context string, ds *Dataset, h *Header) error {
	headerCopy := *h
	headerCopy.Changes = nil
	data, err := json.Marshal(headerCopy)
	if err != nil {
		return berrors.Wrap(berrors.CodeInvalidRequest, "marshal header", err)
	}
	if err := tx.Put(context, store.HeaderKey(ds.ID, h.ID), data); err != nil {
		return err
	}
	for _, c := range h.Changes {
		cdata, err := json.Marshal(c)
		if err != nil {
			return berrors.Wrap(berrors.CodeInvalidRequest, "marshal change", err)
		}
		if err := tx.Put(context, store.ChangeKey(ds.ID, h.ID, c.ChangeID), cdata); err != nil {
			return err
		}
	}
	ds.IDHeader = h.ID
	return putDataset(tx, context, ds)
}
