package sync

import (
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/berrors"
	"github.com/beehive-sync/beehive/internal/codec"
	"github.com/beehive-sync/beehive/internal/schema"
	"github.com/beehive-sync/beehive/internal/store"
	"github.com/beehive-sync/beehive/internal/sync/expr"
)

// keyFromFields resolves a script call's field map against entityDef's keys,
// building the binary-encoded primary key the row store is addressed by.
func keyFromFields(entityDef schema.Entity, fields map[string]expr.Value) ([]byte, error) {
	row := make(codec.Row, len(entityDef.Keys))
	for _, k := range entityDef.Keys {
		v, ok := fields[k.Name]
		if !ok {
			return nil, berrors.New(berrors.CodeNotValidIncomeData, fmt.Sprintf("missing key field %q", k.Name))
		}
		row[k.ID] = fromExprValue(v, k.Type)
	}
	return codec.EncodeBinary(row)
}

// rowFromFields resolves a script call's field map into a full binary row
// image, covering keys and attributes alike.
func rowFromFields(entityDef schema.Entity, fields map[string]expr.Value) ([]byte, error) {
	row := make(codec.Row, len(fields))
	names := entityDef.AttributeNames()
	byName := make(map[string]uint32, len(names))
	types := make(map[string]schema.AttributeType, len(names))
	for _, k := range entityDef.Keys {
		byName[k.Name] = k.ID
		types[k.Name] = k.Type
	}
	for _, a := range entityDef.Attributes {
		byName[a.Name] = a.ID
		types[a.Name] = a.Type
	}
	for name, v := range fields {
		id, ok := byName[name]
		if !ok {
			return nil, berrors.New(berrors.CodeNotValidIncomeData, fmt.Sprintf("unknown field %q", name))
		}
		row[id] = fromExprValue(v, types[name])
	}
	return codec.EncodeBinary(row)
}

func fromExprValue(v expr.Value, hint schema.AttributeType) codec.Value {
	switch v.Kind {
	case expr.KindStr:
		if hint == schema.TypeUUIDv1 || hint == schema.TypeUUIDv4 {
			if id, err := uuid.Parse(v.Str); err == nil {
				if hint == schema.TypeUUIDv1 {
					return codec.UUIDv1(id)
				}
				return codec.UUIDv4(id)
			}
		}
		return codec.Text(v.Str)
	case expr.KindBool:
		if v.Bool {
			return codec.Integer(1)
		}
		return codec.Integer(0)
	case expr.KindNum:
		if hint == schema.TypeReal {
			return codec.Real(v.Num)
		}
		return codec.Integer(int64(v.Num))
	default:
		return codec.Null()
	}
}

func rowToExprFields(row codec.Row, entityDef schema.Entity) map[string]expr.Value {
	return rowToVars(row, entityDef)
}

// readOnlyHost backs a transaction's pre-script: it may log and read, but
// save/update/remove are no-ops, since §4.F specifies the pre-script
// validates and never mutates.
type readOnlyHost struct {
	tx      *store.Tx
	context string
	ctx     *schema.Context
	logger  *zap.Logger
}

func (h *readOnlyHost) Log(msg string) {
	h.logger.Info("script log", zap.String("script", "pre"), zap.String("msg", msg))
}

func (h *readOnlyHost) Read(entity string, key map[string]expr.Value) (map[string]expr.Value, bool, error) {
	entityDef, ok := h.ctx.EntityByName(entity)
	if !ok {
		return nil, false, berrors.New(berrors.CodeEntityNotFound, entity)
	}
	pk, err := keyFromFields(entityDef, key)
	if err != nil {
		return nil, false, err
	}
	data, err := getEntityRow(h.tx, h.context, entityDef.UUID, pk)
	if err != nil {
		return nil, false, err
	}
	if data == nil {
		return nil, false, nil
	}
	row, err := codec.DecodeBinary(data)
	if err != nil {
		return nil, false, berrors.Wrap(berrors.CodeInternalError, "decoding row", err)
	}
	return rowToExprFields(row, entityDef), true, nil
}

func (h *readOnlyHost) Save(entity string, row map[string]expr.Value) error   { return nil }
func (h *readOnlyHost) Update(entity string, row map[string]expr.Value) error { return nil }
func (h *readOnlyHost) Remove(entity string, key map[string]expr.Value) error { return nil }

// writableHost backs a transaction's post-script: save/update/remove mutate
// entity storage directly and synthesize additional Changes appended to the
// header, continuing the change-id sequence started by the incoming changes.
type writableHost struct {
	tx           *store.Tx
	context      string
	ctx          *schema.Context
	logger       *zap.Logger
	header       *Header
	nextChangeID func() uint64
	synthesized  []Change
}

func (h *writableHost) Log(msg string) {
	h.logger.Info("script log", zap.String("script", "post"), zap.String("msg", msg))
}

func (h *writableHost) Read(entity string, key map[string]expr.Value) (map[string]expr.Value, bool, error) {
	ro := &readOnlyHost{tx: h.tx, context: h.context, ctx: h.ctx, logger: h.logger}
	return ro.Read(entity, key)
}

func (h *writableHost) Save(entity string, fields map[string]expr.Value) error {
	entityDef, ok := h.ctx.EntityByName(entity)
	if !ok {
		return berrors.New(berrors.CodeEntityNotFound, entity)
	}
	pk, err := keyFromFields(entityDef, fields)
	if err != nil {
		return err
	}
	exists, err := entityRowExists(h.tx, h.context, entityDef.UUID, pk)
	if err != nil {
		return err
	}
	if exists {
		return berrors.New(berrors.CodeDuplicatedEntity, fmt.Sprintf("%s: primary key already exists", entity))
	}
	data, err := rowFromFields(entityDef, fields)
	if err != nil {
		return err
	}
	if err := putEntityRow(h.tx, h.context, entityDef.UUID, pk, data); err != nil {
		return err
	}
	h.append(OpInsert, entityDef.UUID, pk, nil, data)
	return nil
}

func (h *writableHost) Update(entity string, fields map[string]expr.Value) error {
	entityDef, ok := h.ctx.EntityByName(entity)
	if !ok {
		return berrors.New(berrors.CodeEntityNotFound, entity)
	}
	pk, err := keyFromFields(entityDef, fields)
	if err != nil {
		return err
	}
	existing, err := getEntityRow(h.tx, h.context, entityDef.UUID, pk)
	if err != nil {
		return err
	}
	if existing == nil {
		return berrors.New(berrors.CodeEntityNotFound, fmt.Sprintf("%s: primary key not found", entity))
	}
	data, err := rowFromFields(entityDef, fields)
	if err != nil {
		return err
	}
	if err := putEntityRow(h.tx, h.context, entityDef.UUID, pk, data); err != nil {
		return err
	}
	h.append(OpUpdate, entityDef.UUID, pk, pk, data)
	return nil
}

func (h *writableHost) Remove(entity string, key map[string]expr.Value) error {
	entityDef, ok := h.ctx.EntityByName(entity)
	if !ok {
		return berrors.New(berrors.CodeEntityNotFound, entity)
	}
	pk, err := keyFromFields(entityDef, key)
	if err != nil {
		return err
	}
	existing, err := getEntityRow(h.tx, h.context, entityDef.UUID, pk)
	if err != nil {
		return err
	}
	if existing == nil {
		return berrors.New(berrors.CodeEntityNotFound, fmt.Sprintf("%s: primary key not found", entity))
	}
	if err := deleteEntityRow(h.tx, h.context, entityDef.UUID, pk); err != nil {
		return err
	}
	h.append(OpDelete, entityDef.UUID, nil, pk, nil)
	return nil
}

func (h *writableHost) append(op Operation, entity uuid.UUID, newPK, oldPK, newData []byte) {
	c := Change{
		DatasetID: h.header.DatasetID,
		HeaderID:  h.header.ID,
		ChangeID:  h.nextChangeID(),
		Operation: op,
		Entity:    entity,
		NewPK:     newPK,
		OldPK:     oldPK,
		NewData:   newData,
	}
	h.header.Changes = append(h.header.Changes, c)
	h.synthesized = append(h.synthesized, c)
}
