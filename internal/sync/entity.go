package sync

import (
	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/berrors"
	"github.com/beehive-sync/beehive/internal/store"
)

// entityRowExists reports whether a row with the given binary-encoded
// primary key currently exists for entityID, within tx.
func entityRowExists(tx *store.Tx, context string, entityID uuid.UUID, pk []byte) (bool, error) {
	v, err := tx.Get(context, store.EntityRowKey(entityID, pk))
	if err != nil {
		return false, err
	}
	return v != nil, nil
}

// getEntityRow returns the current binary row image, or nil if absent.
func getEntityRow(tx *store.Tx, context string, entityID uuid.UUID, pk []byte) ([]byte, error) {
	return tx.Get(context, store.EntityRowKey(entityID, pk))
}

// putEntityRow writes a row's current image, keyed by its binary-encoded
// primary key.
func putEntityRow(tx *store.Tx, context string, entityID uuid.UUID, pk, data []byte) error {
	return tx.Put(context, store.EntityRowKey(entityID, pk), data)
}

// deleteEntityRow removes a row's current image.
func deleteEntityRow(tx *store.Tx, context string, entityID uuid.UUID, pk []byte) error {
	return tx.Delete(context, store.EntityRowKey(entityID, pk))
}

// moveEntityRow relocates a row's image from oldPK to newPK, used on Update
// when the primary key itself changed.
func moveEntityRow(tx *store.Tx, context string, entityID uuid.UUID, oldPK, newPK, data []byte) error {
	if err := deleteEntityRow(tx, context, entityID, oldPK); err != nil {
		return err
	}
	return putEntityRow(tx, context, entityID, newPK, data)
}

// errIfMissing converts a nil row lookup into an EntityNotFound error,
// the shape most of §4.F's validation steps need.
func errIfMissing(data []byte, what string) error {
	if data == nil {
		return berrors.New(berrors.CodeEntityNotFound, what)
	}
	return nil
}
