package sync

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/berrors"
	"github.com/beehive-sync/beehive/internal/store"
)

// Repo is the persistence boundary for Datasets, Members, Pushes, Headers,
// Changes, and Downloaded watermarks — the §4.F storage operations the
// original left stubbed, ported here from the SQL schema's statements to
// the §4.B prefix-scan/point-lookup KV layout.
type Repo struct {
	store *store.Store
}

// NewRepo wraps a Store as a sync Repo.
func NewRepo(s *store.Store) *Repo {
	return &Repo{store: s}
}

// CreateDataset allocates the next per-context numeric id and persists a
// brand-new Dataset owned by owner.
func (r *Repo) CreateDataset(contextID, owner uuid.UUID) (*Dataset, error) {
	context := contextID.String()
	tx, err := r.store.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	id, err := nextDatasetID(tx, context)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{
		ID:     id,
		UUID:   uuid.New(),
		Owner:  owner,
		Status: DatasetActive,
	}
	if err := putDataset(tx, context, ds); err != nil {
		return nil, err
	}
	if err := tx.Put(context, store.DatasetIndexKey(id), ds.UUID[:]); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ds, nil
}

func nextDatasetID(tx *store.Tx, context string) (uint64, error) {
	raw, err := tx.Get(context, store.DatasetSeqKey())
	if err != nil {
		return 0, err
	}
	var next uint64 = 1
	if raw != nil {
		next = binary.BigEndian.Uint64(raw) + 1
	}
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], next)
	if err := tx.Put(context, store.DatasetSeqKey(), b[:]); err != nil {
		return 0, err
	}
	return next, nil
}

func putDataset(tx *store.Tx, context string, ds *Dataset) error {
	data, err := json.Marshal(ds)
	if err != nil {
		return berrors.Wrap(berrors.CodeInvalidRequest, "marshal dataset", err)
	}
	return tx.Put(context, store.DatasetKey(ds.UUID), data)
}

// getDatasetTx reads a Dataset by uuid within an in-flight transaction, the
// form applyHeader uses so its idHeader read and its eventual bump are
// part of the same atomic unit.
func getDatasetTx(tx *store.Tx, context string, datasetID uuid.UUID) (*Dataset, error) {
	data, err := tx.Get(context, store.DatasetKey(datasetID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, berrors.New(berrors.CodeEntityNotFound, fmt.Sprintf("dataset %s", datasetID))
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, berrors.Wrap(berrors.CodeInternalError, "unmarshal dataset", err)
	}
	return &ds, nil
}

// Begin starts a transaction directly against the underlying store, for
// callers (applyHeader) that need every read and write of a multi-step
// operation to commit or roll back as one unit.
func (r *Repo) Begin() (*store.Tx, error) {
	return r.store.Begin()
}

// GetDataset reads a Dataset by its uuid.
func (r *Repo) GetDataset(contextID, datasetID uuid.UUID) (*Dataset, error) {
	data, err := r.store.Get(contextID.String(), store.DatasetKey(datasetID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, berrors.New(berrors.CodeEntityNotFound, fmt.Sprintf("dataset %s", datasetID))
	}
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, berrors.Wrap(berrors.CodeInternalError, "unmarshal dataset", err)
	}
	return &ds, nil
}

// GetDatasetByNumericID resolves a Dataset from its per-context numeric id
// via the secondary index, the form Header/Change keys and the wire
// protocol's opcodes carry.
func (r *Repo) GetDatasetByNumericID(contextID uuid.UUID, id uint64) (*Dataset, error) {
	context := contextID.String()
	raw, err := r.store.Get(context, store.DatasetIndexKey(id))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, berrors.New(berrors.CodeEntityNotFound, fmt.Sprintf("dataset id %d", id))
	}
	dsUUID, err := uuid.FromBytes(raw)
	if err != nil {
		return nil, berrors.Wrap(berrors.CodeInternalError, "decode dataset index", err)
	}
	return r.GetDataset(contextID, dsUUID)
}

// ReadDatasets lists every Dataset in a context owned by owner.
func (r *Repo) ReadDatasets(contextID, owner uuid.UUID) ([]Dataset, error) {
	kvs, err := r.store.ScanPrefix(contextID.String(), store.DatasetPrefix())
	if err != nil {
		return nil, err
	}
	var out []Dataset
	for _, kv := range kvs {
		var ds Dataset
		if err := json.Unmarshal(kv.Value, &ds); err != nil {
			continue
		}
		if ds.Owner == owner && ds.Status == DatasetActive {
			out = append(out, ds)
		}
	}
	return out, nil
}

// ListDatasets lists every active Dataset in a context regardless of
// owner, for the maintenance sweep that expires stale Push tokens across
// the whole context.
func (r *Repo) ListDatasets(contextID uuid.UUID) ([]Dataset, error) {
	kvs, err := r.store.ScanPrefix(contextID.String(), store.DatasetPrefix())
	if err != nil {
		return nil, err
	}
	var out []Dataset
	for _, kv := range kvs {
		var ds Dataset
		if err := json.Unmarshal(kv.Value, &ds); err != nil {
			continue
		}
		if ds.Status == DatasetActive {
			out = append(out, ds)
		}
	}
	return out, nil
}

// RemoveDataset cascades the delete through Members, Headers, Changes,
// Pushes, and Downloaded watermarks in one transaction, per §3's ownership
// rule.
func (r *Repo) RemoveDataset(contextID uuid.UUID, ds *Dataset) error {
	context := contextID.String()
	tx, err := r.store.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.Delete(context, store.DatasetKey(ds.UUID)); err != nil {
		return err
	}
	if err := tx.Delete(context, store.DatasetIndexKey(ds.ID)); err != nil {
		return err
	}

	members, err := tx.ScanPrefix(context, store.MemberPrefix(ds.ID))
	if err != nil {
		return err
	}
	for _, kv := range members {
		if err := tx.Delete(context, kv.Key); err != nil {
			return err
		}
	}

	pushes, err := tx.ScanPrefix(context, store.PushPrefix(ds.ID))
	if err != nil {
		return err
	}
	for _, kv := range pushes {
		if err := tx.Delete(context, kv.Key); err != nil {
			return err
		}
	}

	headers, err := tx.ScanPrefix(context, store.HeaderPrefix(ds.ID))
	if err != nil {
		return err
	}
	for _, kv := range headers {
		if err := tx.Delete(context, kv.Key); err != nil {
			return err
		}
	}

	for headerID := uint64(1); headerID <= ds.IDHeader; headerID++ {
		changes, err := tx.ScanPrefix(context, store.ChangePrefix(ds.ID, headerID))
		if err != nil {
			return err
		}
		for _, kv := range changes {
			if err := tx.Delete(context, kv.Key); err != nil {
				return err
			}
		}
	}

	// Downloaded keys lead with the node uuid, so every watermark is scanned
	// and those whose trailing dataset id matches are removed.
	dlKey := store.DownloadedKey(uuid.Nil, ds.ID)
	dlPrefix := dlKey[:len(dlKey)-len(uuid.Nil)-8]
	downloaded, err := tx.ScanPrefix(context, dlPrefix)
	if err != nil {
		return err
	}
	for _, kv := range downloaded {
		if len(kv.Key) == len(dlKey) && binary.BigEndian.Uint64(kv.Key[len(kv.Key)-8:]) == ds.ID {
			if err := tx.Delete(context, kv.Key); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// --- Members ---

// PutMember creates or replaces a dataset Member.
func (r *Repo) PutMember(contextID uuid.UUID, m *Member) error {
	data, err := json.Marshal(m)
	if err != nil {
		return berrors.Wrap(berrors.CodeInvalidRequest, "marshal member", err)
	}
	return r.store.Put(contextID.String(), store.MemberKey(m.DatasetID, m.UserID), data)
}

// GetMember reads a dataset Member.
func (r *Repo) GetMember(contextID uuid.UUID, datasetID uint64, userID uuid.UUID) (*Member, error) {
	data, err := r.store.Get(contextID.String(), store.MemberKey(datasetID, userID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, berrors.New(berrors.CodeEntityNotFound, "member not found")
	}
	var m Member
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, berrors.Wrap(berrors.CodeInternalError, "unmarshal member", err)
	}
	return &m, nil
}

// ReadMembers lists every Member of a dataset.
func (r *Repo) ReadMembers(contextID uuid.UUID, datasetID uint64) ([]Member, error) {
	kvs, err := r.store.ScanPrefix(contextID.String(), store.MemberPrefix(datasetID))
	if err != nil {
		return nil, err
	}
	out := make([]Member, 0, len(kvs))
	for _, kv := range kvs {
		var m Member
		if err := json.Unmarshal(kv.Value, &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// RemoveMember deletes a dataset Member.
func (r *Repo) RemoveMember(contextID uuid.UUID, datasetID uint64, userID uuid.UUID) error {
	return r.store.Delete(contextID.String(), store.MemberKey(datasetID, userID))
}

// --- Pushes ---

// CreatePush persists a new invitation token.
func (r *Repo) CreatePush(contextID uuid.UUID, p *Push) error {
	data, err := json.Marshal(p)
	if err != nil {
		return berrors.Wrap(berrors.CodeInvalidRequest, "marshal push", err)
	}
	return r.store.Put(contextID.String(), store.PushKey(p.DatasetID, p.UUID), data)
}

// GetPush reads an invitation token.
func (r *Repo) GetPush(contextID uuid.UUID, datasetID uint64, pushID uuid.UUID) (*Push, error) {
	data, err := r.store.Get(contextID.String(), store.PushKey(datasetID, pushID))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, berrors.New(berrors.CodeEntityNotFound, "push not found")
	}
	var p Push
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, berrors.Wrap(berrors.CodeInternalError, "unmarshal push", err)
	}
	return &p, nil
}

// ReadPush lists every outstanding invitation token of a dataset.
func (r *Repo) ReadPush(contextID uuid.UUID, datasetID uint64) ([]Push, error) {
	kvs, err := r.store.ScanPrefix(contextID.String(), store.PushPrefix(datasetID))
	if err != nil {
		return nil, err
	}
	out := make([]Push, 0, len(kvs))
	for _, kv := range kvs {
		var p Push
		if err := json.Unmarshal(kv.Value, &p); err != nil {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ConsumePush decrements a push token's remaining-use counter, deleting it
// once exhausted.
func (r *Repo) ConsumePush(contextID uuid.UUID, p *Push) error {
	context := contextID.String()
	if p.Remaining <= 1 {
		return r.store.Delete(context, store.PushKey(p.DatasetID, p.UUID))
	}
	p.Remaining--
	return r.CreatePush(contextID, p)
}

// DeletePush removes an invitation token outright (manageshare revocation).
func (r *Repo) DeletePush(contextID uuid.UUID, datasetID uint64, pushID uuid.UUID) error {
	return r.store.Delete(contextID.String(), store.PushKey(datasetID, pushID))
}

// --- Headers & Changes ---

// SaveHeader persists a Header and its Changes, then bumps the dataset's
// idHeader watermark, all within one transaction — the commit point of
// applyHeader.
func (r *Repo) SaveHeader(contextID uuid.UUID, ds *Dataset, h *Header) error {
	context := contextID.String()
	tx, err := r.store.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

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
	if err := putDataset(tx, context, ds); err != nil {
		return err
	}

	return tx.Commit()
}

// ReadHeaders returns every Header of a dataset with id > sinceID, in
// ascending order, without their Changes populated.
func (r *Repo) ReadHeaders(contextID uuid.UUID, datasetID, sinceID uint64) ([]Header, error) {
	kvs, err := r.store.ScanPrefix(contextID.String(), store.HeaderPrefix(datasetID))
	if err != nil {
		return nil, err
	}
	var out []Header
	for _, kv := range kvs {
		var h Header
		if err := json.Unmarshal(kv.Value, &h); err != nil {
			continue
		}
		if h.ID > sinceID {
			out = append(out, h)
		}
	}
	return out, nil
}

// ReadChanges returns every Change of one header, in ascending idChange
// order (guaranteed by key ordering).
func (r *Repo) ReadChanges(contextID uuid.UUID, datasetID, headerID uint64) ([]Change, error) {
	kvs, err := r.store.ScanPrefix(contextID.String(), store.ChangePrefix(datasetID, headerID))
	if err != nil {
		return nil, err
	}
	out := make([]Change, 0, len(kvs))
	for _, kv := range kvs {
		var c Change
		if err := json.Unmarshal(kv.Value, &c); err != nil {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// --- Downloaded watermarks ---

// GetDownloaded reads a node's delivery watermark for a dataset, defaulting
// to the zero watermark (nothing delivered yet) if none is recorded.
func (r *Repo) GetDownloaded(contextID, nodeID uuid.UUID, datasetID uint64) (Downloaded, error) {
	data, err := r.store.Get(contextID.String(), store.DownloadedKey(nodeID, datasetID))
	if err != nil {
		return Downloaded{}, err
	}
	if data == nil {
		return Downloaded{NodeUUID: nodeID, DatasetID: datasetID}, nil
	}
	var d Downloaded
	if err := json.Unmarshal(data, &d); err != nil {
		return Downloaded{}, berrors.Wrap(berrors.CodeInternalError, "unmarshal downloaded", err)
	}
	return d, nil
}

// SaveDownloaded records delivery progress for a node/dataset pair.
func (r *Repo) SaveDownloaded(contextID uuid.UUID, d Downloaded) error {
	data, err := json.Marshal(d)
	if err != nil {
		return berrors.Wrap(berrors.CodeInvalidRequest, "marshal downloaded", err)
	}
	return r.store.Put(contextID.String(), store.DownloadedKey(d.NodeUUID, d.DatasetID), data)
}

// touchTimestamp is a small helper so header timestamps are assigned in one
// place; kept as a function so tests can't accidentally use time.Now()
// directly and drift from this convention.
func touchTimestamp() time.Time { return time.Now().UTC() }
