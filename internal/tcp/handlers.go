package tcp

import (
	"time"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/authz"
	"github.com/beehive-sync/beehive/internal/berrors"
	"github.com/beehive-sync/beehive/internal/sync"
)

// --- pushDataset: create a dataset and become its owner member ---

type pushDatasetBody struct {
	role        uuid.UUID
	displayName []byte
	email       []byte
}

var pushDatasetHandler = handlerFuncs{
	read: func(req *request) (interface{}, error) {
		role, err := req.conn.readUUID()
		if err != nil {
			return nil, err
		}
		name, err := req.conn.readBlob(maxBlobLen)
		if err != nil {
			return nil, err
		}
		email, err := req.conn.readBlob(maxBlobLen)
		if err != nil {
			return nil, err
		}
		return pushDatasetBody{role: role, displayName: name, email: email}, nil
	},
	exec: func(s *Server, req *request, body interface{}) (interface{}, error) {
		b := body.(pushDatasetBody)
		return s.engine.PushDataset(req.node.ContextUUID, req.node.User.UUID, b.role, string(b.displayName), string(b.email))
	},
	write: func(w *writer, result interface{}) {
		ds := result.(*sync.Dataset)
		w.writeUUID(ds.UUID)
		w.writeU64(ds.ID)
	},
}

// --- popDataset: delete a dataset outright (owner only) ---

var popDatasetHandler = handlerFuncs{
	read: func(req *request) (interface{}, error) {
		return req.conn.readUUID()
	},
	exec: func(s *Server, req *request, body interface{}) (interface{}, error) {
		return nil, s.engine.PopDataset(req.node.ContextUUID, body.(uuid.UUID), req.node.User.UUID)
	},
}

// deleteDataset is an alias for popDataset and reuses its handler: the
// engine deletes the dataset only when the requesting user is its owner,
// whichever of the two opcodes was sent.
var deleteDatasetHandler = popDatasetHandler

// --- pullDataset: redeem a push invitation token ---

type pullDatasetBody struct {
	datasetID   uint64
	pushID      uuid.UUID
	displayName []byte
	email       []byte
}

var pullDatasetHandler = handlerFuncs{
	read: func(req *request) (interface{}, error) {
		datasetID, err := req.conn.readU64()
		if err != nil {
			return nil, err
		}
		pushID, err := req.conn.readUUID()
		if err != nil {
			return nil, err
		}
		name, err := req.conn.readBlob(maxBlobLen)
		if err != nil {
			return nil, err
		}
		email, err := req.conn.readBlob(maxBlobLen)
		if err != nil {
			return nil, err
		}
		return pullDatasetBody{datasetID: datasetID, pushID: pushID, displayName: name, email: email}, nil
	},
	exec: func(s *Server, req *request, body interface{}) (interface{}, error) {
		b := body.(pullDatasetBody)
		return s.engine.PullDataset(req.node.ContextUUID, b.datasetID, b.pushID, req.node.User.UUID, string(b.displayName), string(b.email))
	},
	write: func(w *writer, result interface{}) {
		ds := result.(*sync.Dataset)
		w.writeUUID(ds.UUID)
	},
}

// --- putDataset: mint a push invitation token ---

type putDatasetBody struct {
	datasetID uint64
	role      uuid.UUID
	ttl       time.Duration
	uses      uint32
}

var putDatasetHandler = handlerFuncs{
	read: func(req *request) (interface{}, error) {
		datasetID, err := req.conn.readU64()
		if err != nil {
			return nil, err
		}
		role, err := req.conn.readUUID()
		if err != nil {
			return nil, err
		}
		ttlSeconds, err := req.conn.readU32()
		if err != nil {
			return nil, err
		}
		uses, err := req.conn.readU32()
		if err != nil {
			return nil, err
		}
		return putDatasetBody{datasetID: datasetID, role: role, ttl: time.Duration(ttlSeconds) * time.Second, uses: uses}, nil
	},
	exec: func(s *Server, req *request, body interface{}) (interface{}, error) {
		b := body.(putDatasetBody)
		vis, err := requireMemberCapability(s, req, b.datasetID, authz.CapShareDataset)
		if err != nil {
			return nil, err
		}
		_ = vis
		return s.engine.PutDataset(req.node.ContextUUID, b.datasetID, b.role, b.ttl, b.uses)
	},
	write: func(w *writer, result interface{}) {
		push := result.(*sync.Push)
		w.writeUUID(push.UUID)
	},
}

// --- leaveDataset: remove the caller's own membership ---

var leaveDatasetHandler = handlerFuncs{
	read: func(req *request) (interface{}, error) {
		return req.conn.readUUID()
	},
	exec: func(s *Server, req *request, body interface{}) (interface{}, error) {
		ds, err := s.engine.Repo().GetDataset(req.node.ContextUUID, body.(uuid.UUID))
		if err != nil {
			return nil, err
		}
		return nil, s.engine.LeaveDataset(req.node.ContextUUID, ds, req.node.User.UUID)
	},
}

// --- updateMember / deleteMember ---

type updateMemberBody struct {
	datasetID uint64
	userID    uuid.UUID
	role      uuid.UUID
}

var updateMemberHandler = handlerFuncs{
	read: func(req *request) (interface{}, error) {
		datasetID, err := req.conn.readU64()
		if err != nil {
			return nil, err
		}
		userID, err := req.conn.readUUID()
		if err != nil {
			return nil, err
		}
		role, err := req.conn.readUUID()
		if err != nil {
			return nil, err
		}
		return updateMemberBody{datasetID: datasetID, userID: userID, role: role}, nil
	},
	exec: func(s *Server, req *request, body interface{}) (interface{}, error) {
		b := body.(updateMemberBody)
		if _, err := requireMemberCapability(s, req, b.datasetID, authz.CapManageMembers); err != nil {
			return nil, err
		}
		member, err := s.engine.Repo().GetMember(req.node.ContextUUID, b.datasetID, b.userID)
		if err != nil {
			return nil, err
		}
		member.Role = b.role
		return nil, s.engine.Repo().PutMember(req.node.ContextUUID, member)
	},
}

type deleteMemberBody struct {
	datasetID uint64
	userID    uuid.UUID
}

var deleteMemberHandler = handlerFuncs{
	read: func(req *request) (interface{}, error) {
		datasetID, err := req.conn.readU64()
		if err != nil {
			return nil, err
		}
		userID, err := req.conn.readUUID()
		if err != nil {
			return nil, err
		}
		return deleteMemberBody{datasetID: datasetID, userID: userID}, nil
	},
	exec: func(s *Server, req *request, body interface{}) (interface{}, error) {
		b := body.(deleteMemberBody)
		if _, err := requireMemberCapability(s, req, b.datasetID, authz.CapManageMembers); err != nil {
			return nil, err
		}
		return nil, s.engine.Repo().RemoveMember(req.node.ContextUUID, b.datasetID, b.userID)
	},
}

// --- fullSync: stream every header past the caller's watermark ---

type fullSyncBody struct {
	datasetID uint64
}

var fullSyncHandler = handlerFuncs{
	read: func(req *request) (interface{}, error) {
		datasetID, err := req.conn.readU64()
		if err != nil {
			return nil, err
		}
		return fullSyncBody{datasetID: datasetID}, nil
	},
	exec: func(s *Server, req *request, body interface{}) (interface{}, error) {
		b := body.(fullSyncBody)
		member, err := s.engine.Repo().GetMember(req.node.ContextUUID, b.datasetID, req.node.User.UUID)
		if err != nil {
			return nil, err
		}
		vis, err := visibilityFor(req, member.Role)
		if err != nil {
			return nil, err
		}
		ds, err := s.engine.Repo().GetDatasetByNumericID(req.node.ContextUUID, b.datasetID)
		if err != nil {
			return nil, err
		}
		headers, _, err := s.engine.ReadHeaders(req.node.ContextUUID, req.node.UUID, ds.UUID, b.datasetID, vis, entityNameResolver(req))
		if err != nil {
			return nil, err
		}
		if len(headers) > 0 {
			last := headers[len(headers)-1]
			lastChangeID := uint64(0)
			if n := len(last.Changes); n > 0 {
				lastChangeID = last.Changes[n-1].ChangeID
			}
			if err := s.engine.UpdateWatermark(req.node.ContextUUID, req.node.UUID, b.datasetID, last.ID, lastChangeID); err != nil {
				return nil, err
			}
		}
		return headers, nil
	},
	write: func(w *writer, result interface{}) {
		headers := result.([]sync.Header)
		w.writeU32(uint32(len(headers)))
		for _, h := range headers {
			w.writeU64(h.ID)
			w.writeU32(uint32(len(h.Changes)))
			for _, c := range h.Changes {
				w.writeU64(c.ChangeID)
				w.writeU8(uint8(c.Operation))
				w.writeUUID(c.Entity)
				w.writeBlob(c.NewPK)
				w.writeBlob(c.OldPK)
				w.writeBlob(c.NewData)
			}
		}
	},
}

// --- applyHeader: submit a transaction for ingestion ---

type applyChangeWire struct {
	operation sync.Operation
	entity    []byte
	newPK     []byte
	oldPK     []byte
	newData   []byte
}

type applyHeaderBody struct {
	datasetID       uint64
	transactionName []byte
	changes         []applyChangeWire
}

var applyHeaderHandler = handlerFuncs{
	read: func(req *request) (interface{}, error) {
		datasetID, err := req.conn.readU64()
		if err != nil {
			return nil, err
		}
		txName, err := req.conn.readBlob(maxBlobLen)
		if err != nil {
			return nil, err
		}
		count, err := req.conn.readU32()
		if err != nil {
			return nil, err
		}
		changes := make([]applyChangeWire, 0, count)
		for i := uint32(0); i < count; i++ {
			op, err := req.conn.readU8()
			if err != nil {
				return nil, err
			}
			entity, err := req.conn.readBlob(maxBlobLen)
			if err != nil {
				return nil, err
			}
			newPK, err := req.conn.readBlob(maxBlobLen)
			if err != nil {
				return nil, err
			}
			oldPK, err := req.conn.readBlob(maxBlobLen)
			if err != nil {
				return nil, err
			}
			newData, err := req.conn.readBlob(maxBlobLen)
			if err != nil {
				return nil, err
			}
			changes = append(changes, applyChangeWire{
				operation: sync.Operation(op),
				entity:    entity,
				newPK:     newPK,
				oldPK:     oldPK,
				newData:   newData,
			})
		}
		return applyHeaderBody{datasetID: datasetID, transactionName: txName, changes: changes}, nil
	},
	exec: func(s *Server, req *request, body interface{}) (interface{}, error) {
		b := body.(applyHeaderBody)
		ds, err := s.engine.Repo().GetDatasetByNumericID(req.node.ContextUUID, b.datasetID)
		if err != nil {
			return nil, err
		}
		member, err := s.engine.Repo().GetMember(req.node.ContextUUID, b.datasetID, req.node.User.UUID)
		if err != nil {
			return nil, err
		}
		vis, err := visibilityFor(req, member.Role)
		if err != nil {
			return nil, err
		}
		if !vis.CanInvoke(string(b.transactionName)) {
			return nil, berrors.New(berrors.CodeNotEnoughRights, "role may not invoke this transaction")
		}
		inputs := make([]sync.InputChange, len(b.changes))
		for i, c := range b.changes {
			inputs[i] = sync.InputChange{
				Operation: c.operation,
				Entity:    string(c.entity),
				NewPK:     c.newPK,
				OldPK:     c.oldPK,
				NewData:   c.newData,
			}
		}
		return s.engine.ApplyHeader(req.node.ContextUUID, req.ctx, req.node.UUID, req.node.UUID, ds.UUID, string(b.transactionName), inputs)
	},
	write: func(w *writer, result interface{}) {
		res := result.(*sync.ApplyResult)
		w.writeU8(uint8(res.Code))
		w.writeU64(res.Header.ID)
	},
}

// requireMemberCapability resolves the caller's visibility within
// datasetID and checks it carries flag, the guard every fan-in
// administrative opcode needs before touching membership state.
func requireMemberCapability(s *Server, req *request, datasetID uint64, flag authz.Capability) (*authz.Visibility, error) {
	member, err := s.engine.Repo().GetMember(req.node.ContextUUID, datasetID, req.node.User.UUID)
	if err != nil {
		return nil, err
	}
	vis, err := visibilityFor(req, member.Role)
	if err != nil {
		return nil, err
	}
	if err := vis.RequireCapability(flag); err != nil {
		return nil, err
	}
	return vis, nil
}

// entityNameResolver adapts a Context's uuid-keyed entity map into the
// uuid→name lookup ReadHeaders' projection step needs.
func entityNameResolver(req *request) func(uuid.UUID) (string, bool) {
	return func(id uuid.UUID) (string, bool) {
		e, ok := req.ctx.Entities[id]
		if !ok {
			return "", false
		}
		return e.Name, true
	}
}
