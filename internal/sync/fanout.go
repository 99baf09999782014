package sync

import (
	"time"

	"github.com/google/uuid"

	"github.com/beehive-sync/beehive/internal/authz"
	"github.com/beehive-sync/beehive/internal/berrors"
	"github.com/beehive-sync/beehive/internal/codec"
	"github.com/beehive-sync/beehive/internal/metrics"
)

// ReadHeaders returns every header committed to datasetID after a node's
// delivery watermark, with each header's changes projected through vis — the
// §4.F readHeaders/fan-out path a node's pull request drives.
func (e *Engine) ReadHeaders(contextID, node, datasetID uuid.UUID, numericDatasetID uint64, vis *authz.Visibility, entityName func(uuid.UUID) (string, bool)) ([]Header, Downloaded, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.FanoutDuration)

	downloaded, err := e.repo.GetDownloaded(contextID, node, numericDatasetID)
	if err != nil {
		return nil, Downloaded{}, err
	}

	headers, err := e.repo.ReadHeaders(contextID, numericDatasetID, downloaded.HeaderID)
	if err != nil {
		return nil, Downloaded{}, err
	}

	var out []Header
	for _, h := range headers {
		changes, err := e.repo.ReadChanges(contextID, numericDatasetID, h.ID)
		if err != nil {
			return nil, Downloaded{}, err
		}
		projected, err := projectChanges(changes, vis, entityName)
		if err != nil {
			return nil, Downloaded{}, err
		}
		if len(projected) == 0 {
			continue // every change on this header was invisible to this role/module
		}
		h.Changes = projected
		out = append(out, h)
	}
	return out, downloaded, nil
}

// projectChanges filters each change's row image down to vis's visible
// attribute ids, dropping changes on entities the caller can't see at all
// and transcoding entities it can see but whose attribute set was trimmed,
// so a node on an older module build never observes columns it wasn't
// shipped.
func projectChanges(changes []Change, vis *authz.Visibility, entityName func(uuid.UUID) (string, bool)) ([]Change, error) {
	out := make([]Change, 0, len(changes))
	for _, c := range changes {
		name, ok := entityName(c.Entity)
		if !ok || !vis.EntityVisible(name) {
			continue
		}
		keep := vis.VisibleAttributes(name)
		filtered := c
		if c.NewData != nil {
			data, err := codec.FilterBinary(c.NewData, keep)
			if err != nil {
				return nil, berrors.Wrap(berrors.CodeInternalError, "projecting change", err)
			}
			filtered.NewData = data
		}
		out = append(out, filtered)
	}
	return out, nil
}

// UpdateWatermark records that node has received up through (headerID,
// changeID) of datasetID, advancing its delivery watermark monotonically;
// a stale (earlier) watermark report is accepted but never moves it
// backward.
func (e *Engine) UpdateWatermark(contextID, node uuid.UUID, datasetID uint64, headerID, changeID uint64) error {
	current, err := e.repo.GetDownloaded(contextID, node, datasetID)
	if err != nil {
		return err
	}
	if !current.Before(headerID, changeID) {
		return nil
	}
	return e.repo.SaveDownloaded(contextID, Downloaded{
		NodeUUID:  node,
		DatasetID: datasetID,
		HeaderID:  headerID,
		ChangeID:  changeID,
	})
}

// IsMember reports whether userID belongs to datasetID.
func (e *Engine) IsMember(contextID uuid.UUID, datasetID uint64, userID uuid.UUID) (bool, error) {
	_, err := e.repo.GetMember(contextID, datasetID, userID)
	if err != nil {
		if berrors.CodeOf(err) == berrors.CodeEntityNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PushDataset creates a new Dataset owned by owner and seeds it with an
// owner Member entry under role.
func (e *Engine) PushDataset(contextID, owner, role uuid.UUID, displayName, email string) (*Dataset, error) {
	ds, err := e.repo.CreateDataset(contextID, owner)
	if err != nil {
		return nil, err
	}
	member := &Member{
		DatasetID:   ds.ID,
		UserID:      owner,
		Role:        role,
		DisplayName: displayName,
		Email:       email,
		Status:      MemberActive,
	}
	if err := e.repo.PutMember(contextID, member); err != nil {
		return nil, err
	}
	return ds, nil
}

// PopDataset removes a Dataset outright — the owner's irrevocable delete,
// cascading through Members, Headers, Changes, Pushes and Downloaded
// watermarks.
func (e *Engine) PopDataset(contextID uuid.UUID, datasetID uuid.UUID, requester uuid.UUID) error {
	ds, err := e.repo.GetDataset(contextID, datasetID)
	if err != nil {
		return err
	}
	if ds.Owner != requester {
		return berrors.New(berrors.CodeNotEnoughRights, "only the owner may delete a dataset")
	}
	return e.repo.RemoveDataset(contextID, ds)
}

// PullDataset redeems a Push invitation token, adding redeemer as a Member
// under the token's role and decrementing (or deleting) the token.
func (e *Engine) PullDataset(contextID uuid.UUID, datasetID uint64, pushID, redeemer uuid.UUID, displayName, email string) (*Dataset, error) {
	push, err := e.repo.GetPush(contextID, datasetID, pushID)
	if err != nil {
		return nil, err
	}
	if push.Expired(time.Now().UTC()) {
		return nil, berrors.New(berrors.CodeNotExists, "push token expired")
	}
	ds, err := e.repo.GetDatasetByNumericID(contextID, datasetID)
	if err != nil {
		return nil, err
	}
	member := &Member{
		DatasetID:   datasetID,
		UserID:      redeemer,
		Role:        push.Role,
		DisplayName: displayName,
		Email:       email,
		Status:      MemberActive,
	}
	if err := e.repo.PutMember(contextID, member); err != nil {
		return nil, err
	}
	if err := e.repo.ConsumePush(contextID, push); err != nil {
		return nil, err
	}
	return ds, nil
}

// PutDataset mints a new Push invitation token for datasetID under role,
// valid for ttl and redeemable uses times — the §4.F share operation,
// guarded by the caller's manageshare/sharedataset capability upstream.
func (e *Engine) PutDataset(contextID uuid.UUID, datasetID uint64, role uuid.UUID, ttl time.Duration, uses uint32) (*Push, error) {
	push := &Push{
		DatasetID: datasetID,
		UUID:      uuid.New(),
		Role:      role,
		Expiry:    time.Now().UTC().Add(ttl),
		Remaining: uses,
	}
	if err := e.repo.CreatePush(contextID, push); err != nil {
		return nil, err
	}
	return push, nil
}

// LeaveDataset removes member's own membership; an owner may not leave
// their own dataset, only pop it.
func (e *Engine) LeaveDataset(contextID uuid.UUID, ds *Dataset, userID uuid.UUID) error {
	if ds.Owner == userID {
		return berrors.New(berrors.CodeNotValidOperation, "owner cannot leave, only delete")
	}
	return e.repo.RemoveMember(contextID, ds.ID, userID)
}

// ReadMembers lists datasetID's members, redacting Email unless vis grants
// reademail — §4.E's "members are visible, emails are a stricter grant"
// rule.
func (e *Engine) ReadMembers(contextID uuid.UUID, datasetID uint64, vis *authz.Visibility) ([]Member, error) {
	if err := vis.RequireCapability(authz.CapReadMembers); err != nil {
		return nil, err
	}
	members, err := e.repo.ReadMembers(contextID, datasetID)
	if err != nil {
		return nil, err
	}
	if vis.RequireCapability(authz.CapReadEmail) != nil {
		for i := range members {
			members[i].Email = ""
		}
	}
	return members, nil
}

// ReadPush lists datasetID's outstanding invitation tokens, guarded by the
// sharedataset capability.
func (e *Engine) ReadPush(contextID uuid.UUID, datasetID uint64, vis *authz.Visibility) ([]Push, error) {
	if err := vis.RequireCapability(authz.CapShareDataset); err != nil {
		return nil, err
	}
	return e.repo.ReadPush(contextID, datasetID)
}
