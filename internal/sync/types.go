// Package sync implements the heart of the system: header ingestion
// (validation, scripting hooks, persistence), per-node watermark-driven
// fan-out with role/module projection, and dataset membership management
// (§4.F).
package sync

import (
	"time"

	"github.com/google/uuid"
)

// Operation tags a single row change. Values match the wire protocol's
// reply-compatible integer tags, §3.
type Operation uint8

const (
	OpInsert Operation = 18
	OpUpdate Operation = 23
	OpDelete Operation = 9
)

func (o Operation) Valid() bool {
	return o == OpInsert || o == OpUpdate || o == OpDelete
}

// Code is the applyHeader outcome, §4.F. Values 0-9 are success variants;
// 10+ map onto the berrors taxonomy for client display.
type Code int

const (
	CodeSuccess     Code = 0
	CodeApproved    Code = 1
	CodeSkipEntity  Code = 9
)

// DatasetStatus is the lifecycle byte stored on a Dataset.
type DatasetStatus byte

const (
	DatasetActive  DatasetStatus = 0
	DatasetDeleted DatasetStatus = 1
)

// MemberStatus is the lifecycle byte stored on a Member.
type MemberStatus byte

const (
	MemberActive  MemberStatus = 0
	MemberRemoved MemberStatus = 1
)

// Dataset is a shared replicated table set: a per-context monotone numeric
// id (the scope Header/Change keys nest under), its uuid, the current
// header watermark, and ownership.
type Dataset struct {
	ID        uint64        `json:"id"`
	UUID      uuid.UUID     `json:"uuid"`
	IDHeader  uint64        `json:"idheader"`
	Owner     uuid.UUID     `json:"owner"`
	Status    DatasetStatus `json:"status"`
}

// Member is one user's membership in a Dataset.
type Member struct {
	DatasetID   uint64       `json:"iddataset"`
	UserID      uuid.UUID    `json:"iduser"`
	Role        uuid.UUID    `json:"role"`
	DisplayName string       `json:"displayname"`
	Email       string       `json:"email"`
	Status      MemberStatus `json:"status"`
}

// Push is a shareable invitation token redeemable for dataset membership.
type Push struct {
	DatasetID uint64    `json:"iddataset"`
	UUID      uuid.UUID `json:"uuid"`
	Role      uuid.UUID `json:"role"`
	Expiry    time.Time `json:"expiry"`
	Remaining uint32    `json:"remaining"`
}

// Expired reports whether the push token is past its expiry or exhausted.
func (p Push) Expired(now time.Time) bool {
	return now.After(p.Expiry) || p.Remaining == 0
}

// Header is one committed transaction: the script it ran, who originated
// it, and its ordered Changes.
type Header struct {
	DatasetID     uint64    `json:"iddataset"`
	ID            uint64    `json:"idheader"`
	Transaction   uuid.UUID `json:"transaction"`
	NodeUUID      uuid.UUID `json:"node"`
	NodeID        uuid.UUID `json:"idnode"`
	Status        Code      `json:"status"`
	Timestamp     time.Time `json:"timestamp"`
	Changes       []Change  `json:"changes,omitempty"`
}

// Change is one row operation against one entity, binary-encoded.
type Change struct {
	DatasetID uint64    `json:"iddataset"`
	HeaderID  uint64    `json:"idheader"`
	ChangeID  uint64    `json:"idchange"`
	Operation Operation `json:"operation"`
	Entity    uuid.UUID `json:"entity"`
	NewPK     []byte    `json:"newpk,omitempty"`
	OldPK     []byte    `json:"oldpk,omitempty"`
	NewData   []byte    `json:"newdata,omitempty"`
	OldData   []byte    `json:"olddata,omitempty"`
}

// Downloaded is a per-node per-dataset delivery watermark.
type Downloaded struct {
	NodeUUID  uuid.UUID `json:"node"`
	DatasetID uint64    `json:"iddataset"`
	HeaderID  uint64    `json:"idheader"`
	ChangeID  uint64    `json:"idchange"`
}

// Before reports whether the watermark is strictly before (headerID,
// changeID), the ordering readHeaders/readChanges filter against.
func (d Downloaded) Before(headerID, changeID uint64) bool {
	if d.HeaderID != headerID {
		return d.HeaderID < headerID
	}
	return d.ChangeID < changeID
}
