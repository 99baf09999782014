package tcp

import "github.com/beehive-sync/beehive/internal/berrors"

// Opcode identifies one TCP-protocol operation, §6. Byte values are this
// implementation's own assignment — the spec names the operations but not
// their wire encoding, so this is a resolved Open Question, recorded in
// DESIGN.md.
type opcode byte

const (
	opDeleteDataset opcode = 1
	opPushDataset   opcode = 2
	opPopDataset    opcode = 3
	opPullDataset   opcode = 4
	opPutDataset    opcode = 5
	opLeaveDataset  opcode = 6
	opUpdateMember  opcode = 7
	opDeleteMember  opcode = 8
	opFullSync      opcode = 9
	opApplyHeader   opcode = 10
)

// replyCode is the single-byte status every reply's first field carries,
// §4.G.
type replyCode byte

const (
	replySuccess                replyCode = 0
	replyMessageTransmissionErr replyCode = 1
	replyNewContainerAvailable  replyCode = 40
	replyNewGroupAvailable      replyCode = 50
	replyNewElementAvailable    replyCode = 51
	replyDataNotFound           replyCode = 99
	replyUserNotFound           replyCode = 100
	replyNotEnoughRights        replyCode = 110
	replyInvalidSchema          replyCode = 120
	replyInternalError          replyCode = 255
)

// replyCodeFor maps the berrors taxonomy onto the wire's reply codes, the
// boundary translation §7 assigns to adapters.
func replyCodeFor(err error) replyCode {
	if err == nil {
		return replySuccess
	}
	switch berrors.CodeOf(err) {
	case berrors.CodeTransmissionError:
		return replyMessageTransmissionErr
	case berrors.CodeDataNotFound, berrors.CodeEntityNotFound, berrors.CodeNotExists:
		return replyDataNotFound
	case berrors.CodeUserNotFound:
		return replyUserNotFound
	case berrors.CodeAuthentication, berrors.CodeNotEnoughRights:
		return replyNotEnoughRights
	case berrors.CodeInvalidSchema, berrors.CodeEntityDefinition:
		return replyInvalidSchema
	default:
		return replyInternalError
	}
}
