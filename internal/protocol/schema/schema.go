// Package schema defines the message types and field IDs of the
// instrument control protocol and validates required fields per
// message type.
package schema

import (
	"fmt"

	"github.com/openfibsem/gofibsem/internal/protocol/tlv"
)

// Message type IDs. Responses reuse the request type with the
// response flag set on the frame header.
const (
	MsgHello                    uint32 = 1
	MsgApplyConfiguration       uint32 = 2
	MsgGetBeamSettings          uint32 = 3
	MsgSetBeamSettings          uint32 = 4
	MsgMoveStageAbsolute        uint32 = 5
	MsgMoveStageRelative        uint32 = 6
	MsgMoveFlatToBeam           uint32 = 7
	MsgGetState                 uint32 = 8
	MsgSetState                 uint32 = 9
	MsgInsertManipulator        uint32 = 10
	MsgRetractManipulator       uint32 = 11
	MsgMoveManipulatorRelative  uint32 = 12
	MsgMoveManipulatorCorrected uint32 = 13
	MsgAcquireImage             uint32 = 14
	MsgChamberImage             uint32 = 15
)

// Field IDs.
const (
	FieldBeamType   uint16 = 1
	FieldPresetName uint16 = 2
	FieldDX         uint16 = 3
	FieldDY         uint16 = 4

	FieldStageX        uint16 = 10
	FieldStageY        uint16 = 11
	FieldStageZ        uint16 = 12
	FieldStageRotation uint16 = 13
	FieldStageTilt     uint16 = 14

	FieldState         uint16 = 20
	FieldBeamSettings  uint16 = 21
	FieldImageSettings uint16 = 22

	FieldImageData   uint16 = 30
	FieldImageWidth  uint16 = 31
	FieldImageHeight uint16 = 32
	FieldPixelSize   uint16 = 33
	FieldImageMeta   uint16 = 34

	FieldErrorCode    uint16 = 40
	FieldErrorMessage uint16 = 41
	FieldStatus       uint16 = 42
)

// Error codes carried in error responses.
const (
	CodeInvalidRequest  uint32 = 1
	CodeUnknownMessage  uint32 = 2
	CodeOutOfLimits     uint32 = 3
	CodeUnknownPreset   uint32 = 4
	CodeNotInserted     uint32 = 5
	CodeInternalFailure uint32 = 6
)

type Requirement struct {
	ID   uint16
	Type uint8
}

type ValidationError struct {
	MessageType uint32
	FieldID     uint16
	Reason      string
}

func (e ValidationError) Error() string {
	if e.FieldID == 0 {
		return fmt.Sprintf("schema: message_type=%d: %s", e.MessageType, e.Reason)
	}
	return fmt.Sprintf("schema: message_type=%d field=%d: %s", e.MessageType, e.FieldID, e.Reason)
}

var stageFields = []Requirement{
	{FieldStageX, tlv.TypeF64},
	{FieldStageY, tlv.TypeF64},
	{FieldStageZ, tlv.TypeF64},
	{FieldStageRotation, tlv.TypeF64},
	{FieldStageTilt, tlv.TypeF64},
}

var requirements = map[uint32][]Requirement{
	MsgHello:              nil,
	MsgApplyConfiguration: nil,
	MsgGetBeamSettings: {
		{FieldBeamType, tlv.TypeU8},
	},
	MsgSetBeamSettings: {
		{FieldBeamSettings, tlv.TypeBytes},
	},
	MsgMoveStageAbsolute: stageFields,
	MsgMoveStageRelative: stageFields,
	MsgMoveFlatToBeam: {
		{FieldBeamType, tlv.TypeU8},
	},
	MsgGetState: nil,
	MsgSetState: {
		{FieldState, tlv.TypeBytes},
	},
	MsgInsertManipulator: {
		{FieldPresetName, tlv.TypeString},
	},
	MsgRetractManipulator: nil,
	MsgMoveManipulatorRelative: {
		{FieldDX, tlv.TypeF64},
		{FieldDY, tlv.TypeF64},
	},
	MsgMoveManipulatorCorrected: {
		{FieldDX, tlv.TypeF64},
		{FieldDY, tlv.TypeF64},
		{FieldBeamType, tlv.TypeU8},
	},
	MsgAcquireImage: {
		{FieldImageSettings, tlv.TypeBytes},
	},
	MsgChamberImage: nil,
}

// Known reports whether the message type is part of the contract.
func Known(messageType uint32) bool {
	_, ok := requirements[messageType]
	return ok
}

// Validate checks that every required field for the message type is
// present with the contracted TLV type.
func Validate(messageType uint32, fields []tlv.Field) error {
	reqs, ok := requirements[messageType]
	if !ok {
		return ValidationError{MessageType: messageType, Reason: "unknown message type"}
	}
	for _, req := range reqs {
		f, found := tlv.GetField(fields, req.ID)
		if !found {
			return ValidationError{MessageType: messageType, FieldID: req.ID, Reason: "missing required field"}
		}
		if f.Type != req.Type {
			return ValidationError{
				MessageType: messageType,
				FieldID:     req.ID,
				Reason:      fmt.Sprintf("type mismatch: got %d want %d", f.Type, req.Type),
			}
		}
	}
	return nil
}

// OperationName returns a stable label for logs and metrics.
func OperationName(messageType uint32) string {
	switch messageType {
	case MsgHello:
		return "hello"
	case MsgApplyConfiguration:
		return "apply_configuration"
	case MsgGetBeamSettings:
		return "get_beam_settings"
	case MsgSetBeamSettings:
		return "set_beam_settings"
	case MsgMoveStageAbsolute:
		return "move_stage_absolute"
	case MsgMoveStageRelative:
		return "move_stage_relative"
	case MsgMoveFlatToBeam:
		return "move_flat_to_beam"
	case MsgGetState:
		return "get_state"
	case MsgSetState:
		return "set_state"
	case MsgInsertManipulator:
		return "insert_manipulator"
	case MsgRetractManipulator:
		return "retract_manipulator"
	case MsgMoveManipulatorRelative:
		return "move_manipulator_relative"
	case MsgMoveManipulatorCorrected:
		return "move_manipulator_corrected"
	case MsgAcquireImage:
		return "acquire_image"
	case MsgChamberImage:
		return "chamber_image"
	default:
		return "unknown"
	}
}
