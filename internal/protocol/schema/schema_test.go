package schema

import (
	"errors"
	"testing"

	"github.com/openfibsem/gofibsem/internal/protocol/tlv"
)

func TestValidateRequiredFields(t *testing.T) {
	cases := []struct {
		name    string
		msgType uint32
		fields  []tlv.Field
		ok      bool
	}{
		{"hello no fields", MsgHello, nil, true},
		{"flat to beam complete", MsgMoveFlatToBeam, []tlv.Field{tlv.U8(FieldBeamType, 1)}, true},
		{"flat to beam missing beam", MsgMoveFlatToBeam, nil, false},
		{"stage move complete", MsgMoveStageAbsolute, []tlv.Field{
			tlv.F64(FieldStageX, 0),
			tlv.F64(FieldStageY, 0),
			tlv.F64(FieldStageZ, 0),
			tlv.F64(FieldStageRotation, 0),
			tlv.F64(FieldStageTilt, 0),
		}, true},
		{"stage move missing tilt", MsgMoveStageRelative, []tlv.Field{
			tlv.F64(FieldStageX, 0),
			tlv.F64(FieldStageY, 0),
			tlv.F64(FieldStageZ, 0),
			tlv.F64(FieldStageRotation, 0),
		}, false},
		{"corrected move complete", MsgMoveManipulatorCorrected, []tlv.Field{
			tlv.F64(FieldDX, 1e-6),
			tlv.F64(FieldDY, 1e-6),
			tlv.U8(FieldBeamType, 2),
		}, true},
		{"wrong field type", MsgInsertManipulator, []tlv.Field{
			tlv.U32(FieldPresetName, 1),
		}, false},
		{"unknown message type", 999, nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.msgType, tc.fields)
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected validation error")
			}
			if err != nil {
				var verr ValidationError
				if !errors.As(err, &verr) {
					t.Fatalf("expected ValidationError, got %T", err)
				}
			}
		})
	}
}

func TestKnown(t *testing.T) {
	for msgType := MsgHello; msgType <= MsgChamberImage; msgType++ {
		if !Known(msgType) {
			t.Fatalf("message type %d should be known", msgType)
		}
	}
	if Known(0) || Known(MsgChamberImage+1) {
		t.Fatalf("unexpected message types marked known")
	}
}

func TestOperationNames(t *testing.T) {
	for msgType := MsgHello; msgType <= MsgChamberImage; msgType++ {
		if OperationName(msgType) == "unknown" {
			t.Fatalf("message type %d has no operation name", msgType)
		}
	}
	if OperationName(999) != "unknown" {
		t.Fatalf("unexpected name for unknown type")
	}
}
