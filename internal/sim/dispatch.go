package sim

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfibsem/gofibsem/internal/observability"
	"github.com/openfibsem/gofibsem/internal/protocol/frame"
	"github.com/openfibsem/gofibsem/internal/protocol/schema"
	"github.com/openfibsem/gofibsem/internal/protocol/tlv"
	"github.com/openfibsem/gofibsem/internal/structures"
)

// dispatch maps one request frame onto the instrument model and builds
// the response frame. Every response echoes the request MessageID and
// MessageType with the response flag set.
func (s *Service) dispatch(req frame.Frame) frame.Frame {
	start := time.Now()
	op := schema.OperationName(req.Header.MessageType)

	resp, err := s.handle(req)
	status := "ok"
	if err != nil {
		status = "error"
		resp = errorResponse(req, err)
		log.Warn().Err(err).Str("op", op).Msg("sim command failed")
	}
	observability.RecordCommand(op, status, time.Since(start))
	return resp
}

func (s *Service) handle(req frame.Frame) (frame.Frame, error) {
	fields, err := tlv.DecodeFields(req.Payload)
	if err != nil {
		return frame.Frame{}, err
	}
	if err := schema.Validate(req.Header.MessageType, fields); err != nil {
		return frame.Frame{}, err
	}

	in := s.instrument
	switch req.Header.MessageType {
	case schema.MsgApplyConfiguration:
		in.ApplyConfiguration()
		return okResponse(req, nil), nil

	case schema.MsgGetBeamSettings:
		beam, err := beamField(fields)
		if err != nil {
			return frame.Frame{}, err
		}
		settings, err := in.BeamSettings(beam)
		if err != nil {
			return frame.Frame{}, err
		}
		data, err := json.Marshal(settings)
		if err != nil {
			return frame.Frame{}, err
		}
		return okResponse(req, []tlv.Field{tlv.Bytes(schema.FieldBeamSettings, data)}), nil

	case schema.MsgSetBeamSettings:
		raw, _ := tlv.GetField(fields, schema.FieldBeamSettings)
		data, err := raw.Bytes()
		if err != nil {
			return frame.Frame{}, err
		}
		var settings structures.BeamSettings
		if err := json.Unmarshal(data, &settings); err != nil {
			return frame.Frame{}, err
		}
		if err := in.SetBeamSettings(settings); err != nil {
			return frame.Frame{}, err
		}
		return okResponse(req, nil), nil

	case schema.MsgMoveStageAbsolute, schema.MsgMoveStageRelative:
		pos, err := stageFromFields(fields)
		if err != nil {
			return frame.Frame{}, err
		}
		if req.Header.MessageType == schema.MsgMoveStageAbsolute {
			err = in.MoveStageAbsolute(pos)
		} else {
			err = in.MoveStageRelative(pos)
		}
		if err != nil {
			return frame.Frame{}, err
		}
		return okResponse(req, stageToFields(in.StagePosition())), nil

	case schema.MsgMoveFlatToBeam:
		beam, err := beamField(fields)
		if err != nil {
			return frame.Frame{}, err
		}
		if err := in.MoveFlatToBeam(beam); err != nil {
			return frame.Frame{}, err
		}
		return okResponse(req, stageToFields(in.StagePosition())), nil

	case schema.MsgGetState:
		data, err := structures.EncodeState(in.State())
		if err != nil {
			return frame.Frame{}, err
		}
		return okResponse(req, []tlv.Field{tlv.Bytes(schema.FieldState, data)}), nil

	case schema.MsgSetState:
		raw, _ := tlv.GetField(fields, schema.FieldState)
		data, err := raw.Bytes()
		if err != nil {
			return frame.Frame{}, err
		}
		state, err := structures.DecodeState(data)
		if err != nil {
			return frame.Frame{}, err
		}
		if err := in.RestoreState(state); err != nil {
			return frame.Frame{}, err
		}
		return okResponse(req, nil), nil

	case schema.MsgInsertManipulator:
		raw, _ := tlv.GetField(fields, schema.FieldPresetName)
		name, err := raw.String()
		if err != nil {
			return frame.Frame{}, err
		}
		if err := in.InsertManipulator(name); err != nil {
			return frame.Frame{}, err
		}
		return okResponse(req, nil), nil

	case schema.MsgRetractManipulator:
		if err := in.RetractManipulator(); err != nil {
			return frame.Frame{}, err
		}
		return okResponse(req, nil), nil

	case schema.MsgMoveManipulatorRelative, schema.MsgMoveManipulatorCorrected:
		dxField, _ := tlv.GetField(fields, schema.FieldDX)
		dyField, _ := tlv.GetField(fields, schema.FieldDY)
		dx, err := dxField.F64()
		if err != nil {
			return frame.Frame{}, err
		}
		dy, err := dyField.F64()
		if err != nil {
			return frame.Frame{}, err
		}
		if req.Header.MessageType == schema.MsgMoveManipulatorCorrected {
			beam, err := beamField(fields)
			if err != nil {
				return frame.Frame{}, err
			}
			err = in.MoveManipulatorCorrected(dx, dy, beam)
			if err != nil {
				return frame.Frame{}, err
			}
		} else if err := in.MoveManipulatorRelative(dx, dy, 0); err != nil {
			return frame.Frame{}, err
		}
		return okResponse(req, nil), nil

	case schema.MsgAcquireImage:
		raw, _ := tlv.GetField(fields, schema.FieldImageSettings)
		data, err := raw.Bytes()
		if err != nil {
			return frame.Frame{}, err
		}
		var settings structures.ImageSettings
		if err := json.Unmarshal(data, &settings); err != nil {
			return frame.Frame{}, err
		}
		img, err := in.AcquireImage(settings)
		if err != nil {
			return frame.Frame{}, err
		}
		observability.RecordAcquisition(settings.BeamType.String())
		return imageResponse(req, img)

	case schema.MsgChamberImage:
		img, err := in.AcquireChamberImage()
		if err != nil {
			return frame.Frame{}, err
		}
		return imageResponse(req, img)

	default:
		return frame.Frame{}, schema.ValidationError{
			MessageType: req.Header.MessageType,
			Reason:      "unknown message type",
		}
	}
}

func beamField(fields []tlv.Field) (structures.BeamType, error) {
	f, _ := tlv.GetField(fields, schema.FieldBeamType)
	v, err := f.U8()
	if err != nil {
		return 0, err
	}
	beam := structures.BeamType(v)
	if !beam.Valid() {
		return 0, ErrInvalidBeam
	}
	return beam, nil
}

func stageFromFields(fields []tlv.Field) (structures.StagePosition, error) {
	var pos structures.StagePosition
	for _, spec := range []struct {
		id  uint16
		dst *float64
	}{
		{schema.FieldStageX, &pos.X},
		{schema.FieldStageY, &pos.Y},
		{schema.FieldStageZ, &pos.Z},
		{schema.FieldStageRotation, &pos.Rotation},
		{schema.FieldStageTilt, &pos.Tilt},
	} {
		f, _ := tlv.GetField(fields, spec.id)
		v, err := f.F64()
		if err != nil {
			return structures.StagePosition{}, err
		}
		*spec.dst = v
	}
	return pos, nil
}

func stageToFields(pos structures.StagePosition) []tlv.Field {
	return []tlv.Field{
		tlv.F64(schema.FieldStageX, pos.X),
		tlv.F64(schema.FieldStageY, pos.Y),
		tlv.F64(schema.FieldStageZ, pos.Z),
		tlv.F64(schema.FieldStageRotation, pos.Rotation),
		tlv.F64(schema.FieldStageTilt, pos.Tilt),
	}
}

func okResponse(req frame.Frame, fields []tlv.Field) frame.Frame {
	return frame.Frame{
		Header: frame.Header{
			MessageID:   req.Header.MessageID,
			MessageType: req.Header.MessageType,
			Flags:       frame.FlagIsResponse,
		},
		Payload: tlv.EncodeFields(fields),
	}
}

func imageResponse(req frame.Frame, img *structures.FibsemImage) (frame.Frame, error) {
	meta, err := json.Marshal(img.Metadata)
	if err != nil {
		return frame.Frame{}, err
	}
	fields := []tlv.Field{
		tlv.Bytes(schema.FieldImageData, img.Data),
		tlv.U32(schema.FieldImageWidth, uint32(img.Width)),
		tlv.U32(schema.FieldImageHeight, uint32(img.Height)),
		tlv.F64(schema.FieldPixelSize, img.Metadata.PixelSize),
		tlv.Bytes(schema.FieldImageMeta, meta),
	}
	return okResponse(req, fields), nil
}

func errorResponse(req frame.Frame, err error) frame.Frame {
	code := schema.CodeInternalFailure
	switch {
	case errors.Is(err, ErrOutOfLimits):
		code = schema.CodeOutOfLimits
	case errors.Is(err, ErrUnknownPreset):
		code = schema.CodeUnknownPreset
	case errors.Is(err, ErrNotInserted), errors.Is(err, ErrAlreadyInserted):
		code = schema.CodeNotInserted
	case errors.Is(err, ErrInvalidBeam), errors.Is(err, structures.ErrInvalidSettings),
		errors.Is(err, structures.ErrInvalidResolution), errors.Is(err, structures.ErrUnknownBeamType):
		code = schema.CodeInvalidRequest
	default:
		var verr schema.ValidationError
		if errors.As(err, &verr) {
			code = schema.CodeInvalidRequest
			if verr.Reason == "unknown message type" {
				code = schema.CodeUnknownMessage
			}
		}
	}
	fields := []tlv.Field{
		tlv.U32(schema.FieldErrorCode, code),
		tlv.String(schema.FieldErrorMessage, err.Error()),
	}
	return frame.Frame{
		Header: frame.Header{
			MessageID:   req.Header.MessageID,
			MessageType: req.Header.MessageType,
			Flags:       frame.FlagIsResponse | frame.FlagIsError,
		},
		Payload: tlv.EncodeFields(fields),
	}
}
