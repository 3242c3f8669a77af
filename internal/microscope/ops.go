package microscope

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openfibsem/gofibsem/internal/protocol/schema"
	"github.com/openfibsem/gofibsem/internal/protocol/tlv"
	"github.com/openfibsem/gofibsem/internal/structures"
)

// ApplyConfiguration pushes the stored profile into the instrument
// registers.
func (c *Client) ApplyConfiguration(ctx context.Context) error {
	_, err := c.request(ctx, schema.MsgApplyConfiguration, nil, c.cfg.Session.ReadTimeout)
	return err
}

// GetBeamSystemSettings reads the register set of the named column.
func (c *Client) GetBeamSystemSettings(ctx context.Context, beam structures.BeamType) (structures.BeamSettings, error) {
	fields := []tlv.Field{tlv.U8(schema.FieldBeamType, uint8(beam))}
	resp, err := c.request(ctx, schema.MsgGetBeamSettings, fields, c.cfg.Session.ReadTimeout)
	if err != nil {
		return structures.BeamSettings{}, err
	}
	raw, ok := tlv.GetField(resp, schema.FieldBeamSettings)
	if !ok {
		return structures.BeamSettings{}, fmt.Errorf("%w: missing beam settings", ErrBadResponse)
	}
	data, err := raw.Bytes()
	if err != nil {
		return structures.BeamSettings{}, err
	}
	var settings structures.BeamSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return structures.BeamSettings{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return settings, nil
}

// SetBeamSystemSettings overwrites the register set of the column
// named inside the settings record.
func (c *Client) SetBeamSystemSettings(ctx context.Context, settings structures.BeamSettings) error {
	data, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	fields := []tlv.Field{tlv.Bytes(schema.FieldBeamSettings, data)}
	_, err = c.request(ctx, schema.MsgSetBeamSettings, fields, c.cfg.Session.ReadTimeout)
	return err
}

// MoveStageAbsolute drives the stage to an absolute pose and returns
// the pose reported after the move.
func (c *Client) MoveStageAbsolute(ctx context.Context, pos structures.StagePosition) (structures.StagePosition, error) {
	return c.moveStage(ctx, schema.MsgMoveStageAbsolute, pos)
}

// MoveStageRelative offsets the stage by rel.
func (c *Client) MoveStageRelative(ctx context.Context, rel structures.StagePosition) (structures.StagePosition, error) {
	return c.moveStage(ctx, schema.MsgMoveStageRelative, rel)
}

func (c *Client) moveStage(ctx context.Context, msgType uint32, pos structures.StagePosition) (structures.StagePosition, error) {
	fields := []tlv.Field{
		tlv.F64(schema.FieldStageX, pos.X),
		tlv.F64(schema.FieldStageY, pos.Y),
		tlv.F64(schema.FieldStageZ, pos.Z),
		tlv.F64(schema.FieldStageRotation, pos.Rotation),
		tlv.F64(schema.FieldStageTilt, pos.Tilt),
	}
	resp, err := c.request(ctx, msgType, fields, c.cfg.Session.ReadTimeout)
	if err != nil {
		return structures.StagePosition{}, err
	}
	return stagePositionFromFields(resp)
}

// MoveFlatToBeam orients the stage so the sample surface faces the
// named column, returning the resulting pose.
func (c *Client) MoveFlatToBeam(ctx context.Context, beam structures.BeamType) (structures.StagePosition, error) {
	fields := []tlv.Field{tlv.U8(schema.FieldBeamType, uint8(beam))}
	resp, err := c.request(ctx, schema.MsgMoveFlatToBeam, fields, c.cfg.Session.ReadTimeout)
	if err != nil {
		return structures.StagePosition{}, err
	}
	return stagePositionFromFields(resp)
}

// GetMicroscopeState snapshots the instrument condition.
func (c *Client) GetMicroscopeState(ctx context.Context) (structures.MicroscopeState, error) {
	resp, err := c.request(ctx, schema.MsgGetState, nil, c.cfg.Session.ReadTimeout)
	if err != nil {
		return structures.MicroscopeState{}, err
	}
	raw, ok := tlv.GetField(resp, schema.FieldState)
	if !ok {
		return structures.MicroscopeState{}, fmt.Errorf("%w: missing state", ErrBadResponse)
	}
	data, err := raw.Bytes()
	if err != nil {
		return structures.MicroscopeState{}, err
	}
	return structures.DecodeState(data)
}

// SetMicroscopeState restores a previously captured snapshot.
func (c *Client) SetMicroscopeState(ctx context.Context, state structures.MicroscopeState) error {
	data, err := structures.EncodeState(state)
	if err != nil {
		return err
	}
	fields := []tlv.Field{tlv.Bytes(schema.FieldState, data)}
	_, err = c.request(ctx, schema.MsgSetState, fields, c.cfg.Session.ReadTimeout)
	return err
}

// InsertManipulator drives the manipulator to a named preset.
func (c *Client) InsertManipulator(ctx context.Context, presetName string) error {
	fields := []tlv.Field{tlv.String(schema.FieldPresetName, presetName)}
	_, err := c.request(ctx, schema.MsgInsertManipulator, fields, c.cfg.Session.ReadTimeout)
	return err
}

// RetractManipulator parks the manipulator.
func (c *Client) RetractManipulator(ctx context.Context) error {
	_, err := c.request(ctx, schema.MsgRetractManipulator, nil, c.cfg.Session.ReadTimeout)
	return err
}

// MoveManipulatorRelative offsets the manipulator in chamber axes.
func (c *Client) MoveManipulatorRelative(ctx context.Context, dx, dy float64) error {
	fields := []tlv.Field{
		tlv.F64(schema.FieldDX, dx),
		tlv.F64(schema.FieldDY, dy),
	}
	_, err := c.request(ctx, schema.MsgMoveManipulatorRelative, fields, c.cfg.Session.ReadTimeout)
	return err
}

// MoveManipulatorCorrected applies an image-plane relative move with
// the beam-dependent axis correction performed instrument-side.
func (c *Client) MoveManipulatorCorrected(ctx context.Context, dx, dy float64, beam structures.BeamType) error {
	fields := []tlv.Field{
		tlv.F64(schema.FieldDX, dx),
		tlv.F64(schema.FieldDY, dy),
		tlv.U8(schema.FieldBeamType, uint8(beam)),
	}
	_, err := c.request(ctx, schema.MsgMoveManipulatorCorrected, fields, c.cfg.Session.ReadTimeout)
	return err
}

// AcquireImage scans one frame with the given settings.
func (c *Client) AcquireImage(ctx context.Context, settings structures.ImageSettings) (*structures.FibsemImage, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(settings)
	if err != nil {
		return nil, err
	}
	fields := []tlv.Field{tlv.Bytes(schema.FieldImageSettings, data)}
	resp, err := c.request(ctx, schema.MsgAcquireImage, fields, c.cfg.Session.AcquireTimeout)
	if err != nil {
		return nil, err
	}
	return imageFromFields(resp)
}

// AcquireChamberImage returns a frame from the chamber camera.
func (c *Client) AcquireChamberImage(ctx context.Context) (*structures.FibsemImage, error) {
	resp, err := c.request(ctx, schema.MsgChamberImage, nil, c.cfg.Session.AcquireTimeout)
	if err != nil {
		return nil, err
	}
	return imageFromFields(resp)
}

func stagePositionFromFields(fields []tlv.Field) (structures.StagePosition, error) {
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
		f, ok := tlv.GetField(fields, spec.id)
		if !ok {
			return structures.StagePosition{}, fmt.Errorf("%w: missing stage field %d", ErrBadResponse, spec.id)
		}
		v, err := f.F64()
		if err != nil {
			return structures.StagePosition{}, err
		}
		*spec.dst = v
	}
	return pos, nil
}

func imageFromFields(fields []tlv.Field) (*structures.FibsemImage, error) {
	dataField, ok := tlv.GetField(fields, schema.FieldImageData)
	if !ok {
		return nil, fmt.Errorf("%w: missing image data", ErrBadResponse)
	}
	data, err := dataField.Bytes()
	if err != nil {
		return nil, err
	}
	widthField, _ := tlv.GetField(fields, schema.FieldImageWidth)
	width, err := widthField.U32()
	if err != nil {
		return nil, err
	}
	heightField, _ := tlv.GetField(fields, schema.FieldImageHeight)
	height, err := heightField.U32()
	if err != nil {
		return nil, err
	}
	var md structures.ImageMetadata
	if metaField, ok := tlv.GetField(fields, schema.FieldImageMeta); ok {
		raw, err := metaField.Bytes()
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &md); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
	}
	return structures.NewFibsemImage(data, int(width), int(height), md)
}
