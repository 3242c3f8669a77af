// Package sim implements a simulated dual-beam instrument endpoint:
// a kinematic stage and manipulator model, per-column beam registers,
// synthetic image generation, and the TCP service speaking the
// instrument control protocol.
package sim

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/openfibsem/gofibsem/internal/config"
	"github.com/openfibsem/gofibsem/internal/structures"
)

var (
	ErrOutOfLimits      = errors.New("sim: move outside stage limits")
	ErrUnknownPreset    = errors.New("sim: unknown manipulator preset")
	ErrNotInserted      = errors.New("sim: manipulator not inserted")
	ErrAlreadyInserted  = errors.New("sim: manipulator already inserted")
	ErrInvalidBeam      = errors.New("sim: invalid beam type")
	ErrInvalidImageSpec = errors.New("sim: invalid image settings")
)

// Instrument is the in-memory hardware model. All methods are
// synchronous and safe for concurrent use; the mutex stands in for the
// single command channel of the physical instrument.
type Instrument struct {
	mu sync.Mutex

	profile config.Settings

	stage       structures.StagePosition
	manipulator structures.ManipulatorState
	electron    structures.BeamSettings
	ion         structures.BeamSettings
	electronDet structures.DetectorSettings
	ionDet      structures.DetectorSettings

	configApplied bool
	frameCounter  uint64
}

// NewInstrument builds an instrument at its home pose with cold
// registers. ApplyConfiguration pushes the profile into them.
func NewInstrument(profile config.Settings) *Instrument {
	inst := &Instrument{profile: profile}
	inst.electron = structures.BeamSettings{BeamType: structures.BeamTypeElectron}
	inst.ion = structures.BeamSettings{BeamType: structures.BeamTypeIon}
	inst.manipulator = structures.ManipulatorState{Inserted: false}
	if park, ok := profile.Manipulator.Presets["PARK"]; ok {
		inst.manipulator.Position = structures.ManipulatorPosition{X: park.X, Y: park.Y, Z: park.Z}
	}
	return inst
}

// ApplyConfiguration loads the profile defaults into the beam and
// detector registers, as the vendor configuration push would.
func (in *Instrument) ApplyConfiguration() {
	in.mu.Lock()
	defer in.mu.Unlock()

	for _, beam := range []structures.BeamType{structures.BeamTypeElectron, structures.BeamTypeIon} {
		bc := in.profile.Beam(beam)
		settings := structures.BeamSettings{
			BeamType:        beam,
			Voltage:         bc.Voltage,
			BeamCurrent:     bc.BeamCurrent,
			WorkingDistance: bc.WorkingDistance,
			HFW:             bc.HFW,
			Resolution:      structures.Resolution{Width: in.profile.Imaging.Width, Height: in.profile.Imaging.Height},
			DwellTime:       in.profile.Imaging.DwellTime,
		}
		det := structures.DetectorSettings{
			Type:       bc.DetectorType,
			Mode:       bc.DetectorMode,
			Brightness: 0.5,
			Contrast:   0.5,
		}
		in.setBeamLocked(beam, settings)
		in.setDetectorLocked(beam, det)
	}
	in.configApplied = true
}

// ConfigApplied reports whether ApplyConfiguration has run.
func (in *Instrument) ConfigApplied() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.configApplied
}

// BeamSettings returns the register set for the named column.
func (in *Instrument) BeamSettings(beam structures.BeamType) (structures.BeamSettings, error) {
	if !beam.Valid() {
		return structures.BeamSettings{}, fmt.Errorf("%w: %d", ErrInvalidBeam, uint8(beam))
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.beamLocked(beam), nil
}

// SetBeamSettings overwrites the register set for the column named in
// the settings record.
func (in *Instrument) SetBeamSettings(settings structures.BeamSettings) error {
	if !settings.BeamType.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidBeam, uint8(settings.BeamType))
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	in.setBeamLocked(settings.BeamType, settings)
	return nil
}

// StagePosition returns the current stage pose.
func (in *Instrument) StagePosition() structures.StagePosition {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.stage
}

// MoveStageAbsolute drives the stage to pos, bounded by the profile
// travel and tilt limits.
func (in *Instrument) MoveStageAbsolute(pos structures.StagePosition) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if err := in.checkStageLimits(pos); err != nil {
		return err
	}
	pos.Rotation = normalizeAngle(pos.Rotation)
	in.stage = pos
	return nil
}

// MoveStageRelative offsets the stage by rel.
func (in *Instrument) MoveStageRelative(rel structures.StagePosition) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	target := in.stage.Add(rel)
	if err := in.checkStageLimits(target); err != nil {
		return err
	}
	target.Rotation = normalizeAngle(target.Rotation)
	in.stage = target
	return nil
}

// MoveFlatToBeam orients the sample surface perpendicular to the named
// column: the rotation reference for that beam, and a tilt that
// compensates the shuttle pretilt (electron: tilt = pretilt; ion:
// tilt = column tilt - pretilt).
func (in *Instrument) MoveFlatToBeam(beam structures.BeamType) error {
	if !beam.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidBeam, uint8(beam))
	}
	in.mu.Lock()
	defer in.mu.Unlock()

	stage := in.profile.Stage
	var tilt float64
	if beam == structures.BeamTypeIon {
		tilt = stage.ColumnTiltRad(beam) - stage.PretiltRad()
	} else {
		tilt = stage.PretiltRad()
	}

	target := in.stage
	target.Rotation = normalizeAngle(stage.RotationFlatToRad(beam))
	target.Tilt = tilt
	if err := in.checkStageLimits(target); err != nil {
		return err
	}
	in.stage = target
	return nil
}

// InsertManipulator drives the manipulator to a named preset pose.
func (in *Instrument) InsertManipulator(name string) error {
	key := strings.ToUpper(strings.TrimSpace(name))
	in.mu.Lock()
	defer in.mu.Unlock()
	preset, ok := in.profile.Manipulator.Presets[key]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPreset, name)
	}
	if in.manipulator.Inserted {
		return fmt.Errorf("%w: retract before re-insert", ErrAlreadyInserted)
	}
	in.manipulator = structures.ManipulatorState{
		Position: structures.ManipulatorPosition{X: preset.X, Y: preset.Y, Z: preset.Z},
		Inserted: true,
	}
	return nil
}

// RetractManipulator parks the manipulator.
func (in *Instrument) RetractManipulator() error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.manipulator.Inserted {
		return ErrNotInserted
	}
	in.manipulator.Inserted = false
	if park, ok := in.profile.Manipulator.Presets["PARK"]; ok {
		in.manipulator.Position = structures.ManipulatorPosition{X: park.X, Y: park.Y, Z: park.Z}
	}
	return nil
}

// MoveManipulatorRelative offsets the manipulator in chamber axes.
func (in *Instrument) MoveManipulatorRelative(dx, dy, dz float64) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.manipulator.Inserted {
		return ErrNotInserted
	}
	in.manipulator.Position.X += dx
	in.manipulator.Position.Y += dy
	in.manipulator.Position.Z += dz
	return nil
}

// MoveManipulatorCorrected applies an image-plane relative move with a
// beam-dependent axis correction: the electron view maps dy onto the
// chamber Y axis, the ion view onto Z, because the ion column looks
// down at the sample from its tilted axis.
func (in *Instrument) MoveManipulatorCorrected(dx, dy float64, beam structures.BeamType) error {
	if !beam.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidBeam, uint8(beam))
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.manipulator.Inserted {
		return ErrNotInserted
	}
	in.manipulator.Position.X += dx
	if beam == structures.BeamTypeIon {
		in.manipulator.Position.Z += dy
	} else {
		in.manipulator.Position.Y += dy
	}
	return nil
}

// ManipulatorState returns the manipulator pose and insertion status.
func (in *Instrument) ManipulatorState() structures.ManipulatorState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.manipulator
}

// State snapshots the full instrument condition.
func (in *Instrument) State() structures.MicroscopeState {
	in.mu.Lock()
	defer in.mu.Unlock()
	return structures.MicroscopeState{
		Timestamp:        time.Now().UTC(),
		Stage:            in.stage,
		Electron:         in.electron,
		Ion:              in.ion,
		ElectronDetector: in.electronDet,
		IonDetector:      in.ionDet,
		Manipulator:      in.manipulator,
	}
}

// RestoreState drives the instrument back to a previous snapshot.
func (in *Instrument) RestoreState(state structures.MicroscopeState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	if err := in.checkStageLimits(state.Stage); err != nil {
		return err
	}
	in.stage = state.Stage
	in.electron = state.Electron
	in.ion = state.Ion
	in.electronDet = state.ElectronDetector
	in.ionDet = state.IonDetector
	in.manipulator = state.Manipulator
	return nil
}

func (in *Instrument) beamLocked(beam structures.BeamType) structures.BeamSettings {
	if beam == structures.BeamTypeIon {
		return in.ion
	}
	return in.electron
}

func (in *Instrument) setBeamLocked(beam structures.BeamType, settings structures.BeamSettings) {
	settings.BeamType = beam
	if beam == structures.BeamTypeIon {
		in.ion = settings
		return
	}
	in.electron = settings
}

func (in *Instrument) setDetectorLocked(beam structures.BeamType, det structures.DetectorSettings) {
	if beam == structures.BeamTypeIon {
		in.ionDet = det
		return
	}
	in.electronDet = det
}

func (in *Instrument) checkStageLimits(pos structures.StagePosition) error {
	for _, v := range []float64{pos.X, pos.Y, pos.Z, pos.Rotation, pos.Tilt} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: pose contains a non-finite coordinate", ErrOutOfLimits)
		}
	}
	limit := in.profile.Stage.TravelLimit
	if math.Abs(pos.X) > limit || math.Abs(pos.Y) > limit || math.Abs(pos.Z) > limit {
		return fmt.Errorf("%w: position (%.4g, %.4g, %.4g) exceeds travel %.4g",
			ErrOutOfLimits, pos.X, pos.Y, pos.Z, limit)
	}
	if pos.Tilt < in.profile.Stage.TiltMinRad() || pos.Tilt > in.profile.Stage.TiltMaxRad() {
		return fmt.Errorf("%w: tilt %.4g outside [%.4g, %.4g]",
			ErrOutOfLimits, pos.Tilt, in.profile.Stage.TiltMinRad(), in.profile.Stage.TiltMaxRad())
	}
	return nil
}

// normalizeAngle wraps an angle into (-pi, pi].
func normalizeAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a > math.Pi {
		a -= 2 * math.Pi
	} else if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}
