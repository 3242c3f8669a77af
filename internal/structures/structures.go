// Package structures defines the typed records shared by the client,
// the simulated instrument endpoint, and the workflow layer: stage and
// manipulator positions, beam and imaging settings, microscope state
// snapshots, and acquired images.
package structures

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

var (
	ErrInvalidResolution = errors.New("structures: invalid resolution")
	ErrInvalidSettings   = errors.New("structures: invalid settings")
)

// Point is a 2D position in metres, relative to the image centre.
type Point struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
}

// Add returns the component-wise sum of two points.
func (p Point) Add(q Point) Point {
	return Point{X: p.X + q.X, Y: p.Y + q.Y}
}

// Distance returns the euclidean distance to q.
func (p Point) Distance(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// StagePosition is an absolute stage pose. Linear axes in metres,
// angular axes in radians.
type StagePosition struct {
	X                float64 `yaml:"x" json:"x"`
	Y                float64 `yaml:"y" json:"y"`
	Z                float64 `yaml:"z" json:"z"`
	Rotation         float64 `yaml:"rotation" json:"rotation"`
	Tilt             float64 `yaml:"tilt" json:"tilt"`
	CoordinateSystem string  `yaml:"coordinate_system,omitempty" json:"coordinate_system,omitempty"`
}

// Add returns the pose offset by rel.
func (s StagePosition) Add(rel StagePosition) StagePosition {
	return StagePosition{
		X:                s.X + rel.X,
		Y:                s.Y + rel.Y,
		Z:                s.Z + rel.Z,
		Rotation:         s.Rotation + rel.Rotation,
		Tilt:             s.Tilt + rel.Tilt,
		CoordinateSystem: s.CoordinateSystem,
	}
}

// ManipulatorPosition is an absolute manipulator pose in metres/radians.
type ManipulatorPosition struct {
	X        float64 `yaml:"x" json:"x"`
	Y        float64 `yaml:"y" json:"y"`
	Z        float64 `yaml:"z" json:"z"`
	Rotation float64 `yaml:"rotation" json:"rotation"`
	Tilt     float64 `yaml:"tilt" json:"tilt"`
}

// ManipulatorState is the manipulator pose plus insertion status.
type ManipulatorState struct {
	Position ManipulatorPosition `yaml:"position" json:"position"`
	Inserted bool                `yaml:"inserted" json:"inserted"`
}

// BeamSettings is the register set for one column.
type BeamSettings struct {
	BeamType        BeamType   `yaml:"beam_type" json:"beam_type"`
	WorkingDistance float64    `yaml:"working_distance" json:"working_distance"`
	BeamCurrent     float64    `yaml:"beam_current" json:"beam_current"`
	Voltage         float64    `yaml:"voltage" json:"voltage"`
	HFW             float64    `yaml:"hfw" json:"hfw"`
	Resolution      Resolution `yaml:"resolution" json:"resolution"`
	DwellTime       float64    `yaml:"dwell_time" json:"dwell_time"`
	StigmationX     float64    `yaml:"stigmation_x" json:"stigmation_x"`
	StigmationY     float64    `yaml:"stigmation_y" json:"stigmation_y"`
	ShiftX          float64    `yaml:"shift_x" json:"shift_x"`
	ShiftY          float64    `yaml:"shift_y" json:"shift_y"`
	ScanRotation    float64    `yaml:"scan_rotation" json:"scan_rotation"`
}

// DetectorSettings is the detector register set for one column.
type DetectorSettings struct {
	Type       string  `yaml:"type" json:"type"`
	Mode       string  `yaml:"mode" json:"mode"`
	Brightness float64 `yaml:"brightness" json:"brightness"`
	Contrast   float64 `yaml:"contrast" json:"contrast"`
}

// Resolution is a scan raster size in pixels.
type Resolution struct {
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`
}

func (r Resolution) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidResolution, r.Width, r.Height)
	}
	return nil
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ImageSettings carries the acquisition parameters for one frame.
type ImageSettings struct {
	Resolution   Resolution `yaml:"resolution" json:"resolution"`
	DwellTime    float64    `yaml:"dwell_time" json:"dwell_time"`
	HFW          float64    `yaml:"hfw" json:"hfw"`
	AutoContrast bool       `yaml:"autocontrast" json:"autocontrast"`
	AutoGamma    bool       `yaml:"autogamma" json:"autogamma"`
	Save         bool       `yaml:"save" json:"save"`
	Path         string     `yaml:"path,omitempty" json:"path,omitempty"`
	Filename     string     `yaml:"filename,omitempty" json:"filename,omitempty"`
	BeamType     BeamType   `yaml:"beam_type" json:"beam_type"`
}

func (s ImageSettings) Validate() error {
	if err := s.Resolution.Validate(); err != nil {
		return err
	}
	if s.HFW <= 0 {
		return fmt.Errorf("%w: hfw must be positive", ErrInvalidSettings)
	}
	if s.DwellTime <= 0 {
		return fmt.Errorf("%w: dwell_time must be positive", ErrInvalidSettings)
	}
	if !s.BeamType.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownBeamType, uint8(s.BeamType))
	}
	if s.Save && strings.TrimSpace(s.Filename) == "" {
		return fmt.Errorf("%w: filename required when save is set", ErrInvalidSettings)
	}
	return nil
}

// PixelSize returns the size of one pixel in metres for this raster.
func (s ImageSettings) PixelSize() float64 {
	if s.Resolution.Width <= 0 {
		return 0
	}
	return s.HFW / float64(s.Resolution.Width)
}

// WithBeam returns a copy targeting the given column.
func (s ImageSettings) WithBeam(beam BeamType) ImageSettings {
	s.BeamType = beam
	return s
}

// WithHFW returns a copy at the given horizontal field width.
func (s ImageSettings) WithHFW(hfw float64) ImageSettings {
	s.HFW = hfw
	return s
}

// MicroscopeState is a restorable snapshot of the instrument condition.
type MicroscopeState struct {
	Timestamp        time.Time        `yaml:"timestamp" json:"timestamp"`
	Stage            StagePosition    `yaml:"stage" json:"stage"`
	Electron         BeamSettings     `yaml:"electron_beam" json:"electron_beam"`
	Ion              BeamSettings     `yaml:"ion_beam" json:"ion_beam"`
	ElectronDetector DetectorSettings `yaml:"electron_detector" json:"electron_detector"`
	IonDetector      DetectorSettings `yaml:"ion_detector" json:"ion_detector"`
	Manipulator      ManipulatorState `yaml:"manipulator" json:"manipulator"`
}

// Validate rejects snapshots that were never populated by the
// instrument. A zero timestamp is the marker for an empty record.
func (m MicroscopeState) Validate() error {
	if m.Timestamp.IsZero() {
		return fmt.Errorf("%w: state has zero timestamp", ErrInvalidSettings)
	}
	return nil
}

// BeamFor returns the settings register for the given column.
func (m MicroscopeState) BeamFor(beam BeamType) BeamSettings {
	if beam == BeamTypeIon {
		return m.Ion
	}
	return m.Electron
}
