// Package config loads and validates the microscope profile: the
// connection endpoint, stage geometry and limits, manipulator presets,
// per-column beam defaults, and imaging defaults.
package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/openfibsem/gofibsem/internal/structures"
)

// ConnectionConfig is the instrument endpoint and session identity.
type ConnectionConfig struct {
	Address        string `toml:"address"`
	ClientID       string `toml:"client_id"`
	ConnectTimeout string `toml:"connect_timeout"`
	RequestTimeout string `toml:"request_timeout"`
}

// StageConfig is the stage geometry in degrees and metres. Angles are
// stored in degrees because that is how vendor datasheets quote them;
// use the *Rad accessors for math.
type StageConfig struct {
	PretiltDeg            float64 `toml:"pretilt_deg"`
	ElectronColumnTiltDeg float64 `toml:"electron_column_tilt_deg"`
	IonColumnTiltDeg      float64 `toml:"ion_column_tilt_deg"`
	RotationFlatToElecDeg float64 `toml:"rotation_flat_to_electron_deg"`
	RotationFlatToIonDeg  float64 `toml:"rotation_flat_to_ion_deg"`
	TiltMinDeg            float64 `toml:"tilt_min_deg"`
	TiltMaxDeg            float64 `toml:"tilt_max_deg"`
	TravelLimit           float64 `toml:"travel_limit"`
}

func degToRad(deg float64) float64 { return deg * math.Pi / 180.0 }

func (s StageConfig) PretiltRad() float64 { return degToRad(s.PretiltDeg) }

// ColumnTiltRad returns the tilt of the named column relative to the
// vertical axis of the chamber.
func (s StageConfig) ColumnTiltRad(beam structures.BeamType) float64 {
	if beam == structures.BeamTypeIon {
		return degToRad(s.IonColumnTiltDeg)
	}
	return degToRad(s.ElectronColumnTiltDeg)
}

// RotationFlatToRad returns the stage rotation reference for facing
// the named column.
func (s StageConfig) RotationFlatToRad(beam structures.BeamType) float64 {
	if beam == structures.BeamTypeIon {
		return degToRad(s.RotationFlatToIonDeg)
	}
	return degToRad(s.RotationFlatToElecDeg)
}

func (s StageConfig) TiltMinRad() float64 { return degToRad(s.TiltMinDeg) }
func (s StageConfig) TiltMaxRad() float64 { return degToRad(s.TiltMaxDeg) }

// ManipulatorPreset is one named insertion pose.
type ManipulatorPreset struct {
	X float64 `toml:"x"`
	Y float64 `toml:"y"`
	Z float64 `toml:"z"`
}

// ManipulatorConfig carries the named insertion presets.
type ManipulatorConfig struct {
	Presets map[string]ManipulatorPreset `toml:"presets"`
}

// BeamConfig is the configured default register set for one column.
type BeamConfig struct {
	Voltage         float64 `toml:"voltage"`
	BeamCurrent     float64 `toml:"beam_current"`
	WorkingDistance float64 `toml:"working_distance"`
	HFW             float64 `toml:"hfw"`
	DetectorType    string  `toml:"detector_type"`
	DetectorMode    string  `toml:"detector_mode"`
}

// ImagingConfig is the acquisition default block.
type ImagingConfig struct {
	Width     int     `toml:"width"`
	Height    int     `toml:"height"`
	DwellTime float64 `toml:"dwell_time"`
	HFW       float64 `toml:"hfw"`
	Save      bool    `toml:"save"`
	Path      string  `toml:"path"`
}

// Settings is the full microscope profile.
type Settings struct {
	Connection  ConnectionConfig  `toml:"connection"`
	Stage       StageConfig       `toml:"stage"`
	Manipulator ManipulatorConfig `toml:"manipulator"`
	Electron    BeamConfig        `toml:"electron"`
	Ion         BeamConfig        `toml:"ion"`
	Imaging     ImagingConfig     `toml:"imaging"`
}

// Image returns the acquisition defaults as image settings, the record
// callers tweak per frame.
func (s Settings) Image() structures.ImageSettings {
	return structures.ImageSettings{
		Resolution: structures.Resolution{Width: s.Imaging.Width, Height: s.Imaging.Height},
		DwellTime:  s.Imaging.DwellTime,
		HFW:        s.Imaging.HFW,
		Save:       s.Imaging.Save,
		Path:       s.Imaging.Path,
		BeamType:   structures.BeamTypeElectron,
	}
}

// Beam returns the configured defaults for the named column.
func (s Settings) Beam(beam structures.BeamType) BeamConfig {
	if beam == structures.BeamTypeIon {
		return s.Ion
	}
	return s.Electron
}

// ConnectTimeout parses the configured connect timeout, zero if unset.
func (c ConnectionConfig) ConnectTimeoutDuration() (time.Duration, error) {
	return parseOptionalDuration(c.ConnectTimeout)
}

// RequestTimeoutDuration parses the configured request timeout, zero if unset.
func (c ConnectionConfig) RequestTimeoutDuration() (time.Duration, error) {
	return parseOptionalDuration(c.RequestTimeout)
}

func parseOptionalDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: parse duration %q: %w", raw, err)
	}
	return d, nil
}

// Default returns the profile for a simulated dual-beam instrument.
// Geometry mirrors a typical pretilted shuttle on a 52 degree ion
// column.
func Default() Settings {
	return Settings{
		Connection: ConnectionConfig{
			Address:  "127.0.0.1:7520",
			ClientID: "gofibsem",
		},
		Stage: StageConfig{
			PretiltDeg:            35.0,
			ElectronColumnTiltDeg: 0.0,
			IonColumnTiltDeg:      52.0,
			RotationFlatToElecDeg: 0.0,
			RotationFlatToIonDeg:  180.0,
			TiltMinDeg:            -10.0,
			TiltMaxDeg:            60.0,
			TravelLimit:           0.010,
		},
		Manipulator: ManipulatorConfig{
			Presets: map[string]ManipulatorPreset{
				"PARK":      {X: -4.9e-3, Y: 0, Z: 2.0e-4},
				"EUCENTRIC": {X: 0, Y: 0, Z: 0},
			},
		},
		Electron: BeamConfig{
			Voltage:         2.0e3,
			BeamCurrent:     1.0e-9,
			WorkingDistance: 4.0e-3,
			HFW:             150.0e-6,
			DetectorType:    "ETD",
			DetectorMode:    "SecondaryElectrons",
		},
		Ion: BeamConfig{
			Voltage:         30.0e3,
			BeamCurrent:     20.0e-12,
			WorkingDistance: 16.5e-3,
			HFW:             150.0e-6,
			DetectorType:    "ETD",
			DetectorMode:    "SecondaryElectrons",
		},
		Imaging: ImagingConfig{
			Width:     1536,
			Height:    1024,
			DwellTime: 1.0e-6,
			HFW:       150.0e-6,
			Save:      false,
			Path:      "images",
		},
	}
}

// Load reads a TOML profile, fills unset blocks from Default, and
// validates the result.
func Load(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Settings{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

// Validate rejects profiles that cannot drive the instrument.
func Validate(cfg Settings) error {
	if strings.TrimSpace(cfg.Connection.Address) == "" {
		return fmt.Errorf("config: missing connection address")
	}
	if strings.TrimSpace(cfg.Connection.ClientID) == "" {
		return fmt.Errorf("config: missing client_id")
	}
	if cfg.Stage.TiltMinDeg >= cfg.Stage.TiltMaxDeg {
		return fmt.Errorf("config: stage tilt_min_deg must be below tilt_max_deg")
	}
	if cfg.Stage.TravelLimit <= 0 {
		return fmt.Errorf("config: stage travel_limit must be positive")
	}
	if cfg.Imaging.Width <= 0 || cfg.Imaging.Height <= 0 {
		return fmt.Errorf("config: imaging resolution must be positive")
	}
	if cfg.Imaging.HFW <= 0 {
		return fmt.Errorf("config: imaging hfw must be positive")
	}
	if cfg.Imaging.DwellTime <= 0 {
		return fmt.Errorf("config: imaging dwell_time must be positive")
	}
	for name, preset := range cfg.Manipulator.Presets {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("config: manipulator preset with empty name")
		}
		if math.Abs(preset.X) > 0.05 || math.Abs(preset.Y) > 0.05 || math.Abs(preset.Z) > 0.05 {
			return fmt.Errorf("config: manipulator preset %q outside plausible travel", name)
		}
	}
	for _, beam := range []structures.BeamType{structures.BeamTypeElectron, structures.BeamTypeIon} {
		b := cfg.Beam(beam)
		if b.Voltage <= 0 {
			return fmt.Errorf("config: %s voltage must be positive", beam)
		}
		if b.BeamCurrent <= 0 {
			return fmt.Errorf("config: %s beam_current must be positive", beam)
		}
		if b.HFW <= 0 {
			return fmt.Errorf("config: %s hfw must be positive", beam)
		}
	}
	return nil
}
