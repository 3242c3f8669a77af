package structures

import (
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func TestParseBeamType(t *testing.T) {
	cases := []struct {
		raw  string
		want BeamType
		ok   bool
	}{
		{"electron", BeamTypeElectron, true},
		{"ELECTRON", BeamTypeElectron, true},
		{" eb ", BeamTypeElectron, true},
		{"sem", BeamTypeElectron, true},
		{"ion", BeamTypeIon, true},
		{"IB", BeamTypeIon, true},
		{"fib", BeamTypeIon, true},
		{"photon", BeamTypeElectron, false},
		{"", BeamTypeElectron, false},
	}
	for _, tc := range cases {
		got, err := ParseBeamType(tc.raw)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("parse %q: got %v err %v", tc.raw, got, err)
		}
		if !tc.ok && !errors.Is(err, ErrUnknownBeamType) {
			t.Fatalf("parse %q: expected unknown beam type, got %v", tc.raw, err)
		}
	}
}

func TestStagePositionAdd(t *testing.T) {
	base := StagePosition{X: 1e-3, Y: 2e-3, Tilt: 0.1, CoordinateSystem: "RAW"}
	got := base.Add(StagePosition{X: -0.5e-3, Rotation: math.Pi, Tilt: 0.2})
	if got.X != 0.5e-3 || got.Y != 2e-3 || got.Rotation != math.Pi {
		t.Fatalf("unexpected sum: %+v", got)
	}
	if math.Abs(got.Tilt-0.3) > 1e-12 {
		t.Fatalf("tilt sum: %v", got.Tilt)
	}
	if got.CoordinateSystem != "RAW" {
		t.Fatalf("coordinate system lost: %q", got.CoordinateSystem)
	}
}

func TestImageSettingsValidate(t *testing.T) {
	good := ImageSettings{
		Resolution: Resolution{Width: 1536, Height: 1024},
		DwellTime:  1e-6,
		HFW:        150e-6,
		BeamType:   BeamTypeIon,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}

	bad := good
	bad.Resolution.Width = 0
	if err := bad.Validate(); !errors.Is(err, ErrInvalidResolution) {
		t.Fatalf("expected invalid resolution, got %v", err)
	}

	bad = good
	bad.HFW = 0
	if err := bad.Validate(); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected invalid hfw, got %v", err)
	}

	bad = good
	bad.DwellTime = -1
	if err := bad.Validate(); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected invalid dwell, got %v", err)
	}

	bad = good
	bad.BeamType = BeamType(9)
	if err := bad.Validate(); !errors.Is(err, ErrUnknownBeamType) {
		t.Fatalf("expected unknown beam, got %v", err)
	}

	bad = good
	bad.Save = true
	if err := bad.Validate(); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected missing filename, got %v", err)
	}
	bad.Filename = "ref"
	if err := bad.Validate(); err != nil {
		t.Fatalf("save with filename rejected: %v", err)
	}
}

func TestImageSettingsPixelSize(t *testing.T) {
	s := ImageSettings{Resolution: Resolution{Width: 1000, Height: 800}, HFW: 100e-6}
	if got := s.PixelSize(); math.Abs(got-100e-9) > 1e-18 {
		t.Fatalf("pixel size: %v", got)
	}
	if (ImageSettings{}).PixelSize() != 0 {
		t.Fatalf("zero raster should give zero pixel size")
	}
}

func TestMicroscopeStateValidate(t *testing.T) {
	if err := (MicroscopeState{}).Validate(); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected empty state rejected, got %v", err)
	}
	state := MicroscopeState{Timestamp: time.Now().UTC()}
	if err := state.Validate(); err != nil {
		t.Fatalf("populated state rejected: %v", err)
	}
}

func TestBeamFor(t *testing.T) {
	state := MicroscopeState{
		Electron: BeamSettings{BeamType: BeamTypeElectron, Voltage: 2e3},
		Ion:      BeamSettings{BeamType: BeamTypeIon, Voltage: 30e3},
	}
	if got := state.BeamFor(BeamTypeIon); got.Voltage != 30e3 {
		t.Fatalf("ion register: %+v", got)
	}
	if got := state.BeamFor(BeamTypeElectron); got.Voltage != 2e3 {
		t.Fatalf("electron register: %+v", got)
	}
}

func TestStateSaveLoadRoundTrip(t *testing.T) {
	state := MicroscopeState{
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Stage:     StagePosition{X: 1e-3, Tilt: 0.61, CoordinateSystem: "RAW"},
		Electron:  BeamSettings{BeamType: BeamTypeElectron, Voltage: 2e3, HFW: 150e-6},
		Ion:       BeamSettings{BeamType: BeamTypeIon, Voltage: 30e3, HFW: 150e-6},
		Manipulator: ManipulatorState{
			Position: ManipulatorPosition{X: -4.9e-3},
			Inserted: true,
		},
	}

	path := filepath.Join(t.TempDir(), "snapshots", "state.yaml")
	if err := SaveState(path, state); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadState(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.Timestamp.Equal(state.Timestamp) {
		t.Fatalf("timestamp: got %v want %v", got.Timestamp, state.Timestamp)
	}
	if got.Stage != state.Stage {
		t.Fatalf("stage: %+v", got.Stage)
	}
	if got.Manipulator != state.Manipulator {
		t.Fatalf("manipulator: %+v", got.Manipulator)
	}
	if got.Ion.Voltage != 30e3 {
		t.Fatalf("ion voltage: %v", got.Ion.Voltage)
	}
}

func TestSaveStateRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := SaveState(path, MicroscopeState{}); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected empty state rejected, got %v", err)
	}
}

func TestEncodeDecodeState(t *testing.T) {
	state := MicroscopeState{
		Timestamp: time.Now().UTC(),
		Stage:     StagePosition{Z: 4e-3},
	}
	data, err := EncodeState(state)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := DecodeState(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Stage.Z != 4e-3 {
		t.Fatalf("stage z: %v", got.Stage.Z)
	}
	if _, err := DecodeState([]byte("{}")); !errors.Is(err, ErrInvalidSettings) {
		t.Fatalf("expected empty decode rejected, got %v", err)
	}
}
