package structures

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownBeamType = errors.New("structures: unknown beam type")

// BeamType selects one of the two instrument columns.
type BeamType uint8

const (
	BeamTypeElectron BeamType = iota
	BeamTypeIon
)

func (b BeamType) String() string {
	switch b {
	case BeamTypeElectron:
		return "ELECTRON"
	case BeamTypeIon:
		return "ION"
	default:
		return fmt.Sprintf("BeamType(%d)", uint8(b))
	}
}

// ParseBeamType maps a beam name to its BeamType. Accepts the short
// column aliases used in configuration files.
func ParseBeamType(raw string) (BeamType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "ELECTRON", "EB", "SEM":
		return BeamTypeElectron, nil
	case "ION", "IB", "FIB":
		return BeamTypeIon, nil
	default:
		return BeamTypeElectron, fmt.Errorf("%w: %q", ErrUnknownBeamType, raw)
	}
}

func (b BeamType) Valid() bool {
	return b == BeamTypeElectron || b == BeamTypeIon
}

// MarshalYAML stores the beam as its canonical name.
func (b BeamType) MarshalYAML() (any, error) {
	if !b.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownBeamType, uint8(b))
	}
	return b.String(), nil
}

func (b *BeamType) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := ParseBeamType(raw)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
