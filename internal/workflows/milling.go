package workflows

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openfibsem/gofibsem/internal/patterning"
	"github.com/openfibsem/gofibsem/internal/structures"
)

// MillingStage is one named pattern set milled at a fixed current.
type MillingStage struct {
	Name        string                         `yaml:"name"`
	MillingHFW  float64                        `yaml:"milling_hfw"`
	BeamCurrent float64                        `yaml:"beam_current"`
	Rectangles  []patterning.RectangleSettings `yaml:"rectangles,omitempty"`
	Circles     []patterning.CircleSettings    `yaml:"circles,omitempty"`
}

// trenchProtocol is the default two-trench pattern around a lamella.
func trenchProtocol() MillingStage {
	const (
		trenchWidth  = 10.0e-6
		trenchHeight = 6.0e-6
		lamellaGap   = 2.5e-6
	)
	upper := patterning.RectangleSettings{
		Width:  trenchWidth,
		Height: trenchHeight,
		Centre: structures.Point{Y: lamellaGap/2 + trenchHeight/2},
		Depth:  2.0e-6,
	}
	lower := upper
	lower.Centre = structures.Point{Y: -(lamellaGap/2 + trenchHeight/2)}
	return MillingStage{
		Name:        "trench",
		MillingHFW:  80.0e-6,
		BeamCurrent: 7.6e-9,
		Rectangles:  []patterning.RectangleSettings{upper, lower},
	}
}

// undercutProtocol is the default tilted undercut cut.
func undercutProtocol() MillingStage {
	return MillingStage{
		Name:        "undercut",
		MillingHFW:  80.0e-6,
		BeamCurrent: 2.0e-9,
		Rectangles: []patterning.RectangleSettings{{
			Width:  12.0e-6,
			Height: 1.5e-6,
			Centre: structures.Point{Y: 4.0e-6},
			Depth:  1.0e-6,
		}},
	}
}

// polishProtocol is the thin final cut over the lamella face.
func polishProtocol(name string, current float64) MillingStage {
	return MillingStage{
		Name:        name,
		MillingHFW:  50.0e-6,
		BeamCurrent: current,
		Rectangles: []patterning.RectangleSettings{{
			Width:  10.0e-6,
			Height: 0.6e-6,
			Centre: structures.Point{Y: 1.0e-6},
			Depth:  0.4e-6,
		}, {
			Width:  10.0e-6,
			Height: 0.6e-6,
			Centre: structures.Point{Y: -1.0e-6},
			Depth:  0.4e-6,
		}},
	}
}

// EstimateDuration approximates milling time from removed volume at a
// nominal sputter rate scaled by beam current.
func (m MillingStage) EstimateDuration() time.Duration {
	const sputterRate = 3.92e-11 // m^3 per A*s, silicon nominal
	if m.BeamCurrent <= 0 {
		return 0
	}
	var volume float64
	for _, r := range m.Rectangles {
		volume += r.Width * r.Height * r.Depth
	}
	for _, c := range m.Circles {
		volume += 3.141592653589793 * c.Radius * c.Radius * c.Depth
	}
	seconds := volume / (sputterRate * m.BeamCurrent)
	return time.Duration(seconds * float64(time.Second))
}

// mill validates pattern placement against the milling field and
// executes the stage on the simulated column. The ion image raster for
// the milling HFW bounds the placement check.
func (r *Runner) mill(lamella *Lamella, stage MillingStage) error {
	res := r.imageSettings.Resolution
	pixelSize := stage.MillingHFW / float64(res.Width)

	for _, rect := range stage.Rectangles {
		corners, err := patterning.RectangleCorners(rect, res, pixelSize)
		if err != nil {
			return err
		}
		if !patterning.ValidatePlacement(res, corners[:]) {
			return fmt.Errorf("%w: %s in stage %q", patterning.ErrOutOfBounds, rect.String(), stage.Name)
		}
	}

	if _, err := patterning.ComposeMask(res, pixelSize, stage.Rectangles, stage.Circles); err != nil {
		return err
	}

	log.Info().
		Str("lamella", lamella.Name).
		Str("milling_stage", stage.Name).
		Float64("beam_current", stage.BeamCurrent).
		Dur("estimated", stage.EstimateDuration()).
		Msg("milling stage executed")
	return nil
}
