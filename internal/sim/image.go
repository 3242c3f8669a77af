package sim

import (
	"math"
	"time"

	"github.com/openfibsem/gofibsem/internal/structures"
)

// chamberResolution is the fixed raster of the chamber CCD camera.
var chamberResolution = structures.Resolution{Width: 768, Height: 512}

// AcquireImage scans a synthetic frame at the requested settings. The
// content is a deterministic function of the stage pose, beam, and
// field width, so repeated acquisitions at the same pose are stable
// and moves visibly shift the frame.
func (in *Instrument) AcquireImage(settings structures.ImageSettings) (*structures.FibsemImage, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	in.mu.Lock()
	// Acquisition retunes the active column to the requested field.
	b := in.beamLocked(settings.BeamType)
	b.HFW = settings.HFW
	b.Resolution = settings.Resolution
	b.DwellTime = settings.DwellTime
	in.setBeamLocked(settings.BeamType, b)
	in.frameCounter++
	stage := in.stage
	state := structures.MicroscopeState{
		Timestamp:        time.Now().UTC(),
		Stage:            in.stage,
		Electron:         in.electron,
		Ion:              in.ion,
		ElectronDetector: in.electronDet,
		IonDetector:      in.ionDet,
		Manipulator:      in.manipulator,
	}
	in.mu.Unlock()

	data := renderFrame(settings.Resolution, settings.HFW, stage, settings.BeamType)
	if settings.AutoContrast {
		applyAutoContrast(data)
	}
	if settings.AutoGamma {
		applyAutoGamma(data)
	}

	md := structures.ImageMetadata{
		Settings:   settings,
		State:      state,
		PixelSize:  settings.PixelSize(),
		AcquiredAt: state.Timestamp,
	}
	return structures.NewFibsemImage(data, settings.Resolution.Width, settings.Resolution.Height, md)
}

// AcquireChamberImage returns a frame from the chamber CCD camera.
func (in *Instrument) AcquireChamberImage() (*structures.FibsemImage, error) {
	in.mu.Lock()
	stage := in.stage
	state := structures.MicroscopeState{
		Timestamp:        time.Now().UTC(),
		Stage:            in.stage,
		Electron:         in.electron,
		Ion:              in.ion,
		ElectronDetector: in.electronDet,
		IonDetector:      in.ionDet,
		Manipulator:      in.manipulator,
	}
	in.mu.Unlock()

	settings := structures.ImageSettings{
		Resolution: chamberResolution,
		DwellTime:  1e-6,
		HFW:        0.05,
		BeamType:   structures.BeamTypeElectron,
	}
	data := renderFrame(chamberResolution, settings.HFW, stage, settings.BeamType)
	md := structures.ImageMetadata{
		Settings:   settings,
		State:      state,
		PixelSize:  settings.PixelSize(),
		AcquiredAt: state.Timestamp,
	}
	return structures.NewFibsemImage(data, chamberResolution.Width, chamberResolution.Height, md)
}

// renderFrame composes a sample-like texture: low-frequency blobs tied
// to the world coordinate of each pixel plus hash noise. World
// coordinates come from the stage pose and pixel size, so translating
// the stage pans the texture.
func renderFrame(res structures.Resolution, hfw float64, stage structures.StagePosition, beam structures.BeamType) []uint8 {
	pixelSize := hfw / float64(res.Width)
	data := make([]uint8, res.Width*res.Height)

	seed := uint64(beam) + 0x9E3779B97F4A7C15
	for y := 0; y < res.Height; y++ {
		wy := stage.Y + float64(y-res.Height/2)*pixelSize
		for x := 0; x < res.Width; x++ {
			wx := stage.X + float64(x-res.Width/2)*pixelSize

			// Blob pattern at a few fixed spatial frequencies.
			v := 0.5 +
				0.20*math.Sin(wx*2.1e5+wy*0.7e5) +
				0.15*math.Sin(wx*0.6e5-wy*1.7e5) +
				0.10*math.Sin((wx+wy)*3.9e5)

			n := hash64(uint64(x)<<32 | uint64(uint32(y)) ^ seed)
			v += (float64(n%1000)/1000.0 - 0.5) * 0.12

			if v < 0 {
				v = 0
			}
			if v > 1 {
				v = 1
			}
			data[y*res.Width+x] = uint8(v * 255)
		}
	}
	return data
}

// applyAutoContrast linearly stretches the histogram onto the full
// 0..255 range. A flat frame is left untouched.
func applyAutoContrast(data []uint8) {
	if len(data) == 0 {
		return
	}
	lo, hi := int(data[0]), int(data[0])
	for _, v := range data {
		if int(v) < lo {
			lo = int(v)
		}
		if int(v) > hi {
			hi = int(v)
		}
	}
	if lo == hi || (lo == 0 && hi == 255) {
		return
	}
	scale := 255.0 / float64(hi-lo)
	var lut [256]uint8
	for i := range lut {
		switch {
		case i <= lo:
			lut[i] = 0
		case i >= hi:
			lut[i] = 255
		default:
			lut[i] = uint8(float64(i-lo)*scale + 0.5)
		}
	}
	for i, v := range data {
		data[i] = lut[v]
	}
}

// applyAutoGamma stretches mid-tones toward a 0.5 mean, the same
// correction acquisition software applies before display.
func applyAutoGamma(data []uint8) {
	if len(data) == 0 {
		return
	}
	var sum uint64
	for _, v := range data {
		sum += uint64(v)
	}
	mean := float64(sum) / float64(len(data)) / 255.0
	if mean <= 0 || mean >= 1 {
		return
	}
	gamma := math.Log(0.5) / math.Log(mean)
	var lut [256]uint8
	for i := range lut {
		lut[i] = uint8(math.Pow(float64(i)/255.0, gamma) * 255.0)
	}
	for i, v := range data {
		data[i] = lut[v]
	}
}

// hash64 is splitmix64, cheap and stable across runs.
func hash64(x uint64) uint64 {
	x += 0x9E3779B97F4A7C15
	x = (x ^ (x >> 30)) * 0xBF58476D1CE4E5B9
	x = (x ^ (x >> 27)) * 0x94D049BB133111EB
	return x ^ (x >> 31)
}
