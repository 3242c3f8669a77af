// Package patterning converts milling pattern definitions from metre
// coordinates (relative to the image centre, y up) into image pixel
// space (y down), validates placement against the raster bounds, and
// rasterizes pattern masks.
package patterning

import (
	"errors"
	"fmt"
	"math"

	"github.com/openfibsem/gofibsem/internal/structures"
)

var (
	ErrBadPixelSize = errors.New("patterning: pixel size must be positive")
	ErrOutOfBounds  = errors.New("patterning: pattern outside image bounds")
)

// RectangleSettings is a rotated rectangle pattern in metres.
type RectangleSettings struct {
	Width    float64 `yaml:"width" json:"width"`
	Height   float64 `yaml:"height" json:"height"`
	Centre   structures.Point
	Rotation float64 `yaml:"rotation" json:"rotation"`
	Depth    float64 `yaml:"depth" json:"depth"`
}

// CircleSettings is a circle pattern in metres.
type CircleSettings struct {
	Radius float64 `yaml:"radius" json:"radius"`
	Centre structures.Point
	Depth  float64 `yaml:"depth" json:"depth"`
}

// LineSettings is a line pattern in metres.
type LineSettings struct {
	Start structures.Point
	End   structures.Point
	Depth float64 `yaml:"depth" json:"depth"`
}

// PixelPoint is a position in image pixel coordinates.
type PixelPoint struct {
	X float64
	Y float64
}

// PixelCentre returns the centre pixel of a raster.
func PixelCentre(res structures.Resolution) PixelPoint {
	return PixelPoint{X: float64(res.Width / 2), Y: float64(res.Height / 2)}
}

// ToPixel maps a metre-space point (image-centre origin, y up) onto
// pixel coordinates (top-left origin, y down).
func ToPixel(p structures.Point, res structures.Resolution, pixelSize float64) (PixelPoint, error) {
	if pixelSize <= 0 {
		return PixelPoint{}, ErrBadPixelSize
	}
	c := PixelCentre(res)
	return PixelPoint{
		X: c.X + p.X/pixelSize,
		Y: c.Y - p.Y/pixelSize,
	}, nil
}

// RectangleCorners returns the four pixel-space corners of a rotated
// rectangle, in drawing order.
func RectangleCorners(r RectangleSettings, res structures.Resolution, pixelSize float64) ([4]PixelPoint, error) {
	var out [4]PixelPoint
	centre, err := ToPixel(r.Centre, res, pixelSize)
	if err != nil {
		return out, err
	}

	w := r.Width / pixelSize
	h := r.Height / pixelSize
	rot := -r.Rotation
	sin, cos := math.Sin(rot), math.Cos(rot)

	local := [4][2]float64{
		{-w / 2, -h / 2},
		{w / 2, -h / 2},
		{w / 2, h / 2},
		{-w / 2, h / 2},
	}
	for i, l := range local {
		out[i] = PixelPoint{
			X: centre.X + l[0]*cos - l[1]*sin,
			Y: centre.Y + l[0]*sin + l[1]*cos,
		}
	}
	return out, nil
}

// CircleBounds returns the pixel-space bounding box corners of a
// circle pattern.
func CircleBounds(c CircleSettings, res structures.Resolution, pixelSize float64) ([4]PixelPoint, error) {
	var out [4]PixelPoint
	centre, err := ToPixel(c.Centre, res, pixelSize)
	if err != nil {
		return out, err
	}
	r := c.Radius / pixelSize
	out = [4]PixelPoint{
		{X: centre.X - r, Y: centre.Y - r},
		{X: centre.X + r, Y: centre.Y - r},
		{X: centre.X + r, Y: centre.Y + r},
		{X: centre.X - r, Y: centre.Y + r},
	}
	return out, nil
}

// LineEndpoints returns the pixel-space endpoints of a line pattern.
func LineEndpoints(l LineSettings, res structures.Resolution, pixelSize float64) ([2]PixelPoint, error) {
	var out [2]PixelPoint
	start, err := ToPixel(l.Start, res, pixelSize)
	if err != nil {
		return out, err
	}
	end, err := ToPixel(l.End, res, pixelSize)
	if err != nil {
		return out, err
	}
	out = [2]PixelPoint{start, end}
	return out, nil
}

// ValidatePlacement reports whether every corner lies inside the
// raster.
func ValidatePlacement(res structures.Resolution, corners []PixelPoint) bool {
	for _, c := range corners {
		if c.X < 0 || c.X > float64(res.Width) {
			return false
		}
		if c.Y < 0 || c.Y > float64(res.Height) {
			return false
		}
	}
	return true
}

// ReducedArea is a rectangle expressed as fractions of the image, the
// form alignment and fiducial routines consume.
type ReducedArea struct {
	Left   float64 `yaml:"left" json:"left"`
	Top    float64 `yaml:"top" json:"top"`
	Width  float64 `yaml:"width" json:"width"`
	Height float64 `yaml:"height" json:"height"`
}

// FiducialArea computes the reduced area around a fiducial of the
// given length centred at centre, and whether any part of it falls
// outside the image. The area is padded by half the fiducial length on
// each side, matching the milling alignment window.
func FiducialArea(centre structures.Point, length float64, res structures.Resolution, pixelSize float64) (ReducedArea, bool, error) {
	if pixelSize <= 0 {
		return ReducedArea{}, false, ErrBadPixelSize
	}
	p, err := ToPixel(centre, res, pixelSize)
	if err != nil {
		return ReducedArea{}, false, err
	}

	halfSpan := length / pixelSize // half window = length, so span = 2*length
	left := (p.X - halfSpan) / float64(res.Width)
	top := (p.Y - halfSpan) / float64(res.Height)
	width := 2 * halfSpan / float64(res.Width)
	height := 2 * halfSpan / float64(res.Height)

	area := ReducedArea{Left: left, Top: top, Width: width, Height: height}
	outOfBounds := left < 0 || top < 0 || left+width > 1 || top+height > 1
	return area, outOfBounds, nil
}

// ComposeMask rasterizes rectangle and circle patterns into a binary
// mask over the image raster. Out-of-bounds parts are clipped.
func ComposeMask(res structures.Resolution, pixelSize float64, rects []RectangleSettings, circles []CircleSettings) ([]uint8, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	if pixelSize <= 0 {
		return nil, ErrBadPixelSize
	}
	mask := make([]uint8, res.Width*res.Height)

	for _, r := range rects {
		if err := rasterizeRect(mask, res, pixelSize, r); err != nil {
			return nil, err
		}
	}
	for _, c := range circles {
		if err := rasterizeCircle(mask, res, pixelSize, c); err != nil {
			return nil, err
		}
	}
	return mask, nil
}

func rasterizeRect(mask []uint8, res structures.Resolution, pixelSize float64, r RectangleSettings) error {
	corners, err := RectangleCorners(r, res, pixelSize)
	if err != nil {
		return err
	}
	minX, minY := corners[0].X, corners[0].Y
	maxX, maxY := minX, minY
	for _, c := range corners[1:] {
		minX = math.Min(minX, c.X)
		minY = math.Min(minY, c.Y)
		maxX = math.Max(maxX, c.X)
		maxY = math.Max(maxY, c.Y)
	}

	centre, _ := ToPixel(r.Centre, res, pixelSize)
	sin, cos := math.Sin(r.Rotation), math.Cos(r.Rotation)
	halfW := r.Width / pixelSize / 2
	halfH := r.Height / pixelSize / 2

	for y := clampInt(int(minY), 0, res.Height-1); y <= clampInt(int(maxY), 0, res.Height-1); y++ {
		for x := clampInt(int(minX), 0, res.Width-1); x <= clampInt(int(maxX), 0, res.Width-1); x++ {
			// Rotate the pixel into the rectangle frame.
			dx := float64(x) - centre.X
			dy := float64(y) - centre.Y
			lx := dx*cos - dy*sin
			ly := dx*sin + dy*cos
			if math.Abs(lx) <= halfW && math.Abs(ly) <= halfH {
				mask[y*res.Width+x] = 1
			}
		}
	}
	return nil
}

func rasterizeCircle(mask []uint8, res structures.Resolution, pixelSize float64, c CircleSettings) error {
	centre, err := ToPixel(c.Centre, res, pixelSize)
	if err != nil {
		return err
	}
	r := c.Radius / pixelSize
	minX := clampInt(int(centre.X-r), 0, res.Width-1)
	maxX := clampInt(int(centre.X+r)+1, 0, res.Width-1)
	minY := clampInt(int(centre.Y-r), 0, res.Height-1)
	maxY := clampInt(int(centre.Y+r)+1, 0, res.Height-1)

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			dx := float64(x) - centre.X
			dy := float64(y) - centre.Y
			if dx*dx+dy*dy <= r*r {
				mask[y*res.Width+x] = 1
			}
		}
	}
	return nil
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (r RectangleSettings) String() string {
	return fmt.Sprintf("rect %gx%g @ (%g, %g) rot=%g", r.Width, r.Height, r.Centre.X, r.Centre.Y, r.Rotation)
}
