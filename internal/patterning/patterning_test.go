package patterning

import (
	"errors"
	"math"
	"testing"

	"github.com/openfibsem/gofibsem/internal/structures"
)

var testRes = structures.Resolution{Width: 1000, Height: 800}

const testPixelSize = 100e-9 // 100 um field over 1000 px

func TestToPixelCentreAndFlip(t *testing.T) {
	// The metre-space origin is the image centre.
	p, err := ToPixel(structures.Point{}, testRes, testPixelSize)
	if err != nil {
		t.Fatalf("to pixel: %v", err)
	}
	if p.X != 500 || p.Y != 400 {
		t.Fatalf("origin maps to %+v", p)
	}

	// +Y in metres is up, which is -Y in pixel space.
	p, err = ToPixel(structures.Point{X: 10e-6, Y: 10e-6}, testRes, testPixelSize)
	if err != nil {
		t.Fatalf("to pixel: %v", err)
	}
	if p.X != 600 || p.Y != 300 {
		t.Fatalf("offset maps to %+v", p)
	}

	if _, err := ToPixel(structures.Point{}, testRes, 0); !errors.Is(err, ErrBadPixelSize) {
		t.Fatalf("expected bad pixel size, got %v", err)
	}
}

func TestRectangleCorners(t *testing.T) {
	r := RectangleSettings{Width: 20e-6, Height: 10e-6}
	corners, err := RectangleCorners(r, testRes, testPixelSize)
	if err != nil {
		t.Fatalf("corners: %v", err)
	}
	// 200x100 px box centred at (500, 400).
	want := [4][2]float64{{400, 350}, {600, 350}, {600, 450}, {400, 450}}
	for i, c := range corners {
		if math.Abs(c.X-want[i][0]) > 1e-9 || math.Abs(c.Y-want[i][1]) > 1e-9 {
			t.Fatalf("corner %d: %+v want %v", i, c, want[i])
		}
	}
}

func TestRectangleCornersRotationDirection(t *testing.T) {
	// A positive rotation turns the rectangle counter-clockwise in
	// metre space, which reads clockwise in y-down pixel space.
	r := RectangleSettings{Width: 20e-6, Height: 10e-6, Rotation: math.Pi / 2}
	corners, err := RectangleCorners(r, testRes, testPixelSize)
	if err != nil {
		t.Fatalf("corners: %v", err)
	}
	var minX, maxX, minY, maxY float64 = corners[0].X, corners[0].X, corners[0].Y, corners[0].Y
	for _, c := range corners[1:] {
		minX = math.Min(minX, c.X)
		maxX = math.Max(maxX, c.X)
		minY = math.Min(minY, c.Y)
		maxY = math.Max(maxY, c.Y)
	}
	// Width and height swap under a quarter turn.
	if math.Abs(maxX-minX-100) > 1e-6 || math.Abs(maxY-minY-200) > 1e-6 {
		t.Fatalf("rotated extents: x %v y %v", maxX-minX, maxY-minY)
	}
}

func TestValidatePlacement(t *testing.T) {
	inside := RectangleSettings{Width: 20e-6, Height: 10e-6}
	corners, err := RectangleCorners(inside, testRes, testPixelSize)
	if err != nil {
		t.Fatalf("corners: %v", err)
	}
	if !ValidatePlacement(testRes, corners[:]) {
		t.Fatalf("centred rectangle should fit")
	}

	offImage := RectangleSettings{
		Width:  20e-6,
		Height: 10e-6,
		Centre: structures.Point{X: 49e-6},
	}
	corners, err = RectangleCorners(offImage, testRes, testPixelSize)
	if err != nil {
		t.Fatalf("corners: %v", err)
	}
	if ValidatePlacement(testRes, corners[:]) {
		t.Fatalf("rectangle past the right edge should fail")
	}
}

func TestCircleBounds(t *testing.T) {
	c := CircleSettings{Radius: 5e-6, Centre: structures.Point{Y: 20e-6}}
	corners, err := CircleBounds(c, testRes, testPixelSize)
	if err != nil {
		t.Fatalf("bounds: %v", err)
	}
	// Centre maps to (500, 200); radius is 50 px.
	if corners[0].X != 450 || corners[0].Y != 150 {
		t.Fatalf("top-left bound: %+v", corners[0])
	}
	if corners[2].X != 550 || corners[2].Y != 250 {
		t.Fatalf("bottom-right bound: %+v", corners[2])
	}
}

func TestLineEndpoints(t *testing.T) {
	l := LineSettings{
		Start: structures.Point{X: -10e-6},
		End:   structures.Point{X: 10e-6, Y: 10e-6},
	}
	pts, err := LineEndpoints(l, testRes, testPixelSize)
	if err != nil {
		t.Fatalf("endpoints: %v", err)
	}
	if pts[0].X != 400 || pts[0].Y != 400 {
		t.Fatalf("start: %+v", pts[0])
	}
	if pts[1].X != 600 || pts[1].Y != 300 {
		t.Fatalf("end: %+v", pts[1])
	}
}

func TestFiducialArea(t *testing.T) {
	area, oob, err := FiducialArea(structures.Point{}, 10e-6, testRes, testPixelSize)
	if err != nil {
		t.Fatalf("fiducial area: %v", err)
	}
	if oob {
		t.Fatalf("centred fiducial flagged out of bounds: %+v", area)
	}
	if math.Abs(area.Left-0.4) > 1e-9 || math.Abs(area.Width-0.2) > 1e-9 {
		t.Fatalf("horizontal window: %+v", area)
	}

	_, oob, err = FiducialArea(structures.Point{X: -48e-6}, 10e-6, testRes, testPixelSize)
	if err != nil {
		t.Fatalf("edge fiducial: %v", err)
	}
	if !oob {
		t.Fatalf("fiducial window past the left edge should flag out of bounds")
	}
}

func TestComposeMask(t *testing.T) {
	rects := []RectangleSettings{{Width: 20e-6, Height: 10e-6}}
	circles := []CircleSettings{{Radius: 4e-6, Centre: structures.Point{X: 30e-6}}}

	mask, err := ComposeMask(testRes, testPixelSize, rects, circles)
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if len(mask) != testRes.Width*testRes.Height {
		t.Fatalf("mask size: %d", len(mask))
	}
	// Rectangle interior.
	if mask[400*testRes.Width+500] != 1 {
		t.Fatalf("rectangle centre not filled")
	}
	// Circle centre maps to (800, 400).
	if mask[400*testRes.Width+800] != 1 {
		t.Fatalf("circle centre not filled")
	}
	// Well outside both patterns.
	if mask[50*testRes.Width+50] != 0 {
		t.Fatalf("background filled")
	}

	var filled int
	for _, v := range mask {
		filled += int(v)
	}
	// Rectangle covers 200x100 px, circle pi*40^2.
	wantRect := 200 * 100
	circleArea := math.Pi * 40 * 40
	wantCircle := int(circleArea)
	if filled < wantRect || filled > wantRect+wantCircle+600 {
		t.Fatalf("filled pixel count implausible: %d", filled)
	}

	if _, err := ComposeMask(testRes, 0, rects, nil); !errors.Is(err, ErrBadPixelSize) {
		t.Fatalf("expected bad pixel size, got %v", err)
	}
	if _, err := ComposeMask(structures.Resolution{}, testPixelSize, rects, nil); !errors.Is(err, structures.ErrInvalidResolution) {
		t.Fatalf("expected invalid resolution, got %v", err)
	}
}
