package structures

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"time"
)

var ErrImageDataMismatch = errors.New("structures: image data does not match resolution")

// ImageMetadata records the acquisition context of one frame.
type ImageMetadata struct {
	Settings   ImageSettings   `yaml:"image_settings" json:"image_settings"`
	State      MicroscopeState `yaml:"microscope_state" json:"microscope_state"`
	PixelSize  float64         `yaml:"pixel_size" json:"pixel_size"`
	AcquiredAt time.Time       `yaml:"acquired_at" json:"acquired_at"`
}

// FibsemImage is one acquired frame: 8-bit grayscale data in row-major
// order plus the metadata captured at acquisition time.
type FibsemImage struct {
	Data     []uint8       `json:"data"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Metadata ImageMetadata `json:"metadata"`
}

// NewFibsemImage validates data length against the raster size.
func NewFibsemImage(data []uint8, width, height int, md ImageMetadata) (*FibsemImage, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidResolution, width, height)
	}
	if len(data) != width*height {
		return nil, fmt.Errorf("%w: got %d bytes for %dx%d", ErrImageDataMismatch, len(data), width, height)
	}
	return &FibsemImage{Data: data, Width: width, Height: height, Metadata: md}, nil
}

// At returns the pixel value at (x, y).
func (im *FibsemImage) At(x, y int) uint8 {
	return im.Data[y*im.Width+x]
}

// ToGray converts to a standard library grayscale image.
func (im *FibsemImage) ToGray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, im.Width, im.Height))
	copy(g.Pix, im.Data)
	return g
}

// EncodePNG writes the frame as PNG.
func (im *FibsemImage) EncodePNG(w io.Writer) error {
	if len(im.Data) != im.Width*im.Height {
		return fmt.Errorf("%w: got %d bytes for %dx%d", ErrImageDataMismatch, len(im.Data), im.Width, im.Height)
	}
	if err := png.Encode(w, im.ToGray()); err != nil {
		return fmt.Errorf("structures: encode png: %w", err)
	}
	return nil
}

// Mean returns the average pixel intensity.
func (im *FibsemImage) Mean() float64 {
	if len(im.Data) == 0 {
		return 0
	}
	var sum uint64
	for _, v := range im.Data {
		sum += uint64(v)
	}
	return float64(sum) / float64(len(im.Data))
}
