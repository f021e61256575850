package detector

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrShapeMismatch is returned when images of different shapes are assembled together.
	ErrShapeMismatch = errors.New("detector: image shape mismatch")

	// ErrInvalidGeometry is returned by Geometry.Validate.
	ErrInvalidGeometry = errors.New("detector: invalid geometry")

	// ErrInvalidOption is returned for malformed generator option strings.
	ErrInvalidOption = errors.New("detector: invalid generator option")
)

// Shape is the fixed (height, width, channels) layout of a detector image.
type Shape struct {
	Height   int `json:"height"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
}

// Size returns the number of values in an image of this shape.
func (s Shape) Size() int {
	return s.Height * s.Width * s.Channels
}

func (s Shape) String() string {
	return fmt.Sprintf("%dx%dx%d", s.Height, s.Width, s.Channels)
}

// Image is one detector readout. Pix is channel-major (C, H, W) so a stack of
// images is directly an NCHW tensor backing.
type Image struct {
	Shape Shape
	Pix   []float64
}

// NewImage returns a zeroed image of the given shape.
func NewImage(s Shape) Image {
	return Image{Shape: s, Pix: make([]float64, s.Size())}
}

// At returns the value at row r, column c, channel ch.
func (im Image) At(r, c, ch int) float64 {
	return im.Pix[im.index(r, c, ch)]
}

func (im Image) index(r, c, ch int) int {
	return (ch*im.Shape.Height+r)*im.Shape.Width + c
}

// Sum returns the total deposited value.
func (im Image) Sum() float64 {
	return floats.Sum(im.Pix)
}

// Max returns the largest single-bin value; 0 for an empty image.
func (im Image) Max() float64 {
	if len(im.Pix) == 0 {
		return 0
	}
	return floats.Max(im.Pix)
}

// Occupancy returns the fraction of non-zero bins.
func (im Image) Occupancy() float64 {
	if len(im.Pix) == 0 {
		return 0
	}
	hit := 0
	for _, v := range im.Pix {
		if v != 0 {
			hit++
		}
	}
	return float64(hit) / float64(len(im.Pix))
}

// Stack concatenates images into one NCHW backing slice. Every image must
// have exactly the expected shape.
func Stack(images []Image, shape Shape) ([]float64, error) {
	out := make([]float64, 0, len(images)*shape.Size())
	for i, im := range images {
		if im.Shape != shape || len(im.Pix) != shape.Size() {
			return nil, fmt.Errorf("%w: image %d is %v (%d values), want %v",
				ErrShapeMismatch, i, im.Shape, len(im.Pix), shape)
		}
		out = append(out, im.Pix...)
	}
	return out, nil
}
