package detector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImage_IndexIsChannelMajor(t *testing.T) {
	im := NewImage(Shape{Height: 2, Width: 3, Channels: 2})
	im.Pix[im.index(1, 2, 1)] = 5

	assert.Equal(t, 5.0, im.Pix[11])
	assert.Equal(t, 5.0, im.At(1, 2, 1))
}

func TestImage_Statistics(t *testing.T) {
	im := NewImage(Shape{Height: 2, Width: 2, Channels: 1})
	assert.Equal(t, 0.0, im.Max())
	assert.Equal(t, 0.0, im.Occupancy())

	im.Pix = []float64{0, 1, 3, 0}
	assert.Equal(t, 4.0, im.Sum())
	assert.Equal(t, 3.0, im.Max())
	assert.Equal(t, 0.5, im.Occupancy())
}

func TestStack(t *testing.T) {
	s := Shape{Height: 1, Width: 2, Channels: 1}
	a := Image{Shape: s, Pix: []float64{1, 2}}
	b := Image{Shape: s, Pix: []float64{3, 4}}

	out, err := Stack([]Image{a, b}, s)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, out)
}

func TestStack_ShapeMismatchIsFatal(t *testing.T) {
	s := Shape{Height: 1, Width: 2, Channels: 1}
	good := Image{Shape: s, Pix: []float64{1, 2}}
	wrong := NewImage(Shape{Height: 2, Width: 2, Channels: 1})
	truncated := Image{Shape: s, Pix: []float64{1}}

	_, err := Stack([]Image{good, wrong}, s)
	assert.ErrorIs(t, err, ErrShapeMismatch)
	_, err = Stack([]Image{truncated}, s)
	assert.ErrorIs(t, err, ErrShapeMismatch)
}
