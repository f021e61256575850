package detector

import (
	"fmt"
	"math"
)

// Geometry describes the spherical tracker and its (η, φ) readout grid.
type Geometry struct {
	PseudorapiditySteps int     `yaml:"pseudorapidity_steps"`
	PhiSteps            int     `yaml:"phi_steps"`
	MaxPseudorapidity   float64 `yaml:"max_pseudorapidity"`
	Layers              int     `yaml:"n_layers"`
	RMin                float64 `yaml:"r_min"`
	RMax                float64 `yaml:"r_max"`
}

// DefaultGeometry is a 32x32 grid over |η| < 5 with ten layers at R = 10.
func DefaultGeometry() Geometry {
	return Geometry{
		PseudorapiditySteps: 32,
		PhiSteps:            32,
		MaxPseudorapidity:   5.0,
		Layers:              10,
		RMin:                10.0,
		RMax:                10.0,
	}
}

// Validate reports the first inconsistent field.
func (g Geometry) Validate() error {
	switch {
	case g.PseudorapiditySteps <= 0:
		return fmt.Errorf("%w: pseudorapidity_steps must be positive, got %d", ErrInvalidGeometry, g.PseudorapiditySteps)
	case g.PhiSteps <= 0:
		return fmt.Errorf("%w: phi_steps must be positive, got %d", ErrInvalidGeometry, g.PhiSteps)
	case g.MaxPseudorapidity <= 0:
		return fmt.Errorf("%w: max_pseudorapidity must be positive, got %g", ErrInvalidGeometry, g.MaxPseudorapidity)
	case g.Layers <= 0:
		return fmt.Errorf("%w: n_layers must be positive, got %d", ErrInvalidGeometry, g.Layers)
	case g.RMin <= 0 || g.RMax < g.RMin:
		return fmt.Errorf("%w: need 0 < r_min <= r_max, got r_min=%g r_max=%g", ErrInvalidGeometry, g.RMin, g.RMax)
	}
	return nil
}

// Shape is the image shape produced by this geometry: η along rows, φ along columns.
func (g Geometry) Shape() Shape {
	return Shape{Height: g.PseudorapiditySteps, Width: g.PhiSteps, Channels: 1}
}

// Radius returns the radius of layer l, spaced linearly between RMin and RMax.
func (g Geometry) Radius(l int) float64 {
	if g.Layers == 1 {
		return g.RMin
	}
	return g.RMin + (g.RMax-g.RMin)*float64(l)/float64(g.Layers-1)
}

// Bin maps a point's (η, φ) to a grid cell. ok is false when η is outside
// the acceptance.
func (g Geometry) Bin(eta, phi float64) (row, col int, ok bool) {
	if math.IsNaN(eta) || eta < -g.MaxPseudorapidity || eta >= g.MaxPseudorapidity {
		return 0, 0, false
	}
	row = int((eta + g.MaxPseudorapidity) / (2 * g.MaxPseudorapidity) * float64(g.PseudorapiditySteps))
	if row >= g.PseudorapiditySteps {
		row = g.PseudorapiditySteps - 1
	}
	col = int((phi + math.Pi) / (2 * math.Pi) * float64(g.PhiSteps))
	switch {
	case col < 0:
		col = 0
	case col >= g.PhiSteps:
		col = g.PhiSteps - 1
	}
	return row, col, true
}

// intersect returns where a straight track from vertex (0, 0, offset) with
// unit direction d crosses the sphere of radius r, going forward along d.
// ok is false when the track never reaches the sphere.
func intersect(offset float64, d [3]float64, r float64) (p [3]float64, ok bool) {
	// |v + t d|^2 = r^2 with v = (0, 0, offset) and |d| = 1
	vd := offset * d[2]
	disc := vd*vd - offset*offset + r*r
	if disc < 0 {
		return p, false
	}
	t := -vd + math.Sqrt(disc)
	if t <= 0 {
		return p, false
	}
	return [3]float64{t * d[0], t * d[1], offset + t*d[2]}, true
}

// angles returns the pseudorapidity and azimuth of p seen from the origin.
func angles(p [3]float64) (eta, phi float64) {
	rho := math.Hypot(p[0], p[1])
	return math.Asinh(p[2] / rho), math.Atan2(p[1], p[0])
}
