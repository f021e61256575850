package detector

import (
	"fmt"
	"math/rand/v2"
)

// Config is the construction-time configuration of a Detector.
type Config struct {
	Geometry  Geometry `yaml:"geometry"`
	BatchSize int      `yaml:"batch_size"` // images per simulated unit
	Options   []string `yaml:"options"`    // generator option strings
}

// DefaultConfig returns the default geometry, one image per unit and the
// hard-QCD options used for the offset study.
func DefaultConfig() Config {
	return Config{
		Geometry:  DefaultGeometry(),
		BatchSize: 1,
		Options: []string{
			"Print:quiet = on",
			"HardQCD:all = on",
			"PhaseSpace:pTHatMin = 25.0",
		},
	}
}

// Detector is a spherical tracker fed by the toy event generator.
type Detector struct {
	geometry  Geometry
	batchSize int
	options   GeneratorOptions
	radii     []float64
}

// NewDetector validates cfg and builds a Detector.
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Geometry.Validate(); err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: batch_size must be positive, got %d", ErrInvalidGeometry, cfg.BatchSize)
	}
	opts, err := ParseOptions(cfg.Options)
	if err != nil {
		return nil, err
	}

	radii := make([]float64, cfg.Geometry.Layers)
	for l := range radii {
		radii[l] = cfg.Geometry.Radius(l)
	}
	return &Detector{
		geometry:  cfg.Geometry,
		batchSize: cfg.BatchSize,
		options:   opts,
		radii:     radii,
	}, nil
}

// Shape is the shape of every image this detector produces.
func (d *Detector) Shape() Shape {
	return d.geometry.Shape()
}

// Options returns the interpreted generator options.
func (d *Detector) Options() GeneratorOptions {
	return d.options
}

// Simulate generates BatchSize events with the interaction point displaced
// by theta along the beam axis and returns one image per event.
func (d *Detector) Simulate(theta float64, rng *rand.Rand) ([]Image, error) {
	images := make([]Image, d.batchSize)
	for i := range images {
		images[i] = d.readout(theta, generateEvent(d.options, rng))
	}
	return images, nil
}

// readout deposits every track/layer crossing of the event into a new image.
func (d *Detector) readout(theta float64, event []particle) Image {
	im := NewImage(d.Shape())
	layers := float64(len(d.radii))
	for _, p := range event {
		dir := p.direction()
		deposit := p.energy() / layers
		for _, r := range d.radii {
			hit, ok := intersect(theta, dir, r)
			if !ok {
				continue
			}
			row, col, ok := d.geometry.Bin(angles(hit))
			if !ok {
				continue
			}
			idx := im.index(row, col, 0)
			if d.options.Binary {
				im.Pix[idx] = 1
			} else {
				im.Pix[idx] += deposit
			}
		}
	}
	return im
}
