package avo

import (
	"errors"
	"math"
	"math/rand/v2"
	"sync/atomic"

	"github.com/plthiyagu/mlhep2018/detector"
)

var testShape = detector.Shape{Height: 2, Width: 2, Channels: 1}

// expSimulator renders every image with pixels near exp(θ), so brighter
// images mean larger offsets.
type expSimulator struct {
	perUnit int
	failAt  float64 // offsets above this fail; 0 disables
	calls   atomic.Int64
}

var errDetectorTrip = errors.New("detector trip")

func (s *expSimulator) Simulate(theta float64, rng *rand.Rand) ([]detector.Image, error) {
	s.calls.Add(1)
	if s.failAt != 0 && theta > s.failAt {
		return nil, errDetectorTrip
	}
	n := s.perUnit
	if n == 0 {
		n = 1
	}
	out := make([]detector.Image, n)
	for i := range out {
		im := detector.NewImage(testShape)
		for j := range im.Pix {
			im.Pix[j] = math.Exp(theta) + 0.01*rng.Float64()
		}
		out[i] = im
	}
	return out, nil
}

// probeDiscriminator is logistic regression on the mean pixel value.
type probeDiscriminator struct {
	w, b   float64
	fits   int
	scores func([]detector.Image) []float64 // overrides Score when set
	fitErr error
}

func meanPixel(im detector.Image) float64 {
	return im.Sum() / float64(len(im.Pix))
}

func (d *probeDiscriminator) prob(im detector.Image) float64 {
	return 1 / (1 + math.Exp(-(d.w*meanPixel(im) + d.b)))
}

func (d *probeDiscriminator) Fit(batch LabeledBatch, epochs, batchSize int) (FitReport, error) {
	if d.fitErr != nil {
		return FitReport{}, d.fitErr
	}
	if err := batch.Validate(testShape); err != nil {
		return FitReport{}, err
	}
	d.fits++
	var report FitReport
	n := float64(batch.Len())
	for e := 0; e < epochs; e++ {
		for step := 0; step < 20; step++ {
			var gw, gb float64
			for i, im := range batch.Images {
				diff := d.prob(im) - batch.Labels[i]
				gw += diff * meanPixel(im)
				gb += diff
			}
			d.w -= 0.5 * gw / n
			d.b -= 0.5 * gb / n
		}
		var loss float64
		for i, im := range batch.Images {
			p := math.Min(math.Max(d.prob(im), 1e-12), 1-1e-12)
			y := batch.Labels[i]
			loss -= y*math.Log(p) + (1-y)*math.Log(1-p)
		}
		report.EpochLoss = append(report.EpochLoss, loss/n)
	}
	return report, nil
}

func (d *probeDiscriminator) Score(images []detector.Image) ([]float64, error) {
	if d.scores != nil {
		return d.scores(images), nil
	}
	out := make([]float64, len(images))
	for i, im := range images {
		out[i] = d.prob(im)
	}
	return out, nil
}

// smallConfig is a schedule sized for unit tests.
func smallConfig() Config {
	return Config{
		Iterations:     30,
		TrueTheta:      1,
		InitialMu:      -2,
		InitialSigma:   1,
		LearningRate:   0.05,
		CacheUnits:     16,
		PretrainSize:   16,
		PretrainEpochs: 2,
		FitSize:        16,
		FitEpochs:      1,
		GeneratorSize:  32,
		BatchSize:      8,
		LogEvery:       10,
	}
}
