package detector

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

const (
	softMultiplicity = 30.0 // mean number of soft tracks per event
	softPTMin        = 0.3  // GeV
	softPTScale      = 0.5  // GeV, exponential slope of soft tracks
	softEtaWidth     = 2.5

	jetMultiplicity = 8.0 // mean constituents per jet
	jetWidth        = 0.1 // angular spread of constituents around the jet axis
	jetEtaWidth     = 1.5
)

// particle is a final-state track leaving the interaction point.
type particle struct {
	pt, eta, phi float64
}

// energy of a massless particle.
func (p particle) energy() float64 {
	return p.pt * math.Cosh(p.eta)
}

// direction returns the unit momentum vector.
func (p particle) direction() [3]float64 {
	c := math.Cosh(p.eta)
	return [3]float64{math.Cos(p.phi) / c, math.Sin(p.phi) / c, math.Tanh(p.eta)}
}

// generateEvent draws one collision according to opts.
func generateEvent(opts GeneratorOptions, rng *rand.Rand) []particle {
	var event []particle
	if opts.SoftQCD {
		event = appendSoft(event, rng)
	}
	if opts.HardQCD {
		event = appendDijet(event, opts.PTHatMin, rng)
	}
	return event
}

func appendSoft(event []particle, rng *rand.Rand) []particle {
	n := int(distuv.Poisson{Lambda: softMultiplicity, Src: rng}.Rand())
	for i := 0; i < n; i++ {
		event = append(event, particle{
			pt:  softPTMin + rng.ExpFloat64()*softPTScale,
			eta: rng.NormFloat64() * softEtaWidth,
			phi: uniformPhi(rng),
		})
	}
	return event
}

// appendDijet adds two back-to-back jets whose pT is at least ptHatMin.
func appendDijet(event []particle, ptHatMin float64, rng *rand.Rand) []particle {
	pt := ptHatMin * (1 + 0.3*rng.ExpFloat64())
	eta := rng.NormFloat64() * jetEtaWidth
	phi := uniformPhi(rng)

	event = appendJet(event, pt, eta, phi, rng)
	return appendJet(event, pt, -eta+0.5*rng.NormFloat64(), wrapPhi(phi+math.Pi), rng)
}

func appendJet(event []particle, pt, eta, phi float64, rng *rand.Rand) []particle {
	n := 1 + int(distuv.Poisson{Lambda: jetMultiplicity - 1, Src: rng}.Rand())

	// pT fractions from normalized exponential draws
	fractions := make([]float64, n)
	total := 0.0
	for i := range fractions {
		fractions[i] = rng.ExpFloat64()
		total += fractions[i]
	}
	for _, f := range fractions {
		event = append(event, particle{
			pt:  pt * f / total,
			eta: eta + rng.NormFloat64()*jetWidth,
			phi: wrapPhi(phi + rng.NormFloat64()*jetWidth),
		})
	}
	return event
}

func uniformPhi(rng *rand.Rand) float64 {
	return (2*rng.Float64() - 1) * math.Pi
}

// wrapPhi folds an angle into [-π, π).
func wrapPhi(phi float64) float64 {
	phi = math.Mod(phi+math.Pi, 2*math.Pi)
	if phi < 0 {
		phi += 2 * math.Pi
	}
	return phi - math.Pi
}
