package avo

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/plthiyagu/mlhep2018/internal/tape"
)

var (
	// ErrEmptyBatch is returned when an update receives no samples.
	ErrEmptyBatch = errors.New("avo: empty batch")

	// ErrLengthMismatch is returned when paired slices differ in length.
	ErrLengthMismatch = errors.New("avo: length mismatch")

	// ErrNonFiniteLoss is returned when a training loss or its gradient is
	// NaN or infinite. The parameters being trained are left unchanged.
	ErrNonFiniteLoss = errors.New("avo: non-finite loss")
)

// Softplus returns log(1 + exp(x)), which is positive for every finite x.
func Softplus(x float64) float64 {
	return math.Max(x, 0) + math.Log1p(math.Exp(-math.Abs(x)))
}

// InverseSoftplus returns the x with Softplus(x) == s, for s > 0.
func InverseSoftplus(s float64) float64 {
	return s + math.Log(-math.Expm1(-s))
}

// Variational is a Normal(μ, softplus(σ')) distribution over the detector
// offset, trained with the score-function estimator.
type Variational struct {
	mu       float64
	rawSigma float64
	adam     *Adam
}

// Gradient is the variational loss and its partial derivatives.
type Gradient struct {
	Loss     float64
	Mu       float64
	RawSigma float64
}

// NewVariational creates a distribution with mean mu and raw (pre-softplus)
// standard deviation rawSigma, updated by Adam at learningRate.
func NewVariational(mu, rawSigma, learningRate float64) *Variational {
	return &Variational{
		mu:       mu,
		rawSigma: rawSigma,
		adam:     NewAdam(learningRate, 2),
	}
}

// Mu returns the mean.
func (v *Variational) Mu() float64 { return v.mu }

// RawSigma returns σ', the unconstrained parameter.
func (v *Variational) RawSigma() float64 { return v.rawSigma }

// Sigma returns the standard deviation softplus(σ').
func (v *Variational) Sigma() float64 { return Softplus(v.rawSigma) }

// Sample draws n offsets as μ + σ·z with z ~ Normal(0, 1) from src. The
// returned values are plain numbers with no tie to the parameters.
func (v *Variational) Sample(src rand.Source, n int) []float64 {
	if n <= 0 {
		return []float64{}
	}
	z := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	sigma := v.Sigma()
	out := make([]float64, n)
	for i := range out {
		out[i] = v.mu + sigma*z.Rand()
	}
	return out
}

// NegLogProb returns log σ + (θ-μ)²/(2σ²) per sample: the negative
// log-density up to the constant log √(2π).
func (v *Variational) NegLogProb(thetas []float64) []float64 {
	sigma := v.Sigma()
	logSigma := math.Log(sigma)
	out := make([]float64, len(thetas))
	for i, th := range thetas {
		d := th - v.mu
		out[i] = logSigma + 0.5*d*d/(sigma*sigma)
	}
	return out
}

// Gradient evaluates mean(NegLogProb(θ)·reward) and its derivatives with
// respect to μ and σ'. Rewards enter the graph as constants.
func (v *Variational) Gradient(thetas, rewards []float64) (Gradient, error) {
	if len(thetas) == 0 {
		return Gradient{}, ErrEmptyBatch
	}
	if len(thetas) != len(rewards) {
		return Gradient{}, fmt.Errorf("%w: %d thetas, %d rewards", ErrLengthMismatch, len(thetas), len(rewards))
	}

	g := gorgonia.NewGraph()
	mu := gorgonia.NewScalar(g, tensor.Float64, gorgonia.WithName("mu"), gorgonia.WithValue(v.mu))
	raw := gorgonia.NewScalar(g, tensor.Float64, gorgonia.WithName("raw_sigma"), gorgonia.WithValue(v.rawSigma))
	theta := constantVector(g, "theta", thetas)
	reward := constantVector(g, "reward", rewards)

	cost, err := reinforceLoss(theta, reward, mu, raw)
	if err != nil {
		return Gradient{}, fmt.Errorf("avo: building variational loss: %w", err)
	}

	var grad Gradient
	grad.Loss, err = tape.Backprop(g, cost, []*gorgonia.Node{mu, raw}, func(float64) error {
		var gerr error
		if grad.Mu, gerr = tape.ScalarGrad(mu); gerr != nil {
			return gerr
		}
		grad.RawSigma, gerr = tape.ScalarGrad(raw)
		return gerr
	})
	if err != nil {
		return Gradient{}, err
	}
	return grad, nil
}

// Update takes one Adam step on (μ, σ') to minimize mean(NegLogProb(θ)·reward)
// and returns the loss before the step.
func (v *Variational) Update(thetas, rewards []float64) (float64, error) {
	grad, err := v.Gradient(thetas, rewards)
	if err != nil {
		return 0, err
	}
	if !finite(grad.Loss) || !finite(grad.Mu) || !finite(grad.RawSigma) {
		return grad.Loss, fmt.Errorf("%w: loss=%v dmu=%v draw_sigma=%v", ErrNonFiniteLoss, grad.Loss, grad.Mu, grad.RawSigma)
	}

	params := v.adam.Update([]float64{v.mu, v.rawSigma}, []float64{grad.Mu, grad.RawSigma})
	v.mu, v.rawSigma = params[0], params[1]
	return grad.Loss, nil
}

// reinforceLoss builds mean((log σ + ½(θ-μ)²/σ²) ⊙ reward) with σ = softplus(σ').
func reinforceLoss(theta, reward, mu, raw *gorgonia.Node) (*gorgonia.Node, error) {
	sigma, err := tape.Softplus(raw)
	if err != nil {
		return nil, err
	}
	logSigma, err := gorgonia.Log(sigma)
	if err != nil {
		return nil, err
	}
	variance, err := gorgonia.Square(sigma)
	if err != nil {
		return nil, err
	}
	diff, err := gorgonia.Sub(theta, mu)
	if err != nil {
		return nil, err
	}
	sq, err := gorgonia.Square(diff)
	if err != nil {
		return nil, err
	}
	quad, err := gorgonia.Div(sq, variance)
	if err != nil {
		return nil, err
	}
	half, err := gorgonia.Mul(quad, gorgonia.NewConstant(0.5))
	if err != nil {
		return nil, err
	}
	nlp, err := gorgonia.Add(half, logSigma)
	if err != nil {
		return nil, err
	}
	weighted, err := gorgonia.HadamardProd(nlp, reward)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mean(weighted)
}

// constantVector copies values into a new vector node.
func constantVector(g *gorgonia.ExprGraph, name string, values []float64) *gorgonia.Node {
	backing := append([]float64(nil), values...)
	return gorgonia.NewVector(g, tensor.Float64,
		gorgonia.WithShape(len(backing)),
		gorgonia.WithName(name),
		gorgonia.WithValue(tensor.New(tensor.WithShape(len(backing)), tensor.WithBacking(backing))))
}

func finite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
