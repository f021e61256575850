// Package convnet is the convolutional Discriminator used by AVO runs.
//
// Architecture, for an input of shape (C, H, W):
//
//	conv3x3(C→F1) → ReLU → maxpool2
//	conv3x3(F1→F2) → ReLU → maxpool2
//	dense(F2·H/4·W/4 → Hidden) → ReLU → dense(Hidden → 1) → sigmoid
//
// Weights live in tensors owned by the Net. Each mini-batch builds its own
// gorgonia graph around copies of them, differentiates the loss on that
// graph, and copies the stepped values back.
package convnet

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/plthiyagu/mlhep2018/avo"
	"github.com/plthiyagu/mlhep2018/detector"
	"github.com/plthiyagu/mlhep2018/internal/tape"
)

// ErrUnsupportedShape is returned by New for inputs the two pooling stages
// cannot divide evenly.
var ErrUnsupportedShape = errors.New("convnet: height and width must be positive multiples of 4")

// Config holds the network's hyperparameters.
type Config struct {
	Filters1     int     `yaml:"filters1"`
	Filters2     int     `yaml:"filters2"`
	Hidden       int     `yaml:"hidden"`
	LearningRate float64 `yaml:"learning_rate"`
	ScoreBatch   int     `yaml:"score_batch"`
	Seed         uint64  `yaml:"-"` // derived from the experiment seed by callers
}

// DefaultConfig returns the standard network size.
func DefaultConfig() Config {
	return Config{
		Filters1:     8,
		Filters2:     16,
		Hidden:       32,
		LearningRate: 1e-3,
		ScoreBatch:   256,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Filters1 <= 0 {
		c.Filters1 = d.Filters1
	}
	if c.Filters2 <= 0 {
		c.Filters2 = d.Filters2
	}
	if c.Hidden <= 0 {
		c.Hidden = d.Hidden
	}
	if c.LearningRate <= 0 {
		c.LearningRate = d.LearningRate
	}
	if c.ScoreBatch <= 0 {
		c.ScoreBatch = d.ScoreBatch
	}
	return c
}

type param struct {
	name  string
	value *tensor.Dense
}

// Net is a binary image classifier. It is not safe for concurrent use.
type Net struct {
	cfg    Config
	shape  detector.Shape
	params []*param // conv1, conv2, w2, b2, w3, b3
	solver *gorgonia.AdamSolver
	rng    *rand.Rand
	steps  int
}

var _ avo.Discriminator = (*Net)(nil)

// New builds a He-initialised network for images of the given shape.
func New(shape detector.Shape, cfg Config) (*Net, error) {
	if shape.Height <= 0 || shape.Width <= 0 || shape.Channels <= 0 ||
		shape.Height%4 != 0 || shape.Width%4 != 0 {
		return nil, fmt.Errorf("%w: got %s", ErrUnsupportedShape, shape)
	}
	cfg = cfg.withDefaults()

	src := rand.NewPCG(cfg.Seed, 0)
	flat := cfg.Filters2 * (shape.Height / 4) * (shape.Width / 4)
	n := &Net{
		cfg:   cfg,
		shape: shape,
		params: []*param{
			heParam("conv1", src, shape.Channels*9, cfg.Filters1, shape.Channels, 3, 3),
			heParam("conv2", src, cfg.Filters1*9, cfg.Filters2, cfg.Filters1, 3, 3),
			heParam("w2", src, flat, flat, cfg.Hidden),
			zeroParam("b2", 1, cfg.Hidden),
			heParam("w3", src, cfg.Hidden, cfg.Hidden, 1),
			zeroParam("b3", 1, 1),
		},
		solver: gorgonia.NewAdamSolver(gorgonia.WithLearnRate(cfg.LearningRate)),
		rng:    rand.New(rand.NewPCG(cfg.Seed, 1)),
	}
	return n, nil
}

func heParam(name string, src rand.Source, fanIn int, shape ...int) *param {
	normal := distuv.Normal{Mu: 0, Sigma: math.Sqrt(2 / float64(fanIn)), Src: src}
	size := 1
	for _, d := range shape {
		size *= d
	}
	backing := make([]float64, size)
	for i := range backing {
		backing[i] = normal.Rand()
	}
	return &param{name: name, value: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(backing))}
}

func zeroParam(name string, shape ...int) *param {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return &param{name: name, value: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(make([]float64, size)))}
}

// Shape returns the input image shape.
func (n *Net) Shape() detector.Shape { return n.shape }

// Steps returns the number of optimizer steps taken.
func (n *Net) Steps() int { return n.steps }

// Fit trains with Adam on binary cross-entropy computed from logits,
// reshuffling every epoch. A batchSize <= 0 uses the whole batch.
func (n *Net) Fit(batch avo.LabeledBatch, epochs, batchSize int) (avo.FitReport, error) {
	if err := batch.Validate(n.shape); err != nil {
		return avo.FitReport{}, err
	}
	total := batch.Len()
	if batchSize <= 0 || batchSize > total {
		batchSize = total
	}

	report := avo.FitReport{EpochLoss: make([]float64, 0, epochs)}
	for e := 0; e < epochs; e++ {
		order := n.rng.Perm(total)
		var sum float64
		for start := 0; start < total; start += batchSize {
			end := min(start+batchSize, total)
			images := make([]detector.Image, 0, end-start)
			labels := make([]float64, 0, end-start)
			for _, idx := range order[start:end] {
				images = append(images, batch.Images[idx])
				labels = append(labels, batch.Labels[idx])
			}
			loss, err := n.step(images, labels)
			if err != nil {
				return report, fmt.Errorf("convnet: epoch %d: %w", e, err)
			}
			sum += loss * float64(end-start)
		}
		report.EpochLoss = append(report.EpochLoss, sum/float64(total))
	}
	return report, nil
}

// Score returns sigmoid(logit) for every image. No parameter changes.
func (n *Net) Score(images []detector.Image) ([]float64, error) {
	out := make([]float64, 0, len(images))
	for start := 0; start < len(images); start += n.cfg.ScoreBatch {
		end := min(start+n.cfg.ScoreBatch, len(images))
		g := gorgonia.NewGraph()
		x, err := n.input(g, images[start:end])
		if err != nil {
			return nil, err
		}
		logits, _, err := n.forward(g, x)
		if err != nil {
			return nil, err
		}
		prob, err := gorgonia.Sigmoid(logits)
		if err != nil {
			return nil, err
		}
		scores, err := tape.Forward(g, prob)
		if err != nil {
			return nil, err
		}
		out = append(out, scores...)
	}
	return out, nil
}

// Loss returns the mean binary cross-entropy of the current weights on a
// labeled batch without training.
func (n *Net) Loss(batch avo.LabeledBatch) (float64, error) {
	if err := batch.Validate(n.shape); err != nil {
		return 0, err
	}
	g := gorgonia.NewGraph()
	cost, _, err := n.lossGraph(g, batch.Images, batch.Labels)
	if err != nil {
		return 0, err
	}
	vals, err := tape.Forward(g, cost)
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// step takes one Adam step on a mini-batch and returns its loss.
func (n *Net) step(images []detector.Image, labels []float64) (float64, error) {
	g := gorgonia.NewGraph()
	cost, learnables, err := n.lossGraph(g, images, labels)
	if err != nil {
		return 0, err
	}
	return tape.Backprop(g, cost, learnables, func(c float64) error {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return fmt.Errorf("%w: %v", avo.ErrNonFiniteLoss, c)
		}
		if err := n.solver.Step(gorgonia.NodesToValueGrads(learnables)); err != nil {
			return fmt.Errorf("convnet: adam step: %w", err)
		}
		for i, node := range learnables {
			copy(n.params[i].value.Data().([]float64), node.Value().Data().([]float64))
		}
		n.steps++
		return nil
	})
}

// lossGraph builds mean(softplus(z) - y·z), the cross-entropy of
// sigmoid(z) against y.
func (n *Net) lossGraph(g *gorgonia.ExprGraph, images []detector.Image, labels []float64) (*gorgonia.Node, []*gorgonia.Node, error) {
	x, err := n.input(g, images)
	if err != nil {
		return nil, nil, err
	}
	z, learnables, err := n.forward(g, x)
	if err != nil {
		return nil, nil, err
	}
	y := gorgonia.NewMatrix(g, tensor.Float64,
		gorgonia.WithShape(len(labels), 1),
		gorgonia.WithName("y"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(len(labels), 1), tensor.WithBacking(append([]float64(nil), labels...)))))

	sp, err := tape.Softplus(z)
	if err != nil {
		return nil, nil, err
	}
	yz, err := gorgonia.HadamardProd(y, z)
	if err != nil {
		return nil, nil, err
	}
	diff, err := gorgonia.Sub(sp, yz)
	if err != nil {
		return nil, nil, err
	}
	cost, err := gorgonia.Mean(diff)
	if err != nil {
		return nil, nil, err
	}
	return cost, learnables, nil
}

func (n *Net) input(g *gorgonia.ExprGraph, images []detector.Image) (*gorgonia.Node, error) {
	if len(images) == 0 {
		return nil, avo.ErrEmptyBatch
	}
	data, err := detector.Stack(images, n.shape)
	if err != nil {
		return nil, err
	}
	s := []int{len(images), n.shape.Channels, n.shape.Height, n.shape.Width}
	return gorgonia.NewTensor(g, tensor.Float64, 4,
		gorgonia.WithShape(s...),
		gorgonia.WithName("x"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(s...), tensor.WithBacking(data)))), nil
}

// forward returns the logits of x, shape (batch, 1), and the weight nodes
// in params order.
func (n *Net) forward(g *gorgonia.ExprGraph, x *gorgonia.Node) (*gorgonia.Node, []*gorgonia.Node, error) {
	nodes := make([]*gorgonia.Node, len(n.params))
	for i, p := range n.params {
		nodes[i] = gorgonia.NewTensor(g, tensor.Float64, p.value.Dims(),
			gorgonia.WithShape(p.value.Shape().Clone()...),
			gorgonia.WithName(p.name),
			gorgonia.WithValue(p.value.Clone().(*tensor.Dense)))
	}
	conv1, conv2, w2, b2, w3, b3 := nodes[0], nodes[1], nodes[2], nodes[3], nodes[4], nodes[5]

	h, err := convBlock(x, conv1)
	if err != nil {
		return nil, nil, fmt.Errorf("convnet: conv1: %w", err)
	}
	if h, err = convBlock(h, conv2); err != nil {
		return nil, nil, fmt.Errorf("convnet: conv2: %w", err)
	}

	batch := x.Shape()[0]
	flat := n.cfg.Filters2 * (n.shape.Height / 4) * (n.shape.Width / 4)
	if h, err = gorgonia.Reshape(h, tensor.Shape{batch, flat}); err != nil {
		return nil, nil, err
	}
	if h, err = dense(h, w2, b2); err != nil {
		return nil, nil, fmt.Errorf("convnet: hidden: %w", err)
	}
	if h, err = gorgonia.Rectify(h); err != nil {
		return nil, nil, err
	}
	logits, err := dense(h, w3, b3)
	if err != nil {
		return nil, nil, fmt.Errorf("convnet: output: %w", err)
	}
	return logits, nodes, nil
}

func convBlock(x, filter *gorgonia.Node) (*gorgonia.Node, error) {
	c, err := gorgonia.Conv2d(x, filter, tensor.Shape{3, 3}, []int{1, 1}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, err
	}
	if c, err = gorgonia.Rectify(c); err != nil {
		return nil, err
	}
	return gorgonia.MaxPool2D(c, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2})
}

func dense(x, w, b *gorgonia.Node) (*gorgonia.Node, error) {
	xw, err := gorgonia.Mul(x, w)
	if err != nil {
		return nil, err
	}
	return gorgonia.BroadcastAdd(xw, b, nil, []byte{0})
}
