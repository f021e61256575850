package convnet

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plthiyagu/mlhep2018/avo"
	"github.com/plthiyagu/mlhep2018/detector"
)

var shape16 = detector.Shape{Height: 16, Width: 16, Channels: 1}

func constantImages(s detector.Shape, value float64, n int) []detector.Image {
	out := make([]detector.Image, n)
	for i := range out {
		im := detector.NewImage(s)
		for j := range im.Pix {
			im.Pix[j] = value
		}
		out[i] = im
	}
	return out
}

func TestNew_RejectsUnsupportedShapes(t *testing.T) {
	tests := []struct {
		name  string
		shape detector.Shape
	}{
		{"height not multiple of 4", detector.Shape{Height: 10, Width: 16, Channels: 1}},
		{"width not multiple of 4", detector.Shape{Height: 16, Width: 6, Channels: 1}},
		{"zero channels", detector.Shape{Height: 16, Width: 16}},
		{"empty", detector.Shape{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.shape, DefaultConfig())
			assert.ErrorIs(t, err, ErrUnsupportedShape)
		})
	}
}

func TestNew_FillsDefaults(t *testing.T) {
	n, err := New(shape16, Config{Seed: 3})
	require.NoError(t, err)

	assert.Equal(t, 8, n.cfg.Filters1)
	assert.Equal(t, 16, n.cfg.Filters2)
	assert.Equal(t, 32, n.cfg.Hidden)
	assert.Equal(t, shape16, n.Shape())
	require.Len(t, n.params, 6)
	assert.Equal(t, []int{8, 1, 3, 3}, []int(n.params[0].value.Shape()))
	assert.Equal(t, []int{16 * 4 * 4, 32}, []int(n.params[2].value.Shape()))
}

func TestScore_ProbabilitiesWithoutSideEffects(t *testing.T) {
	// GIVEN an untrained network and a mix of images
	n, err := New(shape16, Config{Seed: 1, ScoreBatch: 3})
	require.NoError(t, err)
	images := append(constantImages(shape16, 0, 4), constantImages(shape16, 2, 3)...)

	// WHEN scoring twice
	first, err := n.Score(images)
	require.NoError(t, err)
	second, err := n.Score(images)
	require.NoError(t, err)

	// THEN every score is a probability and nothing was trained
	require.Len(t, first, len(images))
	for _, s := range first {
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
	assert.Equal(t, first, second)
	assert.Equal(t, 0, n.Steps())
}

func TestScore_ShapeMismatch(t *testing.T) {
	n, err := New(shape16, Config{Seed: 1})
	require.NoError(t, err)

	_, err = n.Score(constantImages(detector.Shape{Height: 8, Width: 8, Channels: 1}, 1, 2))

	assert.ErrorIs(t, err, detector.ErrShapeMismatch)
}

func TestScore_Empty(t *testing.T) {
	n, err := New(shape16, Config{Seed: 1})
	require.NoError(t, err)

	scores, err := n.Score(nil)

	require.NoError(t, err)
	assert.Empty(t, scores)
}

func TestFit_SeparatesConstantImages(t *testing.T) {
	// GIVEN images simulated at θ = 1 (all ones, label 1) and θ = 0 (all zeros, label 0)
	n, err := New(shape16, Config{Seed: 7, LearningRate: 0.01})
	require.NoError(t, err)
	ones := constantImages(shape16, 1, 16)
	zeros := constantImages(shape16, 0, 16)

	// WHEN fitting
	report, err := n.Fit(avo.NewLabeledBatch(ones, zeros), 80, 16)
	require.NoError(t, err)

	// THEN the classes are separated and the loss went down
	onesScore, err := n.Score(ones)
	require.NoError(t, err)
	zerosScore, err := n.Score(zeros)
	require.NoError(t, err)

	assert.Greater(t, mean(onesScore), 0.9)
	assert.Less(t, mean(zerosScore), 0.1)
	require.Len(t, report.EpochLoss, 80)
	assert.Less(t, report.FinalLoss(), report.EpochLoss[0])
	assert.Equal(t, 160, n.Steps())
}

func TestLoss_MatchesCrossEntropyOfScores(t *testing.T) {
	// GIVEN a network and a labeled batch
	n, err := New(shape16, Config{Seed: 11})
	require.NoError(t, err)
	batch := avo.NewLabeledBatch(constantImages(shape16, 0.5, 3), constantImages(shape16, 0, 2))

	// WHEN computing the logit-based loss and the loss of the scores
	loss, err := n.Loss(batch)
	require.NoError(t, err)
	scores, err := n.Score(batch.Images)
	require.NoError(t, err)

	// THEN they agree
	var want float64
	for i, p := range scores {
		y := batch.Labels[i]
		want -= y*math.Log(p) + (1-y)*math.Log(1-p)
	}
	assert.InDelta(t, want/float64(len(scores)), loss, 1e-9)
}

func TestFit_DeterministicForSeed(t *testing.T) {
	batch := avo.NewLabeledBatch(constantImages(shape16, 1, 6), constantImages(shape16, 0.2, 6))
	run := func() []float64 {
		n, err := New(shape16, Config{Seed: 5, LearningRate: 0.01})
		require.NoError(t, err)
		_, err = n.Fit(batch, 3, 4)
		require.NoError(t, err)
		scores, err := n.Score(batch.Images)
		require.NoError(t, err)
		return scores
	}

	assert.Equal(t, run(), run())
}

func TestFit_Validation(t *testing.T) {
	n, err := New(shape16, Config{Seed: 1})
	require.NoError(t, err)

	_, err = n.Fit(avo.LabeledBatch{}, 1, 4)
	assert.ErrorIs(t, err, avo.ErrEmptyBatch)

	other := detector.Shape{Height: 8, Width: 8, Channels: 1}
	_, err = n.Fit(avo.NewLabeledBatch(constantImages(other, 1, 2), nil), 1, 4)
	assert.ErrorIs(t, err, detector.ErrShapeMismatch)

	report, err := n.Fit(avo.NewLabeledBatch(constantImages(shape16, 1, 2), nil), 0, 4)
	require.NoError(t, err)
	assert.Empty(t, report.EpochLoss)
	assert.Equal(t, 0, n.Steps())
}

func mean(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}
