package avo

import (
	"fmt"

	"github.com/plthiyagu/mlhep2018/detector"
)

// Labels used in a LabeledBatch.
const (
	LabelSimulated = 0.0
	LabelReal      = 1.0
)

// Discriminator classifies detector images as real (reference) or simulated.
type Discriminator interface {
	// Fit trains on batch for the given number of epochs with mini-batches
	// of batchSize, and reports the mean loss of every epoch.
	Fit(batch LabeledBatch, epochs, batchSize int) (FitReport, error)

	// Score returns P(real | image) for every image, each in [0, 1].
	Score(images []detector.Image) ([]float64, error)
}

// LabeledBatch pairs images with their labels. It is built for one Fit call
// and not retained.
type LabeledBatch struct {
	Images []detector.Image
	Labels []float64
}

// NewLabeledBatch labels reference images 1 and simulated images 0,
// reference first.
func NewLabeledBatch(reference, simulated []detector.Image) LabeledBatch {
	b := LabeledBatch{
		Images: make([]detector.Image, 0, len(reference)+len(simulated)),
		Labels: make([]float64, 0, len(reference)+len(simulated)),
	}
	for _, im := range reference {
		b.Images = append(b.Images, im)
		b.Labels = append(b.Labels, LabelReal)
	}
	for _, im := range simulated {
		b.Images = append(b.Images, im)
		b.Labels = append(b.Labels, LabelSimulated)
	}
	return b
}

// Len returns the number of labeled images.
func (b LabeledBatch) Len() int { return len(b.Images) }

// Validate checks the batch is non-empty, has one label per image and that
// every image has shape s.
func (b LabeledBatch) Validate(s detector.Shape) error {
	if len(b.Images) == 0 {
		return ErrEmptyBatch
	}
	if len(b.Images) != len(b.Labels) {
		return fmt.Errorf("%w: %d images, %d labels", ErrLengthMismatch, len(b.Images), len(b.Labels))
	}
	for i, im := range b.Images {
		if im.Shape != s {
			return fmt.Errorf("image %d: %w: got %s, want %s", i, detector.ErrShapeMismatch, im.Shape, s)
		}
	}
	return nil
}

// FitReport is the per-epoch mean loss of one Fit call.
type FitReport struct {
	EpochLoss []float64
}

// FinalLoss returns the loss of the last epoch, or 0 if no epoch ran.
func (r FitReport) FinalLoss() float64 {
	if len(r.EpochLoss) == 0 {
		return 0
	}
	return r.EpochLoss[len(r.EpochLoss)-1]
}
