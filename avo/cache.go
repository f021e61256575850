package avo

import (
	"fmt"
	"math/rand/v2"

	"github.com/plthiyagu/mlhep2018/detector"
	"github.com/plthiyagu/mlhep2018/pipeline"
)

// SampleCache holds reference ("real") images simulated once at a fixed
// offset. It is read-only after construction.
type SampleCache struct {
	theta  float64
	images []detector.Image
}

// NewSampleCache simulates units units at theta through p and keeps every
// resulting image.
func NewSampleCache(p *pipeline.Pool, theta float64, units int, progress pipeline.ProgressFunc) (*SampleCache, error) {
	if units <= 0 {
		return nil, fmt.Errorf("%w: cache needs at least one unit, got %d", ErrInvalidConfig, units)
	}
	thetas := make([]float64, units)
	for i := range thetas {
		thetas[i] = theta
	}
	results, err := pipeline.GetData(p, thetas, progress)
	if err != nil {
		return nil, fmt.Errorf("avo: building sample cache: %w", err)
	}
	_, images := pipeline.Flatten(results)
	if len(images) == 0 {
		return nil, fmt.Errorf("avo: building sample cache: %w", ErrEmptyBatch)
	}
	return &SampleCache{theta: theta, images: images}, nil
}

// Theta returns the offset the cache was simulated at.
func (c *SampleCache) Theta() float64 { return c.theta }

// Len returns the number of cached images.
func (c *SampleCache) Len() int { return len(c.images) }

// Images returns the cached images. Callers must not modify them.
func (c *SampleCache) Images() []detector.Image { return c.images }

// Draw returns n images chosen uniformly with replacement.
func (c *SampleCache) Draw(rng *rand.Rand, n int) []detector.Image {
	out := make([]detector.Image, n)
	for i := range out {
		out[i] = c.images[rng.IntN(len(c.images))]
	}
	return out
}
