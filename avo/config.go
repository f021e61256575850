package avo

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("avo: invalid config")

// Config is the training schedule of one AVO run. Sizes are counts of
// simulator units; each unit yields the detector's batch size of images.
type Config struct {
	Iterations     int     `yaml:"iterations"`
	TrueTheta      float64 `yaml:"true_theta"`
	InitialMu      float64 `yaml:"initial_mu"`
	InitialSigma   float64 `yaml:"initial_sigma"` // σ, not the raw parameter
	LearningRate   float64 `yaml:"learning_rate"`
	CacheUnits     int     `yaml:"cache_units"`
	PretrainSize   int     `yaml:"pretrain_size"`
	PretrainEpochs int     `yaml:"pretrain_epochs"`
	FitSize        int     `yaml:"fit_size"`
	FitEpochs      int     `yaml:"fit_epochs"`
	GeneratorSize  int     `yaml:"generator_size"`
	BatchSize      int     `yaml:"batch_size"` // discriminator mini-batch
	LogEvery       int     `yaml:"log_every"`
}

// DefaultConfig returns the standard schedule.
func DefaultConfig() Config {
	return Config{
		Iterations:     256,
		TrueTheta:      1,
		InitialMu:      0,
		InitialSigma:   1,
		LearningRate:   0.02,
		CacheUnits:     512,
		PretrainSize:   512,
		PretrainEpochs: 4,
		FitSize:        32,
		FitEpochs:      1,
		GeneratorSize:  32,
		BatchSize:      32,
		LogEvery:       16,
	}
}

// WithDefaults returns c with every zero-valued count, rate and sigma
// replaced by its DefaultConfig value. TrueTheta and InitialMu are kept
// as given since zero is a meaningful offset.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	setInt := func(v *int, def int) {
		if *v == 0 {
			*v = def
		}
	}
	setInt(&c.Iterations, d.Iterations)
	setInt(&c.CacheUnits, d.CacheUnits)
	setInt(&c.PretrainSize, d.PretrainSize)
	setInt(&c.PretrainEpochs, d.PretrainEpochs)
	setInt(&c.FitSize, d.FitSize)
	setInt(&c.FitEpochs, d.FitEpochs)
	setInt(&c.GeneratorSize, d.GeneratorSize)
	setInt(&c.BatchSize, d.BatchSize)
	setInt(&c.LogEvery, d.LogEvery)
	if c.InitialSigma == 0 {
		c.InitialSigma = d.InitialSigma
	}
	if c.LearningRate == 0 {
		c.LearningRate = d.LearningRate
	}
	return c
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	counts := []struct {
		name string
		v    int
	}{
		{"iterations", c.Iterations},
		{"cache_units", c.CacheUnits},
		{"pretrain_size", c.PretrainSize},
		{"fit_size", c.FitSize},
		{"generator_size", c.GeneratorSize},
		{"batch_size", c.BatchSize},
	}
	for _, f := range counts {
		if f.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidConfig, f.name, f.v)
		}
	}
	if c.PretrainEpochs < 0 || c.FitEpochs < 0 {
		return fmt.Errorf("%w: epochs must be non-negative", ErrInvalidConfig)
	}
	if c.LogEvery < 0 {
		return fmt.Errorf("%w: log_every must be non-negative, got %d", ErrInvalidConfig, c.LogEvery)
	}
	if !(c.InitialSigma > 0) || math.IsInf(c.InitialSigma, 0) {
		return fmt.Errorf("%w: initial_sigma must be positive and finite, got %v", ErrInvalidConfig, c.InitialSigma)
	}
	if !(c.LearningRate > 0) || math.IsInf(c.LearningRate, 0) {
		return fmt.Errorf("%w: learning_rate must be positive and finite, got %v", ErrInvalidConfig, c.LearningRate)
	}
	if !finite(c.TrueTheta) || !finite(c.InitialMu) {
		return fmt.Errorf("%w: true_theta and initial_mu must be finite", ErrInvalidConfig)
	}
	return nil
}
