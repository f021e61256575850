package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/plthiyagu/mlhep2018/avo"
	"github.com/plthiyagu/mlhep2018/avo/convnet"
	"github.com/plthiyagu/mlhep2018/detector"
	"github.com/plthiyagu/mlhep2018/pipeline"
)

// PoolConfig is the pool section of an experiment file.
type PoolConfig struct {
	Workers int `yaml:"workers"`
}

// ExperimentConfig represents the full experiment YAML structure.
// All top-level sections must be listed to satisfy KnownFields(true) strict parsing.
type ExperimentConfig struct {
	Seed          int64           `yaml:"seed"`
	Detector      detector.Config `yaml:"detector"`
	Pool          PoolConfig      `yaml:"pool"`
	Training      avo.Config      `yaml:"training"`
	Discriminator convnet.Config  `yaml:"discriminator"`
}

// DefaultExperimentConfig is used for every field an experiment file leaves out.
func DefaultExperimentConfig() ExperimentConfig {
	return ExperimentConfig{
		Seed:          42,
		Detector:      detector.DefaultConfig(),
		Pool:          PoolConfig{Workers: pipeline.DefaultWorkers},
		Training:      avo.DefaultConfig(),
		Discriminator: convnet.DefaultConfig(),
	}
}

// parseExperimentConfig decodes YAML over the defaults with strict field
// checking: typos must cause errors. An empty document yields the defaults.
func parseExperimentConfig(data []byte) (ExperimentConfig, error) {
	cfg := DefaultExperimentConfig()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return ExperimentConfig{}, fmt.Errorf("parsing experiment YAML: %w", err)
	}
	if err := cfg.Detector.Geometry.Validate(); err != nil {
		return ExperimentConfig{}, err
	}
	if err := cfg.Training.Validate(); err != nil {
		return ExperimentConfig{}, err
	}
	return cfg, nil
}

// loadExperimentConfig reads path, or returns the defaults when path is empty.
func loadExperimentConfig(path string) (ExperimentConfig, error) {
	if path == "" {
		return DefaultExperimentConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ExperimentConfig{}, fmt.Errorf("reading experiment file: %w", err)
	}
	return parseExperimentConfig(data)
}
