package avo

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/plthiyagu/mlhep2018/pipeline"
)

// Session is the execution context of one run: its id, random streams,
// simulator pool and logger. It replaces any process-wide state; whoever
// creates a Session closes it.
type Session struct {
	RunID string
	RNG   *PartitionedRNG
	Pool  *pipeline.Pool
	Log   *logrus.Entry
}

// NewSession starts a pool of workers running sim. Per-unit simulator
// streams derive from the simulator subsystem seed.
func NewSession(sim pipeline.Simulator, seed int64, workers int) *Session {
	runID := uuid.NewString()
	rng := NewPartitionedRNG(NewExperimentKey(seed))
	pool := pipeline.NewPool(sim, pipeline.PoolConfig{
		Workers: workers,
		Seed:    rng.Seed(SubsystemSimulator),
	})
	return &Session{
		RunID: runID,
		RNG:   rng,
		Pool:  pool,
		Log:   logrus.WithFields(logrus.Fields{"run": runID, "seed": seed}),
	}
}

// Close releases the pool.
func (s *Session) Close() error {
	return s.Pool.Close()
}
