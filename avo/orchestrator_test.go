package avo

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plthiyagu/mlhep2018/detector"
	"github.com/plthiyagu/mlhep2018/pipeline"
)

func newTestOrchestrator(t *testing.T, cfg Config, sim pipeline.Simulator, disc Discriminator, workers int) (*Orchestrator, *Session) {
	t.Helper()
	s := NewSession(sim, 42, workers)
	t.Cleanup(func() { _ = s.Close() })
	o, err := NewOrchestrator(cfg, s, disc)
	require.NoError(t, err)
	return o, s
}

func TestOrchestrator_MovesTowardTrueOffset(t *testing.T) {
	// GIVEN θ_true = 1, μ0 = -2 and a simulator whose brightness grows with θ
	cfg := smallConfig()
	o, s := newTestOrchestrator(t, cfg, &expSimulator{}, &probeDiscriminator{}, 4)

	// WHEN the full schedule runs
	tr, err := o.Run(context.Background())

	// THEN μ ends closer to θ_true than it started
	require.NoError(t, err)
	assert.Equal(t, PhaseDone, o.Phase())
	require.Equal(t, cfg.Iterations, tr.Len())
	initial := math.Abs(cfg.InitialMu - cfg.TrueTheta)
	final := math.Abs(tr.Last().Mu - cfg.TrueTheta)
	assert.Less(t, final, initial, "mu went %v -> %v", cfg.InitialMu, tr.Last().Mu)
	assert.Greater(t, tr.Last().Sigma, 0.0)
	assert.Equal(t, 0, s.Pool.Pending())
}

func TestOrchestrator_SnapshotsFollowDistribution(t *testing.T) {
	cfg := smallConfig()
	cfg.Iterations = 3
	o, s := newTestOrchestrator(t, cfg, &expSimulator{}, &probeDiscriminator{}, 2)

	tr, err := o.Run(context.Background())

	require.NoError(t, err)
	assert.Equal(t, s.RunID, tr.RunID)
	assert.Equal(t, cfg.InitialMu, tr.Initial.Mu)
	assert.InDelta(t, cfg.InitialSigma, tr.Initial.Sigma, 1e-9)
	for i, snap := range tr.Snapshots {
		assert.Equal(t, i, snap.Iteration)
	}
	assert.Equal(t, o.Variational().Mu(), tr.Last().Mu)
	assert.Equal(t, o.Variational().Sigma(), tr.Last().Sigma)
}

func TestOrchestrator_PretrainThenPhases(t *testing.T) {
	// GIVEN a fresh orchestrator
	cfg := smallConfig()
	cfg.Iterations = 2
	disc := &probeDiscriminator{}
	sim := &expSimulator{}
	o, _ := newTestOrchestrator(t, cfg, sim, disc, 2)

	// THEN stepping before pretraining fails
	assert.Equal(t, PhasePretrain, o.Phase())
	assert.Error(t, o.Step())
	assert.Nil(t, o.Cache())

	// WHEN pretraining
	require.NoError(t, o.Pretrain())

	// THEN the cache is built, the discriminator has been fit once and the
	// orchestrator iterates
	assert.Equal(t, PhaseIterate, o.Phase())
	assert.Equal(t, cfg.CacheUnits, o.Cache().Len())
	assert.Equal(t, 1, disc.fits)
	assert.Equal(t, int64(cfg.CacheUnits+cfg.PretrainSize), sim.calls.Load())
	assert.Error(t, o.Pretrain())

	// WHEN stepping through every iteration
	require.NoError(t, o.Step())
	require.NoError(t, o.Step())

	// THEN each step fits once and simulates fit + generator units
	assert.Equal(t, PhaseDone, o.Phase())
	assert.Equal(t, 3, disc.fits)
	assert.Equal(t, int64(cfg.CacheUnits+cfg.PretrainSize+2*(cfg.FitSize+cfg.GeneratorSize)), sim.calls.Load())
	assert.Error(t, o.Step())
}

func TestOrchestrator_DeterministicForSeed(t *testing.T) {
	// GIVEN two sessions with the same seed and a single worker
	cfg := smallConfig()
	cfg.Iterations = 5

	run := func() *Trajectory {
		o, _ := newTestOrchestrator(t, cfg, &expSimulator{}, &probeDiscriminator{}, 1)
		tr, err := o.Run(context.Background())
		require.NoError(t, err)
		return tr
	}

	// WHEN both run
	a, b := run(), run()

	// THEN the trajectories agree
	require.Equal(t, a.Len(), b.Len())
	for i := range a.Snapshots {
		assert.InDelta(t, a.Snapshots[i].Mu, b.Snapshots[i].Mu, 1e-9)
		assert.InDelta(t, a.Snapshots[i].Sigma, b.Snapshots[i].Sigma, 1e-9)
	}
}

func TestOrchestrator_CancelledContext(t *testing.T) {
	// GIVEN a context cancelled before the run
	o, _ := newTestOrchestrator(t, smallConfig(), &expSimulator{}, &probeDiscriminator{}, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// WHEN running
	tr, err := o.Run(ctx)

	// THEN nothing happens and the context error is returned
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, PhasePretrain, o.Phase())
}

func TestOrchestrator_CancelBetweenIterations(t *testing.T) {
	// GIVEN a discriminator that cancels the run while scoring the first iteration
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	disc := &probeDiscriminator{}
	disc.scores = func(images []detector.Image) []float64 {
		cancel()
		return make([]float64, len(images))
	}
	o, s := newTestOrchestrator(t, smallConfig(), &expSimulator{}, disc, 2)

	// WHEN running
	tr, err := o.Run(ctx)

	// THEN the started iteration completes and the run stops before the next
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, PhaseIterate, o.Phase())
	assert.Equal(t, 0, s.Pool.Pending())
}

func TestOrchestrator_SimulatorFailureIsFatal(t *testing.T) {
	// GIVEN a simulator that fails for offsets above 3 and a cache at θ = 4
	cfg := smallConfig()
	cfg.TrueTheta = 4
	o, s := newTestOrchestrator(t, cfg, &expSimulator{failAt: 3}, &probeDiscriminator{}, 4)

	// WHEN running
	_, err := o.Run(context.Background())

	// THEN the simulator error propagates and the pool is drained
	assert.ErrorIs(t, err, pipeline.ErrSimulator)
	assert.ErrorIs(t, err, errDetectorTrip)
	assert.Equal(t, 0, s.Pool.Pending())
	assert.Equal(t, PhasePretrain, o.Phase())
}

func TestOrchestrator_DiscriminatorFailureIsFatal(t *testing.T) {
	boom := errors.New("boom")
	o, _ := newTestOrchestrator(t, smallConfig(), &expSimulator{}, &probeDiscriminator{fitErr: boom}, 2)

	_, err := o.Run(context.Background())

	assert.ErrorIs(t, err, boom)
}

func TestOrchestrator_NonFiniteRewardAbortsWithoutUpdate(t *testing.T) {
	// GIVEN a discriminator whose scores are NaN
	disc := &probeDiscriminator{}
	disc.scores = func(images []detector.Image) []float64 {
		out := make([]float64, len(images))
		for i := range out {
			out[i] = math.NaN()
		}
		return out
	}
	cfg := smallConfig()
	o, _ := newTestOrchestrator(t, cfg, &expSimulator{}, disc, 2)

	// WHEN running
	tr, err := o.Run(context.Background())

	// THEN the first iteration aborts and the distribution is untouched
	assert.ErrorIs(t, err, ErrNonFiniteLoss)
	assert.Equal(t, 0, tr.Len())
	assert.Equal(t, cfg.InitialMu, o.Variational().Mu())
}

func TestOrchestrator_ScoreCountMismatch(t *testing.T) {
	disc := &probeDiscriminator{}
	disc.scores = func(images []detector.Image) []float64 { return []float64{0.5} }
	o, _ := newTestOrchestrator(t, smallConfig(), &expSimulator{}, disc, 2)

	_, err := o.Run(context.Background())

	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestNewOrchestrator_InvalidConfig(t *testing.T) {
	s := NewSession(&expSimulator{}, 1, 1)
	defer s.Close()
	cfg := smallConfig()
	cfg.Iterations = -1

	_, err := NewOrchestrator(cfg, s, &probeDiscriminator{})

	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "pretrain", PhasePretrain.String())
	assert.Equal(t, "iterate", PhaseIterate.String())
	assert.Equal(t, "done", PhaseDone.String())
	assert.Equal(t, "Phase(7)", Phase(7).String())
}
