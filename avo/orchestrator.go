package avo

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/plthiyagu/mlhep2018/pipeline"
)

// Phase is the orchestrator's position in the training schedule.
type Phase int

const (
	PhasePretrain Phase = iota
	PhaseIterate
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhasePretrain:
		return "pretrain"
	case PhaseIterate:
		return "iterate"
	case PhaseDone:
		return "done"
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Orchestrator runs the AVO loop. It owns the variational distribution, the
// sample cache and the trajectory, and drives the session's pool and the
// discriminator from a single goroutine.
type Orchestrator struct {
	cfg     Config
	session *Session
	disc    Discriminator

	variational *Variational
	cache       *SampleCache
	trajectory  *Trajectory
	phase       Phase
	iteration   int
}

// NewOrchestrator validates cfg (after applying defaults) and prepares a run.
func NewOrchestrator(cfg Config, session *Session, disc Discriminator) (*Orchestrator, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := NewVariational(cfg.InitialMu, InverseSoftplus(cfg.InitialSigma), cfg.LearningRate)
	return &Orchestrator{
		cfg:         cfg,
		session:     session,
		disc:        disc,
		variational: v,
		trajectory: NewTrajectory(session.RunID, cfg.TrueTheta, Snapshot{
			Mu:    v.Mu(),
			Sigma: v.Sigma(),
		}),
		phase: PhasePretrain,
	}, nil
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase { return o.phase }

// Variational returns the distribution being trained.
func (o *Orchestrator) Variational() *Variational { return o.variational }

// Trajectory returns the log recorded so far.
func (o *Orchestrator) Trajectory() *Trajectory { return o.trajectory }

// Cache returns the reference images, or nil before Pretrain.
func (o *Orchestrator) Cache() *SampleCache { return o.cache }

// Run executes Pretrain and then every iteration. Cancellation of ctx is
// observed between steps; a step that has started always finishes draining
// the pool.
func (o *Orchestrator) Run(ctx context.Context) (*Trajectory, error) {
	if err := ctx.Err(); err != nil {
		return o.trajectory, err
	}
	if o.phase == PhasePretrain {
		if err := o.Pretrain(); err != nil {
			return o.trajectory, err
		}
	}
	for o.phase == PhaseIterate {
		if err := ctx.Err(); err != nil {
			return o.trajectory, err
		}
		if err := o.Step(); err != nil {
			return o.trajectory, err
		}
	}

	sum := Summarize(o.trajectory, 0)
	o.session.Log.Infof("done after %d iterations: mu=%.4f sigma=%.4f |mu-theta_true|=%.4f (start %.4f)",
		sum.Iterations, sum.FinalMu, sum.FinalSigma, sum.FinalDistance, sum.InitialDistance)
	return o.trajectory, nil
}

// Pretrain builds the sample cache at the true offset and fits the
// discriminator against images drawn from the initial distribution.
func (o *Orchestrator) Pretrain() error {
	if o.phase != PhasePretrain {
		return fmt.Errorf("avo: pretrain in phase %s", o.phase)
	}
	log := o.session.Log.WithField("phase", PhasePretrain.String())

	log.Infof("building sample cache: %d units at theta=%g", o.cfg.CacheUnits, o.cfg.TrueTheta)
	cache, err := NewSampleCache(o.session.Pool, o.cfg.TrueTheta, o.cfg.CacheUnits, o.progress("cache"))
	if err != nil {
		return err
	}
	o.cache = cache

	thetas := o.variational.Sample(o.session.RNG.ForSubsystem(SubsystemVariational), o.cfg.PretrainSize)
	report, err := o.fit(thetas, o.cfg.PretrainEpochs)
	if err != nil {
		return fmt.Errorf("avo: pretrain: %w", err)
	}
	log.Infof("discriminator pretrained on %d cached images: loss=%.4f", cache.Len(), report.FinalLoss())

	o.phase = PhaseIterate
	return nil
}

// Step runs one iteration: fit the discriminator, then update the
// variational distribution with discriminator scores as rewards.
func (o *Orchestrator) Step() error {
	if o.phase != PhaseIterate {
		return fmt.Errorf("avo: step in phase %s", o.phase)
	}
	i := o.iteration
	src := o.session.RNG.ForSubsystem(SubsystemVariational)

	report, err := o.fit(o.variational.Sample(src, o.cfg.FitSize), o.cfg.FitEpochs)
	if err != nil {
		return fmt.Errorf("avo: iteration %d: %w", i, err)
	}

	thetas, rewards, err := o.rewards(o.variational.Sample(src, o.cfg.GeneratorSize))
	if err != nil {
		return fmt.Errorf("avo: iteration %d: %w", i, err)
	}
	loss, err := o.variational.Update(thetas, rewards)
	if err != nil {
		return fmt.Errorf("avo: iteration %d: %w", i, err)
	}

	snap := Snapshot{
		Iteration:         i,
		Mu:                o.variational.Mu(),
		Sigma:             o.variational.Sigma(),
		Loss:              loss,
		DiscriminatorLoss: report.FinalLoss(),
	}
	o.trajectory.Record(snap)
	if o.cfg.LogEvery > 0 && (i%o.cfg.LogEvery == 0 || i == o.cfg.Iterations-1) {
		o.session.Log.Infof("iteration %d/%d: mu=%.4f sigma=%.4f loss=%.4f disc_loss=%.4f",
			i+1, o.cfg.Iterations, snap.Mu, snap.Sigma, snap.Loss, snap.DiscriminatorLoss)
	}

	o.iteration++
	if o.iteration >= o.cfg.Iterations {
		o.phase = PhaseDone
	}
	return nil
}

// fit simulates thetas and trains the discriminator on those images (label 0)
// against the same number of cached images (label 1).
func (o *Orchestrator) fit(thetas []float64, epochs int) (FitReport, error) {
	results, err := pipeline.GetData(o.session.Pool, thetas, o.progress("fit"))
	if err != nil {
		return FitReport{}, err
	}
	_, simulated := pipeline.Flatten(results)
	reference := o.cache.Draw(o.session.RNG.ForSubsystem(SubsystemCache), len(simulated))
	return o.disc.Fit(NewLabeledBatch(reference, simulated), epochs, o.cfg.BatchSize)
}

// rewards simulates thetas and returns, per unit, its offset and the mean
// discriminator score of its images. Scores are copied out of the
// discriminator before they are used.
func (o *Orchestrator) rewards(thetas []float64) ([]float64, []float64, error) {
	results, err := pipeline.GetData(o.session.Pool, thetas, o.progress("generator"))
	if err != nil {
		return nil, nil, err
	}
	_, images := pipeline.Flatten(results)
	scores, err := o.disc.Score(images)
	if err != nil {
		return nil, nil, err
	}
	if len(scores) != len(images) {
		return nil, nil, fmt.Errorf("%w: %d scores for %d images", ErrLengthMismatch, len(scores), len(images))
	}

	unitThetas := make([]float64, 0, len(results))
	unitRewards := make([]float64, 0, len(results))
	offset := 0
	for _, res := range results {
		n := len(res.Images)
		if n == 0 {
			continue
		}
		unitThetas = append(unitThetas, res.Theta)
		unitRewards = append(unitRewards, stat.Mean(append([]float64(nil), scores[offset:offset+n]...), nil))
		offset += n
	}
	return unitThetas, unitRewards, nil
}

func (o *Orchestrator) progress(stage string) pipeline.ProgressFunc {
	log := o.session.Log.WithField("stage", stage)
	return func(done, total int) {
		log.Tracef("simulated %d/%d", done, total)
	}
}
