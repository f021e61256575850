package avo

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// Snapshot is the state of the variational distribution after one iteration.
type Snapshot struct {
	Iteration         int     `json:"iteration"`
	Mu                float64 `json:"mu"`
	Sigma             float64 `json:"sigma"`
	Loss              float64 `json:"loss"`
	DiscriminatorLoss float64 `json:"discriminator_loss"`
}

// Trajectory is the append-only log of a run.
type Trajectory struct {
	RunID     string     `json:"run_id"`
	TrueTheta float64    `json:"true_theta"`
	Initial   Snapshot   `json:"initial"`
	Snapshots []Snapshot `json:"snapshots"`
}

// NewTrajectory starts a log whose Initial entry holds the distribution
// before any update.
func NewTrajectory(runID string, trueTheta float64, initial Snapshot) *Trajectory {
	initial.Iteration = -1
	return &Trajectory{
		RunID:     runID,
		TrueTheta: trueTheta,
		Initial:   initial,
		Snapshots: make([]Snapshot, 0),
	}
}

// Record appends a snapshot.
func (t *Trajectory) Record(s Snapshot) {
	t.Snapshots = append(t.Snapshots, s)
}

// Len returns the number of recorded iterations.
func (t *Trajectory) Len() int {
	return len(t.Snapshots)
}

// Last returns the most recent snapshot, or Initial when nothing was recorded.
func (t *Trajectory) Last() Snapshot {
	if len(t.Snapshots) == 0 {
		return t.Initial
	}
	return t.Snapshots[len(t.Snapshots)-1]
}

// TrajectorySummary aggregates a Trajectory.
type TrajectorySummary struct {
	Iterations      int     `json:"iterations"`
	FinalMu         float64 `json:"final_mu"`
	FinalSigma      float64 `json:"final_sigma"`
	InitialDistance float64 `json:"initial_distance"` // |μ0 - θ_true|
	FinalDistance   float64 `json:"final_distance"`   // |μN - θ_true|
	MeanLoss        float64 `json:"mean_loss"`
	TailMuMean      float64 `json:"tail_mu_mean"`
	TailMuStd       float64 `json:"tail_mu_std"`
}

// Summarize computes aggregate statistics over a Trajectory. The tail
// statistics cover the last tail snapshots (all of them if tail <= 0 or
// exceeds the length). Safe for nil or empty trajectories.
func Summarize(t *Trajectory, tail int) *TrajectorySummary {
	summary := &TrajectorySummary{}
	if t == nil {
		return summary
	}

	last := t.Last()
	summary.Iterations = t.Len()
	summary.FinalMu = last.Mu
	summary.FinalSigma = last.Sigma
	summary.InitialDistance = math.Abs(t.Initial.Mu - t.TrueTheta)
	summary.FinalDistance = math.Abs(last.Mu - t.TrueTheta)

	if t.Len() == 0 {
		return summary
	}

	losses := make([]float64, t.Len())
	mus := make([]float64, t.Len())
	for i, s := range t.Snapshots {
		losses[i] = s.Loss
		mus[i] = s.Mu
	}
	summary.MeanLoss = stat.Mean(losses, nil)

	if tail <= 0 || tail > len(mus) {
		tail = len(mus)
	}
	tailMus := mus[len(mus)-tail:]
	summary.TailMuMean, summary.TailMuStd = stat.MeanStdDev(tailMus, nil)
	if tail == 1 {
		summary.TailMuStd = 0
	}
	return summary
}
