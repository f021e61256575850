package cmd

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/plthiyagu/mlhep2018/avo"
	"github.com/plthiyagu/mlhep2018/detector"
	"github.com/plthiyagu/mlhep2018/pipeline"
)

// ImageStats summarises one simulated image.
type ImageStats struct {
	Unit      int     `json:"unit"`
	Theta     float64 `json:"theta"`
	Sum       float64 `json:"sum"`
	Max       float64 `json:"max"`
	Occupancy float64 `json:"occupancy"`
}

// SimulationReport is the output of the simulate command.
type SimulationReport struct {
	Shape         detector.Shape `json:"shape"`
	Theta         float64        `json:"theta"`
	Images        []ImageStats   `json:"images"`
	MeanSum       float64        `json:"mean_sum"`
	StdSum        float64        `json:"std_sum"`
	MeanOccupancy float64        `json:"mean_occupancy"`
}

// simulate runs units units at theta through a pool configured like a
// training run with the same seed.
func simulate(cfg ExperimentConfig, theta float64, units int) (*SimulationReport, error) {
	if units <= 0 {
		return nil, fmt.Errorf("units must be positive, got %d", units)
	}
	det, err := detector.NewDetector(cfg.Detector)
	if err != nil {
		return nil, err
	}
	rng := avo.NewPartitionedRNG(avo.NewExperimentKey(cfg.Seed))
	pool := pipeline.NewPool(det, pipeline.PoolConfig{
		Workers: cfg.Pool.Workers,
		Seed:    rng.Seed(avo.SubsystemSimulator),
	})
	defer pool.Close()

	thetas := make([]float64, units)
	for i := range thetas {
		thetas[i] = theta
	}
	results, err := pipeline.GetData(pool, thetas, func(done, total int) {
		logrus.Debugf("simulated %d/%d units", done, total)
	})
	if err != nil {
		return nil, err
	}

	report := &SimulationReport{Shape: det.Shape(), Theta: theta}
	var sums, occupancy []float64
	for _, res := range results {
		for _, im := range res.Images {
			s := ImageStats{
				Unit:      int(res.Seq),
				Theta:     res.Theta,
				Sum:       im.Sum(),
				Max:       im.Max(),
				Occupancy: im.Occupancy(),
			}
			report.Images = append(report.Images, s)
			sums = append(sums, s.Sum)
			occupancy = append(occupancy, s.Occupancy)
		}
	}
	if len(sums) > 0 {
		report.MeanSum, report.StdSum = stat.MeanStdDev(sums, nil)
		if len(sums) == 1 {
			report.StdSum = 0
		}
		report.MeanOccupancy = stat.Mean(occupancy, nil)
	}
	return report, nil
}

// Print writes the report as a table followed by the aggregates.
func (r *SimulationReport) Print(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "=== Detector Simulation (shape %s, theta=%g) ===\n", r.Shape, r.Theta); err != nil {
		return err
	}
	fmt.Fprintf(w, "%-6s %-10s %-12s %-12s %-10s\n", "unit", "theta", "sum", "max", "occupancy")
	for _, s := range r.Images {
		fmt.Fprintf(w, "%-6d %-10.4g %-12.4f %-12.4f %-10.4f\n", s.Unit, s.Theta, s.Sum, s.Max, s.Occupancy)
	}
	_, err := fmt.Fprintf(w, "images=%d mean_sum=%.4f std_sum=%.4f mean_occupancy=%.4f\n",
		len(r.Images), r.MeanSum, r.StdSum, r.MeanOccupancy)
	return err
}
