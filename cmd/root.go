package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/plthiyagu/mlhep2018/avo"
	"github.com/plthiyagu/mlhep2018/avo/convnet"
	"github.com/plthiyagu/mlhep2018/detector"
)

var (
	// CLI flags shared by run and simulate
	configPath string // Experiment YAML file
	logLevel   string // Log verbosity level
	seed       int64  // Experiment seed; overrides the file when set
	workers    int    // Simulator worker count; overrides the file when set

	// CLI flags for run
	iterations    int     // Number of AVO iterations; overrides the file when set
	trueTheta     float64 // Offset of the reference sample; overrides the file when set
	trajectoryOut string  // Trajectory JSON destination ("" or "-" for stdout)
	summaryTail   int     // Snapshots averaged in the closing summary

	// CLI flags for simulate
	theta float64 // Offset to simulate
	units int     // Number of units to simulate
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "mlhep2018",
	Short: "Adversarial variational optimization of a detector offset",
}

// runCmd trains the variational distribution over the detector offset
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run an AVO experiment",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		cfg, err := loadExperimentConfig(configPath)
		if err != nil {
			logrus.Fatalf("Invalid experiment config: %v", err)
		}
		applyFlagOverrides(cmd, &cfg)
		if err := cfg.Training.Validate(); err != nil {
			logrus.Fatalf("Invalid experiment config: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		tr, err := runExperiment(ctx, cfg)
		if tr != nil {
			if werr := writeTrajectoryTo(trajectoryOut, tr); werr != nil {
				logrus.Errorf("Writing trajectory: %v", werr)
			}
		}
		if err != nil {
			logrus.Fatalf("AVO run failed: %v", err)
		}

		sum := avo.Summarize(tr, summaryTail)
		logrus.Infof("Final mu=%.4f sigma=%.4f, last %d iterations mu=%.4f±%.4f, true theta=%g",
			sum.FinalMu, sum.FinalSigma, min(summaryTail, sum.Iterations), sum.TailMuMean, sum.TailMuStd, tr.TrueTheta)
	},
}

// simulateCmd prints per-image statistics for one offset
var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Simulate detector images at a fixed offset and print their statistics",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()

		cfg, err := loadExperimentConfig(configPath)
		if err != nil {
			logrus.Fatalf("Invalid experiment config: %v", err)
		}
		applyFlagOverrides(cmd, &cfg)

		report, err := simulate(cfg, theta, units)
		if err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		if err := report.Print(cmd.OutOrStdout()); err != nil {
			logrus.Fatalf("Writing report: %v", err)
		}
	},
}

func setupLogging() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// applyFlagOverrides copies explicitly set flags over file values.
func applyFlagOverrides(cmd *cobra.Command, cfg *ExperimentConfig) {
	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("workers") {
		cfg.Pool.Workers = workers
	}
	if flags.Lookup("iterations") != nil && flags.Changed("iterations") {
		cfg.Training.Iterations = iterations
	}
	if flags.Lookup("true-theta") != nil && flags.Changed("true-theta") {
		cfg.Training.TrueTheta = trueTheta
	}
}

// runExperiment wires the detector, session, discriminator and orchestrator
// for one run. The returned trajectory holds every completed iteration even
// when err is non-nil.
func runExperiment(ctx context.Context, cfg ExperimentConfig) (*avo.Trajectory, error) {
	det, err := detector.NewDetector(cfg.Detector)
	if err != nil {
		return nil, err
	}

	session := avo.NewSession(det, cfg.Seed, cfg.Pool.Workers)
	defer func() {
		if err := session.Close(); err != nil {
			session.Log.Warnf("closing pool: %v", err)
		}
	}()

	netCfg := cfg.Discriminator
	netCfg.Seed = session.RNG.Seed(avo.SubsystemDiscriminator)
	net, err := convnet.New(det.Shape(), netCfg)
	if err != nil {
		return nil, err
	}

	session.Log.Infof("Starting AVO: shape=%s workers=%d iterations=%d true_theta=%g",
		det.Shape(), cfg.Pool.Workers, cfg.Training.Iterations, cfg.Training.TrueTheta)
	o, err := avo.NewOrchestrator(cfg.Training, session, net)
	if err != nil {
		return nil, err
	}
	return o.Run(ctx)
}

func writeTrajectoryTo(path string, tr *avo.Trajectory) error {
	if path == "" || path == "-" {
		return writeTrajectory(os.Stdout, tr)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := writeTrajectory(f, tr); err != nil {
		_ = f.Close()
		return err
	}
	logrus.Infof("Trajectory written to %s", path)
	return f.Close()
}

// writeTrajectory encodes tr as indented JSON.
func writeTrajectory(w io.Writer, tr *avo.Trajectory) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(tr); err != nil {
		return fmt.Errorf("encoding trajectory: %w", err)
	}
	return nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	for _, c := range []*cobra.Command{runCmd, simulateCmd} {
		c.Flags().StringVar(&configPath, "config", "", "Experiment YAML file (defaults when empty)")
		c.Flags().StringVar(&logLevel, "log", "info", "Log level (trace, debug, info, warn, error, fatal, panic)")
		c.Flags().Int64Var(&seed, "seed", 42, "Experiment seed")
		c.Flags().IntVar(&workers, "workers", 4, "Concurrent simulator workers")
	}

	runCmd.Flags().IntVar(&iterations, "iterations", 256, "Number of AVO iterations")
	runCmd.Flags().Float64Var(&trueTheta, "true-theta", 1.0, "Detector offset of the reference sample")
	runCmd.Flags().StringVar(&trajectoryOut, "trajectory-out", "", "Write the trajectory JSON here instead of stdout")
	runCmd.Flags().IntVar(&summaryTail, "summary-tail", 16, "Iterations averaged in the closing summary")

	simulateCmd.Flags().Float64Var(&theta, "theta", 0.0, "Detector offset to simulate")
	simulateCmd.Flags().IntVar(&units, "units", 4, "Number of simulator units")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(simulateCmd)
}
