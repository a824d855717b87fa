// Command kssolve calibrates the aggregate law of motion of the
// Krusell-Smith economy and writes the resulting capital path and solution
// arrays to disk.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	ks "github.com/youbesh/Term-paper-KS-SFE"
)

// fileConfig is the YAML surface of the solver. Anything omitted keeps its
// default, so a config file only needs the values it changes.
type fileConfig struct {
	Calibration ks.Calibration `yaml:"calibration"`

	Periods    int    `yaml:"periods"`
	Population int    `yaml:"population"`
	Seed       uint64 `yaml:"seed"`

	VFITolerance  float64 `yaml:"vfi_tolerance"`
	VFIMaxSweeps  int     `yaml:"vfi_max_sweeps"`
	HowardRounds  int     `yaml:"howard_rounds"`
	OuterTol      float64 `yaml:"outer_tolerance"`
	MaxOuter      int     `yaml:"max_outer"`
	Damping       float64 `yaml:"damping"`
	BurnIn        int     `yaml:"burn_in"`
}

func defaultConfig() fileConfig {
	return fileConfig{
		Calibration:  ks.DefaultCalibration(),
		Periods:      1100,
		Population:   10000,
		Seed:         42,
		VFITolerance: 1e-8,
		VFIMaxSweeps: 2000,
		HowardRounds: 20,
		OuterTol:     1e-6,
		MaxOuter:     100,
		Damping:      0.3,
		BurnIn:       100,
	}
}

func main() {
	var (
		configPath  string
		warmStart   string
		pathOut     string
		solutionOut string
		seed        uint64
		verbose     bool
	)

	root := &cobra.Command{
		Use:           "kssolve",
		Short:         "Solve the Krusell-Smith heterogeneous-agent economy",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := defaultConfig()
			if configPath != "" {
				data, err := os.ReadFile(configPath)
				if err != nil {
					return fmt.Errorf("read config: %w", err)
				}
				if err := yaml.Unmarshal(data, &cfg); err != nil {
					return fmt.Errorf("parse config: %w", err)
				}
			}
			if cmd.Flags().Changed("seed") {
				cfg.Seed = seed
			}

			logger, err := newLogger(verbose)
			if err != nil {
				return err
			}
			defer logger.Sync()

			return run(cfg, warmStart, pathOut, solutionOut, logger)
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "YAML config file (defaults used when omitted)")
	root.Flags().StringVar(&warmStart, "warm-start", "", "solution JSON to warm-start from")
	root.Flags().StringVarP(&pathOut, "path-out", "o", "capital_path.csv", "output CSV for the aggregate capital path")
	root.Flags().StringVar(&solutionOut, "solution-out", "solution.json", "output JSON for the solved arrays")
	root.Flags().Uint64Var(&seed, "seed", 42, "shock panel seed")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "kssolve:", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}

func run(cfg fileConfig, warmStart, pathOut, solutionOut string, logger *zap.Logger) error {
	params, err := ks.NewParameters(cfg.Calibration)
	if err != nil {
		return err
	}
	tm, err := ks.NewTransitionMatrices(cfg.Calibration)
	if err != nil {
		return err
	}

	logger.Info("drawing shock panel",
		zap.Int("periods", cfg.Periods),
		zap.Int("population", cfg.Population),
		zap.Uint64("seed", cfg.Seed))
	panel, err := ks.DrawShockPanel(params, tm, cfg.Periods, cfg.Population, cfg.Seed)
	if err != nil {
		return err
	}

	sol := ks.NewSolution(params)
	if warmStart != "" {
		sol, err = ks.LoadSolution(warmStart, params)
		if err != nil {
			return fmt.Errorf("warm start: %w", err)
		}
		logger.Info("warm-starting from saved solution", zap.String("file", warmStart))
	}

	opts := ks.SolveOptions{
		VFI: ks.VFIOptions{
			Tolerance:     cfg.VFITolerance,
			MaxIterations: cfg.VFIMaxSweeps,
			HowardRounds:  cfg.HowardRounds,
		},
		OuterTolerance: cfg.OuterTol,
		MaxOuter:       cfg.MaxOuter,
		Damping:        cfg.Damping,
		BurnIn:         cfg.BurnIn,
	}

	res, err := ks.FindALMCoefficients(params, tm, sol, panel, opts, logger)
	if err != nil {
		return err
	}
	logger.Info("calibration finished",
		zap.Bool("converged", res.Converged),
		zap.Int("outer_iterations", res.OuterIterations),
		zap.Float64("coeff_diff", res.CoeffDiff))

	sol.Summary()

	if err := ks.WriteCapitalPathCSV(pathOut, res.Path, panel.Agg, sol.Coeffs); err != nil {
		return err
	}
	logger.Info("capital path written", zap.String("file", pathOut))

	if err := ks.SaveSolution(solutionOut, sol); err != nil {
		return err
	}
	logger.Info("solution written", zap.String("file", solutionOut))
	return nil
}
