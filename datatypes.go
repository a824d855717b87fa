// Approximate equilibrium of a Krusell-Smith economy: households with
// idiosyncratic employment risk and an aggregate productivity regime save in
// capital, forecasting aggregate capital with a log-linear law of motion that
// is calibrated until it is consistent with their own behavior.

package ks

import (
	"gonum.org/v1/gonum/mat"
)

// Number of aggregate regimes (good, bad) and of joint shock states
// (aggregate x employment). The whole package assumes these values.
const (
	NumAggStates   = 2
	NumShockStates = 4
)

// Aggregate regime indices.
const (
	Good = 0
	Bad  = 1
)

// Employment status indices.
const (
	Employed   = 0
	Unemployed = 1
)

// Calibration collects every construction-time constant of the model:
// preferences, technology, the shock process and the grids.
type Calibration struct {
	// Preferences and technology
	Beta  float64 `yaml:"beta"`  // discount factor
	Gamma float64 `yaml:"gamma"` // CRRA curvature; 1 means log utility
	Alpha float64 `yaml:"alpha"` // capital share of output
	Delta float64 `yaml:"delta"` // depreciation rate
	LBar  float64 `yaml:"lbar"`  // labor endowment of an employed household
	Mu    float64 `yaml:"mu"`    // unemployment benefit, in wage units

	// Aggregate shock: productivity is 1+DeltaZ in the good regime and
	// 1-DeltaZ in the bad one.
	DeltaZ float64 `yaml:"delta_z"`

	// Unemployment rates and average durations (in model periods)
	UnempGood    float64 `yaml:"unemp_good"`     // unemployment rate, good regime
	UnempBad     float64 `yaml:"unemp_bad"`      // unemployment rate, bad regime
	DurGood      float64 `yaml:"dur_good"`       // average duration of a good regime
	DurBad       float64 `yaml:"dur_bad"`        // average duration of a bad regime
	DurUnempGood float64 `yaml:"dur_unemp_good"` // average unemployment spell, good regime
	DurUnempBad  float64 `yaml:"dur_unemp_bad"`  // average unemployment spell, bad regime

	// Relative probabilities of staying unemployed across regime switches:
	// entering a bad regime scales the bad-regime value by RelProbGB, entering
	// a good one scales the good-regime value by RelProbBG.
	RelProbGB float64 `yaml:"rel_prob_gb"`
	RelProbBG float64 `yaml:"rel_prob_bg"`

	// Grids
	NumK          int     `yaml:"num_k"`          // individual capital grid points
	KMin          float64 `yaml:"k_min"`          // individual capital lower bound
	KMax          float64 `yaml:"k_max"`          // individual capital upper bound
	GridCurvature float64 `yaml:"grid_curvature"` // power spacing exponent, >1 packs points near KMin
	NumKm         int     `yaml:"num_km"`         // aggregate capital grid points
	KmMin         float64 `yaml:"km_min"`         // aggregate capital lower bound
	KmMax         float64 `yaml:"km_max"`         // aggregate capital upper bound
}

// DefaultCalibration returns the standard quarterly Krusell-Smith calibration.
func DefaultCalibration() Calibration {
	return Calibration{
		Beta:          0.99,
		Gamma:         1.0,
		Alpha:         0.36,
		Delta:         0.025,
		LBar:          1.0 / 0.9,
		Mu:            0.15,
		DeltaZ:        0.01,
		UnempGood:     0.04,
		UnempBad:      0.10,
		DurGood:       8.0,
		DurBad:        8.0,
		DurUnempGood:  1.5,
		DurUnempBad:   2.5,
		RelProbGB:     1.25,
		RelProbBG:     0.75,
		NumK:          100,
		KMin:          0.0,
		KMax:          1000.0,
		GridCurvature: 7.0,
		NumKm:         4,
		KmMin:         30.0,
		KmMax:         50.0,
	}
}

// Parameters bundles the calibration together with the constructed grids.
// Immutable after NewParameters; shared read-only by every component.
type Parameters struct {
	Calibration

	// KGrid is the individual capital grid, power-spaced so points concentrate
	// near the lower bound where the value function curves most.
	KGrid []float64

	// KmGrid is the uniform aggregate capital grid.
	KmGrid []float64

	// ZGrid holds the aggregate productivity values {1+DeltaZ, 1-DeltaZ},
	// indexed by regime.
	ZGrid []float64

	// EGrid holds the idiosyncratic labor values {LBar, 0}, indexed by
	// employment status.
	EGrid []float64

	// SGrid is the 4x2 shock-state grid: row s is the (productivity, labor)
	// pair of joint state s. Row order fixes the shock-state convention used
	// by every other component: s = e*NumAggStates + a, so
	// 0 = good+employed, 1 = bad+employed, 2 = good+unemployed,
	// 3 = bad+unemployed.
	SGrid *mat.Dense
}

// TransitionMatrices holds the Markov structure of the shock process.
// All matrices are row-stochastic. Immutable once built.
type TransitionMatrices struct {
	// Joint is the 4x4 matrix over shock states (see Parameters.SGrid for
	// the ordering).
	Joint *mat.Dense

	// Agg is the 2x2 matrix over aggregate regimes.
	Agg *mat.Dense

	// Cond[a][a2] is the 2x2 employment matrix conditional on the aggregate
	// transition a -> a2, rows and columns ordered (employed, unemployed).
	Cond [NumAggStates][NumAggStates]*mat.Dense
}

// ShockPanel is one realization of the shock process: the aggregate regime
// path and, consistent with it, the employment history of a population.
// Drawn once per calibration run and held fixed across outer iterations;
// redrawing it between iterations would keep the fixed point from settling.
type ShockPanel struct {
	// Agg[t] is the aggregate regime index in period t.
	Agg []int

	// Idio[t][i] is the employment status of individual i in period t
	// (Employed or Unemployed).
	Idio [][]uint8
}

// Periods returns the length of the panel.
func (sp *ShockPanel) Periods() int { return len(sp.Agg) }

// Population returns the number of individuals in the panel.
func (sp *ShockPanel) Population() int {
	if len(sp.Idio) == 0 {
		return 0
	}
	return len(sp.Idio[0])
}

// Solution is the mutable state of one calibration run: the value and policy
// arrays updated by the Bellman engine and the law-of-motion coefficients
// updated by the estimator. Value[s] and Policy[s] are NumK x NumKm matrices,
// one per shock state.
type Solution struct {
	Value  []*mat.Dense
	Policy []*mat.Dense

	// Coeffs is the law of motion log K' = b0 + b1 log K, stored as
	// [b0 good, b1 good, b0 bad, b1 bad].
	Coeffs []float64

	// R2 is the regression fit per regime, [good, bad].
	R2 []float64
}

// VFIOptions controls the value function iteration.
// Zero values fall back to defaults.
type VFIOptions struct {
	Tolerance     float64 // sup-norm tolerance on the value array, default 1e-8
	MaxIterations int     // sweep cap, default 2000
	HowardRounds  int     // fixed-policy value sweeps between optimizing sweeps, 0 disables
	Workers       int     // parallel workers, default runtime.NumCPU()
}

// VFIResult reports how a value function iteration ended. Hitting the sweep
// cap is not an error; the caller decides whether the last diff is usable.
type VFIResult struct {
	Iterations int
	MaxDiff    float64
	Converged  bool
}

// SolveOptions controls the outer fixed-point loop over law-of-motion
// coefficients.
type SolveOptions struct {
	VFI VFIOptions

	OuterTolerance float64 // max-abs coefficient change tolerance, default 1e-6
	MaxOuter       int     // outer iteration cap, default 100
	Damping        float64 // weight on the new coefficients in (0,1], default 0.3
	BurnIn         int     // periods discarded before the regression, default 100
	Workers        int     // parallel workers for the path simulation
}

// SolveResult is the outcome of one calibration run.
type SolveResult struct {
	// Path is the realized aggregate capital series from the final outer
	// iteration, length T.
	Path []float64

	OuterIterations int
	CoeffDiff       float64 // last max-abs coefficient change
	Converged       bool    // outer loop met its tolerance
	VFIConverged    bool    // last inner VFI met its tolerance
}
