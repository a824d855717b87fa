package ks

import (
	"fmt"
	"math"

	"go.uber.org/zap"
)

func (o SolveOptions) withDefaults() SolveOptions {
	o.VFI = o.VFI.withDefaults()
	if o.OuterTolerance <= 0 {
		o.OuterTolerance = 1e-6
	}
	if o.MaxOuter <= 0 {
		o.MaxOuter = 100
	}
	if o.Damping <= 0 || o.Damping > 1 {
		o.Damping = 0.3
	}
	if o.BurnIn <= 0 {
		o.BurnIn = 100
	}
	if o.Workers <= 0 {
		o.Workers = o.VFI.Workers
	}
	return o
}

// FindALMCoefficients runs the outer fixed point over the law of motion:
// solve the household problem under the current coefficients, simulate the
// population to get the realized aggregate path, re-estimate the
// coefficients on that path, and move the stored coefficients a damped step
// toward the estimate. The loop stops when the largest coefficient change
// (measured between the old coefficients and the fresh estimate, before
// damping) falls below the tolerance, or at the iteration cap.
//
// The Solution is mutated in place and persists across outer iterations, so
// each inner VFI warm-starts from the previous value function. The shock
// panel is taken read-only and must be the same object every iteration.
//
// Reaching the cap is reported through SolveResult, not an error; estimation
// failures and shape mismatches are errors and abort the run.
func FindALMCoefficients(p *Parameters, tm *TransitionMatrices, sol *Solution, panel *ShockPanel, opts SolveOptions, logger *zap.Logger) (*SolveResult, error) {
	if err := sol.CheckShape(p); err != nil {
		return nil, err
	}
	if err := panel.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	if opts.BurnIn >= panel.Periods()-1 {
		return nil, fmt.Errorf("%w: burn-in %d with only %d panel periods",
			ErrBadParameters, opts.BurnIn, panel.Periods())
	}

	res := &SolveResult{}
	for iter := 1; iter <= opts.MaxOuter; iter++ {
		vfi, err := SolveValueFunction(p, tm, sol, opts.VFI, logger)
		if err != nil {
			return nil, fmt.Errorf("outer iteration %d: %w", iter, err)
		}

		path, err := SimulateAggregatePath(p, sol, panel, opts.Workers)
		if err != nil {
			return nil, fmt.Errorf("outer iteration %d: %w", iter, err)
		}

		estimate, r2, err := EstimateLawOfMotion(path, panel.Agg, opts.BurnIn)
		if err != nil {
			return nil, fmt.Errorf("outer iteration %d: %w", iter, err)
		}

		diff := 0.0
		for i := range estimate {
			if d := math.Abs(estimate[i] - sol.Coeffs[i]); d > diff {
				diff = d
			}
		}
		for i := range estimate {
			sol.Coeffs[i] = opts.Damping*estimate[i] + (1-opts.Damping)*sol.Coeffs[i]
		}
		copy(sol.R2, r2)

		res.Path = path
		res.OuterIterations = iter
		res.CoeffDiff = diff
		res.VFIConverged = vfi.Converged

		logger.Info("law of motion update",
			zap.Int("iteration", iter),
			zap.Float64("coeff_diff", diff),
			zap.Float64s("coeffs", sol.Coeffs),
			zap.Float64s("r2", r2),
			zap.Int("vfi_sweeps", vfi.Iterations),
			zap.Bool("vfi_converged", vfi.Converged))

		if diff < opts.OuterTolerance {
			res.Converged = true
			break
		}
	}

	if !res.Converged {
		logger.Warn("outer loop hit iteration cap",
			zap.Int("iterations", res.OuterIterations),
			zap.Float64("coeff_diff", res.CoeffDiff),
			zap.Float64("tolerance", opts.OuterTolerance))
	}
	return res, nil
}
