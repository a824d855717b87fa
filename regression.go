package ks

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// EstimateLawOfMotion regresses log next-period aggregate capital on log
// current aggregate capital, separately per aggregate regime, after
// discarding the first burnIn periods to wash out the initial cross section.
//
// Returns the coefficient vector [b0 good, b1 good, b0 bad, b1 bad] and the
// R-squared per regime. A regime with fewer than two usable observations
// leaves the regression rank-deficient and is an error; the caller must
// lengthen the simulation or the panel.
func EstimateLawOfMotion(path []float64, agg []int, burnIn int) (coeffs, r2 []float64, err error) {
	T := len(path)
	if len(agg) != T {
		return nil, nil, fmt.Errorf("%w: path has %d periods, aggregate series %d",
			ErrShapeMismatch, T, len(agg))
	}
	if burnIn < 0 || burnIn >= T-1 {
		return nil, nil, fmt.Errorf("%w: burn-in %d leaves no observations of %d periods",
			ErrBadParameters, burnIn, T)
	}

	var xs, ys [NumAggStates][]float64
	for t := burnIn; t < T-1; t++ {
		if path[t] <= 0 || path[t+1] <= 0 {
			return nil, nil, fmt.Errorf("%w: non-positive aggregate capital %v at period %d",
				ErrBadParameters, math.Min(path[t], path[t+1]), t)
		}
		a := agg[t]
		if a != Good && a != Bad {
			return nil, nil, fmt.Errorf("%w: aggregate state %d at period %d", ErrShockOffGrid, a, t)
		}
		xs[a] = append(xs[a], math.Log(path[t]))
		ys[a] = append(ys[a], math.Log(path[t+1]))
	}

	coeffs = make([]float64, 2*NumAggStates)
	r2 = make([]float64, NumAggStates)
	for a := 0; a < NumAggStates; a++ {
		if len(xs[a]) < 2 {
			return nil, nil, fmt.Errorf("%w: regime %d has %d observations after burn-in %d",
				ErrDegenerateRegression, a, len(xs[a]), burnIn)
		}
		b0, b1, fit := regress(xs[a], ys[a])
		coeffs[2*a] = b0
		coeffs[2*a+1] = b1
		r2[a] = fit
	}
	return coeffs, r2, nil
}

// regress fits y = b0 + b1*x by OLS. A constant regressor (the population
// parked on one grid point for a whole regime) has no slope to identify, so
// the fit degrades to the flat rule b1 = 0, b0 = mean(y) instead of the NaN
// the normal equations would give.
func regress(x, y []float64) (b0, b1, r2 float64) {
	const varFloor = 1e-12
	if stat.Variance(x, nil) < varFloor {
		b0 = stat.Mean(y, nil)
		if stat.Variance(y, nil) < varFloor {
			return b0, 0, 1
		}
		return b0, 0, 0
	}
	b0, b1 = stat.LinearRegression(x, y, nil, false)
	return b0, b1, stat.RSquared(x, y, nil, b0, b1)
}
