package ks

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// NewParameters validates the calibration and builds every grid.
//
// The individual capital grid uses power spacing,
//
//	k[i] = KMin + (i/(n-1))^curvature * (KMax - KMin),
//
// with curvature > 1 so spacing is non-decreasing and points concentrate near
// the lower bound. The aggregate grid is uniform.
func NewParameters(cal Calibration) (*Parameters, error) {
	switch {
	case cal.NumK < 2 || cal.NumKm < 2:
		return nil, fmt.Errorf("%w: need at least 2 grid points per dimension, got %d and %d",
			ErrBadParameters, cal.NumK, cal.NumKm)
	case cal.KMax <= cal.KMin || cal.KmMax <= cal.KmMin:
		return nil, fmt.Errorf("%w: grid bounds must be increasing", ErrBadParameters)
	case cal.KmMin <= 0:
		return nil, fmt.Errorf("%w: aggregate capital grid must be positive", ErrBadParameters)
	case cal.Beta <= 0 || cal.Beta >= 1:
		return nil, fmt.Errorf("%w: discount factor must lie in (0,1), got %v", ErrBadParameters, cal.Beta)
	case cal.Alpha <= 0 || cal.Alpha >= 1:
		return nil, fmt.Errorf("%w: capital share must lie in (0,1), got %v", ErrBadParameters, cal.Alpha)
	case cal.Delta < 0 || cal.Delta > 1:
		return nil, fmt.Errorf("%w: depreciation must lie in [0,1], got %v", ErrBadParameters, cal.Delta)
	case cal.GridCurvature < 1:
		return nil, fmt.Errorf("%w: grid curvature must be >= 1, got %v", ErrBadParameters, cal.GridCurvature)
	case cal.DeltaZ < 0 || cal.DeltaZ >= 1:
		return nil, fmt.Errorf("%w: productivity spread must lie in [0,1), got %v", ErrBadParameters, cal.DeltaZ)
	case cal.LBar <= 0 || cal.Mu < 0:
		return nil, fmt.Errorf("%w: labor endowment must be positive and benefit non-negative", ErrBadParameters)
	}

	p := &Parameters{Calibration: cal}

	p.KGrid = make([]float64, cal.NumK)
	for i := 0; i < cal.NumK; i++ {
		frac := float64(i) / float64(cal.NumK-1)
		p.KGrid[i] = cal.KMin + math.Pow(frac, cal.GridCurvature)*(cal.KMax-cal.KMin)
	}

	p.KmGrid = make([]float64, cal.NumKm)
	floats.Span(p.KmGrid, cal.KmMin, cal.KmMax)

	p.ZGrid = []float64{1 + cal.DeltaZ, 1 - cal.DeltaZ}
	p.EGrid = []float64{cal.LBar, 0}

	p.SGrid = mat.NewDense(NumShockStates, 2, nil)
	for s := 0; s < NumShockStates; s++ {
		p.SGrid.Set(s, 0, p.ZGrid[s%NumAggStates])
		p.SGrid.Set(s, 1, p.EGrid[s/NumAggStates])
	}

	return p, nil
}

// StateIndex maps an (aggregate regime, employment status) pair to its
// shock-state index. Inverse of AggOf/EmpOf.
func StateIndex(a, e int) int { return e*NumAggStates + a }

// AggOf returns the aggregate regime component of shock state s.
func AggOf(s int) int { return s % NumAggStates }

// EmpOf returns the employment status component of shock state s.
func EmpOf(s int) int { return s / NumAggStates }

// UnempRate returns the target unemployment rate of regime a.
func (p *Parameters) UnempRate(a int) float64 {
	if a == Good {
		return p.UnempGood
	}
	return p.UnempBad
}

// AggLabor returns per-capita labor input in regime a.
func (p *Parameters) AggLabor(a int) float64 {
	return p.LBar * (1 - p.UnempRate(a))
}

// Prices returns the interest rate and wage implied by aggregate capital K in
// regime a, the marginal products of the Cobb-Douglas technology:
//
//	r = alpha * z * K^(alpha-1) * L^(1-alpha)
//	w = (1-alpha) * z * K^alpha * L^(-alpha)
func (p *Parameters) Prices(K float64, a int) (r, w float64) {
	z := p.ZGrid[a]
	L := p.AggLabor(a)
	r = p.Alpha * z * math.Pow(K, p.Alpha-1) * math.Pow(L, 1-p.Alpha)
	w = (1 - p.Alpha) * z * math.Pow(K, p.Alpha) * math.Pow(L, -p.Alpha)
	return r, w
}

// Wealth returns the resources available to a household holding k when
// aggregate capital is K and the shock state is s: capital income, undepreciated
// capital, and labor income (the wage times the labor endowment when employed,
// times the benefit parameter when not).
func (p *Parameters) Wealth(k, K float64, s int) float64 {
	r, w := p.Prices(K, AggOf(s))
	labor := p.Mu
	if EmpOf(s) == Employed {
		labor = p.LBar
	}
	return (1 - p.Delta + r) * k + w*labor
}

// Utility returns period utility of consumption c: log for Gamma == 1, CRRA
// otherwise. Non-positive consumption is infeasible, not just bad, so it maps
// to -Inf and never survives a maximization over a valid search range.
func (p *Parameters) Utility(c float64) float64 {
	if c <= 0 {
		return math.Inf(-1)
	}
	if p.Gamma == 1 {
		return math.Log(c)
	}
	return (math.Pow(c, 1-p.Gamma) - 1) / (1 - p.Gamma)
}

// ForecastAggregate applies the law of motion for regime a to aggregate
// capital K: K' = exp(b0 + b1 log K), with the result clamped to the
// aggregate grid so it can always be interpolated.
func (p *Parameters) ForecastAggregate(coeffs []float64, K float64, a int) float64 {
	return clamp(forecastRaw(coeffs, K, a), p.KmGrid[0], p.KmGrid[len(p.KmGrid)-1])
}

// forecastRaw is the law of motion without the grid clamp.
func forecastRaw(coeffs []float64, K float64, a int) float64 {
	b0, b1 := coeffs[2*a], coeffs[2*a+1]
	return math.Exp(b0 + b1*math.Log(K))
}

// NewSolution builds the initial guess for a calibration run: the policy
// saves 90% of current holdings, the value is the closed form of consuming
// the implied flow forever, and the law of motion starts at the identity
// (K' = K) in both regimes.
func NewSolution(p *Parameters) *Solution {
	sol := &Solution{
		Value:  make([]*mat.Dense, NumShockStates),
		Policy: make([]*mat.Dense, NumShockStates),
		Coeffs: []float64{0, 1, 0, 1},
		R2:     make([]float64, NumAggStates),
	}

	for s := 0; s < NumShockStates; s++ {
		v := mat.NewDense(p.NumK, p.NumKm, nil)
		g := mat.NewDense(p.NumK, p.NumKm, nil)
		for i, k := range p.KGrid {
			for j, K := range p.KmGrid {
				kp := 0.9 * k
				c := p.Wealth(k, K, s) - kp
				g.Set(i, j, kp)
				v.Set(i, j, p.Utility(c)/(1-p.Beta))
			}
		}
		sol.Value[s] = v
		sol.Policy[s] = g
	}
	return sol
}

// CheckShape verifies that a Solution (e.g. one loaded from disk) matches the
// current grid sizes. Must pass before the Solution is used to warm-start a
// solve.
func (sol *Solution) CheckShape(p *Parameters) error {
	if len(sol.Value) != NumShockStates || len(sol.Policy) != NumShockStates {
		return fmt.Errorf("%w: got %d value and %d policy slices, want %d",
			ErrShapeMismatch, len(sol.Value), len(sol.Policy), NumShockStates)
	}
	for s := 0; s < NumShockStates; s++ {
		for _, m := range []*mat.Dense{sol.Value[s], sol.Policy[s]} {
			if m == nil {
				return fmt.Errorf("%w: nil array for shock state %d", ErrShapeMismatch, s)
			}
			r, c := m.Dims()
			if r != p.NumK || c != p.NumKm {
				return fmt.Errorf("%w: shock state %d is %dx%d, grids are %dx%d",
					ErrShapeMismatch, s, r, c, p.NumK, p.NumKm)
			}
		}
	}
	if len(sol.Coeffs) != 2*NumAggStates {
		return fmt.Errorf("%w: got %d coefficients, want %d", ErrShapeMismatch, len(sol.Coeffs), 2*NumAggStates)
	}
	return nil
}

// clamp restricts x to [lo, hi].
func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// locate finds the bracketing index and interior weight for x on an
// increasing grid: grid[j] <= x <= grid[j+1] with weight t toward grid[j+1].
// Out-of-range x is pinned to the boundary segment with t clamped to [0,1],
// so interpolation never extrapolates.
func locate(grid []float64, x float64) (j int, t float64) {
	n := len(grid)
	if x <= grid[0] {
		return 0, 0
	}
	if x >= grid[n-1] {
		return n - 2, 1
	}
	lo, hi := 0, n-1
	for hi-lo > 1 {
		mid := (lo + hi) / 2
		if grid[mid] <= x {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo, (x - grid[lo]) / (grid[lo+1] - grid[lo])
}

// interp1 evaluates the piecewise-linear function through (grid, vals) at x.
// Beyond the last grid point the boundary segment is extended linearly; the
// Bellman search range can reach slightly past the capital grid there.
func interp1(grid, vals []float64, x float64) float64 {
	n := len(grid)
	if x >= grid[n-1] {
		slope := (vals[n-1] - vals[n-2]) / (grid[n-1] - grid[n-2])
		return vals[n-1] + slope*(x-grid[n-1])
	}
	j, t := locate(grid, x)
	return (1-t)*vals[j] + t*vals[j+1]
}
