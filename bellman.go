package ks

import (
	"fmt"
	"math"
	"runtime"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// consumptionFloor keeps the upper end of the savings search range
	// strictly inside the feasible set, so candidate consumption is never
	// driven to zero by the optimizer itself.
	consumptionFloor = 1e-10

	// goldenXTol is the bracket width at which the golden-section search
	// stops, relative to the bracket scale.
	goldenXTol = 1e-10
)

var invPhi = (math.Sqrt(5) - 1) / 2

func (o VFIOptions) withDefaults() VFIOptions {
	if o.Tolerance <= 0 {
		o.Tolerance = 1e-8
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = 2000
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	return o
}

// SolveValueFunction iterates the Bellman operator on sol.Value until the
// sup-norm change between sweeps falls below opts.Tolerance or the sweep cap
// is hit. The value and policy arrays in sol are overwritten in place, which
// is what makes warm starts across outer iterations work.
//
// One sweep solves, for every (capital, aggregate capital, shock state) grid
// point, the savings problem
//
//	max_{k'} u(wealth - k') + beta * E[V(k', K', s') | s]
//
// where K' comes from the law of motion in sol.Coeffs and the expectation is
// taken over the joint transition row of s, with V evaluated by bilinear
// interpolation over the (k, K) plane. Grid points are independent within a
// sweep, so they are farmed out to a worker pool; each worker writes only its
// own columns of the new arrays.
//
// When opts.HowardRounds > 0, each optimizing sweep is followed by that many
// fixed-policy sweeps that re-apply the Bellman right-hand side at the
// current policy without re-optimizing, which propagates value faster at the
// cost of extra evaluation work. Convergence is still measured on the
// optimizing sweeps.
//
// Hitting the sweep cap is reported through the result, not an error: an
// unconverged value function is still a usable approximation at coarse
// tolerances and the caller decides whether to accept it.
func SolveValueFunction(p *Parameters, tm *TransitionMatrices, sol *Solution, opts VFIOptions, logger *zap.Logger) (VFIResult, error) {
	if err := sol.CheckShape(p); err != nil {
		return VFIResult{}, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()

	eng := &bellman{p: p, tm: tm, sol: sol}
	eng.newValue = make([]*mat.Dense, NumShockStates)
	eng.newPolicy = make([]*mat.Dense, NumShockStates)
	for s := 0; s < NumShockStates; s++ {
		eng.newValue[s] = mat.NewDense(p.NumK, p.NumKm, nil)
		eng.newPolicy[s] = mat.NewDense(p.NumK, p.NumKm, nil)
	}

	res := VFIResult{}
	for iter := 1; iter <= opts.MaxIterations; iter++ {
		diff := eng.sweep(opts.Workers, false)
		for h := 0; h < opts.HowardRounds; h++ {
			eng.sweep(opts.Workers, true)
		}

		res.Iterations = iter
		res.MaxDiff = diff
		if diff < opts.Tolerance {
			res.Converged = true
			break
		}
		if iter%100 == 0 {
			logger.Debug("value iteration progress",
				zap.Int("sweep", iter),
				zap.Float64("max_diff", diff))
		}
	}

	if !res.Converged {
		logger.Warn("value iteration hit sweep cap",
			zap.Int("sweeps", res.Iterations),
			zap.Float64("max_diff", res.MaxDiff),
			zap.Float64("tolerance", opts.Tolerance))
	}
	return res, nil
}

// bellman holds the shared read-only inputs of one sweep plus the buffers the
// workers write into. After each sweep the buffers are swapped into the
// Solution, so the previous arrays become the next sweep's scratch space.
type bellman struct {
	p   *Parameters
	tm  *TransitionMatrices
	sol *Solution

	newValue  []*mat.Dense
	newPolicy []*mat.Dense
}

// sweep applies one Bellman sweep over all grid points and returns the
// sup-norm change of the value array. With howard set, the current policy is
// evaluated instead of re-optimized.
func (e *bellman) sweep(workers int, howard bool) float64 {
	type task struct{ s, jK int }

	jobs := make(chan task)
	var wg sync.WaitGroup

	n := NumShockStates * e.p.NumKm
	if workers > n {
		workers = n
	}
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for tk := range jobs {
				ev := e.expectedValueColumn(tk.s, tk.jK)
				if howard {
					e.evaluateColumn(tk.s, tk.jK, ev)
				} else {
					e.optimizeColumn(tk.s, tk.jK, ev)
				}
			}
		}()
	}
	for s := 0; s < NumShockStates; s++ {
		for jK := 0; jK < e.p.NumKm; jK++ {
			jobs <- task{s, jK}
		}
	}
	close(jobs)
	wg.Wait()

	diff := 0.0
	for s := 0; s < NumShockStates; s++ {
		d := floats.Distance(e.newValue[s].RawMatrix().Data, e.sol.Value[s].RawMatrix().Data, math.Inf(1))
		if d > diff {
			diff = d
		}
		e.sol.Value[s], e.newValue[s] = e.newValue[s], e.sol.Value[s]
		if !howard {
			e.sol.Policy[s], e.newPolicy[s] = e.newPolicy[s], e.sol.Policy[s]
		}
	}
	return diff
}

// expectedValueColumn precomputes E[V(k', K', s') | s] on the capital grid
// for one (shock state, aggregate grid point) pair. K' depends only on the
// aggregate regime of s, so the interpolation in the aggregate dimension is
// resolved here once; the optimizer then only interpolates in k'.
func (e *bellman) expectedValueColumn(s, jK int) []float64 {
	p := e.p
	Kp := p.ForecastAggregate(e.sol.Coeffs, p.KmGrid[jK], AggOf(s))
	j, t := locate(p.KmGrid, Kp)

	ev := make([]float64, p.NumK)
	for s2 := 0; s2 < NumShockStates; s2++ {
		prob := e.tm.Joint.At(s, s2)
		if prob == 0 {
			continue
		}
		v := e.sol.Value[s2]
		for i := 0; i < p.NumK; i++ {
			ev[i] += prob * ((1-t)*v.At(i, j) + t*v.At(i, j+1))
		}
	}
	return ev
}

// optimizeColumn solves the savings problem at every capital grid point of
// one (s, jK) column and writes the results into the sweep buffers.
func (e *bellman) optimizeColumn(s, jK int, ev []float64) {
	p := e.p
	K := p.KmGrid[jK]
	for i, k := range p.KGrid {
		wealth := p.Wealth(k, K, s)
		obj := func(kp float64) float64 {
			return p.Utility(wealth-kp) + p.Beta*interp1(p.KGrid, ev, kp)
		}

		lo := p.KGrid[0]
		hi := wealth - consumptionFloor
		var kp, v float64
		if hi <= lo {
			// Nothing to choose: save the minimum and consume the rest.
			kp, v = lo, obj(lo)
		} else {
			kp, v = goldenMax(obj, lo, hi)
		}
		e.newPolicy[s].Set(i, jK, kp)
		e.newValue[s].Set(i, jK, v)
	}
}

// evaluateColumn re-applies the Bellman right-hand side at the current policy
// (a Howard round), leaving the policy untouched.
func (e *bellman) evaluateColumn(s, jK int, ev []float64) {
	p := e.p
	K := p.KmGrid[jK]
	for i, k := range p.KGrid {
		kp := e.sol.Policy[s].At(i, jK)
		c := p.Wealth(k, K, s) - kp
		e.newValue[s].Set(i, jK, p.Utility(c)+p.Beta*interp1(p.KGrid, ev, kp))
	}
}

// goldenMax maximizes f on [lo, hi] by golden-section search. The bracket
// assumes f is unimodal; since linear interpolation can dent that slightly,
// the endpoints are checked against the interior optimum before returning.
func goldenMax(f func(float64) float64, lo, hi float64) (x, fx float64) {
	a, b := lo, hi
	tol := goldenXTol * (1 + math.Abs(hi))

	x1 := b - invPhi*(b-a)
	x2 := a + invPhi*(b-a)
	f1, f2 := f(x1), f(x2)
	for b-a > tol {
		if f1 < f2 {
			a, x1, f1 = x1, x2, f2
			x2 = a + invPhi*(b-a)
			f2 = f(x2)
		} else {
			b, x2, f2 = x2, x1, f1
			x1 = b - invPhi*(b-a)
			f1 = f(x1)
		}
	}

	x, fx = x1, f1
	if f2 > fx {
		x, fx = x2, f2
	}
	if fLo := f(lo); fLo > fx {
		x, fx = lo, fLo
	}
	if fHi := f(hi); fHi > fx {
		x, fx = hi, fHi
	}
	return x, fx
}

// PolicyFeasible verifies that every stored policy point lies inside its
// search range and implies strictly positive consumption. Used as a
// post-solve sanity check.
func (sol *Solution) PolicyFeasible(p *Parameters) error {
	for s := 0; s < NumShockStates; s++ {
		for i, k := range p.KGrid {
			for j, K := range p.KmGrid {
				kp := sol.Policy[s].At(i, j)
				wealth := p.Wealth(k, K, s)
				if kp < p.KGrid[0] || kp > wealth {
					return fmt.Errorf("ks: policy %v at (k=%v, K=%v, s=%d) outside [%v, %v]",
						kp, k, K, s, p.KGrid[0], wealth)
				}
				if wealth-kp <= 0 {
					return fmt.Errorf("ks: non-positive consumption %v at (k=%v, K=%v, s=%d)",
						wealth-kp, k, K, s)
				}
			}
		}
	}
	return nil
}
