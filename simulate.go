package ks

import (
	"fmt"
	"runtime"
	"sync"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// SimulateAggregatePath pushes the panel's population through the solved
// policy period by period and returns the realized aggregate capital series,
// one cross-sectional mean per period.
//
// Every individual starts at the midpoint of the aggregate grid. In period t
// the mean of holdings is recorded as K_t, then each individual's next
// holdings are read off the policy by bilinear interpolation at
// (own capital, K_t) under the shock state implied by the panel. Periods are
// sequential; individuals within a period are independent and split across
// workers.
func SimulateAggregatePath(p *Parameters, sol *Solution, panel *ShockPanel, workers int) ([]float64, error) {
	if err := sol.CheckShape(p); err != nil {
		return nil, err
	}
	if err := panel.Validate(); err != nil {
		return nil, err
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	T := panel.Periods()
	N := panel.Population()
	kLo, kHi := p.KGrid[0], p.KGrid[p.NumK-1]
	KmLo, KmHi := p.KmGrid[0], p.KmGrid[p.NumKm-1]

	holdings := make([]float64, N)
	next := make([]float64, N)
	k0 := (KmLo + KmHi) / 2
	for i := range holdings {
		holdings[i] = k0
	}

	path := make([]float64, T)
	for t := 0; t < T; t++ {
		K := stat.Mean(holdings, nil)
		path[t] = K
		if t == T-1 {
			break
		}

		// Interpolation needs K on the grid; the recorded path keeps the
		// raw mean.
		Kc := clamp(K, KmLo, KmHi)
		a := panel.Agg[t]
		emp := panel.Idio[t]

		var wg sync.WaitGroup
		chunk := (N + workers - 1) / workers
		for w := 0; w < workers; w++ {
			lo, hi := w*chunk, (w+1)*chunk
			if hi > N {
				hi = N
			}
			if lo >= hi {
				break
			}
			wg.Add(1)
			go func(lo, hi int) {
				defer wg.Done()
				for i := lo; i < hi; i++ {
					s := StateIndex(a, int(emp[i]))
					kp := bilinear(sol.Policy[s], p.KGrid, p.KmGrid, holdings[i], Kc)
					next[i] = clamp(kp, kLo, kHi)
				}
			}(lo, hi)
		}
		wg.Wait()
		holdings, next = next, holdings
	}

	return path, nil
}

// bilinear interpolates the grid function m over the (k, K) plane.
func bilinear(m *mat.Dense, kGrid, kmGrid []float64, k, K float64) float64 {
	i, tk := locate(kGrid, k)
	j, tK := locate(kmGrid, K)
	return (1-tk)*(1-tK)*m.At(i, j) +
		tk*(1-tK)*m.At(i+1, j) +
		(1-tk)*tK*m.At(i, j+1) +
		tk*tK*m.At(i+1, j+1)
}

// ImpliedALMPath iterates the law of motion itself over the realized
// aggregate regimes, starting from K0. Comparing it against the realized
// path is the standard visual check of law-of-motion accuracy; the plotting
// lives outside this package, the series is produced here.
func ImpliedALMPath(K0 float64, agg []int, coeffs []float64) ([]float64, error) {
	if len(agg) == 0 {
		return nil, fmt.Errorf("%w: empty regime series", ErrBadParameters)
	}
	if K0 <= 0 {
		return nil, fmt.Errorf("%w: initial aggregate capital %v", ErrBadParameters, K0)
	}
	if len(coeffs) != 2*NumAggStates {
		return nil, fmt.Errorf("%w: got %d coefficients, want %d", ErrShapeMismatch, len(coeffs), 2*NumAggStates)
	}

	path := make([]float64, len(agg))
	path[0] = K0
	for t := 1; t < len(agg); t++ {
		a := agg[t-1]
		if a != Good && a != Bad {
			return nil, fmt.Errorf("%w: aggregate state %d at period %d", ErrShockOffGrid, a, t-1)
		}
		path[t] = forecastRaw(coeffs, path[t-1], a)
	}
	return path, nil
}
