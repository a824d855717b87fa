package ks

import (
	"errors"
	"math"
	"testing"
)

// tinyCalibration keeps grids small enough for exhaustive checks and fast
// value iteration in tests.
func tinyCalibration() Calibration {
	cal := DefaultCalibration()
	cal.NumK = 8
	cal.KMin = 0
	cal.KMax = 100
	cal.NumKm = 2
	cal.KmMin = 30
	cal.KmMax = 50
	return cal
}

func mustParameters(t *testing.T, cal Calibration) *Parameters {
	t.Helper()
	p, err := NewParameters(cal)
	if err != nil {
		t.Fatalf("NewParameters returned error: %v", err)
	}
	return p
}

func TestCapitalGridShape(t *testing.T) {
	p := mustParameters(t, DefaultCalibration())

	if got := p.KGrid[0]; got != p.KMin {
		t.Errorf("KGrid[0] = %v, want %v", got, p.KMin)
	}
	if got := p.KGrid[len(p.KGrid)-1]; !almostEqual(got, p.KMax, 1e-9) {
		t.Errorf("KGrid end = %v, want %v", got, p.KMax)
	}

	// Strictly increasing with non-decreasing spacing: the power spacing
	// concentrates points near the lower bound.
	prevSpacing := 0.0
	for i := 1; i < len(p.KGrid); i++ {
		spacing := p.KGrid[i] - p.KGrid[i-1]
		if spacing <= 0 {
			t.Fatalf("KGrid not strictly increasing at %d: %v -> %v", i, p.KGrid[i-1], p.KGrid[i])
		}
		if spacing < prevSpacing-1e-9 {
			t.Errorf("KGrid spacing decreases at %d: %v after %v", i, spacing, prevSpacing)
		}
		prevSpacing = spacing
	}

	for j := 1; j < len(p.KmGrid); j++ {
		if p.KmGrid[j] <= p.KmGrid[j-1] {
			t.Fatalf("KmGrid not strictly increasing at %d", j)
		}
	}
}

func TestShockStateIndexBijection(t *testing.T) {
	p := mustParameters(t, tinyCalibration())

	seen := make(map[int]bool)
	for a := 0; a < NumAggStates; a++ {
		for e := 0; e < 2; e++ {
			s := StateIndex(a, e)
			if s < 0 || s >= NumShockStates {
				t.Fatalf("StateIndex(%d,%d) = %d out of range", a, e, s)
			}
			if seen[s] {
				t.Fatalf("StateIndex(%d,%d) = %d already used", a, e, s)
			}
			seen[s] = true
			if AggOf(s) != a || EmpOf(s) != e {
				t.Errorf("round trip failed for s=%d: got (%d,%d), want (%d,%d)", s, AggOf(s), EmpOf(s), a, e)
			}
		}
	}

	// SGrid rows carry the matching shock values.
	for s := 0; s < NumShockStates; s++ {
		if got, want := p.SGrid.At(s, 0), p.ZGrid[AggOf(s)]; got != want {
			t.Errorf("SGrid[%d] productivity = %v, want %v", s, got, want)
		}
		if got, want := p.SGrid.At(s, 1), p.EGrid[EmpOf(s)]; got != want {
			t.Errorf("SGrid[%d] labor = %v, want %v", s, got, want)
		}
	}
}

func TestPricesAndWealth(t *testing.T) {
	p := mustParameters(t, tinyCalibration())

	// Euler's theorem: rK + wL = zK^alpha L^(1-alpha)
	for a := 0; a < NumAggStates; a++ {
		K := 36.0
		L := p.AggLabor(a)
		r, w := p.Prices(K, a)
		output := p.ZGrid[a] * math.Pow(K, p.Alpha) * math.Pow(L, 1-p.Alpha)
		if !almostEqual(r*K+w*L, output, 1e-9) {
			t.Errorf("regime %d: factor payments %v, output %v", a, r*K+w*L, output)
		}
		if r <= 0 || w <= 0 {
			t.Errorf("regime %d: non-positive prices r=%v w=%v", a, r, w)
		}
	}

	// Employed households at equal capital are richer than unemployed ones.
	for a := 0; a < NumAggStates; a++ {
		we := p.Wealth(10, 36, StateIndex(a, Employed))
		wu := p.Wealth(10, 36, StateIndex(a, Unemployed))
		if we <= wu {
			t.Errorf("regime %d: employed wealth %v not above unemployed %v", a, we, wu)
		}
	}
}

func TestUtility(t *testing.T) {
	p := mustParameters(t, tinyCalibration()) // Gamma = 1, log utility
	if got := p.Utility(1.0); !almostEqual(got, 0, 1e-12) {
		t.Errorf("log utility at 1 = %v, want 0", got)
	}
	if got := p.Utility(0); !math.IsInf(got, -1) {
		t.Errorf("utility at zero consumption = %v, want -Inf", got)
	}

	cal := tinyCalibration()
	cal.Gamma = 2
	p2 := mustParameters(t, cal)
	// CRRA with gamma=2: (c^-1 - 1)/(-1) = 1 - 1/c
	if got := p2.Utility(2.0); !almostEqual(got, 0.5, 1e-12) {
		t.Errorf("CRRA utility at 2 = %v, want 0.5", got)
	}
}

func TestForecastAggregateClamped(t *testing.T) {
	p := mustParameters(t, tinyCalibration())
	coeffs := []float64{2.0, 1.0, -2.0, 1.0} // explosive up in good, down in bad

	if got := p.ForecastAggregate(coeffs, 40, Good); got != p.KmGrid[len(p.KmGrid)-1] {
		t.Errorf("upward forecast = %v, want clamp at %v", got, p.KmGrid[len(p.KmGrid)-1])
	}
	if got := p.ForecastAggregate(coeffs, 40, Bad); got != p.KmGrid[0] {
		t.Errorf("downward forecast = %v, want clamp at %v", got, p.KmGrid[0])
	}

	// Identity law of motion maps grid points to themselves.
	id := []float64{0, 1, 0, 1}
	for _, K := range p.KmGrid {
		if got := p.ForecastAggregate(id, K, Good); !almostEqual(got, K, 1e-9) {
			t.Errorf("identity forecast at %v = %v", K, got)
		}
	}
}

func TestNewParametersValidation(t *testing.T) {
	cases := []func(*Calibration){
		func(c *Calibration) { c.NumK = 1 },
		func(c *Calibration) { c.KMax = c.KMin },
		func(c *Calibration) { c.KmMin = -5 },
		func(c *Calibration) { c.Beta = 1.0 },
		func(c *Calibration) { c.Alpha = 0 },
		func(c *Calibration) { c.GridCurvature = 0.5 },
	}
	for i, mutate := range cases {
		cal := DefaultCalibration()
		mutate(&cal)
		if _, err := NewParameters(cal); !errors.Is(err, ErrBadParameters) {
			t.Errorf("case %d: got %v, want ErrBadParameters", i, err)
		}
	}
}

func TestNewSolutionInitialGuess(t *testing.T) {
	p := mustParameters(t, tinyCalibration())
	sol := NewSolution(p)

	if err := sol.CheckShape(p); err != nil {
		t.Fatalf("initial guess fails shape check: %v", err)
	}
	if len(sol.Coeffs) != 4 {
		t.Fatalf("got %d coefficients, want 4", len(sol.Coeffs))
	}

	for s := 0; s < NumShockStates; s++ {
		for i, k := range p.KGrid {
			for j := range p.KmGrid {
				if got, want := sol.Policy[s].At(i, j), 0.9*k; !almostEqual(got, want, 1e-12) {
					t.Errorf("initial policy at (%d,%d,%d) = %v, want %v", i, j, s, got, want)
				}
				if v := sol.Value[s].At(i, j); math.IsNaN(v) || math.IsInf(v, 0) {
					t.Errorf("initial value at (%d,%d,%d) = %v", i, j, s, v)
				}
			}
		}
	}
}

func TestCheckShapeMismatch(t *testing.T) {
	p := mustParameters(t, tinyCalibration())
	sol := NewSolution(p)

	other := tinyCalibration()
	other.NumK = 12
	p2 := mustParameters(t, other)
	if err := sol.CheckShape(p2); !errors.Is(err, ErrShapeMismatch) {
		t.Errorf("mismatched grids: got %v, want ErrShapeMismatch", err)
	}
}

func TestInterp1(t *testing.T) {
	grid := []float64{0, 1, 3}
	vals := []float64{0, 2, 4}

	cases := []struct{ x, want float64 }{
		{0, 0}, {0.5, 1}, {1, 2}, {2, 3}, {3, 4},
		{4, 5},  // linear extension past the last point
		{-1, 0}, // pinned at the lower bound
	}
	for _, c := range cases {
		if got := interp1(grid, vals, c.x); !almostEqual(got, c.want, 1e-12) {
			t.Errorf("interp1 at %v = %v, want %v", c.x, got, c.want)
		}
	}
}
