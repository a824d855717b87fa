package ks

import (
	"math"
	"testing"

	"go.uber.org/zap"
)

// Small but economically sensible configuration for end-to-end runs: coarse
// grids keep the test fast while leaving enough curvature for the estimation
// step to see real variation.
func solveCalibration() Calibration {
	cal := DefaultCalibration()
	cal.NumK = 12
	cal.KMin = 0
	cal.KMax = 200
	cal.NumKm = 3
	cal.KmMin = 10
	cal.KmMax = 60
	return cal
}

func TestFindALMCoefficientsEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("full equilibrium run")
	}
	cal := solveCalibration()
	p := mustParameters(t, cal)
	tm := mustTransitions(t, cal)

	panel, err := DrawShockPanel(p, tm, 120, 100, 7)
	if err != nil {
		t.Fatal(err)
	}
	sol := NewSolution(p)
	opts := SolveOptions{
		VFI:            VFIOptions{Tolerance: 1e-4, MaxIterations: 2000, HowardRounds: 20},
		OuterTolerance: 1e-2,
		MaxOuter:       60,
		Damping:        0.3,
		BurnIn:         20,
	}

	res, err := FindALMCoefficients(p, tm, sol, panel, opts, zap.NewNop())
	if err != nil {
		t.Fatalf("FindALMCoefficients returned error: %v", err)
	}
	if !res.Converged {
		t.Errorf("outer loop did not converge in %d iterations, last diff %v",
			res.OuterIterations, res.CoeffDiff)
	}
	if res.OuterIterations < 1 || res.OuterIterations > opts.MaxOuter {
		t.Errorf("OuterIterations = %d, want between 1 and %d", res.OuterIterations, opts.MaxOuter)
	}

	if len(res.Path) != panel.Periods() {
		t.Fatalf("path has %d periods, want %d", len(res.Path), panel.Periods())
	}
	if want := (cal.KmMin + cal.KmMax) / 2; res.Path[0] != want {
		t.Errorf("path starts at %v, want midpoint %v", res.Path[0], want)
	}
	for tt, k := range res.Path {
		if k < cal.KMin || k > cal.KMax {
			t.Fatalf("period %d: aggregate capital %v outside [%v, %v]", tt, k, cal.KMin, cal.KMax)
		}
	}

	for i, b := range sol.Coeffs {
		if math.IsNaN(b) || math.IsInf(b, 0) {
			t.Errorf("coefficient %d is not finite: %v", i, b)
		}
	}
	for a, r2 := range sol.R2 {
		if r2 < 0 || r2 > 1+1e-9 {
			t.Errorf("regime %d: R^2 = %v outside [0, 1]", a, r2)
		}
	}
}

// Re-running the loop on an already converged solution must terminate
// immediately without moving the coefficients far.
func TestFindALMCoefficientsStability(t *testing.T) {
	if testing.Short() {
		t.Skip("full equilibrium run")
	}
	cal := solveCalibration()
	p := mustParameters(t, cal)
	tm := mustTransitions(t, cal)

	panel, err := DrawShockPanel(p, tm, 120, 100, 7)
	if err != nil {
		t.Fatal(err)
	}
	sol := NewSolution(p)
	opts := SolveOptions{
		VFI:            VFIOptions{Tolerance: 1e-4, MaxIterations: 2000, HowardRounds: 20},
		OuterTolerance: 1e-2,
		MaxOuter:       60,
		Damping:        0.3,
		BurnIn:         20,
	}
	first, err := FindALMCoefficients(p, tm, sol, panel, opts, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if !first.Converged {
		t.Skipf("first run did not converge, diff %v", first.CoeffDiff)
	}

	before := append([]float64(nil), sol.Coeffs...)
	opts.MaxOuter = 5
	second, err := FindALMCoefficients(p, tm, sol, panel, opts, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	for i := range before {
		if d := math.Abs(sol.Coeffs[i] - before[i]); d > 10*opts.OuterTolerance {
			t.Errorf("coefficient %d moved by %v on rerun", i, d)
		}
	}
	if second.OuterIterations > 3 {
		t.Errorf("rerun took %d iterations, want at most 3", second.OuterIterations)
	}
}

func TestFindALMCoefficientsValidation(t *testing.T) {
	cal := solveCalibration()
	p := mustParameters(t, cal)
	tm := mustTransitions(t, cal)

	panel, err := DrawShockPanel(p, tm, 30, 10, 1)
	if err != nil {
		t.Fatal(err)
	}
	sol := NewSolution(p)

	// Burn-in leaves no sample.
	opts := SolveOptions{BurnIn: 40}
	if _, err := FindALMCoefficients(p, tm, sol, panel, opts, nil); err == nil {
		t.Error("expected error when burn-in exceeds panel length")
	}

	// Solution solved on different grids.
	other := cal
	other.NumK = 5
	p2 := mustParameters(t, other)
	if _, err := FindALMCoefficients(p2, tm, sol, panel, SolveOptions{}, nil); err == nil {
		t.Error("expected shape mismatch for foreign solution")
	}
}
