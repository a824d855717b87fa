package ks

import (
	"fmt"

	"golang.org/x/exp/rand"
)

// DrawShockPanel draws one realization of the shock process: an aggregate
// regime path of length periods, then an employment history for each of pop
// individuals that is consistent with the realized aggregate transitions.
//
// Period-1 statuses are independent draws at the target unemployment rate of
// the initial regime. Every later period draws each individual's status from
// the employment matrix conditional on the realized aggregate transition.
// Draws are independent across individuals given that matrix, so the
// cross-sectional unemployment rate matches the regime's target rate in
// expectation, not exactly; that approximation is part of the model and is
// deliberately not corrected.
func DrawShockPanel(p *Parameters, tm *TransitionMatrices, periods, pop int, seed uint64) (*ShockPanel, error) {
	if periods < 2 || pop < 1 {
		return nil, fmt.Errorf("%w: need periods >= 2 and population >= 1, got %d and %d",
			ErrBadParameters, periods, pop)
	}

	rng := rand.New(rand.NewSource(seed))

	sp := &ShockPanel{
		Agg:  make([]int, periods),
		Idio: make([][]uint8, periods),
	}
	for t := range sp.Idio {
		sp.Idio[t] = make([]uint8, pop)
	}

	// Aggregate chain, starting in the good regime.
	sp.Agg[0] = Good
	for t := 1; t < periods; t++ {
		a := sp.Agg[t-1]
		if rng.Float64() < tm.Agg.At(a, Good) {
			sp.Agg[t] = Good
		} else {
			sp.Agg[t] = Bad
		}
	}

	// Period-1 cross section at the stationary rate of the initial regime.
	u0 := p.UnempRate(sp.Agg[0])
	for i := 0; i < pop; i++ {
		if rng.Float64() < u0 {
			sp.Idio[0][i] = Unemployed
		}
	}

	// Remaining periods, conditional on the realized aggregate transition.
	for t := 1; t < periods; t++ {
		cond := tm.Cond[sp.Agg[t-1]][sp.Agg[t]]
		for i := 0; i < pop; i++ {
			prev := int(sp.Idio[t-1][i])
			if rng.Float64() < cond.At(prev, Unemployed) {
				sp.Idio[t][i] = Unemployed
			}
		}
	}

	return sp, nil
}

// Validate checks panel shape and that every realization maps to a grid
// entry. An off-grid value is a construction bug, not a numerical issue.
func (sp *ShockPanel) Validate() error {
	if sp.Periods() < 2 {
		return fmt.Errorf("%w: panel has %d periods", ErrBadParameters, sp.Periods())
	}
	pop := sp.Population()
	if pop < 1 {
		return fmt.Errorf("%w: panel has empty population", ErrBadParameters)
	}
	if len(sp.Idio) != len(sp.Agg) {
		return fmt.Errorf("%w: %d aggregate periods but %d panel rows",
			ErrShapeMismatch, len(sp.Agg), len(sp.Idio))
	}
	for t, a := range sp.Agg {
		if a != Good && a != Bad {
			return fmt.Errorf("%w: aggregate state %d at period %d", ErrShockOffGrid, a, t)
		}
		if len(sp.Idio[t]) != pop {
			return fmt.Errorf("%w: period %d has %d individuals, want %d",
				ErrShapeMismatch, t, len(sp.Idio[t]), pop)
		}
		for i, e := range sp.Idio[t] {
			if e != Employed && e != Unemployed {
				return fmt.Errorf("%w: employment status %d for individual %d at period %d",
					ErrShockOffGrid, e, i, t)
			}
		}
	}
	return nil
}
