package ks

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// NewTransitionMatrices derives the full Markov structure of the shock
// process from the duration and unemployment-rate parameters in cal.
//
// Aggregate persistence is 1 - 1/duration. The probability of staying
// unemployed conditional on an aggregate transition comes from the
// unemployment-spell durations, scaled across regime switches by the
// relative-probability parameters; the employed rows then follow from
// requiring the realized unemployment rate to land on the target rate of the
// destination regime. The joint 4x4 matrix is the product of the aggregate
// transition probability and the matching conditional employment matrix.
//
// Returns ErrInvalidProbability when any derived probability falls outside
// [0,1]: inconsistent durations are a programmer error and must not be
// silently accepted.
func NewTransitionMatrices(cal Calibration) (*TransitionMatrices, error) {
	if cal.DurGood < 1 || cal.DurBad < 1 || cal.DurUnempGood < 1 || cal.DurUnempBad < 1 {
		return nil, fmt.Errorf("%w: durations must be >= 1 period", ErrBadParameters)
	}
	if cal.UnempGood <= 0 || cal.UnempGood >= 1 || cal.UnempBad <= 0 || cal.UnempBad >= 1 {
		return nil, fmt.Errorf("%w: unemployment rates must lie in (0,1)", ErrBadParameters)
	}

	// Aggregate regime matrix
	pGG := 1.0 - 1.0/cal.DurGood
	pBB := 1.0 - 1.0/cal.DurBad
	agg := mat.NewDense(NumAggStates, NumAggStates, []float64{
		pGG, 1 - pGG,
		1 - pBB, pBB,
	})

	u := [NumAggStates]float64{cal.UnempGood, cal.UnempBad}

	// Probability of staying unemployed for each aggregate transition.
	// Within-regime values come straight from the spell durations; the
	// cross-regime values are scaled copies of the destination regime's value.
	uuGG := 1.0 - 1.0/cal.DurUnempGood
	uuBB := 1.0 - 1.0/cal.DurUnempBad
	stayUnemp := [NumAggStates][NumAggStates]float64{
		{uuGG, cal.RelProbGB * uuBB},
		{cal.RelProbBG * uuGG, uuBB},
	}

	tm := &TransitionMatrices{Agg: agg}

	for a := 0; a < NumAggStates; a++ {
		for a2 := 0; a2 < NumAggStates; a2++ {
			uu := stayUnemp[a][a2]

			// The employed row is pinned down by consistency with the
			// destination unemployment rate:
			//   u_a*uu + (1-u_a)*eu = u_a2
			eu := (u[a2] - u[a]*uu) / (1.0 - u[a])

			for _, p := range []float64{uu, eu} {
				if p < 0 || p > 1 {
					return nil, fmt.Errorf("%w: transition %d->%d yields %v",
						ErrInvalidProbability, a, a2, p)
				}
			}

			tm.Cond[a][a2] = mat.NewDense(2, 2, []float64{
				1 - eu, eu, // employed row
				1 - uu, uu, // unemployed row
			})
		}
	}

	// Joint matrix over shock states s = e*NumAggStates + a
	joint := mat.NewDense(NumShockStates, NumShockStates, nil)
	for s := 0; s < NumShockStates; s++ {
		a, e := s%NumAggStates, s/NumAggStates
		for s2 := 0; s2 < NumShockStates; s2++ {
			a2, e2 := s2%NumAggStates, s2/NumAggStates
			joint.Set(s, s2, agg.At(a, a2)*tm.Cond[a][a2].At(e, e2))
		}
	}
	tm.Joint = joint

	if err := tm.validate(); err != nil {
		return nil, err
	}
	return tm, nil
}

// validate checks that every matrix is row-stochastic within tolerance.
func (tm *TransitionMatrices) validate() error {
	check := func(name string, m *mat.Dense) error {
		r, c := m.Dims()
		for i := 0; i < r; i++ {
			sum := 0.0
			for j := 0; j < c; j++ {
				p := m.At(i, j)
				if p < 0 || p > 1 {
					return fmt.Errorf("%w: %s[%d][%d] = %v", ErrInvalidProbability, name, i, j, p)
				}
				sum += p
			}
			if math.Abs(sum-1.0) > 1e-9 {
				return fmt.Errorf("%w: %s row %d sums to %v", ErrInvalidProbability, name, i, sum)
			}
		}
		return nil
	}

	if err := check("joint", tm.Joint); err != nil {
		return err
	}
	if err := check("agg", tm.Agg); err != nil {
		return err
	}
	for a := 0; a < NumAggStates; a++ {
		for a2 := 0; a2 < NumAggStates; a2++ {
			if err := check(fmt.Sprintf("cond[%d][%d]", a, a2), tm.Cond[a][a2]); err != nil {
				return err
			}
		}
	}
	return nil
}
