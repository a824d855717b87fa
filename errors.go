package ks

import "errors"

// Sentinel errors returned across the package. Callers match them with
// errors.Is; context is added with fmt.Errorf("...: %w", ErrX) at the point
// of return.
var (
	// ErrBadParameters indicates an invalid calibration (non-positive grid
	// sizes, inverted bounds, out-of-range rates or durations).
	ErrBadParameters = errors.New("ks: invalid calibration")

	// ErrInvalidProbability indicates a derived transition probability
	// outside [0,1], which means the duration parameters are inconsistent.
	ErrInvalidProbability = errors.New("ks: transition probability outside [0,1]")

	// ErrShapeMismatch indicates a Solution whose arrays do not match the
	// current grid sizes. Fatal before solving.
	ErrShapeMismatch = errors.New("ks: solution shape does not match grids")

	// ErrShockOffGrid indicates a shock realization that matches no grid
	// entry; a logic bug in panel construction, not a numerical issue.
	ErrShockOffGrid = errors.New("ks: shock realization not on grid")

	// ErrDegenerateRegression indicates a regime with fewer than two
	// post-burn-in observations, leaving the law of motion unidentified.
	ErrDegenerateRegression = errors.New("ks: too few observations in regime for regression")
)
