package ks

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// WriteCapitalPathCSV writes the realized aggregate capital path next to the
// path the estimated law of motion would have produced over the same regime
// history. Columns: Period, Regime, Realized, Implied.
func WriteCapitalPathCSV(path string, realized []float64, agg []int, coeffs []float64) error {
	if len(realized) != len(agg) {
		return fmt.Errorf("%w: %d realized periods, %d regimes", ErrShapeMismatch, len(realized), len(agg))
	}
	if len(realized) == 0 {
		return fmt.Errorf("%w: empty capital path", ErrBadParameters)
	}
	implied, err := ImpliedALMPath(realized[0], agg, coeffs)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"Period", "Regime", "Realized", "Implied"}); err != nil {
		return err
	}
	for t := range realized {
		record := []string{
			fmt.Sprintf("%d", t),
			regimeName(agg[t]),
			fmt.Sprintf("%f", realized[t]),
			fmt.Sprintf("%f", implied[t]),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

func regimeName(a int) string {
	if a == Good {
		return "good"
	}
	return "bad"
}

// solutionJSON is the serialized form of a Solution: per-shock-state arrays
// stored row-major together with their dimensions.
type solutionJSON struct {
	NumK   int         `json:"num_k"`
	NumKm  int         `json:"num_km"`
	Value  [][]float64 `json:"value"`
	Policy [][]float64 `json:"policy"`
	Coeffs []float64   `json:"coeffs"`
	R2     []float64   `json:"r2"`
}

// SaveSolution writes the solution to path as JSON, for warm starts or
// external reporting.
func SaveSolution(path string, sol *Solution) error {
	if len(sol.Value) != NumShockStates || len(sol.Policy) != NumShockStates {
		return fmt.Errorf("%w: solution has %d value and %d policy slices",
			ErrShapeMismatch, len(sol.Value), len(sol.Policy))
	}
	r, c := sol.Value[0].Dims()
	out := solutionJSON{
		NumK:   r,
		NumKm:  c,
		Value:  make([][]float64, NumShockStates),
		Policy: make([][]float64, NumShockStates),
		Coeffs: sol.Coeffs,
		R2:     sol.R2,
	}
	for s := 0; s < NumShockStates; s++ {
		out.Value[s] = append([]float64(nil), sol.Value[s].RawMatrix().Data...)
		out.Policy[s] = append([]float64(nil), sol.Policy[s].RawMatrix().Data...)
	}

	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal solution: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// LoadSolution reads a serialized solution and validates it against the
// current grids. A shape mismatch is fatal: solving with arrays from another
// grid configuration would silently corrupt the run.
func LoadSolution(path string, p *Parameters) (*Solution, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var in solutionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if len(in.Value) != NumShockStates || len(in.Policy) != NumShockStates {
		return nil, fmt.Errorf("%w: file has %d value and %d policy arrays, want %d",
			ErrShapeMismatch, len(in.Value), len(in.Policy), NumShockStates)
	}
	sol := &Solution{
		Value:  make([]*mat.Dense, NumShockStates),
		Policy: make([]*mat.Dense, NumShockStates),
		Coeffs: in.Coeffs,
		R2:     in.R2,
	}
	for s := 0; s < NumShockStates; s++ {
		if len(in.Value[s]) != in.NumK*in.NumKm || len(in.Policy[s]) != in.NumK*in.NumKm {
			return nil, fmt.Errorf("%w: array %d has %d entries, want %d",
				ErrShapeMismatch, s, len(in.Value[s]), in.NumK*in.NumKm)
		}
		sol.Value[s] = mat.NewDense(in.NumK, in.NumKm, in.Value[s])
		sol.Policy[s] = mat.NewDense(in.NumK, in.NumKm, in.Policy[s])
	}

	if err := sol.CheckShape(p); err != nil {
		return nil, err
	}
	return sol, nil
}

// Summary prints the calibrated law of motion and fit quality.
func (sol *Solution) Summary() {
	fmt.Println("         Law of Motion Summary         ")
	fmt.Println("log K' = b0 + b1 log K, per regime")
	fmt.Println()
	for a := 0; a < NumAggStates; a++ {
		name := strings.ToUpper(regimeName(a)[:1]) + regimeName(a)[1:]
		fmt.Printf("%-5s b0 = %9.6f  b1 = %9.6f", name, sol.Coeffs[2*a], sol.Coeffs[2*a+1])
		if len(sol.R2) > a {
			fmt.Printf("  R^2 = %.6f", sol.R2[a])
		}
		fmt.Println()
	}
	fmt.Println("=======================================")
}
