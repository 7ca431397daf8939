package lmfit

import "time"

// Results holds the outcome of every fit, index aligned with the job.
type Results struct {
	NumParameters int

	Parameters []float64
	States     []State
	ChiSquares []float64
	Iterations []int

	Chunks    int
	ChunkSize int
	Elapsed   time.Duration
}

func newResults(numFits, numParameters int) *Results {
	return &Results{
		NumParameters: numParameters,
		Parameters:    make([]float64, numFits*numParameters),
		States:        make([]State, numFits),
		ChiSquares:    make([]float64, numFits),
		Iterations:    make([]int, numFits),
	}
}

// Fit returns the parameters of fit i.
func (r *Results) Fit(i int) []float64 {
	return r.Parameters[i*r.NumParameters : (i+1)*r.NumParameters]
}

// Summary counts the fits per state name.
func (r *Results) Summary() map[string]int {
	out := make(map[string]int, len(stateNames))
	for _, s := range r.States {
		out[s.String()]++
	}
	return out
}

// ConvergedFraction is the share of fits that converged.
func (r *Results) ConvergedFraction() float64 {
	if len(r.States) == 0 {
		return 0
	}
	n := 0
	for _, s := range r.States {
		if s == Converged {
			n++
		}
	}
	return float64(n) / float64(len(r.States))
}
