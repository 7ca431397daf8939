package solver

import (
	"context"
	"math"

	"gonum.org/v1/gonum/mat"
)

// factorization solves each system with a Cholesky factorization and falls
// back to LU with partial pivoting when the matrix is not positive definite.
type factorization struct{}

func (factorization) Name() string { return Factor }

func (factorization) Solve(ctx context.Context, l Launcher, b *Batch) error {
	n := b.Dim
	maxCond := 1 / RelativeEpsilon
	return launch(ctx, l, b, func(lo, hi int) {
		var (
			chol mat.Cholesky
			lu   mat.LU
			data = make([]float64, n*n)
			rhs  = make([]float64, n)
			sol  = mat.NewVecDense(n, nil)
			sym  = mat.NewSymDense(n, data)
			gen  = mat.NewDense(n, n, data)
			vec  = mat.NewVecDense(n, rhs)
		)
		for i := lo; i < hi; i++ {
			if b.skipped(i) {
				continue
			}
			copy(data, b.Matrices[i*n*n:(i+1)*n*n])
			x := b.Vectors[i*n : (i+1)*n]
			copy(rhs, x)

			if !finite(data) {
				b.Singular[i] = 1
				continue
			}

			solved := false
			if chol.Factorize(sym) {
				if c := chol.Cond(); c <= maxCond && chol.SolveVecTo(sol, vec) == nil {
					solved = true
				}
			}
			if !solved {
				lu.Factorize(gen)
				if c := lu.Cond(); c <= maxCond && !math.IsNaN(c) {
					solved = lu.SolveVecTo(sol, false, vec) == nil
				}
			}
			if !solved || !finite(sol.RawVector().Data) {
				b.Singular[i] = 1
				continue
			}
			copy(x, sol.RawVector().Data)
			b.Singular[i] = 0
		}
	})
}

func finite(v []float64) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
