package solver

import (
	"context"
	"math"
)

type gaussJordan struct{}

func (gaussJordan) Name() string { return GaussJordan }

func (gaussJordan) Solve(ctx context.Context, l Launcher, b *Batch) error {
	n := b.Dim
	return launch(ctx, l, b, func(lo, hi int) {
		work := b.scratch(lo, hi)
		if work == nil {
			work = make([]float64, (hi-lo)*n*(n+1))
		}
		perm := make([]int, n)
		for i := lo; i < hi; i++ {
			if b.skipped(i) {
				continue
			}
			aug := work[(i-lo)*n*(n+1) : (i-lo+1)*n*(n+1)]
			a := b.Matrices[i*n*n : (i+1)*n*n]
			x := b.Vectors[i*n : (i+1)*n]
			for r := range n {
				copy(aug[r*(n+1):r*(n+1)+n], a[r*n:(r+1)*n])
				aug[r*(n+1)+n] = x[r]
			}
			if eliminate(aug, n, perm) {
				for k := range n {
					x[perm[k]] = aug[k*(n+1)+n]
				}
				b.Singular[i] = 0
			} else {
				b.Singular[i] = 1
			}
		}
	})
}

// eliminate reduces the n×(n+1) augmented matrix aug to [I | y] with full
// pivoting. perm maps reduced row k to the unknown it solves for. It reports
// false when the best remaining pivot is not above RelativeEpsilon·max|A|.
func eliminate(aug []float64, n int, perm []int) bool {
	w := n + 1
	scale := 0.0
	for r := range n {
		for c := range n {
			scale = math.Max(scale, math.Abs(aug[r*w+c]))
		}
		perm[r] = r
	}
	tol := RelativeEpsilon * scale
	if !(scale > 0) || math.IsInf(scale, 0) {
		return false
	}

	for k := range n {
		pr, pc, best := k, k, 0.0
		for r := k; r < n; r++ {
			for c := k; c < n; c++ {
				if v := math.Abs(aug[r*w+c]); v > best {
					pr, pc, best = r, c, v
				}
			}
		}
		if !(best > tol) {
			return false
		}
		if pr != k {
			for c := range w {
				aug[k*w+c], aug[pr*w+c] = aug[pr*w+c], aug[k*w+c]
			}
		}
		if pc != k {
			for r := range n {
				aug[r*w+k], aug[r*w+pc] = aug[r*w+pc], aug[r*w+k]
			}
			perm[k], perm[pc] = perm[pc], perm[k]
		}

		inv := 1 / aug[k*w+k]
		for c := range w {
			aug[k*w+c] *= inv
		}
		aug[k*w+k] = 1
		for r := range n {
			if r == k {
				continue
			}
			f := aug[r*w+k]
			if f == 0 {
				continue
			}
			for c := range w {
				aug[r*w+c] -= f * aug[k*w+c]
			}
			aug[r*w+k] = 0
		}
	}
	return true
}
