package lmfit

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// StandardErrors estimates the one sigma uncertainty of every parameter of
// fit i from the inverse of JᵀWJ at the fitted parameters. Without weights
// the covariance is scaled by the reduced chi-square. Fixed parameters
// report zero.
func StandardErrors(job *Job, res *Results, i int) ([]float64, error) {
	m, ok := LookupModel(job.Model)
	if !ok {
		return nil, fmt.Errorf("lmfit: unknown model %d", job.Model)
	}
	if i < 0 || i >= job.NumFits {
		return nil, fmt.Errorf("lmfit: fit %d out of range [0, %d)", i, job.NumFits)
	}
	np := m.NumParameters()
	free := freeIndices(job.ParametersToFit, np)
	nf := len(free)
	p := job.NumPoints
	dof := p - nf
	if dof <= 0 {
		return nil, fmt.Errorf("lmfit: %d points leave no degrees of freedom for %d parameters", p, nf)
	}

	ui := job.UserInfo
	if job.NumFits > 1 && len(ui) >= 8*job.NumFits*p && len(ui)%job.NumFits == 0 {
		stride := len(ui) / job.NumFits
		ui = ui[i*stride : (i+1)*stride]
	}

	params := res.Fit(i)
	d := make([]float64, np)
	jtj := mat.NewSymDense(nf, nil)
	for k := range p {
		pt := Point{Index: k, Fit: i, NumPoints: p, X: xValue(ui, k, p), UserInfo: ui, NumValidCoefs: job.NumValidCoefs}
		model := m.Evaluate(params, pt, d)
		w := 1.0
		if job.Estimator == MLE {
			// Fisher information of a Poisson count.
			w = 1 / model
		} else if job.Weights != nil {
			w = job.Weights[dataIndex(job, i, k)]
		}
		for a := range nf {
			for b := a; b < nf; b++ {
				jtj.SetSym(a, b, jtj.At(a, b)+w*d[free[a]]*d[free[b]])
			}
		}
	}

	var chol mat.Cholesky
	if !chol.Factorize(jtj) {
		return nil, errors.New("lmfit: normal matrix is not positive definite")
	}
	var cov mat.SymDense
	if err := chol.InverseTo(&cov); err != nil {
		return nil, fmt.Errorf("lmfit: invert normal matrix: %w", err)
	}
	scale := 1.0
	if job.Weights == nil && job.Estimator == LSE {
		scale = res.ChiSquares[i] / float64(dof)
	}

	out := make([]float64, np)
	for a, idx := range free {
		out[idx] = math.Sqrt(cov.At(a, a) * scale)
	}
	return out, nil
}

func dataIndex(job *Job, fit, point int) int {
	if job.Layout == LayoutPointMajor {
		return point*job.NumFits + fit
	}
	return fit*job.NumPoints + point
}
