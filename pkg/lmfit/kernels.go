package lmfit

import (
	"context"
	"math"

	"github.com/samcharles93/lmfit/internal/solver"
)

func (e *engine) calcCurveValues(ctx context.Context) error {
	c := e.c
	p, np, nf := c.ndata, c.np, c.nf
	return e.launch(ctx, "curve values", func(lo, hi int) {
		d := make([]float64, np)
		for i := lo; i < hi; i++ {
			if c.finished[i] != 0 {
				continue
			}
			params := c.params[i*np : (i+1)*np]
			values := c.values[i*p : (i+1)*p]
			derivs := c.derivs[i*p*nf : (i+1)*p*nf]
			pt := Point{Fit: c.start + i, NumPoints: p, UserInfo: c.fitUserInfo(i), NumValidCoefs: e.validCoefs}
			for k := range p {
				pt.Index = k
				pt.X = xValue(pt.UserInfo, k, p)
				values[k] = e.model.Evaluate(params, pt, d)
				for j, idx := range c.freeIdx {
					derivs[j*p+k] = d[idx]
				}
			}
		}
	})
}

func (e *engine) calcChiSquares(ctx context.Context) error {
	c := e.c
	p := c.ndata
	return e.launch(ctx, "chi-squares", func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if c.finished[i] != 0 {
				continue
			}
			c.flags[i] = 0
			var sum float64
			for k := range p {
				term, ok := e.est.chiSquareTerm(c.data[i*p+k], c.values[i*p+k], c.weight(i*p+k))
				if !ok {
					c.flags[i] = flagNonPositive
					break
				}
				sum += term
			}
			c.chi2[i] = sum
		}
	})
}

// initStates ends fits whose initial evaluation failed and records the
// starting chi-square and damping.
func (e *engine) initStates(ctx context.Context) error {
	c := e.c
	return e.launch(ctx, "init states", func(lo, hi int) {
		for i := lo; i < hi; i++ {
			c.lambda[i] = LambdaInit
			c.iter[i] = 0
			c.rejections[i] = 0
			c.state[i] = int32(Running)
			c.finished[i] = 0
			switch {
			case c.flags[i]&flagNonPositive != 0:
				c.finish(i, NegativeCurvatureMLE)
			case !isFinite(c.chi2[i]):
				c.finish(i, NaNEncountered)
			}
			c.prevChi2[i] = c.chi2[i]
		}
	})
}

// calcGradients computes g_j = Σ f(y, m)·∂m/∂p_j over the free parameters.
// With acceptedOnly, fits whose last step was rejected keep their gradient.
func (e *engine) calcGradients(ctx context.Context, acceptedOnly bool) error {
	c := e.c
	p, nf := c.ndata, c.nf
	return e.launch(ctx, "gradients", func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if !c.needsNormalEquations(i, acceptedOnly) {
				continue
			}
			derivs := c.derivs[i*p*nf : (i+1)*p*nf]
			grad := c.grad[i*nf : (i+1)*nf]
			clear(grad)
			for k := range p {
				idx := i*p + k
				f := e.est.gradientFactor(c.data[idx], c.values[idx], c.weight(idx))
				for j := range nf {
					grad[j] += f * derivs[j*p+k]
				}
			}
		}
	})
}

func (e *engine) calcHessians(ctx context.Context, acceptedOnly bool) error {
	c := e.c
	p, nf := c.ndata, c.nf
	return e.launch(ctx, "hessians", func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if !c.needsNormalEquations(i, acceptedOnly) {
				continue
			}
			derivs := c.derivs[i*p*nf : (i+1)*p*nf]
			h := c.hess[i*nf*nf : (i+1)*nf*nf]
			clear(h)
			for k := range p {
				idx := i*p + k
				f := e.est.hessianFactor(c.data[idx], c.values[idx], c.weight(idx))
				for a := range nf {
					da := f * derivs[a*p+k]
					for b := a; b < nf; b++ {
						h[a*nf+b] += da * derivs[b*p+k]
					}
				}
			}
			for a := range nf {
				for b := range a {
					h[a*nf+b] = h[b*nf+a]
				}
			}
		}
	})
}

// scaleHessians applies the Marquardt damping H'_jj = H_jj·(1+λ) and
// copies the gradient into the solver's right-hand side.
func (e *engine) scaleHessians(ctx context.Context) error {
	c := e.c
	nf := c.nf
	return e.launch(ctx, "scale hessians", func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if c.finished[i] != 0 {
				continue
			}
			damped := c.damped[i*nf*nf : (i+1)*nf*nf]
			copy(damped, c.hess[i*nf*nf:(i+1)*nf*nf])
			for j := range nf {
				damped[j*nf+j] *= 1 + c.lambda[i]
			}
			copy(c.delta[i*nf:(i+1)*nf], c.grad[i*nf:(i+1)*nf])
		}
	})
}

func (e *engine) solve(ctx context.Context) error {
	c := e.c
	batch := &solver.Batch{
		Count:    c.n,
		Dim:      c.nf,
		Grain:    e.grain,
		Matrices: c.damped,
		Vectors:  c.delta,
		Skip:     c.finished,
		Singular: c.singular,
		Scratch:  c.scratch,
	}
	if err := e.solver.Solve(ctx, e.dev, batch); err != nil {
		return deviceError("solve", err)
	}
	return nil
}

// updateParameters ends fits with a singular system and moves the others
// to the tentative parameters p_prev + Δp.
func (e *engine) updateParameters(ctx context.Context) error {
	c := e.c
	np, nf := c.np, c.nf
	return e.launch(ctx, "update parameters", func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if c.finished[i] != 0 {
				continue
			}
			if c.singular[i] != 0 {
				c.finish(i, SingularHessian)
				continue
			}
			for j, idx := range c.freeIdx {
				c.params[i*np+int(idx)] = c.prev[i*np+int(idx)] + c.delta[i*nf+j]
			}
		}
	})
}

// evaluateIteration accepts or rejects the tentative step of every running
// fit and decides termination.
func (e *engine) evaluateIteration(ctx context.Context) error {
	c := e.c
	np := c.np
	tol := e.tolerance
	maxIter := int32(e.maxIterations)
	return e.launch(ctx, "evaluate iteration", func(lo, hi int) {
		for i := lo; i < hi; i++ {
			if c.finished[i] != 0 {
				continue
			}
			params := c.params[i*np : (i+1)*np]
			prev := c.prev[i*np : (i+1)*np]
			cur, last := c.chi2[i], c.prevChi2[i]

			switch {
			case c.flags[i]&flagNonPositive != 0:
				copy(params, prev)
				c.chi2[i] = last
				c.finish(i, NegativeCurvatureMLE)
				continue
			case !isFinite(cur) || !allFinite(params):
				copy(params, prev)
				c.chi2[i] = last
				c.finish(i, NaNEncountered)
				continue
			}

			// Convergence is only judged on an accepted step; rejected
			// steps retry with more damping until MaxRejections.
			accepted := cur <= last
			converged := accepted && math.Abs(cur-last) < tol*math.Max(1, cur)
			if accepted {
				copy(prev, params)
				c.prevChi2[i] = cur
				c.lambda[i] *= LambdaDown
				c.iter[i]++
				c.rejections[i] = 0
				c.flags[i] |= flagAccepted
			} else {
				copy(params, prev)
				c.chi2[i] = last
				c.lambda[i] *= LambdaUp
				c.rejections[i]++
			}

			switch {
			case converged:
				c.finish(i, Converged)
			case c.rejections[i] > MaxRejections:
				c.finish(i, MaxIterationsExceeded)
			case c.iter[i] >= maxIter:
				c.finish(i, MaxIterationsExceeded)
			}
		}
	})
}

func (c *chunk) finish(i int, s State) {
	c.state[i] = int32(s)
	c.finished[i] = 1
}

func (c *chunk) weight(idx int) float64 {
	if c.weights == nil {
		return 1
	}
	return c.weights[idx]
}

func (c *chunk) needsNormalEquations(i int, acceptedOnly bool) bool {
	if c.finished[i] != 0 {
		return false
	}
	return !acceptedOnly || c.flags[i]&flagAccepted != 0
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func allFinite(v []float64) bool {
	for _, f := range v {
		if !isFinite(f) {
			return false
		}
	}
	return true
}
