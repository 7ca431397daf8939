package lmfit

import "math"

// MaxPolynomialCoefs is the parameter count of Linear1D.
const MaxPolynomialCoefs = 8

// gauss1D: a·exp(-(x-x0)²/(2σ²)) + b with params [a, x0, σ, b].
type gauss1D struct{}

func (gauss1D) Name() string       { return "gauss_1d" }
func (gauss1D) NumParameters() int { return 4 }

func (gauss1D) Evaluate(p []float64, pt Point, d []float64) float64 {
	a, x0, s, b := p[0], p[1], p[2], p[3]
	dx := pt.X - x0
	e := math.Exp(-dx * dx / (2 * s * s))
	d[0] = e
	d[1] = a * e * dx / (s * s)
	d[2] = a * e * dx * dx / (s * s * s)
	d[3] = 1
	return a*e + b
}

// linear1D: Σ c_k x^k over the first NumValidCoefs coefficients. Unused
// coefficients have zero derivative and must be fixed.
type linear1D struct{}

func (linear1D) Name() string       { return "linear_1d" }
func (linear1D) NumParameters() int { return MaxPolynomialCoefs }

func (linear1D) Evaluate(p []float64, pt Point, d []float64) float64 {
	n := pt.NumValidCoefs
	if n <= 0 || n > len(p) {
		n = len(p)
	}
	var v float64
	xk := 1.0
	for k := range p {
		if k < n {
			d[k] = xk
			v += p[k] * xk
			xk *= pt.X
		} else {
			d[k] = 0
		}
	}
	return v
}

// exp1D: a·exp(-x/τ) + c with params [a, τ, c].
type exp1D struct{}

func (exp1D) Name() string       { return "exp_1d" }
func (exp1D) NumParameters() int { return 3 }

func (exp1D) Evaluate(p []float64, pt Point, d []float64) float64 {
	a, tau, c := p[0], p[1], p[2]
	e := math.Exp(-pt.X / tau)
	d[0] = e
	d[1] = a * e * pt.X / (tau * tau)
	d[2] = 1
	return a*e + c
}

// exp2D: a1·exp(-x/τ1) + a2·exp(-x/τ2) + c with params [a1, τ1, a2, τ2, c].
type exp2D struct{}

func (exp2D) Name() string       { return "exp_2d" }
func (exp2D) NumParameters() int { return 5 }

func (exp2D) Evaluate(p []float64, pt Point, d []float64) float64 {
	a1, t1, a2, t2, c := p[0], p[1], p[2], p[3], p[4]
	e1 := math.Exp(-pt.X / t1)
	e2 := math.Exp(-pt.X / t2)
	d[0] = e1
	d[1] = a1 * e1 * pt.X / (t1 * t1)
	d[2] = e2
	d[3] = a2 * e2 * pt.X / (t2 * t2)
	d[4] = 1
	return a1*e1 + a2*e2 + c
}

// acf3D is the one component 3D diffusion autocorrelation
//
//	G(τ) = g∞ + a / ((1 + τ/τD)·sqrt(1 + τ/(s²·τD)))
//
// with params [a, τD, s, g∞]. x is the lag time τ.
type acf3D struct{}

func (acf3D) Name() string       { return "acf_3d" }
func (acf3D) NumParameters() int { return 4 }

func (acf3D) Evaluate(p []float64, pt Point, d []float64) float64 {
	a, td, s, ginf := p[0], p[1], p[2], p[3]
	u := pt.X / td
	s2 := s * s
	lateral := 1 + u
	axial := 1 + u/s2
	f := 1 / (lateral * math.Sqrt(axial))
	d[0] = f
	d[1] = a * f * (1/lateral + 1/(2*s2*axial)) * u / td
	d[2] = a * f * u / (s2 * s * axial)
	d[3] = 1
	return ginf + a*f
}
