// Package synth generates noisy curve batches with known parameters.
package synth

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/samcharles93/lmfit/pkg/lmfit"
)

type Noise int

const (
	NoiseNone Noise = iota
	NoiseGaussian
	NoisePoisson
)

func ParseNoise(s string) (Noise, error) {
	switch s {
	case "", "none":
		return NoiseNone, nil
	case "gaussian", "normal":
		return NoiseGaussian, nil
	case "poisson":
		return NoisePoisson, nil
	default:
		return 0, fmt.Errorf("unknown noise %q (expected none, gaussian, or poisson)", s)
	}
}

func (n Noise) String() string {
	switch n {
	case NoiseGaussian:
		return "gaussian"
	case NoisePoisson:
		return "poisson"
	default:
		return "none"
	}
}

type Spec struct {
	Model     lmfit.ModelID
	Estimator lmfit.EstimatorID
	NumFits   int
	NumPoints int

	// Truth holds the parameters every fit is drawn around. Spread varies
	// each parameter per fit by up to ±Spread relative.
	Truth  []float64
	Spread float64

	// X is the abscissa shared by all fits; nil uses 0..NumPoints-1.
	// XScale, when set, returns a per-fit factor applied to X, and the job
	// carries one user info slice per fit.
	X      []float64
	XScale func(fit int) float64

	Noise Noise
	Sigma float64

	// InitialJitter perturbs the initial guess by up to ±InitialJitter
	// relative to the fit's true parameters.
	InitialJitter float64

	ParametersToFit []bool
	NumValidCoefs   int
	Layout          lmfit.DataLayout
	Seed            uint64
}

// Set is a generated job together with the parameters each fit was drawn
// from.
type Set struct {
	Job   *lmfit.Job
	Truth []float64
}

func (s *Set) FitTruth(i int) []float64 {
	np := len(s.Truth) / s.Job.NumFits
	return s.Truth[i*np : (i+1)*np]
}

func Generate(spec Spec) (*Set, error) {
	m, ok := lmfit.LookupModel(spec.Model)
	if !ok {
		return nil, fmt.Errorf("synth: unknown model %d", spec.Model)
	}
	np := m.NumParameters()
	if len(spec.Truth) != np {
		return nil, fmt.Errorf("synth: truth has %d values, model %s has %d parameters", len(spec.Truth), m.Name(), np)
	}
	if spec.Noise == NoiseGaussian && !(spec.Sigma > 0) {
		return nil, errors.New("synth: gaussian noise needs a positive sigma")
	}
	job, err := lmfit.NewJob(spec.Model, spec.NumFits, spec.NumPoints)
	if err != nil {
		return nil, err
	}
	job.Estimator = spec.Estimator
	job.NumValidCoefs = spec.NumValidCoefs
	job.Layout = spec.Layout
	if spec.ParametersToFit != nil {
		job.ParametersToFit = append([]bool(nil), spec.ParametersToFit...)
	}

	n, p := spec.NumFits, spec.NumPoints
	x := spec.X
	if x == nil {
		x = make([]float64, p)
		for k := range x {
			x[k] = float64(k)
		}
	}
	if len(x) != p {
		return nil, fmt.Errorf("synth: %d x values for %d points", len(x), p)
	}
	if spec.XScale != nil {
		perFit := make([]float64, 0, n*p)
		for i := range n {
			f := spec.XScale(i)
			for _, v := range x {
				perFit = append(perFit, v*f)
			}
		}
		job.UserInfo = lmfit.EncodeXValues(perFit)
	} else {
		job.UserInfo = lmfit.EncodeXValues(x)
	}

	rng := rand.New(rand.NewPCG(spec.Seed, spec.Seed^0x9e3779b97f4a7c15))
	uniform := func() float64 { return 2*rng.Float64() - 1 }
	gauss := distuv.Normal{Mu: 0, Sigma: spec.Sigma}

	truth := make([]float64, n*np)
	d := make([]float64, np)
	for i := range n {
		t := truth[i*np : (i+1)*np]
		init := job.InitialParameters[i*np : (i+1)*np]
		for j := range np {
			t[j] = spec.Truth[j] * (1 + spec.Spread*uniform())
			init[j] = t[j]
			if job.ParametersToFit[j] {
				init[j] = t[j] * (1 + spec.InitialJitter*uniform())
			}
		}
		xs := x
		if spec.XScale != nil {
			xs = scaled(x, spec.XScale(i))
		}
		for k := range p {
			pt := lmfit.Point{Index: k, Fit: i, NumPoints: p, X: xs[k], NumValidCoefs: spec.NumValidCoefs}
			v := m.Evaluate(t, pt, d)
			switch spec.Noise {
			case NoiseGaussian:
				v += gauss.Quantile(openUnit(rng))
			case NoisePoisson:
				v = poisson(rng, v)
			}
			idx := i*p + k
			if spec.Layout == lmfit.LayoutPointMajor {
				idx = k*n + i
			}
			job.Data[idx] = v
		}
	}
	return &Set{Job: job, Truth: truth}, nil
}

func scaled(x []float64, f float64) []float64 {
	out := make([]float64, len(x))
	for k, v := range x {
		out[k] = v * f
	}
	return out
}

// openUnit draws from (0, 1) so that quantiles stay finite.
func openUnit(rng *rand.Rand) float64 {
	for {
		if u := rng.Float64(); u > 0 {
			return u
		}
	}
}

// poisson samples a count with the given mean by inverting the CDF.
func poisson(rng *rand.Rand, mean float64) float64 {
	if !(mean > 0) {
		return 0
	}
	if mean > 1e4 {
		// Normal approximation; the inversion would walk too far.
		v := math.Round(distuv.Normal{Mu: mean, Sigma: math.Sqrt(mean)}.Quantile(openUnit(rng)))
		return math.Max(v, 0)
	}
	dist := distuv.Poisson{Lambda: mean}
	u := rng.Float64()
	var cdf float64
	limit := mean + 20*math.Sqrt(mean) + 20
	for k := 0.0; k < limit; k++ {
		cdf += dist.Prob(k)
		if u <= cdf {
			return k
		}
	}
	return math.Floor(limit)
}
