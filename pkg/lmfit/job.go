package lmfit

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	DefaultTolerance     = 1e-4
	DefaultMaxIterations = 25
)

// DataLayout is the order of Data and Weights.
type DataLayout int

const (
	// LayoutFitMajor stores the points of one fit contiguously:
	// Data[fit*NumPoints + point].
	LayoutFitMajor DataLayout = iota
	// LayoutPointMajor interleaves the fits: Data[point*NumFits + fit].
	LayoutPointMajor
)

func (l DataLayout) String() string {
	switch l {
	case LayoutFitMajor:
		return "fit_major"
	case LayoutPointMajor:
		return "point_major"
	default:
		return fmt.Sprintf("layout(%d)", int(l))
	}
}

func ParseLayout(s string) (DataLayout, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fit_major":
		return LayoutFitMajor, nil
	case "point_major":
		return LayoutPointMajor, nil
	default:
		return 0, fmt.Errorf("unknown data layout %q (expected fit_major or point_major)", s)
	}
}

// Config is the shape of a job, everything Configure needs to size chunks
// without looking at the data.
type Config struct {
	NumFits       int
	NumPoints     int
	Model         ModelID
	Estimator     EstimatorID
	NumValidCoefs int

	// ParametersToFit marks the free parameters. Nil frees all of them.
	ParametersToFit []bool

	Tolerance     float64
	MaxIterations int

	WithWeights  bool
	UserInfoSize int
}

// Job is one batch of fits. The engine never writes to its slices.
type Job struct {
	NumFits       int
	NumPoints     int
	Model         ModelID
	Estimator     EstimatorID
	Tolerance     float64
	MaxIterations int
	NumValidCoefs int

	ParametersToFit []bool

	// Data holds NumFits·NumPoints values in Layout order. Weights is
	// optional and shares the layout.
	Data    []float64
	Weights []float64
	Layout  DataLayout

	// InitialParameters holds NumParameters values per fit, fit-major.
	InitialParameters []float64

	// UserInfo is passed to the model. A blob of at least
	// NumFits·NumPoints float64 values whose length divides by NumFits is
	// split into one slice per fit; anything else is shared by all fits.
	UserInfo []byte
}

// NewJob allocates Data and InitialParameters for model and applies the
// defaults: tolerance 1e-4, 25 iterations, all parameters free, LSE.
func NewJob(model ModelID, numFits, numPoints int) (*Job, error) {
	m, ok := LookupModel(model)
	if !ok {
		return nil, configError("new job", fmt.Errorf("unknown model %d", model))
	}
	if numFits <= 0 || numPoints <= 0 {
		return nil, configError("new job", fmt.Errorf("fits and points must be positive, got %d and %d", numFits, numPoints))
	}
	mask := make([]bool, m.NumParameters())
	for i := range mask {
		mask[i] = true
	}
	return &Job{
		NumFits:           numFits,
		NumPoints:         numPoints,
		Model:             model,
		Estimator:         LSE,
		Tolerance:         DefaultTolerance,
		MaxIterations:     DefaultMaxIterations,
		ParametersToFit:   mask,
		Data:              make([]float64, numFits*numPoints),
		InitialParameters: make([]float64, numFits*m.NumParameters()),
	}, nil
}

func (j *Job) Config() Config {
	return Config{
		NumFits:         j.NumFits,
		NumPoints:       j.NumPoints,
		Model:           j.Model,
		Estimator:       j.Estimator,
		NumValidCoefs:   j.NumValidCoefs,
		ParametersToFit: j.ParametersToFit,
		Tolerance:       j.Tolerance,
		MaxIterations:   j.MaxIterations,
		WithWeights:     j.Weights != nil,
		UserInfoSize:    len(j.UserInfo),
	}
}

func (j *Job) validateBuffers(np int) error {
	n := j.NumFits * j.NumPoints
	if len(j.Data) != n {
		return fmt.Errorf("data has %d values, want %d", len(j.Data), n)
	}
	if j.Weights != nil && len(j.Weights) != n {
		return fmt.Errorf("weights have %d values, want %d", len(j.Weights), n)
	}
	if len(j.InitialParameters) != j.NumFits*np {
		return fmt.Errorf("initial parameters have %d values, want %d", len(j.InitialParameters), j.NumFits*np)
	}
	if j.Layout != LayoutFitMajor && j.Layout != LayoutPointMajor {
		return fmt.Errorf("unknown data layout %d", j.Layout)
	}
	return nil
}

func (c *Config) validate() (Model, error) {
	var errs []error
	m, ok := LookupModel(c.Model)
	if !ok {
		return nil, fmt.Errorf("unknown model %d", c.Model)
	}
	np := m.NumParameters()
	if c.NumFits <= 0 {
		errs = append(errs, fmt.Errorf("number of fits must be positive, got %d", c.NumFits))
	}
	if c.NumPoints <= 0 {
		errs = append(errs, fmt.Errorf("number of points must be positive, got %d", c.NumPoints))
	}
	if !c.Estimator.valid() {
		errs = append(errs, fmt.Errorf("unknown estimator %d", c.Estimator))
	}
	if !(c.Tolerance > 0) || math.IsInf(c.Tolerance, 0) {
		errs = append(errs, fmt.Errorf("tolerance must be positive and finite, got %v", c.Tolerance))
	}
	if c.MaxIterations <= 0 {
		errs = append(errs, fmt.Errorf("max iterations must be positive, got %d", c.MaxIterations))
	}
	if c.UserInfoSize < 0 {
		errs = append(errs, fmt.Errorf("negative user info size %d", c.UserInfoSize))
	}
	if c.NumValidCoefs < 0 || c.NumValidCoefs > np {
		errs = append(errs, fmt.Errorf("valid coefficients %d out of range [0, %d]", c.NumValidCoefs, np))
	}
	if c.ParametersToFit != nil {
		if len(c.ParametersToFit) != np {
			errs = append(errs, fmt.Errorf("fit mask has %d entries, model %s has %d parameters", len(c.ParametersToFit), m.Name(), np))
		} else if freeCount(c.ParametersToFit) == 0 {
			errs = append(errs, errors.New("fit mask has no free parameter"))
		}
	}
	return m, errors.Join(errs...)
}

func freeCount(mask []bool) int {
	n := 0
	for _, f := range mask {
		if f {
			n++
		}
	}
	return n
}

func freeIndices(mask []bool, np int) []int {
	if mask == nil {
		idx := make([]int, np)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	idx := make([]int, 0, np)
	for i, f := range mask {
		if f {
			idx = append(idx, i)
		}
	}
	return idx
}
