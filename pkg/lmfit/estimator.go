package lmfit

import (
	"fmt"
	"math"
	"strings"
)

type EstimatorID int

const (
	// LSE minimizes the weighted sum of squared residuals.
	LSE EstimatorID = iota
	// MLE maximizes the Poisson likelihood of the data.
	MLE
)

func (e EstimatorID) String() string {
	switch e {
	case LSE:
		return "lse"
	case MLE:
		return "mle"
	default:
		return fmt.Sprintf("estimator(%d)", int(e))
	}
}

func ParseEstimator(s string) (EstimatorID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lse":
		return LSE, nil
	case "mle":
		return MLE, nil
	default:
		return 0, fmt.Errorf("unknown estimator %q (expected lse or mle)", s)
	}
}

func (e EstimatorID) valid() bool { return e == LSE || e == MLE }

// usesWeights reports whether weights enter the objective. The Poisson
// likelihood ignores them.
func (e EstimatorID) usesWeights() bool { return e == LSE }

// chiSquareTerm is the contribution of one point to the objective. ok is
// false when the model is not positive under MLE.
func (e EstimatorID) chiSquareTerm(y, m, w float64) (term float64, ok bool) {
	if e == MLE {
		if m <= 0 {
			return 0, false
		}
		term = 2 * (m - y)
		if y > 0 {
			term -= 2 * y * math.Log(m/y)
		}
		return term, true
	}
	r := y - m
	return w * r * r, true
}

// gradientFactor is the per-point factor multiplying ∂m/∂p_j in the
// gradient, and hessianFactor the one multiplying ∂m/∂p_j·∂m/∂p_k.
func (e EstimatorID) gradientFactor(y, m, w float64) float64 {
	if e == MLE {
		return y/m - 1
	}
	return w * (y - m)
}

func (e EstimatorID) hessianFactor(y, m, w float64) float64 {
	if e == MLE {
		return y / (m * m)
	}
	return w
}
