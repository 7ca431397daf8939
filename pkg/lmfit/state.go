package lmfit

import "fmt"

// State is the per-fit outcome. Every state other than Running is terminal.
type State int32

const (
	Running State = iota
	Converged
	MaxIterationsExceeded
	SingularHessian
	NaNEncountered
	NegativeCurvatureMLE
)

var stateNames = [...]string{
	Running:               "running",
	Converged:             "converged",
	MaxIterationsExceeded: "max_iterations",
	SingularHessian:       "singular_hessian",
	NaNEncountered:        "nan",
	NegativeCurvatureMLE:  "negative_curvature_mle",
}

// States lists every state in numeric order.
func States() []State {
	return []State{Running, Converged, MaxIterationsExceeded, SingularHessian, NaNEncountered, NegativeCurvatureMLE}
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

func (s State) Terminal() bool { return s != Running }

func (s State) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(stateNames) {
		return nil, fmt.Errorf("lmfit: invalid state %d", int32(s))
	}
	return []byte(stateNames[s]), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("lmfit: unknown state %q", b)
}
