package lmfit

import (
	"context"
	"math"
	"testing"

	"github.com/samcharles93/lmfit/internal/device"
	"github.com/samcharles93/lmfit/internal/solver"
)

func newTestDevice(t *testing.T, budget uint64) device.Device {
	t.Helper()
	dev, err := device.NewHost(device.HostOptions{MemoryBudget: budget, Workers: 4})
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	return dev
}

// decayJob builds n noisy-free exponential decays with a deterministic
// spread of initial guesses.
func decayJob(t *testing.T, n, p int) *Job {
	t.Helper()
	job, err := NewJob(Exp1D, n, p)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	x := make([]float64, p)
	for k := range x {
		x[k] = float64(k)
	}
	job.UserInfo = EncodeXValues(x)
	for i := range n {
		a, tau, c := 50+float64(i%7), 8+float64(i%5), 2.0
		for k := range p {
			// A deterministic wiggle keeps chi-square away from zero.
			job.Data[i*p+k] = a*math.Exp(-x[k]/tau) + c + 0.3*math.Sin(float64(3*k+i))
		}
		job.InitialParameters[i*3+0] = a * (0.8 + 0.05*float64(i%9))
		job.InitialParameters[i*3+1] = tau * (1.2 - 0.04*float64(i%11))
		job.InitialParameters[i*3+2] = c * 0.5
	}
	return job
}

func newTestEngine(t *testing.T, job *Job, solverName string) (*engine, *chunk) {
	t.Helper()
	dev := newTestDevice(t, 64<<20)
	caps, err := CapabilitiesOf(dev)
	if err != nil {
		t.Fatalf("CapabilitiesOf: %v", err)
	}
	in, err := Configure(job.Config(), caps, DefaultOptions())
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	c, err := allocChunk(dev, in, len(job.UserInfo), 0, job.NumFits)
	if err != nil {
		t.Fatalf("allocChunk: %v", err)
	}
	t.Cleanup(func() {
		if err := c.release(); err != nil {
			t.Errorf("release: %v", err)
		}
	})
	c.stage(job, in)
	be, err := solver.New(solverName)
	if err != nil {
		t.Fatalf("solver.New: %v", err)
	}
	e := newEngine(dev, be, in, job, c)
	if err := e.init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return e, c
}

func TestStepChiSquareIsMonotonic(t *testing.T) {
	t.Parallel()

	for _, name := range solver.Names() {
		job := decayJob(t, 97, 40)
		job.MaxIterations = 50
		e, c := newTestEngine(t, job, name)

		prevChi := append([]float64(nil), c.chi2...)
		prevState := append([]int32(nil), c.state...)
		for step := 0; !e.AllFinished(); step++ {
			if step > 50*(MaxRejections+1) {
				t.Fatalf("%s: engine did not terminate", name)
			}
			if err := e.Step(context.Background()); err != nil {
				t.Fatalf("%s: Step: %v", name, err)
			}
			for i := range c.n {
				if c.chi2[i] > prevChi[i] {
					t.Fatalf("%s step %d fit %d: chi-square rose from %v to %v", name, step, i, prevChi[i], c.chi2[i])
				}
				if State(prevState[i]).Terminal() && c.state[i] != prevState[i] {
					t.Fatalf("%s step %d fit %d: terminal state %v changed to %v", name, step, i, State(prevState[i]), State(c.state[i]))
				}
				if State(c.state[i]) == Running && int(c.iter[i]) >= job.MaxIterations {
					t.Fatalf("%s step %d fit %d: running with %d iterations", name, step, i, c.iter[i])
				}
			}
			copy(prevChi, c.chi2)
			copy(prevState, c.state)
		}
		if got := e.counts()[Converged]; got < c.n*95/100 {
			t.Fatalf("%s: %d of %d fits converged", name, got, c.n)
		}
	}
}

func TestTerminalFitsAreNotTouched(t *testing.T) {
	t.Parallel()

	job := decayJob(t, 8, 30)
	e, c := newTestEngine(t, job, solver.Factor)

	c.finish(3, MaxIterationsExceeded)
	frozen := append([]float64(nil), c.params[3*3:4*3]...)
	chi := c.chi2[3]
	for !e.AllFinished() {
		if err := e.Step(context.Background()); err != nil {
			t.Fatalf("Step: %v", err)
		}
	}
	for j, v := range c.params[3*3 : 4*3] {
		if v != frozen[j] {
			t.Fatalf("parameter %d of a terminal fit changed: %v -> %v", j, frozen[j], v)
		}
	}
	if c.chi2[3] != chi || State(c.state[3]) != MaxIterationsExceeded {
		t.Fatalf("terminal fit changed: chi %v -> %v, state %v", chi, c.chi2[3], State(c.state[3]))
	}
}

func TestPrologueFlagsInvalidFits(t *testing.T) {
	t.Parallel()

	job := decayJob(t, 4, 20)
	job.Data[1*20+5] = math.NaN()
	e, c := newTestEngine(t, job, solver.GaussJordan)
	if State(c.state[1]) != NaNEncountered || c.finished[1] == 0 {
		t.Fatalf("fit with NaN data: state %v finished %d", State(c.state[1]), c.finished[1])
	}
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, i := range []int{0, 2, 3} {
		if State(c.state[i]) != Converged {
			t.Fatalf("fit %d: state %v want converged", i, State(c.state[i]))
		}
	}
}

func TestMLENonPositiveModel(t *testing.T) {
	t.Parallel()

	job := decayJob(t, 3, 20)
	job.Estimator = MLE
	// A negative offset drives the tail of the model below zero.
	job.InitialParameters[2*3+2] = -100
	_, c := newTestEngine(t, job, solver.Factor)
	if State(c.state[2]) != NegativeCurvatureMLE {
		t.Fatalf("state: got %v want %v", State(c.state[2]), NegativeCurvatureMLE)
	}
	if c.state[0] != int32(Running) {
		t.Fatalf("neighbour state: got %v want running", State(c.state[0]))
	}
}

func TestRunObservesCancellation(t *testing.T) {
	t.Parallel()

	job := decayJob(t, 4, 20)
	e, _ := newTestEngine(t, job, solver.Factor)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx); Status(err) != 5 {
		t.Fatalf("Run after cancel: got %v (status %d) want status 5", err, Status(err))
	}
}

// wrongSlope is m = p·x with a derivative of the wrong sign, so every
// Levenberg-Marquardt step moves uphill.
type wrongSlope struct{}

func (wrongSlope) Name() string       { return "wrong_slope_test" }
func (wrongSlope) NumParameters() int { return 1 }

func (wrongSlope) Evaluate(p []float64, pt Point, d []float64) float64 {
	d[0] = -pt.X
	return p[0] * pt.X
}

// nanAbove is a constant model that stops being defined above 1.0001.
type nanAbove struct{}

func (nanAbove) Name() string       { return "nan_above_test" }
func (nanAbove) NumParameters() int { return 1 }

func (nanAbove) Evaluate(p []float64, _ Point, d []float64) float64 {
	d[0] = 1
	if p[0] > 1.0001 {
		return math.NaN()
	}
	return p[0]
}

// registerTestModel registers m under id unless an earlier run of the test
// binary already did.
func registerTestModel(t *testing.T, id ModelID, m Model) {
	t.Helper()
	if got, ok := LookupModel(id); ok && got.Name() == m.Name() {
		return
	}
	if err := RegisterModel(id, m); err != nil {
		t.Fatalf("RegisterModel: %v", err)
	}
}

func TestRejectedStepsHitRejectionCap(t *testing.T) {
	t.Parallel()

	id := FirstCustomModel + 10
	registerTestModel(t, id, wrongSlope{})
	const p = 10
	job, err := NewJob(id, 1, p)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	for k := range p {
		job.Data[k] = 2 * float64(k)
	}
	job.InitialParameters[0] = 0.5
	e, c := newTestEngine(t, job, solver.Factor)
	start := c.chi2[0]

	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if State(c.state[0]) != MaxIterationsExceeded {
		t.Fatalf("state: got %v want %v", State(c.state[0]), MaxIterationsExceeded)
	}
	if c.iter[0] != 0 {
		t.Fatalf("iterations: got %d want 0", c.iter[0])
	}
	if c.rejections[0] != MaxRejections+1 || e.steps != MaxRejections+1 {
		t.Fatalf("rejections: got %d after %d steps want %d", c.rejections[0], e.steps, MaxRejections+1)
	}
	if c.params[0] != 0.5 || c.chi2[0] != start {
		t.Fatalf("rejected steps were kept: params %v chi %v want 0.5 and %v", c.params[0], c.chi2[0], start)
	}
}

func TestIterationBudgetRunsOut(t *testing.T) {
	t.Parallel()

	job := decayJob(t, 16, 30)
	job.MaxIterations = 1
	job.Tolerance = 1e-15
	e, c := newTestEngine(t, job, solver.Factor)
	if err := e.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	used := 0
	for i := range c.n {
		if State(c.state[i]) != MaxIterationsExceeded {
			t.Fatalf("fit %d: state %v want %v", i, State(c.state[i]), MaxIterationsExceeded)
		}
		if c.iter[i] > 1 {
			t.Fatalf("fit %d: %d iterations with a budget of 1", i, c.iter[i])
		}
		used += int(c.iter[i])
	}
	if used < c.n/2 {
		t.Fatalf("only %d of %d fits used their iteration", used, c.n)
	}
}

func TestNaNDuringStepRevertsParameters(t *testing.T) {
	t.Parallel()

	registerTestModel(t, FirstCustomModel+11, nanAbove{})
	job, err := NewJob(FirstCustomModel+11, 2, 5)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	for k := range 5 {
		job.Data[k] = 2   // pulls the first fit past the defined range
		job.Data[5+k] = 1 // the second fit starts at its optimum
	}
	job.InitialParameters[0] = 1
	job.InitialParameters[1] = 1
	e, c := newTestEngine(t, job, solver.GaussJordan)
	start := c.chi2[0]

	if err := e.Step(context.Background()); err != nil {
		t.Fatalf("Step: %v", err)
	}
	if State(c.state[0]) != NaNEncountered || c.finished[0] == 0 {
		t.Fatalf("state: got %v want %v", State(c.state[0]), NaNEncountered)
	}
	if c.params[0] != 1 || c.chi2[0] != start || c.iter[0] != 0 {
		t.Fatalf("step not reverted: params %v chi %v iter %d want 1, %v, 0", c.params[0], c.chi2[0], c.iter[0], start)
	}
	if State(c.state[1]) != Converged {
		t.Fatalf("neighbour state: got %v want %v", State(c.state[1]), Converged)
	}
}
