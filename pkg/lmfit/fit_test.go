package lmfit_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/samcharles93/lmfit/internal/device"
	"github.com/samcharles93/lmfit/internal/solver"
	"github.com/samcharles93/lmfit/internal/synth"
	"github.com/samcharles93/lmfit/pkg/lmfit"
)

func newContext(t *testing.T, budget uint64, mutate func(*lmfit.Options)) *lmfit.Context {
	t.Helper()
	dev, err := device.NewHost(device.HostOptions{MemoryBudget: budget, Workers: 4})
	if err != nil {
		t.Fatalf("NewHost: %v", err)
	}
	opts := lmfit.DefaultOptions()
	if mutate != nil {
		mutate(&opts)
	}
	ctx, err := lmfit.NewContext(dev, opts)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	return ctx
}

func decaySet(t *testing.T, n int, seed uint64, layout lmfit.DataLayout) *synth.Set {
	t.Helper()
	set, err := synth.Generate(synth.Spec{
		Model:         lmfit.Exp1D,
		NumFits:       n,
		NumPoints:     50,
		Truth:         []float64{100, 10, 5},
		Spread:        0.2,
		Noise:         synth.NoiseGaussian,
		Sigma:         1,
		InitialJitter: 0.2,
		Layout:        layout,
		Seed:          seed,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return set
}

var approx = cmp.Options{cmpopts.EquateApprox(1e-12, 0), cmpopts.EquateNaNs()}

func TestLinearConvergesToClosedForm(t *testing.T) {
	t.Parallel()

	const n, p = 16, 10
	x := make([]float64, p)
	for k := range x {
		x[k] = float64(k) - 3
	}
	for _, name := range solver.Names() {
		job, err := lmfit.NewJob(lmfit.Linear1D, n, p)
		if err != nil {
			t.Fatalf("NewJob: %v", err)
		}
		job.NumValidCoefs = 2
		job.ParametersToFit = []bool{true, true, false, false, false, false, false, false}
		job.Tolerance = 1e-12
		job.UserInfo = lmfit.EncodeXValues(x)
		for i := range n {
			c0, c1 := 3+float64(i), 2-0.5*float64(i)
			for k := range p {
				job.Data[i*p+k] = c0 + c1*x[k]
			}
		}

		res, err := newContext(t, 16<<20, func(o *lmfit.Options) { o.Solver = name }).Fit(context.Background(), job)
		if err != nil {
			t.Fatalf("%s: Fit: %v", name, err)
		}
		for i := range n {
			if res.States[i] != lmfit.Converged {
				t.Fatalf("%s fit %d: state %v want converged", name, i, res.States[i])
			}
			got := res.Fit(i)
			want := []float64{3 + float64(i), 2 - 0.5*float64(i), 0, 0, 0, 0, 0, 0}
			if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
				t.Fatalf("%s fit %d parameters (-want +got):\n%s", name, i, diff)
			}
			if res.Iterations[i] < 1 || res.Iterations[i] >= job.MaxIterations {
				t.Fatalf("%s fit %d: %d iterations", name, i, res.Iterations[i])
			}
		}
	}
}

func TestChunkingIsTransparent(t *testing.T) {
	t.Parallel()

	set := decaySet(t, 500, 11, lmfit.LayoutFitMajor)
	whole, err := newContext(t, 64<<20, nil).Fit(context.Background(), set.Job)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	chunked, err := newContext(t, 64<<20, func(o *lmfit.Options) { o.MaxChunkSize = 37 }).Fit(context.Background(), set.Job)
	if err != nil {
		t.Fatalf("Fit chunked: %v", err)
	}
	if whole.Chunks != 1 || chunked.Chunks != 14 {
		t.Fatalf("chunks: got %d and %d want 1 and 14", whole.Chunks, chunked.Chunks)
	}
	if diff := cmp.Diff(whole.Parameters, chunked.Parameters, approx); diff != "" {
		t.Fatalf("parameters differ (-whole +chunked):\n%s", diff)
	}
	if diff := cmp.Diff(whole.ChiSquares, chunked.ChiSquares, approx); diff != "" {
		t.Fatalf("chi-squares differ (-whole +chunked):\n%s", diff)
	}
	if !cmp.Equal(whole.States, chunked.States) || !cmp.Equal(whole.Iterations, chunked.Iterations) {
		t.Fatalf("states or iterations differ between chunk layouts")
	}
}

func TestPointMajorMatchesFitMajor(t *testing.T) {
	t.Parallel()

	fit := decaySet(t, 120, 5, lmfit.LayoutFitMajor)
	point := decaySet(t, 120, 5, lmfit.LayoutPointMajor)
	ctx := newContext(t, 64<<20, func(o *lmfit.Options) { o.MaxChunkSize = 50 })
	a, err := ctx.Fit(context.Background(), fit.Job)
	if err != nil {
		t.Fatalf("Fit fit-major: %v", err)
	}
	b, err := ctx.Fit(context.Background(), point.Job)
	if err != nil {
		t.Fatalf("Fit point-major: %v", err)
	}
	if diff := cmp.Diff(a.Parameters, b.Parameters, approx); diff != "" {
		t.Fatalf("parameters differ (-fit-major +point-major):\n%s", diff)
	}
	if !cmp.Equal(a.States, b.States) {
		t.Fatalf("states differ between layouts")
	}
}

func TestSingularFitLeavesNeighboursAlone(t *testing.T) {
	t.Parallel()

	const n, p = 3, 10
	for _, name := range solver.Names() {
		job, err := lmfit.NewJob(lmfit.Linear1D, n, p)
		if err != nil {
			t.Fatalf("NewJob: %v", err)
		}
		job.NumValidCoefs = 2
		job.ParametersToFit = []bool{true, true, false, false, false, false, false, false}
		job.Tolerance = 1e-12
		// Fit 1 sees x = 0 everywhere, so the slope has no influence on it.
		xs := make([]float64, 0, n*p)
		for i := range n {
			for k := range p {
				if i == 1 {
					xs = append(xs, 0)
				} else {
					xs = append(xs, float64(k))
				}
			}
		}
		job.UserInfo = lmfit.EncodeXValues(xs)
		for i := range n {
			for k := range p {
				job.Data[i*p+k] = 1 + xs[i*p+k]
			}
			job.InitialParameters[i*8] = 0.5
			job.InitialParameters[i*8+1] = 0.5
		}

		res, err := newContext(t, 16<<20, func(o *lmfit.Options) { o.Solver = name }).Fit(context.Background(), job)
		if err != nil {
			t.Fatalf("%s: Fit: %v", name, err)
		}
		want := []lmfit.State{lmfit.Converged, lmfit.SingularHessian, lmfit.Converged}
		if diff := cmp.Diff(want, res.States); diff != "" {
			t.Fatalf("%s states (-want +got):\n%s", name, diff)
		}
		if got := res.Fit(1)[:2]; got[0] != 0.5 || got[1] != 0.5 {
			t.Fatalf("%s singular fit parameters moved: %v", name, got)
		}
		for _, i := range []int{0, 2} {
			if got := res.Fit(i); math.Abs(got[0]-1) > 1e-6 || math.Abs(got[1]-1) > 1e-6 {
				t.Fatalf("%s fit %d: got %v want [1 1 ...]", name, i, got[:2])
			}
		}
	}
}

func TestEndToEndExponentialDecay(t *testing.T) {
	t.Parallel()

	const n = 10000
	set := decaySet(t, n, 2024, lmfit.LayoutFitMajor)
	job := set.Job
	job.Tolerance = 1e-4
	job.MaxIterations = 50

	ctx := newContext(t, 4<<20, nil)
	in, err := ctx.Configure(job.Config())
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	res, err := ctx.Fit(context.Background(), job)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if res.Chunks < 2 || res.Chunks != in.NumChunks {
		t.Fatalf("chunks: got %d want %d (> 1)", res.Chunks, in.NumChunks)
	}
	if f := res.ConvergedFraction(); f < 0.99 {
		t.Fatalf("converged fraction %v < 0.99 (summary %v)", f, res.Summary())
	}

	var checked, within int
	for i := range n {
		if res.States[i] != lmfit.Converged {
			continue
		}
		sigma, err := lmfit.StandardErrors(job, res, i)
		if err != nil {
			t.Fatalf("StandardErrors(%d): %v", i, err)
		}
		for j, truth := range set.FitTruth(i) {
			checked++
			if math.Abs(res.Fit(i)[j]-truth) <= 3*sigma[j] {
				within++
			}
		}
	}
	// Three sigma covers 99.7 % of a normal population.
	if frac := float64(within) / float64(checked); frac < 0.98 {
		t.Fatalf("only %.4f of parameters lie within 3 sigma of the truth", frac)
	}

	st := ctx.MemStats()
	if st.Live != 0 {
		t.Fatalf("device memory still live after fit: %d bytes", st.Live)
	}
	if st.Peak == 0 || st.Peak > in.ChunkBytes(in.MaxChunkSize) {
		t.Fatalf("peak device memory %d exceeds one chunk (%d)", st.Peak, in.ChunkBytes(in.MaxChunkSize))
	}
	if st.Allocations != st.Frees {
		t.Fatalf("allocations %d != frees %d", st.Allocations, st.Frees)
	}
}

func TestPoissonMLEConverges(t *testing.T) {
	t.Parallel()

	set, err := synth.Generate(synth.Spec{
		Model:         lmfit.Exp1D,
		Estimator:     lmfit.MLE,
		NumFits:       400,
		NumPoints:     30,
		Truth:         []float64{1000, 10, 50},
		Noise:         synth.NoisePoisson,
		InitialJitter: 0.2,
		Seed:          3,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	set.Job.MaxIterations = 50
	res, err := newContext(t, 64<<20, nil).Fit(context.Background(), set.Job)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if f := res.ConvergedFraction(); f < 0.97 {
		t.Fatalf("converged fraction %v (summary %v)", f, res.Summary())
	}
	var sum float64
	var count int
	for i := range 400 {
		if res.States[i] == lmfit.Converged {
			sum += res.Fit(i)[1]
			count++
		}
	}
	if mean := sum / float64(count); math.Abs(mean-10) > 0.2 {
		t.Fatalf("mean decay time %v want 10", mean)
	}
}

func TestPerFitUserInfoIsSlicedPerChunk(t *testing.T) {
	t.Parallel()

	spec := synth.Spec{
		Model:         lmfit.Exp1D,
		NumFits:       60,
		NumPoints:     25,
		Truth:         []float64{20, 4, 1},
		XScale:        func(fit int) float64 { return 0.5 + 0.1*float64(fit%4) },
		InitialJitter: 0.15,
		Seed:          8,
	}
	set, err := synth.Generate(spec)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	set.Job.Tolerance = 1e-14
	set.Job.MaxIterations = 100

	ctx := newContext(t, 16<<20, func(o *lmfit.Options) { o.MaxChunkSize = 7 })
	in, err := ctx.Configure(set.Job.Config())
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if in.UserInfoMode != "per_fit" {
		t.Fatalf("user info mode: got %q want per_fit", in.UserInfoMode)
	}
	res, err := ctx.Fit(context.Background(), set.Job)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	for i := range 60 {
		if res.States[i] != lmfit.Converged {
			t.Fatalf("fit %d: state %v", i, res.States[i])
		}
		if diff := cmp.Diff(set.FitTruth(i), res.Fit(i), cmpopts.EquateApprox(1e-5, 0)); diff != "" {
			t.Fatalf("fit %d (-truth +fit):\n%s", i, diff)
		}
	}
}

func TestACFWithFixedStructureFactor(t *testing.T) {
	t.Parallel()

	lags := make([]float64, 40)
	for k := range lags {
		lags[k] = 1e-5 * math.Pow(10, 4*float64(k)/39)
	}
	set, err := synth.Generate(synth.Spec{
		Model:           lmfit.ACF3D,
		NumFits:         32,
		NumPoints:       len(lags),
		Truth:           []float64{0.5, 1e-3, 5, 1},
		Spread:          0.2,
		X:               lags,
		InitialJitter:   0.2,
		ParametersToFit: []bool{true, true, false, true},
		Seed:            4,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	set.Job.Tolerance = 1e-12
	set.Job.MaxIterations = 200
	res, err := newContext(t, 16<<20, nil).Fit(context.Background(), set.Job)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	for i := range 32 {
		if res.States[i] != lmfit.Converged {
			t.Fatalf("fit %d: state %v", i, res.States[i])
		}
		truth := set.FitTruth(i)
		got := res.Fit(i)
		if got[2] != truth[2] {
			t.Fatalf("fit %d: fixed structure factor moved from %v to %v", i, truth[2], got[2])
		}
		if math.Abs(got[1]-truth[1]) > 1e-4*truth[1] {
			t.Fatalf("fit %d: diffusion time %v want %v", i, got[1], truth[1])
		}
	}
}

func TestOutOfMemoryIsReportedAndRemembered(t *testing.T) {
	t.Parallel()

	set := decaySet(t, 10, 1, lmfit.LayoutFitMajor)
	ctx := newContext(t, 1000, nil)
	ok, err := ctx.IsMemorySufficient(set.Job.Config())
	if err != nil || ok {
		t.Fatalf("IsMemorySufficient: got %v, %v want false", ok, err)
	}
	res, err := ctx.Fit(context.Background(), set.Job)
	if res != nil {
		t.Fatalf("expected nil results on fatal error")
	}
	if !errors.Is(err, lmfit.ErrOutOfMemory) || !errors.Is(err, lmfit.ErrConfiguration) {
		t.Fatalf("Fit: got %v want out of memory", err)
	}
	if lmfit.Status(err) != 3 {
		t.Fatalf("status: got %d want 3", lmfit.Status(err))
	}
	if !strings.Contains(ctx.LastError(), "insufficient device memory") {
		t.Fatalf("LastError: got %q", ctx.LastError())
	}
	if err := ctx.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if ctx.LastError() != "" {
		t.Fatalf("LastError after reset: got %q want empty", ctx.LastError())
	}
}

func TestInvalidJobBuffers(t *testing.T) {
	t.Parallel()

	job, err := lmfit.NewJob(lmfit.Gauss1D, 4, 8)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	job.Data = job.Data[:5]
	ctx := newContext(t, 1<<20, nil)
	if _, err := ctx.Fit(context.Background(), job); !errors.Is(err, lmfit.ErrConfiguration) || lmfit.Status(err) != 1 {
		t.Fatalf("short data: got %v want configuration error", err)
	}
	if _, err := ctx.Fit(context.Background(), nil); !errors.Is(err, lmfit.ErrConfiguration) {
		t.Fatalf("nil job: got %v want configuration error", err)
	}
}

func TestFitCanceled(t *testing.T) {
	t.Parallel()

	set := decaySet(t, 10, 1, lmfit.LayoutFitMajor)
	ctx := newContext(t, 1<<20, nil)
	cctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ctx.Fit(cctx, set.Job)
	if !errors.Is(err, lmfit.ErrCanceled) || lmfit.Status(err) != 5 {
		t.Fatalf("Fit: got %v want canceled", err)
	}
}

// blockingModel is a constant model whose first evaluation waits for
// release.
type blockingModel struct {
	once    *sync.Once
	started chan struct{}
	release chan struct{}
}

func (blockingModel) Name() string       { return "blocking_test" }
func (blockingModel) NumParameters() int { return 1 }

func (m blockingModel) Evaluate(p []float64, _ lmfit.Point, d []float64) float64 {
	m.once.Do(func() {
		close(m.started)
		<-m.release
	})
	d[0] = 1
	return p[0]
}

func TestResetRefusedWhileBusy(t *testing.T) {
	t.Parallel()

	m := blockingModel{once: &sync.Once{}, started: make(chan struct{}), release: make(chan struct{})}
	id := lmfit.FirstCustomModel + 1
	if err := lmfit.RegisterModel(id, m); err != nil {
		t.Fatalf("RegisterModel: %v", err)
	}
	if err := lmfit.RegisterModel(id, m); err == nil {
		t.Fatalf("duplicate registration should fail")
	}
	job, err := lmfit.NewJob(id, 4, 5)
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	for i := range job.Data {
		job.Data[i] = 2
	}

	ctx := newContext(t, 1<<20, nil)
	done := make(chan error, 1)
	go func() {
		_, err := ctx.Fit(context.Background(), job)
		done <- err
	}()

	select {
	case <-m.started:
	case <-time.After(10 * time.Second):
		t.Fatal("fit did not start")
	}
	if err := ctx.Reset(); !errors.Is(err, lmfit.ErrBusy) {
		t.Fatalf("Reset while busy: got %v want %v", err, lmfit.ErrBusy)
	}
	close(m.release)
	if err := <-done; err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if err := ctx.Reset(); err != nil {
		t.Fatalf("Reset after fit: %v", err)
	}
}

func TestContextQueries(t *testing.T) {
	t.Parallel()

	ctx := newContext(t, 1<<20, func(o *lmfit.Options) { o.Solver = "gauss-jordan" })
	if ctx.Solver() != solver.GaussJordan {
		t.Fatalf("solver: got %q", ctx.Solver())
	}
	v, err := ctx.DeviceVersion()
	if err != nil {
		t.Fatalf("DeviceVersion: %v", err)
	}
	if v.Major < 1 {
		t.Fatalf("implausible host runtime version %v", v)
	}
	if ctx.Device().Kind != device.Host {
		t.Fatalf("device kind: got %q", ctx.Device().Kind)
	}
	if _, err := lmfit.NewContext(nil, lmfit.DefaultOptions()); !errors.Is(err, lmfit.ErrDeviceUnavailable) {
		t.Fatalf("nil device: got %v", err)
	}
	opts := lmfit.DefaultOptions()
	opts.Solver = "svd"
	dev, _ := device.NewHost(device.HostOptions{MemoryBudget: 1 << 20})
	if _, err := lmfit.NewContext(dev, opts); !errors.Is(err, lmfit.ErrConfiguration) {
		t.Fatalf("unknown solver: got %v", err)
	}
}

func TestSummaryCountsStates(t *testing.T) {
	t.Parallel()

	set := decaySet(t, 50, 6, lmfit.LayoutFitMajor)
	set.Job.Data[10*50+3] = math.Inf(1)
	res, err := newContext(t, 16<<20, nil).Fit(context.Background(), set.Job)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	sum := res.Summary()
	total := 0
	for _, v := range sum {
		total += v
	}
	if total != 50 || sum["nan"] != 1 {
		t.Fatalf("summary: %v", sum)
	}
	if res.States[10] != lmfit.NaNEncountered {
		t.Fatalf("fit with infinite data: state %v", res.States[10])
	}
}
