package lmfit

import (
	"context"

	"github.com/samcharles93/lmfit/internal/device"
	"github.com/samcharles93/lmfit/internal/solver"
)

// engine iterates the fits of one chunk in lockstep. Every stage is one
// launch over the whole chunk; terminal fits skip the work but keep their
// slot.
type engine struct {
	dev    device.Device
	solver solver.Backend
	model  Model
	est    EstimatorID

	tolerance     float64
	maxIterations int
	validCoefs    int
	grain         int

	c     *chunk
	steps int
}

func newEngine(dev device.Device, be solver.Backend, in Info, job *Job, c *chunk) *engine {
	return &engine{
		dev:           dev,
		solver:        be,
		model:         in.model,
		est:           job.Estimator,
		tolerance:     job.Tolerance,
		maxIterations: job.MaxIterations,
		validCoefs:    job.NumValidCoefs,
		grain:         in.FitsPerBlock,
		c:             c,
	}
}

// init evaluates every fit at its initial parameters and builds the first
// normal equations. Fits that cannot be evaluated end here.
func (e *engine) init(ctx context.Context) error {
	if err := e.calcCurveValues(ctx); err != nil {
		return err
	}
	if err := e.calcChiSquares(ctx); err != nil {
		return err
	}
	if err := e.initStates(ctx); err != nil {
		return err
	}
	if err := e.calcGradients(ctx, false); err != nil {
		return err
	}
	return e.calcHessians(ctx, false)
}

// Step runs one Levenberg-Marquardt iteration for every running fit.
func (e *engine) Step(ctx context.Context) error {
	stages := []func(context.Context) error{
		e.scaleHessians,
		e.solve,
		e.updateParameters,
		e.calcCurveValues,
		e.calcChiSquares,
		e.evaluateIteration,
		func(ctx context.Context) error { return e.calcGradients(ctx, true) },
		func(ctx context.Context) error { return e.calcHessians(ctx, true) },
	}
	for _, stage := range stages {
		if err := stage(ctx); err != nil {
			return err
		}
	}
	e.steps++
	return nil
}

// Run steps until every fit reached a terminal state. Cancellation is
// observed between passes.
func (e *engine) Run(ctx context.Context) error {
	for !e.AllFinished() {
		if err := ctx.Err(); err != nil {
			return newError(ClassCanceled, "iterate", err)
		}
		if err := e.Step(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (e *engine) AllFinished() bool {
	for _, f := range e.c.finished {
		if f == 0 {
			return false
		}
	}
	return true
}

// counts is the state histogram of the chunk.
func (e *engine) counts() map[State]int {
	out := map[State]int{}
	for _, s := range e.c.state {
		out[State(s)]++
	}
	return out
}

func (e *engine) launch(ctx context.Context, stage string, kernel device.Kernel) error {
	if err := e.dev.Launch(ctx, e.c.n, e.grain, kernel); err != nil {
		return deviceError(stage, err)
	}
	return nil
}
