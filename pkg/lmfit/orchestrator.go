package lmfit

import (
	"context"
	"errors"
	"time"

	"github.com/samcharles93/lmfit/internal/device"
	"github.com/samcharles93/lmfit/internal/logger"
	"github.com/samcharles93/lmfit/internal/solver"
)

// orchestrator runs one job chunk by chunk on a device.
type orchestrator struct {
	dev    device.Device
	solver solver.Backend
	opts   Options
	log    logger.Logger
}

func (o *orchestrator) run(ctx context.Context, job *Job) (*Results, error) {
	if job == nil {
		return nil, configError("fit", errors.New("nil job"))
	}
	caps, err := CapabilitiesOf(o.dev)
	if err != nil {
		return nil, err
	}
	cfg := job.Config()
	in, err := Configure(cfg, caps, o.opts)
	if err != nil {
		return nil, err
	}
	if err := job.validateBuffers(in.NumParameters); err != nil {
		return nil, configError("fit", err)
	}

	began := time.Now()
	res := newResults(job.NumFits, in.NumParameters)
	res.ChunkSize = in.MaxChunkSize
	o.log.Debug("fit configured",
		"model", job.Model.String(),
		"estimator", job.Estimator.String(),
		"fits", job.NumFits,
		"points", job.NumPoints,
		"free", in.NumFree,
		"chunk_size", in.MaxChunkSize,
		"chunks", in.NumChunks,
		"solver", o.solver.Name(),
	)

	for start := 0; start < job.NumFits; start += in.MaxChunkSize {
		if err := ctx.Err(); err != nil {
			return nil, newError(ClassCanceled, "fit", err)
		}
		n := min(in.MaxChunkSize, job.NumFits-start)
		if err := o.runChunk(ctx, job, in, start, n, res); err != nil {
			return nil, err
		}
		res.Chunks++
	}
	res.Elapsed = time.Since(began)
	return res, nil
}

// runChunk stages fits [start, start+n), iterates them to completion and
// gathers the outcome. The chunk's device memory is released before it
// returns.
func (o *orchestrator) runChunk(ctx context.Context, job *Job, in Info, start, n int, res *Results) (err error) {
	began := time.Now()
	c, err := allocChunk(o.dev, in, len(job.UserInfo), start, n)
	if err != nil {
		return deviceError("stage chunk", err)
	}
	defer func() {
		if rerr := c.release(); rerr != nil && err == nil {
			err = deviceError("release chunk", rerr)
		}
	}()

	c.stage(job, in)
	o.log.Debug("chunk staged", "start", start, "fits", n, "bytes", in.ChunkBytes(n))

	eng := newEngine(o.dev, o.solver, in, job, c)
	if err := eng.init(ctx); err != nil {
		return err
	}
	if err := eng.Run(ctx); err != nil {
		return err
	}
	c.gather(res)

	counts := eng.counts()
	o.log.Debug("chunk finished",
		"start", start,
		"fits", n,
		"steps", eng.steps,
		"converged", counts[Converged],
		"max_iterations", counts[MaxIterationsExceeded],
		"singular", counts[SingularHessian],
		"took", time.Since(began),
	)
	return nil
}
