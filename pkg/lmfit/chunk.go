package lmfit

import (
	"errors"
	"fmt"

	"github.com/samcharles93/lmfit/internal/device"
)

// Per-fit int32 words: state, iteration, rejections, finished, flags,
// singular.
const bookkeepingWords = 6

// Bits of chunk.flags.
const (
	flagAccepted    = 1 << 0
	flagNonPositive = 1 << 1
)

// chunk owns the device buffers of fits [start, start+n). All per-fit
// arrays are fit-major.
type chunk struct {
	start int
	n     int

	np    int
	nf    int
	ndata int

	data, weights   []float64
	values, derivs  []float64
	params, prev    []float64
	chi2, prevChi2  []float64
	lambda          []float64
	grad, hess      []float64
	damped, delta   []float64
	scratch         []float64
	state, iter     []int32
	rejections      []int32
	finished, flags []int32
	singular        []int32
	freeIdx         []int32
	userInfo        []byte
	userStride      int

	bufs []*device.Buffer
}

func allocChunk(dev device.Device, in Info, userInfoSize, start, n int) (*chunk, error) {
	c := &chunk{
		start: start,
		n:     n,
		np:    in.NumParameters,
		nf:    in.NumFree,
		ndata: in.NumPoints,
	}
	var err error
	p, np, nf := in.NumPoints, in.NumParameters, in.NumFree
	f64 := func(dst *[]float64, count int) {
		if err != nil {
			return
		}
		var b *device.Buffer
		if b, err = dev.AllocFloat64(count); err == nil {
			c.bufs = append(c.bufs, b)
			*dst = b.Float64()
		}
	}
	i32 := func(dst *[]int32, count int) {
		if err != nil {
			return
		}
		var b *device.Buffer
		if b, err = dev.AllocInt32(count); err == nil {
			c.bufs = append(c.bufs, b)
			*dst = b.Int32()
		}
	}

	f64(&c.data, n*p)
	if in.useWeights {
		f64(&c.weights, n*p)
	}
	f64(&c.values, n*p)
	f64(&c.derivs, n*p*nf)
	f64(&c.params, n*np)
	f64(&c.prev, n*np)
	f64(&c.chi2, n)
	f64(&c.prevChi2, n)
	f64(&c.lambda, n)
	f64(&c.grad, n*nf)
	f64(&c.hess, n*nf*nf)
	f64(&c.damped, n*nf*nf)
	f64(&c.delta, n*nf)
	f64(&c.scratch, n*nf*(nf+1))
	i32(&c.state, n)
	i32(&c.iter, n)
	i32(&c.rejections, n)
	i32(&c.finished, n)
	i32(&c.flags, n)
	i32(&c.singular, n)
	i32(&c.freeIdx, nf)

	var ui int
	switch in.mode {
	case userInfoPerFit:
		ui = n * in.UserInfoStride
		c.userStride = in.UserInfoStride
	case userInfoShared:
		ui = userInfoSize
	}
	if err == nil && ui > 0 {
		var b *device.Buffer
		if b, err = dev.AllocBytes(ui); err == nil {
			c.bufs = append(c.bufs, b)
			c.userInfo = b.Raw()
		}
	}
	if err != nil {
		return nil, errors.Join(fmt.Errorf("allocate chunk of %d fits at %d: %w", n, start, err), c.release())
	}
	return c, nil
}

// release frees every buffer of the chunk. It is safe to call twice.
func (c *chunk) release() error {
	var errs []error
	for _, b := range c.bufs {
		errs = append(errs, b.Free())
	}
	c.bufs = nil
	return errors.Join(errs...)
}

// stage copies the chunk's slice of job into the device buffers.
func (c *chunk) stage(job *Job, in Info) {
	p, np := c.ndata, c.np
	lo, hi := c.start, c.start+c.n

	gather := func(dst, src []float64) {
		if job.Layout == LayoutPointMajor {
			for i := range c.n {
				for k := range p {
					dst[i*p+k] = src[k*job.NumFits+lo+i]
				}
			}
			return
		}
		copy(dst, src[lo*p:hi*p])
	}
	gather(c.data, job.Data)
	if c.weights != nil {
		gather(c.weights, job.Weights)
	}

	copy(c.params, job.InitialParameters[lo*np:hi*np])
	copy(c.prev, c.params)
	for j, idx := range in.freeIdx {
		c.freeIdx[j] = int32(idx)
	}

	switch in.mode {
	case userInfoPerFit:
		copy(c.userInfo, job.UserInfo[lo*c.userStride:hi*c.userStride])
	case userInfoShared:
		copy(c.userInfo, job.UserInfo)
	}
}

// fitUserInfo is the user info seen by local fit i.
func (c *chunk) fitUserInfo(i int) []byte {
	if c.userStride > 0 {
		return c.userInfo[i*c.userStride : (i+1)*c.userStride]
	}
	return c.userInfo
}

// gather copies the chunk outcome into the population sized results.
func (c *chunk) gather(res *Results) {
	lo, np := c.start, c.np
	copy(res.Parameters[lo*np:(lo+c.n)*np], c.params)
	copy(res.ChiSquares[lo:lo+c.n], c.chi2)
	for i := range c.n {
		res.States[lo+i] = State(c.state[i])
		res.Iterations[lo+i] = int(c.iter[i])
	}
}
