package lmfit

import (
	"context"
	"fmt"
	"sync"

	"github.com/samcharles93/lmfit/internal/device"
	"github.com/samcharles93/lmfit/internal/solver"
)

// Context is an execution context bound to one device. It records the last
// whole-run error and tracks fits in flight. Fit may be called
// concurrently.
type Context struct {
	dev    device.Device
	solver solver.Backend
	opts   Options

	mu       sync.Mutex
	lastErr  error
	inFlight int
}

// NewContext binds dev with opts. The solver named in opts must exist.
func NewContext(dev device.Device, opts Options) (*Context, error) {
	if dev == nil {
		return nil, newError(ClassDeviceUnavailable, "new context", device.ErrUnavailable)
	}
	be, err := solver.New(opts.Solver)
	if err != nil {
		return nil, configError("new context", err)
	}
	return &Context{dev: dev, solver: be, opts: opts}, nil
}

// HostOptions configure the host device used when Open selects it.
type HostOptions = device.HostOptions

// Open opens the named device ("auto", "host" or "cuda") and binds a
// Context to it.
func Open(name string, opts Options, host HostOptions) (*Context, error) {
	dev, err := device.Open(name, host)
	if err != nil {
		return nil, deviceError("open device", err)
	}
	return NewContext(dev, opts)
}

// Fit runs job to completion. Per-fit failures are reported in the result
// states. A whole-run failure returns nil results and is remembered as the
// last error.
func (c *Context) Fit(ctx context.Context, job *Job) (*Results, error) {
	c.mu.Lock()
	c.inFlight++
	c.mu.Unlock()

	o := &orchestrator{dev: c.dev, solver: c.solver, opts: c.opts, log: c.opts.logger()}
	res, err := o.run(ctx, job)

	c.mu.Lock()
	c.inFlight--
	if err != nil {
		c.lastErr = err
	}
	c.mu.Unlock()

	if err != nil {
		o.log.Error("fit failed", "error", err, "status", Status(err))
		return nil, err
	}
	return res, nil
}

// LastError describes the last whole-run failure, or "" if there was none.
func (c *Context) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr == nil {
		return ""
	}
	return c.lastErr.Error()
}

// LastErr returns the last whole-run failure as an error.
func (c *Context) LastErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// GPUAvailable reports whether a CUDA device can be probed.
func (c *Context) GPUAvailable() bool {
	return device.Has(device.CUDA)
}

// DeviceVersion is the runtime version of the bound device.
func (c *Context) DeviceVersion() (device.Version, error) {
	v := c.dev.Info().Runtime
	if v == (device.Version{}) {
		return v, newError(ClassDeviceUnavailable, "device version", fmt.Errorf("%s reports no runtime version", c.dev.Info().Name))
	}
	return v, nil
}

func (c *Context) Device() device.Info { return c.dev.Info() }

func (c *Context) MemStats() device.MemStats { return c.dev.Stats() }

func (c *Context) Solver() string { return c.solver.Name() }

// Reset clears the last error and the device statistics, and resets the
// CUDA device when the context is bound to one. It fails with ErrBusy while
// fits are in flight.
func (c *Context) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight > 0 {
		return newError(ClassBusy, "reset", fmt.Errorf("%d fits in flight", c.inFlight))
	}
	if err := c.dev.Reset(); err != nil {
		return deviceError("reset", err)
	}
	if c.dev.Info().Kind == device.CUDA {
		if err := device.ResetCUDA(); err != nil {
			return newError(ClassDeviceExecution, "reset", err)
		}
	}
	c.lastErr = nil
	return nil
}

// Configure sizes cfg against the current state of the bound device.
func (c *Context) Configure(cfg Config) (Info, error) {
	caps, err := CapabilitiesOf(c.dev)
	if err != nil {
		return Info{}, err
	}
	return Configure(cfg, caps, c.opts)
}

// IsMemorySufficient pre-flights cfg on the bound device.
func (c *Context) IsMemorySufficient(cfg Config) (bool, error) {
	caps, err := CapabilitiesOf(c.dev)
	if err != nil {
		return false, err
	}
	return IsMemorySufficient(cfg, caps, c.opts)
}
