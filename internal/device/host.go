package device

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const (
	// Host thread model. The values mirror a typical CUDA device so that
	// block sizing behaves the same on either.
	hostMaxThreadsPerBlock = 1024
	hostWarpSize           = 32
	hostMaxBlocks          = 1<<31 - 1

	defaultHostBudget = 1 << 30
)

type HostOptions struct {
	// MemoryBudget caps the device memory in bytes. Zero uses the free
	// system memory, or 1 GiB when that cannot be determined.
	MemoryBudget uint64
	// Workers is the number of concurrent kernel workers (default GOMAXPROCS).
	Workers int
}

// HostDevice executes kernels on CPU worker goroutines and accounts its
// buffers against a memory budget.
type HostDevice struct {
	info    Info
	pool    *Pool
	workers int
}

func NewHost(opts HostOptions) (*HostDevice, error) {
	budget := opts.MemoryBudget
	if budget == 0 {
		if free, err := systemFreeMemory(); err == nil && free > 0 {
			budget = free
		} else {
			budget = defaultHostBudget
		}
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = max(runtime.GOMAXPROCS(0), 1)
	}
	rt, err := ParseVersion(runtime.Version())
	if err != nil {
		rt = Version{}
	}
	return &HostDevice{
		info: Info{
			Kind:               Host,
			Name:               "host",
			Description:        runtime.GOOS + "/" + runtime.GOARCH + " worker pool",
			TotalMemory:        budget,
			MaxThreadsPerBlock: hostMaxThreadsPerBlock,
			WarpSize:           hostWarpSize,
			MaxBlocks:          hostMaxBlocks,
			Workers:            workers,
			ComputeMajor:       -1,
			ComputeMinor:       -1,
			Runtime:            rt,
			Driver:             rt,
		},
		pool:    NewPool(budget),
		workers: workers,
	}, nil
}

func (h *HostDevice) Info() Info { return h.info }

func (h *HostDevice) MemInfo() (free, total uint64, err error) {
	return h.pool.Free(), h.info.TotalMemory, nil
}

func (h *HostDevice) AllocFloat64(n int) (*Buffer, error) { return h.pool.AllocFloat64(n) }
func (h *HostDevice) AllocInt32(n int) (*Buffer, error)   { return h.pool.AllocInt32(n) }
func (h *HostDevice) AllocBytes(n int) (*Buffer, error)   { return h.pool.AllocBytes(n) }
func (h *HostDevice) Stats() MemStats                     { return h.pool.Stats() }

// Reset clears the peak statistics. Live allocations make it fail.
func (h *HostDevice) Reset() error {
	return h.pool.ResetPeak()
}

// Launch splits [0, n) into blocks of grain work items and distributes whole
// blocks over the workers. It returns after every worker finished; a panic in
// any kernel is reported as ErrLaunch.
func (h *HostDevice) Launch(ctx context.Context, n, grain int, kernel Kernel) error {
	if n <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	grain = max(grain, 1)
	blocks := (n + grain - 1) / grain
	workers := min(h.workers, blocks)
	if workers <= 1 {
		return runKernel(kernel, 0, n)
	}

	perWorker := (blocks + workers - 1) / workers * grain
	var g errgroup.Group
	for w := range workers {
		lo := w * perWorker
		hi := min(lo+perWorker, n)
		if lo >= hi {
			break
		}
		g.Go(func() error {
			return runKernel(kernel, lo, hi)
		})
	}
	return g.Wait()
}

func runKernel(kernel Kernel, lo, hi int) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = executionError(rec)
		}
	}()
	kernel(lo, hi)
	return nil
}
