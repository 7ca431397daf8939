package device

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const (
	Host = "host"
	CUDA = "cuda"
	Auto = "auto"
)

// Kernel processes the work items [lo, hi) of a launch. Work items are
// independent; a kernel must not touch items outside its range.
type Kernel func(lo, hi int)

// Device is a data-parallel execution target with its own memory budget.
// Every Launch is a barrier: it returns only after all work items finished.
type Device interface {
	Info() Info
	MemInfo() (free, total uint64, err error)
	AllocFloat64(n int) (*Buffer, error)
	AllocInt32(n int) (*Buffer, error)
	AllocBytes(n int) (*Buffer, error)
	Launch(ctx context.Context, n, grain int, kernel Kernel) error
	Stats() MemStats
	Reset() error
}

type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

func (v Version) String() string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor) + "." + strconv.Itoa(v.Patch)
}

// ParseVersion accepts "1.2", "1.2.3" and Go style "go1.26.1".
func ParseVersion(s string) (Version, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "go")
	if i := strings.IndexAny(s, " -+"); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(s, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return Version{}, fmt.Errorf("device: invalid version %q", s)
	}
	var out [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("device: invalid version %q", s)
		}
		out[i] = n
	}
	return Version{Major: out[0], Minor: out[1], Patch: out[2]}, nil
}

// VersionFromCUDA decodes the integer encoding used by the CUDA runtime
// (1000*major + 10*minor).
func VersionFromCUDA(v int) Version {
	return Version{Major: v / 1000, Minor: (v % 1000) / 10}
}

type Info struct {
	Kind        string `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// TotalMemory is the memory budget of the device in bytes.
	TotalMemory uint64 `json:"total_memory"`

	// Thread model used for chunk and block sizing.
	MaxThreadsPerBlock int `json:"max_threads_per_block"`
	WarpSize           int `json:"warp_size"`
	MaxBlocks          int `json:"max_blocks"`
	Workers            int `json:"workers"`

	// ComputeMajor and ComputeMinor are -1 when the device has no
	// compute capability notion.
	ComputeMajor int `json:"compute_major"`
	ComputeMinor int `json:"compute_minor"`

	Runtime Version `json:"runtime"`
	Driver  Version `json:"driver"`
}

func (i Info) Compute() string {
	if i.ComputeMajor < 0 {
		return "n/a"
	}
	return strconv.Itoa(i.ComputeMajor) + "." + strconv.Itoa(i.ComputeMinor)
}

func Normalize(name string) (string, error) {
	d := strings.ToLower(strings.TrimSpace(name))
	if d == "" {
		return Auto, nil
	}
	switch d {
	case Host, CUDA, Auto:
		return d, nil
	default:
		return "", fmt.Errorf("unknown device %q (expected auto, host, or cuda)", d)
	}
}

// Open returns the execution device for name. Fit kernels run on the host
// device; "cuda" only resolves when a CUDA device can be probed, and then
// sizes the host device's budget to the GPU's free memory so that chunking
// matches what the GPU could hold.
func Open(name string, opts HostOptions) (Device, error) {
	d, err := Normalize(name)
	if err != nil {
		return nil, err
	}
	switch d {
	case CUDA:
		probe, err := ProbeCUDA()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if opts.MemoryBudget == 0 {
			opts.MemoryBudget = probe.FreeMemory
		}
		h, err := NewHost(opts)
		if err != nil {
			return nil, err
		}
		h.info.Kind = CUDA
		h.info.Name = probe.Name
		h.info.Description = "host execution sized to " + probe.Name
		h.info.MaxThreadsPerBlock = probe.MaxThreadsPerBlock
		h.info.WarpSize = probe.WarpSize
		h.info.MaxBlocks = probe.MaxBlocks
		h.info.ComputeMajor = probe.ComputeMajor
		h.info.ComputeMinor = probe.ComputeMinor
		h.info.Runtime = probe.Runtime
		h.info.Driver = probe.Driver
		return h, nil
	default:
		return NewHost(opts)
	}
}
