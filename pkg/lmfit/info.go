package lmfit

import (
	"fmt"
	"math/bits"

	"github.com/samcharles93/lmfit/internal/device"
)

// Capabilities is the snapshot of a device Configure sizes chunks against.
type Capabilities struct {
	FreeMemory         uint64
	MaxThreadsPerBlock int
	WarpSize           int
	MaxBlocks          int
}

// CapabilitiesOf queries dev for its current free memory and thread model.
func CapabilitiesOf(dev device.Device) (Capabilities, error) {
	if dev == nil {
		return Capabilities{}, newError(ClassDeviceUnavailable, "query device", device.ErrUnavailable)
	}
	free, _, err := dev.MemInfo()
	if err != nil {
		return Capabilities{}, newError(ClassDeviceUnavailable, "query device memory", err)
	}
	di := dev.Info()
	return Capabilities{
		FreeMemory:         free,
		MaxThreadsPerBlock: di.MaxThreadsPerBlock,
		WarpSize:           di.WarpSize,
		MaxBlocks:          di.MaxBlocks,
	}, nil
}

type userInfoMode int

const (
	userInfoNone userInfoMode = iota
	userInfoShared
	userInfoPerFit
)

func (m userInfoMode) String() string {
	switch m {
	case userInfoShared:
		return "shared"
	case userInfoPerFit:
		return "per_fit"
	default:
		return "none"
	}
}

// Info is the result of Configure: the validated shape of a job and the
// chunking derived from device memory.
type Info struct {
	NumFits       int `json:"num_fits"`
	NumPoints     int `json:"num_points"`
	NumParameters int `json:"num_parameters"`
	NumFree       int `json:"num_free"`

	PowerOfTwoPoints int `json:"power_of_two_points"`
	FitsPerBlock     int `json:"fits_per_block"`
	BlocksPerFit     int `json:"blocks_per_fit"`

	PerFitBytes uint64 `json:"per_fit_bytes"`
	FixedBytes  uint64 `json:"fixed_bytes"`
	// Available is the free memory left after margin and reserve.
	Available uint64 `json:"available_bytes"`

	MaxChunkSize int `json:"max_chunk_size"`
	NumChunks    int `json:"num_chunks"`

	UserInfoMode   string `json:"user_info"`
	UserInfoStride int    `json:"user_info_stride"`

	freeIdx    []int
	mode       userInfoMode
	useWeights bool
	model      Model
}

// ChunkBytes is the device memory needed to process n fits at once.
func (in Info) ChunkBytes(n int) uint64 {
	return in.FixedBytes + uint64(n)*in.PerFitBytes
}

// Configure validates cfg and sizes chunks for a device with caps.
func Configure(cfg Config, caps Capabilities, opts Options) (Info, error) {
	m, err := cfg.validate()
	if err != nil {
		return Info{}, configError("configure", err)
	}
	if caps.MaxThreadsPerBlock <= 0 || caps.WarpSize <= 0 {
		return Info{}, newError(ClassDeviceUnavailable, "configure",
			fmt.Errorf("device reports no thread model (threads per block %d, warp size %d)", caps.MaxThreadsPerBlock, caps.WarpSize))
	}
	if opts.MemoryMargin < 0 || opts.MemoryMargin >= 1 {
		return Info{}, configError("configure", fmt.Errorf("memory margin %v out of range [0, 1)", opts.MemoryMargin))
	}

	np := m.NumParameters()
	in := Info{
		NumFits:       cfg.NumFits,
		NumPoints:     cfg.NumPoints,
		NumParameters: np,
		freeIdx:       freeIndices(cfg.ParametersToFit, np),
		useWeights:    cfg.WithWeights && cfg.Estimator.usesWeights(),
		model:         m,
	}
	in.NumFree = len(in.freeIdx)

	in.PowerOfTwoPoints = nextPowerOfTwo(cfg.NumPoints)
	in.FitsPerBlock = max(caps.MaxThreadsPerBlock/in.PowerOfTwoPoints, 1)
	in.BlocksPerFit = (in.PowerOfTwoPoints + caps.MaxThreadsPerBlock - 1) / caps.MaxThreadsPerBlock

	switch {
	case cfg.UserInfoSize == 0:
		in.mode = userInfoNone
	case cfg.NumFits > 1 && cfg.UserInfoSize >= 8*cfg.NumFits*cfg.NumPoints && cfg.UserInfoSize%cfg.NumFits == 0:
		in.mode = userInfoPerFit
		in.UserInfoStride = cfg.UserInfoSize / cfg.NumFits
	default:
		in.mode = userInfoShared
	}
	in.UserInfoMode = in.mode.String()

	in.PerFitBytes, in.FixedBytes = footprint(in, cfg.UserInfoSize)

	usable := float64(caps.FreeMemory)*(1-opts.MemoryMargin) - float64(opts.MemoryReserve)
	if usable > 0 {
		in.Available = uint64(usable)
	}
	if in.Available < in.ChunkBytes(1) {
		return Info{}, newError(ClassOutOfMemory, "configure",
			fmt.Errorf("one fit needs %d bytes, %d available", in.ChunkBytes(1), in.Available))
	}

	n := min(uint64(cfg.NumFits), (in.Available-in.FixedBytes)/in.PerFitBytes)
	size := int(n)
	if size < cfg.NumFits && size > in.FitsPerBlock {
		size -= size % in.FitsPerBlock
	}
	if caps.MaxBlocks > 0 {
		if limit := caps.MaxBlocks * in.FitsPerBlock; limit > 0 && size > limit {
			size = limit
		}
	}
	if opts.MaxChunkSize > 0 {
		size = min(size, opts.MaxChunkSize)
	}
	in.MaxChunkSize = size
	in.NumChunks = (cfg.NumFits + size - 1) / size
	return in, nil
}

// footprint returns the device bytes one fit occupies and the bytes shared
// by a chunk. It mirrors the buffers allocChunk creates.
func footprint(in Info, userInfoSize int) (perFit, fixed uint64) {
	p := uint64(in.NumPoints)
	np := uint64(in.NumParameters)
	nf := uint64(in.NumFree)

	f64 := p // data
	if in.useWeights {
		f64 += p
	}
	f64 += p             // model values
	f64 += p * nf        // derivatives
	f64 += 2 * np        // parameters, last accepted parameters
	f64 += 2             // chi-square, last accepted chi-square
	f64 += 1             // lambda
	f64 += nf            // gradient
	f64 += nf * nf       // Hessian
	f64 += nf * nf       // damped Hessian
	f64 += nf            // step
	f64 += nf * (nf + 1) // solver scratch

	perFit = 8*f64 + 4*bookkeepingWords
	fixed = 4 * nf // free parameter table
	switch in.mode {
	case userInfoPerFit:
		perFit += uint64(in.UserInfoStride)
	case userInfoShared:
		fixed += uint64(userInfoSize)
	}
	return perFit, fixed
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(n-1))
}

// IsMemorySufficient reports whether at least one chunk of cfg fits in the
// free memory of a device with caps. It neither allocates nor runs
// anything.
func IsMemorySufficient(cfg Config, caps Capabilities, opts Options) (bool, error) {
	_, err := Configure(cfg, caps, opts)
	switch {
	case err == nil:
		return true, nil
	case ClassOf(err) == ClassOutOfMemory:
		return false, nil
	default:
		return false, err
	}
}
