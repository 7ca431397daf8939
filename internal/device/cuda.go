package device

// CUDAInfo describes the first CUDA device as reported by the runtime.
type CUDAInfo struct {
	Name               string
	Count              int
	FreeMemory         uint64
	TotalMemory        uint64
	MaxThreadsPerBlock int
	WarpSize           int
	MaxBlocks          int
	ComputeMajor       int
	ComputeMinor       int
	Runtime            Version
	Driver             Version
}
