//go:build cuda

package device

import (
	"fmt"

	"github.com/samcharles93/lmfit/internal/device/cuda/native"
)

const cudaEnabled = true

func ProbeCUDA() (CUDAInfo, error) {
	count, err := native.DeviceCount()
	if err != nil {
		return CUDAInfo{}, fmt.Errorf("cuda device query failed: %w", err)
	}
	if count < 1 {
		return CUDAInfo{}, fmt.Errorf("no cuda devices detected")
	}
	if err := native.SetDevice(0); err != nil {
		return CUDAInfo{}, fmt.Errorf("cuda set device failed: %w", err)
	}
	free, total, err := native.MemGetInfo()
	if err != nil {
		return CUDAInfo{}, fmt.Errorf("cuda memory query failed: %w", err)
	}
	props, err := native.Properties(0)
	if err != nil {
		return CUDAInfo{}, fmt.Errorf("cuda attribute query failed: %w", err)
	}
	rt, err := native.RuntimeVersion()
	if err != nil {
		return CUDAInfo{}, fmt.Errorf("cuda runtime version query failed: %w", err)
	}
	drv, err := native.DriverVersion()
	if err != nil {
		return CUDAInfo{}, fmt.Errorf("cuda driver version query failed: %w", err)
	}
	return CUDAInfo{
		Name:               fmt.Sprintf("cuda:0 (sm_%d%d)", props.ComputeMajor, props.ComputeMinor),
		Count:              count,
		FreeMemory:         free,
		TotalMemory:        total,
		MaxThreadsPerBlock: props.MaxThreadsPerBlock,
		WarpSize:           props.WarpSize,
		MaxBlocks:          props.MaxGridDimX,
		ComputeMajor:       props.ComputeMajor,
		ComputeMinor:       props.ComputeMinor,
		Runtime:            VersionFromCUDA(rt),
		Driver:             VersionFromCUDA(drv),
	}, nil
}

// ResetCUDA destroys the primary context of the current CUDA device.
func ResetCUDA() error {
	count, err := native.DeviceCount()
	if err != nil || count < 1 {
		return nil
	}
	return native.DeviceReset()
}
