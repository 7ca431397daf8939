//go:build !cuda

package device

import "errors"

const cudaEnabled = false

var errCUDAUnavailable = errors.New("cuda support not compiled into this build")

func ProbeCUDA() (CUDAInfo, error) {
	return CUDAInfo{}, errCUDAUnavailable
}

func ResetCUDA() error {
	return nil
}
