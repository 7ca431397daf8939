//go:build !linux

package device

import "errors"

func systemFreeMemory() (uint64, error) {
	return 0, errors.New("device: free memory query not supported on this platform")
}
